package credits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/db/dbtest"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox"
)

type stubOutbox struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
	err    error
}

func (s *stubOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type fixture struct {
	svc    Service
	conn   *gorm.DB
	outbox *stubOutbox
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	f := &fixture{conn: conn, outbox: &stubOutbox{}, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Tx:     client,
		Outbox: f.outbox,
		Clock:  func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seed(t *testing.T, userID uuid.UUID, validUntil time.Time) {
	t.Helper()
	require.NoError(t, f.conn.Create(&models.Credits{UserID: userID, ValidUntil: validUntil, Version: 1}).Error)
}

func TestExtendStacksOnFutureExpiry(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	f.seed(t, userID, f.now.Add(5*24*time.Hour))

	res, err := f.svc.Extend(context.Background(), ExtendInput{UserID: userID, Days: 10, Source: enums.CreditSourceStripeCheckout, SourceRef: "evt_1"})
	require.NoError(t, err)
	assert.True(t, res.ValidUntil.Equal(f.now.Add(15*24*time.Hour)), "got %s", res.ValidUntil)
	require.NotNil(t, res.PreviousValidUntil)
	assert.True(t, res.PreviousValidUntil.Equal(f.now.Add(5*24*time.Hour)))

	var row models.Credits
	require.NoError(t, f.conn.Where("user_id = ?", userID).First(&row).Error)
	assert.Equal(t, int64(2), row.Version)
	assert.True(t, row.ValidUntil.Equal(f.now.Add(15*24*time.Hour)))
}

func TestExtendFromExpiredStartsAtNow(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	f.seed(t, userID, f.now.Add(-3*24*time.Hour))

	res, err := f.svc.Extend(context.Background(), ExtendInput{UserID: userID, Days: 10, Source: enums.CreditSourceStripeCheckout})
	require.NoError(t, err)
	assert.True(t, res.ValidUntil.Equal(f.now.Add(10*24*time.Hour)), "got %s", res.ValidUntil)
}

func TestExtendCreatesRowAndGrantAndFact(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	res, err := f.svc.Extend(context.Background(), ExtendInput{UserID: userID, Days: 30, Source: enums.CreditSourceAdminGrant, ActorID: uuid.New()})
	require.NoError(t, err)
	assert.Nil(t, res.PreviousValidUntil)
	assert.True(t, res.ValidUntil.Equal(f.now.Add(30*24*time.Hour)))

	grants, err := f.svc.ListGrants(context.Background(), userID, 10)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, 30, grants[0].Days)
	assert.Equal(t, enums.CreditSourceAdminGrant, grants[0].Source)

	require.Len(t, f.outbox.events, 1)
	assert.Equal(t, enums.EventCreditsExtended, f.outbox.events[0].EventType)
	assert.Equal(t, userID, f.outbox.events[0].AggregateID)
	require.NotNil(t, f.outbox.events[0].Actor)
}

func TestExtendRollsBackWhenEmitFails(t *testing.T) {
	f := newFixture(t)
	f.outbox.err = errors.New("outbox down")
	userID := uuid.New()

	_, err := f.svc.Extend(context.Background(), ExtendInput{UserID: userID, Days: 30, Source: enums.CreditSourceStripeCheckout})
	require.Error(t, err)

	var count int64
	require.NoError(t, f.conn.Model(&models.Credits{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestExtendValidation(t *testing.T) {
	f := newFixture(t)
	cases := []ExtendInput{
		{UserID: uuid.Nil, Days: 1, Source: enums.CreditSourceAdminGrant},
		{UserID: uuid.New(), Days: 0, Source: enums.CreditSourceAdminGrant},
		{UserID: uuid.New(), Days: 4000, Source: enums.CreditSourceAdminGrant},
		{UserID: uuid.New(), Days: 1, Source: "gift"},
	}
	for _, input := range cases {
		_, err := f.svc.Extend(context.Background(), input)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "input %+v: %v", input, err)
	}
}

func TestHasAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	active := uuid.New()
	expired := uuid.New()
	f.seed(t, active, f.now.Add(time.Hour))
	f.seed(t, expired, f.now.Add(-time.Second))

	ok, err := f.svc.HasAccess(ctx, active, enums.UserRoleDriver)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.HasAccess(ctx, expired, enums.UserRoleCompany)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.HasAccess(ctx, uuid.New(), enums.UserRoleDriver)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.HasAccess(ctx, uuid.New(), enums.UserRoleAdmin)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	f.seed(t, userID, f.now.Add(48*time.Hour))

	status, err := f.svc.Get(context.Background(), userID, enums.UserRoleCompany)
	require.NoError(t, err)
	assert.True(t, status.HasAccess)
	assert.True(t, status.ValidUntil.Equal(f.now.Add(48*time.Hour)))

	_, err = f.svc.Get(context.Background(), uuid.New(), enums.UserRoleCompany)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

type staleRepo struct {
	Repository
}

func (r staleRepo) WithTx(tx *gorm.DB) Repository {
	return staleRepo{Repository: r.Repository.WithTx(tx)}
}

func (r staleRepo) CompareAndSwap(context.Context, uuid.UUID, int64, time.Time) (bool, error) {
	return false, nil
}

func TestExtendGivesUpAfterRepeatedCASLoss(t *testing.T) {
	client, conn := dbtest.Client(t)
	userID := uuid.New()
	require.NoError(t, conn.Create(&models.Credits{UserID: userID, ValidUntil: time.Now().UTC(), Version: 3}).Error)

	svc, err := NewService(ServiceParams{
		Repo:   staleRepo{Repository: NewRepository(conn)},
		Tx:     client,
		Outbox: &stubOutbox{},
	})
	require.NoError(t, err)

	_, err = svc.Extend(context.Background(), ExtendInput{UserID: userID, Days: 1, Source: enums.CreditSourceAdminGrant})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, "concurrent_update", pkgerrors.Reason(err))
}

func TestExtendTxRequiresTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ExtendTx(context.Background(), nil, ExtendInput{UserID: uuid.New(), Days: 1, Source: enums.CreditSourceAdminGrant})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}
