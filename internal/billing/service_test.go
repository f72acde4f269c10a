package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/db/dbtest"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
)

type stubSessions struct {
	calls  int
	params *stripe.CheckoutSessionParams
	fn     func(ctx context.Context) (*stripe.CheckoutSession, error)
}

func (s *stubSessions) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.calls++
	s.params = params
	if s.fn != nil {
		return s.fn(ctx)
	}
	return &stripe.CheckoutSession{ID: "cs_test_123", URL: "https://checkout.stripe.com/c/pay/cs_test_123"}, nil
}

func newTestService(t *testing.T, sessions *stubSessions, timeout time.Duration) *Service {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Sessions: sessions,
		Checkout: config.CheckoutConfig{AllowedHosts: []string{"app.dispatchly.io"}, Currency: "usd"},
		Timeout:  timeout,
	})
	require.NoError(t, err)
	return svc
}

func validInput(role enums.UserRole, plan string) CheckoutInput {
	return CheckoutInput{
		UserID:     uuid.New(),
		Role:       role,
		PlanKey:    plan,
		SuccessURL: "https://app.dispatchly.io/billing/success",
		CancelURL:  "https://app.dispatchly.io/billing",
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Repo: NewRepository(dbtest.Open(t))})
	require.Error(t, err)
}

func TestListPlansFiltersByRole(t *testing.T) {
	svc := newTestService(t, &stubSessions{}, 0)
	ctx := context.Background()

	driverPlans, err := svc.ListPlans(ctx, enums.UserRoleDriver)
	require.NoError(t, err)
	require.Len(t, driverPlans, 2)
	assert.Equal(t, "driver_30d", driverPlans[0].Key)
	assert.Equal(t, "19.99", driverPlans[0].Price)
	for _, p := range driverPlans {
		assert.Equal(t, enums.UserRoleDriver, p.TargetRole)
	}

	all, err := svc.ListPlans(ctx, enums.UserRoleAdmin)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestCreateCheckoutSession(t *testing.T) {
	sessions := &stubSessions{}
	svc := newTestService(t, sessions, 0)
	input := validInput(enums.UserRoleCompany, "company_30d")

	out, err := svc.CreateCheckoutSession(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_123", out.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_123", out.URL)

	require.NotNil(t, sessions.params)
	assert.Equal(t, input.UserID.String(), sessions.params.Metadata[MetadataUserID])
	assert.Equal(t, "company_30d", sessions.params.Metadata[MetadataPlanKey])
	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *sessions.params.Mode)
	require.Len(t, sessions.params.LineItems, 1)
	item := sessions.params.LineItems[0]
	require.NotNil(t, item.PriceData)
	assert.Equal(t, int64(3999), *item.PriceData.UnitAmount)
	assert.Equal(t, "usd", *item.PriceData.Currency)
}

func TestCreateCheckoutSessionRejectsBeforeGateway(t *testing.T) {
	cases := []struct {
		name  string
		input func() CheckoutInput
		code  pkgerrors.Code
	}{
		{"foreign success host", func() CheckoutInput {
			in := validInput(enums.UserRoleDriver, "driver_30d")
			in.SuccessURL = "https://evil.example.com/ok"
			return in
		}, pkgerrors.CodeValidation},
		{"http cancel url", func() CheckoutInput {
			in := validInput(enums.UserRoleDriver, "driver_30d")
			in.CancelURL = "http://app.dispatchly.io/billing"
			return in
		}, pkgerrors.CodeValidation},
		{"missing plan key", func() CheckoutInput {
			return validInput(enums.UserRoleDriver, " ")
		}, pkgerrors.CodeValidation},
		{"unknown plan", func() CheckoutInput {
			return validInput(enums.UserRoleDriver, "driver_7d")
		}, pkgerrors.CodeNotFound},
		{"plan for other role", func() CheckoutInput {
			return validInput(enums.UserRoleDriver, "company_365d")
		}, pkgerrors.CodeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := &stubSessions{}
			svc := newTestService(t, sessions, 0)
			_, err := svc.CreateCheckoutSession(context.Background(), tc.input())
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
			assert.Zero(t, sessions.calls)
		})
	}
}

func TestCreateCheckoutSessionTimeout(t *testing.T) {
	sessions := &stubSessions{fn: func(ctx context.Context) (*stripe.CheckoutSession, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := newTestService(t, sessions, 20*time.Millisecond)

	_, err := svc.CreateCheckoutSession(context.Background(), validInput(enums.UserRoleDriver, "driver_90d"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTimeout), "got %v", err)
}

func TestCreateCheckoutSessionGatewayError(t *testing.T) {
	sessions := &stubSessions{fn: func(context.Context) (*stripe.CheckoutSession, error) {
		return nil, errors.New("card_declined")
	}}
	svc := newTestService(t, sessions, 0)

	_, err := svc.CreateCheckoutSession(context.Background(), validInput(enums.UserRoleDriver, "driver_30d"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
}

func TestCreateCheckoutSessionUsesStripePrice(t *testing.T) {
	conn := dbtest.Open(t)
	priceID := "price_123"
	require.NoError(t, conn.Model(&models.BillingPlan{}).
		Where(map[string]any{"key": "driver_30d"}).
		Update("stripe_price_id", priceID).Error)

	sessions := &stubSessions{}
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Sessions: sessions,
		Checkout: config.CheckoutConfig{AllowedHosts: []string{"app.dispatchly.io"}},
	})
	require.NoError(t, err)

	_, err = svc.CreateCheckoutSession(context.Background(), validInput(enums.UserRoleDriver, "driver_30d"))
	require.NoError(t, err)
	item := sessions.params.LineItems[0]
	assert.Nil(t, item.PriceData)
	assert.Equal(t, priceID, *item.Price)
}

func TestRepositoryInsertEventIfAbsent(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	first := &models.BillingEvent{EventID: "evt_1", EventType: "checkout.session.completed", Payload: []byte(`{}`), Status: enums.BillingEventStatusReceived}
	inserted, err := repo.InsertEventIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &models.BillingEvent{EventID: "evt_1", EventType: "checkout.session.completed", Payload: []byte(`{}`), Status: enums.BillingEventStatusReceived}
	inserted, err = repo.InsertEventIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, repo.UpdateEvent(ctx, first.ID, map[string]any{"status": enums.BillingEventStatusIgnored}))
	var stored models.BillingEvent
	require.NoError(t, conn.Where("event_id = ?", "evt_1").First(&stored).Error)
	assert.Equal(t, enums.BillingEventStatusIgnored, stored.Status)
}
