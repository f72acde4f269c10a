package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/payloads"
)

const (
	maxCASAttempts = 5
	maxExtendDays  = 3650
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the only writer of the credits table.
type Service interface {
	HasAccess(ctx context.Context, userID uuid.UUID, role enums.UserRole) (bool, error)
	Get(ctx context.Context, userID uuid.UUID, role enums.UserRole) (*Status, error)
	Extend(ctx context.Context, input ExtendInput) (*ExtendResult, error)
	// ExtendTx joins the caller's transaction so fulfilment and its idempotency record commit together.
	ExtendTx(ctx context.Context, tx *gorm.DB, input ExtendInput) (*ExtendResult, error)
	ListGrants(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditGrant, error)
}

type ExtendInput struct {
	UserID    uuid.UUID
	Days      int
	Source    enums.CreditSource
	SourceRef string
	ActorID   uuid.UUID
}

type ExtendResult struct {
	UserID             uuid.UUID
	PreviousValidUntil *time.Time
	ValidUntil         time.Time
}

type Status struct {
	UserID     uuid.UUID `json:"userId"`
	ValidUntil time.Time `json:"validUntil"`
	HasAccess  bool      `json:"hasAccess"`
}

type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Logger  *logger.Logger
	Metrics *metrics.DomainMetrics
	Clock   func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	logg    *logger.Logger
	metrics *metrics.DomainMetrics
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     func() time.Time { return clock().UTC() },
	}, nil
}

func (s *service) HasAccess(ctx context.Context, userID uuid.UUID, role enums.UserRole) (bool, error) {
	if role.HasUnconditionalAccess() {
		return true, nil
	}
	row, err := s.repo.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credits")
	}
	return s.now().Before(row.ValidUntil.UTC()), nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID, role enums.UserRole) (*Status, error) {
	row, err := s.repo.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credits not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credits")
	}
	validUntil := row.ValidUntil.UTC()
	return &Status{
		UserID:     userID,
		ValidUntil: validUntil,
		HasAccess:  role.HasUnconditionalAccess() || s.now().Before(validUntil),
	}, nil
}

func (s *service) Extend(ctx context.Context, input ExtendInput) (*ExtendResult, error) {
	var result *ExtendResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.ExtendTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ExtendTx(ctx context.Context, tx *gorm.DB, input ExtendInput) (*ExtendResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := validateExtend(input); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	extension := time.Duration(input.Days) * 24 * time.Hour

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		now := s.now()
		current, err := repo.Find(ctx, input.UserID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credits")
		}

		var (
			previous *time.Time
			applied  bool
			newUntil time.Time
		)
		if current == nil {
			newUntil = now.Add(extension)
			applied, err = repo.InsertIfAbsent(ctx, &models.Credits{
				UserID:     input.UserID,
				ValidUntil: newUntil,
				Version:    1,
			})
		} else {
			existing := current.ValidUntil.UTC()
			previous = &existing
			base := existing
			if now.After(base) {
				base = now
			}
			newUntil = base.Add(extension)
			applied, err = repo.CompareAndSwap(ctx, input.UserID, current.Version, newUntil)
		}
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write credits")
		}
		if !applied {
			continue
		}

		if err := s.recordExtension(ctx, tx, input, previous, newUntil); err != nil {
			return nil, err
		}
		return &ExtendResult{
			UserID:             input.UserID,
			PreviousValidUntil: previous,
			ValidUntil:         newUntil,
		}, nil
	}

	return nil, pkgerrors.New(pkgerrors.CodeConflict, "credits changed concurrently").
		WithDetails(map[string]any{"reason": "concurrent_update"})
}

func (s *service) recordExtension(ctx context.Context, tx *gorm.DB, input ExtendInput, previous *time.Time, newUntil time.Time) error {
	grant := &models.CreditGrant{
		UserID:             input.UserID,
		Days:               input.Days,
		PreviousValidUntil: previous,
		NewValidUntil:      newUntil,
		Source:             input.Source,
	}
	if input.SourceRef != "" {
		ref := input.SourceRef
		grant.SourceRef = &ref
	}
	if err := s.repo.WithTx(tx).CreateGrant(ctx, grant); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record credit grant")
	}

	var actor *outbox.ActorRef
	if input.ActorID != uuid.Nil {
		actor = &outbox.ActorRef{UserID: input.ActorID}
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventCreditsExtended,
		AggregateType: enums.AggregateCredits,
		AggregateID:   input.UserID,
		Actor:         actor,
		Data: payloads.CreditsExtendedEvent{
			UserID:             input.UserID,
			Days:               input.Days,
			PreviousValidUntil: previous,
			ValidUntil:         newUntil,
			Source:             input.Source,
			SourceRef:          input.SourceRef,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit credits_extended")
	}

	s.metrics.IncCreditExtension(string(input.Source))
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":     input.UserID.String(),
			"days":        input.Days,
			"source":      input.Source,
			"valid_until": newUntil.Format(time.RFC3339),
		})
		s.logg.Info(logCtx, "credits.extended")
	}
	return nil
}

func (s *service) ListGrants(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditGrant, error) {
	grants, err := s.repo.ListGrants(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit grants")
	}
	return grants, nil
}

func validateExtend(input ExtendInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Days <= 0 || input.Days > maxExtendDays {
		return pkgerrors.New(pkgerrors.CodeValidation, "days must be between 1 and 3650").
			WithDetails(map[string]any{"field": "days"})
	}
	if !input.Source.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown credit source")
	}
	return nil
}
