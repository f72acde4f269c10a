package deliverycode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service issues and verifies the per-delivery handoff codes.
type Service interface {
	GenerateForOrder(ctx context.Context, orderID uuid.UUID) (int, error)
	BackfillMissing(ctx context.Context, limit int) (int, error)
	Validate(ctx context.Context, input ValidateInput) (*ValidateResult, error)
	CodesForOrder(ctx context.Context, orderID uuid.UUID, actor Actor) ([]DeliveryCode, error)
	ResetLockout(ctx context.Context, deliveryID uuid.UUID, actor Actor) (*ResetResult, error)
	RequestResend(ctx context.Context, deliveryID uuid.UUID, actor Actor) error
}

type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

type ValidateInput struct {
	DeliveryID uuid.UUID
	DriverID   uuid.UUID
	Code       string
}

type ValidateResult struct {
	DeliveryID  uuid.UUID `json:"deliveryId"`
	OrderID     uuid.UUID `json:"orderId"`
	Validated   bool      `json:"validated"`
	ValidatedAt time.Time `json:"validatedAt"`
}

type DeliveryCode struct {
	DeliveryID uuid.UUID `json:"deliveryId"`
	Position   int       `json:"position"`
	Code       string    `json:"code"`
	Attempts   int       `json:"attempts"`
}

type ResetResult struct {
	DeliveryID      uuid.UUID `json:"deliveryId"`
	CodeGeneratedAt time.Time `json:"codeGeneratedAt"`
}

type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Logger  *logger.Logger
	Metrics *metrics.DomainMetrics
	Clock   func() time.Time
	// Generator defaults to Generate.
	Generator func() (string, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	metrics  *metrics.DomainMetrics
	now      func() time.Time
	generate func() (string, error)
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("delivery code repository required")
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
	generator := params.Generator
	if generator == nil {
		generator = Generate
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      func() time.Time { return clock().UTC() },
		generate: generator,
	}, nil
}

// GenerateForOrder fills in codes for deliveries that have none. Each delivery is written on its own,
// so one failure leaves the others issued; failures are combined and the backfill job retries them.
func (s *service) GenerateForOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status != enums.OrderStatusAccepted || order.DriverUserID == nil {
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "codes are issued for accepted orders only")
	}

	deliveries, err := s.repo.ListForOrder(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list deliveries")
	}

	var (
		generated int
		combined  error
	)
	for _, delivery := range deliveries {
		if delivery.HasCode() || delivery.ValidatedAt != nil {
			continue
		}
		code, err := s.generate()
		if err != nil {
			combined = multierr.Append(combined, fmt.Errorf("delivery %s: %w", delivery.ID, err))
			continue
		}
		ok, err := s.repo.SetCodeIfMissing(ctx, delivery.ID, Hash(code), code, s.now())
		if err != nil {
			combined = multierr.Append(combined, fmt.Errorf("delivery %s: %w", delivery.ID, err))
			continue
		}
		if ok {
			generated++
		}
	}

	if combined != nil {
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id": orderID.String(),
				"failed":   len(multierr.Errors(combined)),
			})
			s.logg.Error(logCtx, "delivery.code_generation_partial", combined)
		}
		return generated, pkgerrors.Wrap(pkgerrors.CodeDependency, combined, "generate delivery codes")
	}

	if err := s.emitCodesReady(ctx, order); err != nil {
		return generated, err
	}
	if s.logg != nil && generated > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":  orderID.String(),
			"generated": generated,
		})
		s.logg.Info(logCtx, "delivery.codes_generated")
	}
	return generated, nil
}

// emitCodesReady queues delivery_codes_ready once every delivery carries a code.
func (s *service) emitCodesReady(ctx context.Context, order *models.Order) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		deliveries, err := s.repo.WithTx(tx).ListForOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list deliveries")
		}
		ids := make([]uuid.UUID, 0, len(deliveries))
		for _, d := range deliveries {
			if !d.HasCode() {
				return nil
			}
			ids = append(ids, d.ID)
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventDeliveryCodesReady,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.DeliveryCodesReadyEvent{
				OrderID:       order.ID,
				CompanyUserID: order.CompanyUserID,
				DriverUserID:  *order.DriverUserID,
				DeliveryIDs:   ids,
			},
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery_codes_ready")
		}
		return nil
	})
}

// BackfillMissing retries code generation for accepted orders left without codes.
func (s *service) BackfillMissing(ctx context.Context, limit int) (int, error) {
	orderIDs, err := s.repo.ListOrdersMissingCodes(ctx, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders missing codes")
	}
	var (
		total    int
		combined error
	)
	for _, orderID := range orderIDs {
		if err := ctx.Err(); err != nil {
			return total, multierr.Append(combined, err)
		}
		n, err := s.GenerateForOrder(ctx, orderID)
		total += n
		if err != nil {
			combined = multierr.Append(combined, fmt.Errorf("order %s: %w", orderID, err))
		}
	}
	return total, combined
}

func (s *service) Validate(ctx context.Context, input ValidateInput) (*ValidateResult, error) {
	if input.DeliveryID == uuid.Nil || input.DriverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery and driver are required")
	}
	code := Normalize(input.Code)
	if code == "" || len(code) > maxSubmittedLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "code is required").
			WithDetails(map[string]any{"field": "code"})
	}

	var (
		result   *ValidateResult
		mismatch error
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.IncrementAttempt(ctx, input.DeliveryID, input.DriverID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume attempt")
		}
		if !ok {
			return s.classifyRejection(ctx, repo, input)
		}

		delivery, err := repo.FindDelivery(ctx, input.DeliveryID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload delivery")
		}
		if !Matches(*delivery.CodeHash, code) {
			remaining := MaxAttempts - delivery.ValidationAttempts
			if remaining < 0 {
				remaining = 0
			}
			mismatch = pkgerrors.New(pkgerrors.CodeInvalidCode, "invalid delivery code").
				WithDetails(map[string]any{"attemptsRemaining": remaining})
			// the consumed attempt must persist
			return nil
		}

		now := s.now()
		ok, err = repo.MarkValidated(ctx, input.DeliveryID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark delivery validated")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeAlreadyValidated, "delivery already validated")
		}

		order, err := repo.FindOrder(ctx, delivery.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventDeliveryValidated,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   delivery.ID,
			Actor:         &outbox.ActorRef{UserID: input.DriverID, Role: enums.UserRoleDriver},
			Data: payloads.DeliveryValidatedEvent{
				DeliveryID:    delivery.ID,
				OrderID:       delivery.OrderID,
				CompanyUserID: order.CompanyUserID,
				DriverUserID:  input.DriverID,
				ValidatedAt:   now,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery_validated")
		}
		result = &ValidateResult{
			DeliveryID:  delivery.ID,
			OrderID:     delivery.OrderID,
			Validated:   true,
			ValidatedAt: now,
		}
		return nil
	})
	if err == nil && mismatch != nil {
		err = mismatch
	}
	s.recordValidation(ctx, input, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// classifyRejection names why the conditional increment matched nothing.
// Order of checks: existence, assignment, validated, lockout, then order state.
func (s *service) classifyRejection(ctx context.Context, repo Repository, input ValidateInput) error {
	delivery, err := repo.FindDelivery(ctx, input.DeliveryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	order, err := repo.FindOrder(ctx, delivery.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.DriverUserID == nil || *order.DriverUserID != input.DriverID {
		return pkgerrors.New(pkgerrors.CodeNotAssigned, "driver is not assigned to this order")
	}
	if delivery.ValidatedAt != nil {
		return pkgerrors.New(pkgerrors.CodeAlreadyValidated, "delivery already validated")
	}
	if delivery.ValidationAttempts >= MaxAttempts {
		return pkgerrors.New(pkgerrors.CodeAttemptsExceeded, "validation attempts exhausted")
	}
	if order.Status != enums.OrderStatusAccepted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in progress")
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery code not generated yet")
}

func (s *service) recordValidation(ctx context.Context, input ValidateInput, err error) {
	outcome := "validated"
	if err != nil {
		outcome = "error"
		if typed := pkgerrors.As(err); typed != nil {
			outcome = string(typed.Code())
		}
	}
	s.metrics.IncCodeValidation(outcome)
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"delivery_id": input.DeliveryID.String(),
		"driver_id":   input.DriverID.String(),
		"outcome":     outcome,
	})
	switch {
	case err == nil:
		s.logg.Info(logCtx, "delivery.code_validated")
	case pkgerrors.IsCode(err, pkgerrors.CodeDependency) || pkgerrors.IsCode(err, pkgerrors.CodeInternal):
		s.logg.Error(logCtx, "delivery.code_validation_failed", err)
	default:
		s.logg.Warn(logCtx, "delivery.code_rejected")
	}
}

// CodesForOrder is the company's handoff view: plaintext codes of deliveries not yet validated.
func (s *service) CodesForOrder(ctx context.Context, orderID uuid.UUID, actor Actor) ([]DeliveryCode, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if actor.Role != enums.UserRoleAdmin && order.CompanyUserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the owning company may read delivery codes")
	}
	if order.Status != enums.OrderStatusAccepted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in progress")
	}

	deliveries, err := s.repo.ListForOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list deliveries")
	}
	codes := make([]DeliveryCode, 0, len(deliveries))
	for _, d := range deliveries {
		if d.ValidatedAt != nil || d.CodePlain == nil {
			continue
		}
		codes = append(codes, DeliveryCode{
			DeliveryID: d.ID,
			Position:   d.Position,
			Code:       *d.CodePlain,
			Attempts:   d.ValidationAttempts,
		})
	}
	return codes, nil
}

// ResetLockout issues a new code and restores the full attempt budget.
func (s *service) ResetLockout(ctx context.Context, deliveryID uuid.UUID, actor Actor) (*ResetResult, error) {
	if actor.Role != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "operator access required")
	}
	code, err := s.generate()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate delivery code")
	}

	var result *ResetResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		delivery, err := repo.FindDelivery(ctx, deliveryID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
		}
		if delivery.ValidatedAt != nil {
			return pkgerrors.New(pkgerrors.CodeAlreadyValidated, "delivery already validated")
		}
		order, err := repo.FindOrder(ctx, delivery.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.Status != enums.OrderStatusAccepted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in progress")
		}
		now := s.now()
		ok, err := repo.ReplaceCode(ctx, deliveryID, Hash(code), code, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace delivery code")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeAlreadyValidated, "delivery already validated")
		}
		result = &ResetResult{DeliveryID: deliveryID, CodeGeneratedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"delivery_id": deliveryID.String(),
			"operator_id": actor.UserID.String(),
		})
		s.logg.Info(logCtx, "delivery.code_reset")
	}
	return result, nil
}

func (s *service) RequestResend(ctx context.Context, deliveryID uuid.UUID, actor Actor) error {
	if actor.Role != enums.UserRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "operator access required")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		delivery, err := repo.FindDelivery(ctx, deliveryID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
		}
		if delivery.ValidatedAt != nil {
			return pkgerrors.New(pkgerrors.CodeAlreadyValidated, "delivery already validated")
		}
		if !delivery.HasCode() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery code not generated yet")
		}
		order, err := repo.FindOrder(ctx, delivery.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventDeliveryCodeResendRequested,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   delivery.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role},
			Data: payloads.DeliveryCodeResendRequestedEvent{
				DeliveryID:     delivery.ID,
				OrderID:        delivery.OrderID,
				CompanyUserID:  order.CompanyUserID,
				OperatorUserID: actor.UserID,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery_code_resend_requested")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"delivery_id": deliveryID.String(),
			"operator_id": actor.UserID.String(),
		})
		s.logg.Info(logCtx, "delivery.code_resend_requested")
	}
	return nil
}
