package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/internal/billing"
	"github.com/dispatchly/dispatchly-backend/internal/credits"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
)

// Outcome is what the processor did with an authentic event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Result struct {
	EventID string  `json:"eventId"`
	Outcome Outcome `json:"outcome"`
}

type signatureVerifier interface {
	Verify(payload []byte, header string) (*stripe.Event, error)
}

type creditExtender interface {
	ExtendTx(ctx context.Context, tx *gorm.DB, input credits.ExtendInput) (*credits.ExtendResult, error)
}

type processedGuard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires a Service. Guard, Metrics and Clock are optional.
type ServiceParams struct {
	BillingRepo billing.Repository
	Credits     creditExtender
	Verifier    signatureVerifier
	Guard       processedGuard
	Tx          txRunner
	Logger      *logger.Logger
	Metrics     *metrics.DomainMetrics
	Clock       func() time.Time
}

// Service fulfils paid checkout sessions. The billing_events row is the
// ledger of record; Guard only short-circuits redeliveries.
type Service struct {
	ServiceParams
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.BillingRepo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook: billing repo required")
	case params.Credits == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook: credits required")
	case params.Verifier == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook: verifier required")
	case params.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook: tx runner required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook: logger required")
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &Service{ServiceParams: params}, nil
}

// Process authenticates the raw body, then records and fulfils the event exactly once.
func (s *Service) Process(ctx context.Context, payload []byte, signature string) (*Result, error) {
	event, err := s.Verifier.Verify(payload, signature)
	if err != nil {
		s.Metrics.IncWebhook("invalid_signature")
		return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "invalid webhook signature")
	}
	ctx = s.Logger.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})

	if s.seen(ctx, event.ID) {
		s.Metrics.IncWebhook(string(OutcomeDuplicate))
		return &Result{EventID: event.ID, Outcome: OutcomeDuplicate}, nil
	}

	var outcome Outcome
	if err := s.Tx.WithTx(ctx, func(tx *gorm.DB) (txErr error) {
		outcome, txErr = s.apply(ctx, tx, event, payload)
		return txErr
	}); err != nil {
		s.Metrics.IncWebhook(failureOutcome(err))
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "process webhook event")
		}
		return nil, err
	}

	s.mark(ctx, event.ID)
	s.Metrics.IncWebhook(string(outcome))
	s.Logger.Info(s.Logger.WithField(ctx, "outcome", string(outcome)), "billing.webhook_handled")
	return &Result{EventID: event.ID, Outcome: outcome}, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, event *stripe.Event, payload []byte) (Outcome, error) {
	repo := s.BillingRepo.WithTx(tx)
	row := &models.BillingEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		Livemode:  event.Livemode,
		Payload:   json.RawMessage(payload),
		Status:    enums.BillingEventStatusReceived,
	}
	inserted, err := repo.InsertEventIfAbsent(ctx, row)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record billing event")
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}

	session, ok, err := paidCheckoutSession(event)
	if err != nil {
		return "", err
	}
	now := s.Clock().UTC()
	if !ok {
		if err := repo.UpdateEvent(ctx, row.ID, map[string]any{
			"status":       enums.BillingEventStatusIgnored,
			"processed_at": now,
		}); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark billing event ignored")
		}
		return OutcomeIgnored, nil
	}

	userID, planKey, err := fulfilmentMetadata(session.Metadata)
	if err != nil {
		return "", err
	}
	plan, err := repo.FindPlanByKey(ctx, planKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeMissingMetadata, "unknown plan in checkout metadata").
				WithDetails(map[string]any{"field": billing.MetadataPlanKey})
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}

	if _, err := s.Credits.ExtendTx(ctx, tx, credits.ExtendInput{
		UserID:    userID,
		Days:      plan.DurationDays,
		Source:    enums.CreditSourceStripeCheckout,
		SourceRef: event.ID,
	}); err != nil {
		return "", err
	}

	if err := repo.UpdateEvent(ctx, row.ID, map[string]any{
		"status":       enums.BillingEventStatusProcessed,
		"user_id":      userID,
		"plan_key":     plan.Key,
		"processed_at": now,
	}); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark billing event processed")
	}
	return OutcomeProcessed, nil
}

// paidCheckoutSession reports false for any event that must not grant credits.
func paidCheckoutSession(event *stripe.Event) (*stripe.CheckoutSession, bool, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return nil, false, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeMissingMetadata, "checkout session payload missing")
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeMissingMetadata, err, "decode checkout session")
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, false, nil
	}
	return &session, true, nil
}

func fulfilmentMetadata(metadata map[string]string) (uuid.UUID, string, error) {
	rawUser := strings.TrimSpace(metadata[billing.MetadataUserID])
	planKey := strings.TrimSpace(metadata[billing.MetadataPlanKey])
	if rawUser == "" || planKey == "" {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeMissingMetadata, "checkout metadata incomplete").
			WithDetails(map[string]any{"required": []string{billing.MetadataUserID, billing.MetadataPlanKey}})
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeMissingMetadata, "checkout metadata user_id invalid").
			WithDetails(map[string]any{"field": billing.MetadataUserID})
	}
	return userID, planKey, nil
}

// seen treats an unreachable guard as a miss; the billing_events insert still dedupes.
func (s *Service) seen(ctx context.Context, eventID string) bool {
	if s.Guard == nil {
		return false
	}
	hit, err := s.Guard.Seen(ctx, eventID)
	if err != nil {
		s.Logger.Warn(ctx, "billing.webhook_guard_unavailable")
	}
	return err == nil && hit
}

func (s *Service) mark(ctx context.Context, eventID string) {
	if s.Guard == nil {
		return
	}
	if err := s.Guard.Mark(ctx, eventID); err != nil {
		s.Logger.Warn(ctx, "billing.webhook_guard_unavailable")
	}
}

func failureOutcome(err error) string {
	if pkgerrors.IsCode(err, pkgerrors.CodeMissingMetadata) {
		return "missing_metadata"
	}
	return "error"
}
