package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/db"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/payloads"
	"github.com/dispatchly/dispatchly-backend/pkg/pagination"
)

const (
	minAddressLength = 5
	maxAddressLength = 500
	maxDeliveries    = 20
	driverOpenIndex  = "ux_orders_driver_open"
)

var (
	maxDeliveryPrice = decimal.NewFromInt(10000)
	maxOrderValue    = decimal.NewFromInt(100000)
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service drives an order through pending, accepted, driver_completed and completed, or cancelled.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*OrderDetail, error)
	Accept(ctx context.Context, orderID, driverID uuid.UUID) (*OrderDetail, error)
	Transition(ctx context.Context, input TransitionInput) (*OrderDetail, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDetail, error)
	Detail(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDetail, error)
	PendingFeed(ctx context.Context, params PendingFeedParams) (*PendingFeed, error)
}

type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Access  AccessChecker
	Codes   CodeIssuer
	Policy  config.OrderPolicyConfig
	Logger  *logger.Logger
	Metrics *metrics.DomainMetrics
	Clock   func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	access  AccessChecker
	codes   CodeIssuer
	policy  config.OrderPolicyConfig
	logg    *logger.Logger
	metrics *metrics.DomainMetrics
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Access == nil {
		return nil, fmt.Errorf("access checker required")
	}
	if params.Codes == nil {
		return nil, fmt.Errorf("code issuer required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		access:  params.Access,
		codes:   params.Codes,
		policy:  params.Policy,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     func() time.Time { return clock().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*OrderDetail, error) {
	if input.CompanyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if err := validateCreate(input); err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, input.CompanyID, enums.UserRoleCompany); err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:            uuid.New(),
		CompanyUserID: input.CompanyID,
		Status:        enums.OrderStatusPending,
		TotalValue:    input.TotalValue,
		Currency:      "usd",
		City:          strings.TrimSpace(input.City),
		State:         strings.TrimSpace(input.State),
		Deliveries:    make([]models.OrderDelivery, 0, len(input.Deliveries)),
	}
	for i, d := range input.Deliveries {
		order.Deliveries = append(order.Deliveries, models.OrderDelivery{
			ID:             uuid.New(),
			Position:       i + 1,
			PickupAddress:  strings.TrimSpace(d.PickupAddress),
			DropoffAddress: strings.TrimSpace(d.DropoffAddress),
			PackageType:    d.PackageType,
			SuggestedPrice: d.SuggestedPrice,
		})
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.CompanyID, Role: enums.UserRoleCompany},
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				CompanyUserID: order.CompanyUserID,
				City:          order.City,
				State:         order.State,
				TotalValue:    order.TotalValue.StringFixed(2),
				DeliveryCount: len(order.Deliveries),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order_created")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(enums.OrderStatusPending))
	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
			"company_id": input.CompanyID.String(),
			"deliveries": len(order.Deliveries),
			"city":       order.City,
			"state":      order.State,
		})
		s.logg.Info(logCtx, "order.created")
	}
	return s.reload(ctx, order.ID)
}

// Accept claims a pending order for driverID. Exactly one of any number of concurrent claims wins.
func (s *service) Accept(ctx context.Context, orderID, driverID uuid.UUID) (*OrderDetail, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if driverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	// A missing order outranks the caller's credit state.
	if _, err := s.findOrder(ctx, orderID); err != nil {
		s.metrics.IncAcceptance(acceptanceOutcome(err))
		return nil, err
	}
	if err := s.requireAccess(ctx, driverID, enums.UserRoleDriver); err != nil {
		s.metrics.IncAcceptance("no_credits")
		return nil, err
	}

	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		claimed, err := repo.ClaimPending(ctx, orderID, driverID, now)
		if err != nil {
			if db.IsUniqueViolation(err, driverOpenIndex) {
				return driverHasOpenOrder()
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim order")
		}
		if !claimed {
			return s.classifyLostClaim(ctx, repo, orderID, driverID)
		}

		order, err := repo.Find(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderAccepted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: driverID, Role: enums.UserRoleDriver},
			Data: payloads.OrderAcceptedEvent{
				OrderID:       orderID,
				CompanyUserID: order.CompanyUserID,
				DriverUserID:  driverID,
				AcceptedAt:    now,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order_accepted")
		}
		return nil
	})
	if err != nil {
		s.metrics.IncAcceptance(acceptanceOutcome(err))
		return nil, err
	}

	s.metrics.IncAcceptance("accepted")
	s.metrics.IncTransition(string(enums.OrderStatusAccepted))
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithFields(s.logg.WithOrderID(ctx, orderID.String()), map[string]any{
			"driver_id": driverID.String(),
		})
		s.logg.Info(logCtx, "order.accepted")
	}

	// Codes are best effort; delivery-code-backfill picks up anything missed here.
	if _, err := s.codes.GenerateForOrder(ctx, orderID); err != nil && s.logg != nil {
		s.logg.Error(logCtx, "order.code_generation_deferred", err)
	}
	return s.reload(ctx, orderID)
}

func (s *service) classifyLostClaim(ctx context.Context, repo Repository, orderID, driverID uuid.UUID) error {
	order, err := repo.Find(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status == enums.OrderStatusPending {
		open, err := repo.DriverHasOpenOrder(ctx, driverID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open orders")
		}
		if open {
			return driverHasOpenOrder()
		}
	}
	return orderUnavailable()
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*OrderDetail, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"field": "status"})
	}

	switch input.Target {
	case enums.OrderStatusAccepted:
		if input.Actor.Role != enums.UserRoleDriver {
			if _, err := s.findOrder(ctx, input.OrderID); err != nil {
				return nil, err
			}
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only drivers may accept orders")
		}
		return s.Accept(ctx, input.OrderID, input.Actor.UserID)
	case enums.OrderStatusCancelled:
		return s.Cancel(ctx, input.OrderID, input.Actor)
	case enums.OrderStatusDriverCompleted, enums.OrderStatusCompleted:
		return s.advance(ctx, input)
	default:
		order, err := s.findOrder(ctx, input.OrderID)
		if err != nil {
			return nil, err
		}
		if !order.IsParty(input.Actor.UserID) && input.Actor.Role != enums.UserRoleAdmin {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this order")
		}
		return nil, invalidTransition(order.Status, input.Target)
	}
}

// advance handles the driver and company completion steps.
func (s *service) advance(ctx context.Context, input TransitionInput) (*OrderDetail, error) {
	var from enums.OrderStatus
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.Find(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		from = order.Status
		actorID := input.Actor.UserID
		now := s.now()

		cond := StatusCondition{OrderID: order.ID}
		updates := map[string]any{"status": input.Target, "updated_at": now}
		var eventType enums.OutboxEventType

		switch input.Target {
		case enums.OrderStatusDriverCompleted:
			if order.DriverUserID == nil || *order.DriverUserID != actorID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "only the assigned driver may complete delivery")
			}
			if order.Status != enums.OrderStatusAccepted {
				return invalidTransition(order.Status, input.Target)
			}
			pending, err := repo.CountUnvalidatedDeliveries(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count deliveries")
			}
			if pending > 0 {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "every delivery must be validated first").
					WithDetails(map[string]any{"unvalidatedDeliveries": pending})
			}
			cond.From = enums.OrderStatusAccepted
			cond.DriverID = &actorID
			cond.AllValidated = true
			updates["driver_completed_at"] = now
			eventType = enums.EventOrderDriverCompleted
		case enums.OrderStatusCompleted:
			if order.CompanyUserID != actorID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "only the owning company may complete the order")
			}
			if order.Status != enums.OrderStatusDriverCompleted {
				return invalidTransition(order.Status, input.Target)
			}
			cond.From = enums.OrderStatusDriverCompleted
			cond.CompanyID = &actorID
			updates["completed_at"] = now
			eventType = enums.EventOrderCompleted
		}

		ok, err := repo.UpdateStatusIf(ctx, cond, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !ok {
			return concurrentUpdate()
		}
		return s.emitStatusChange(ctx, tx, order, eventType, input.Target, input.Actor, now)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, input.OrderID, from, input.Target, input.Actor)
	return s.reload(ctx, input.OrderID)
}

// Cancel ends a pending or accepted order. Who may cancel an accepted order is a policy setting.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDetail, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var from enums.OrderStatus
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.Find(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		from = order.Status
		if !order.IsParty(actor.UserID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this order")
		}

		cond := StatusCondition{OrderID: order.ID, From: order.Status}
		switch order.Status {
		case enums.OrderStatusPending:
			if order.CompanyUserID != actor.UserID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "only the owning company may cancel a pending order")
			}
			companyID := order.CompanyUserID
			cond.CompanyID = &companyID
		case enums.OrderStatusAccepted:
			if !s.mayCancelAccepted(order, actor.UserID) {
				return pkgerrors.New(pkgerrors.CodeForbidden, "cancellation of accepted orders is not permitted for this party")
			}
			driverID := *order.DriverUserID
			cond.DriverID = &driverID
		default:
			return invalidTransition(order.Status, enums.OrderStatusCancelled)
		}

		now := s.now()
		cancelledBy := actor.UserID
		ok, err := repo.UpdateStatusIf(ctx, cond, map[string]any{
			"status":         enums.OrderStatusCancelled,
			"driver_user_id": nil,
			"cancelled_at":   now,
			"cancelled_by":   cancelledBy,
			"updated_at":     now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !ok {
			return concurrentUpdate()
		}
		return s.emitStatusChange(ctx, tx, order, enums.EventOrderCancelled, enums.OrderStatusCancelled, actor, now)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, orderID, from, enums.OrderStatusCancelled, actor)
	return s.reload(ctx, orderID)
}

func (s *service) mayCancelAccepted(order *models.Order, actorID uuid.UUID) bool {
	if order.CompanyUserID == actorID {
		return s.policy.CompanyMayCancelAccepted
	}
	if order.DriverUserID != nil && *order.DriverUserID == actorID {
		return s.policy.DriverMayCancelAccepted
	}
	return false
}

func (s *service) emitStatusChange(ctx context.Context, tx *gorm.DB, order *models.Order, eventType enums.OutboxEventType, to enums.OrderStatus, actor Actor, at time.Time) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role},
		Data: payloads.OrderStatusChangedEvent{
			OrderID:       order.ID,
			CompanyUserID: order.CompanyUserID,
			DriverUserID:  order.DriverUserID,
			From:          order.Status,
			To:            to,
			ActorUserID:   actor.UserID,
			OccurredAt:    at,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("emit %s", eventType))
	}
	return nil
}

func (s *service) afterTransition(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, actor Actor) {
	s.metrics.IncTransition(string(to))
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, orderID.String()), map[string]any{
		"from":     from,
		"to":       to,
		"actor_id": actor.UserID.String(),
	})
	s.logg.Info(logCtx, "order."+string(to))
}

// Detail is visible to the parties, admins, and any driver while the order is still open for claims.
func (s *service) Detail(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDetail, error) {
	order, err := s.repo.FindWithDeliveries(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	visible := actor.Role == enums.UserRoleAdmin ||
		order.IsParty(actor.UserID) ||
		(actor.Role == enums.UserRoleDriver && order.Status == enums.OrderStatusPending)
	if !visible {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this order")
	}
	return toDetail(order), nil
}

func (s *service) PendingFeed(ctx context.Context, params PendingFeedParams) (*PendingFeed, error) {
	query := listPendingParams{
		City:  strings.TrimSpace(params.City),
		State: strings.TrimSpace(params.State),
		Limit: params.Limit,
	}
	cursor, err := pagination.DecodeCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	query.Cursor = cursor

	rows, next, err := s.repo.ListPending(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending orders")
	}
	feed := &PendingFeed{Items: make([]OrderSummary, 0, len(rows))}
	for _, row := range rows {
		feed.Items = append(feed.Items, toSummary(row))
	}
	if next != nil {
		feed.Cursor = pagination.EncodeCursor(*next)
	}
	return feed, nil
}

func (s *service) requireAccess(ctx context.Context, userID uuid.UUID, role enums.UserRole) error {
	ok, err := s.access.HasAccess(ctx, userID, role)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check credits")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeForbidden, "active credits required")
	}
	return nil
}

func (s *service) findOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.Find(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) reload(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.repo.FindWithDeliveries(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	return toDetail(order), nil
}

func validateCreate(input CreateOrderInput) error {
	if strings.TrimSpace(input.City) == "" {
		return fieldError("city", "city is required")
	}
	if strings.TrimSpace(input.State) == "" {
		return fieldError("state", "state is required")
	}
	if len(input.Deliveries) == 0 || len(input.Deliveries) > maxDeliveries {
		return fieldError("deliveries", "an order needs between 1 and 20 deliveries")
	}

	sum := decimal.Zero
	for i, d := range input.Deliveries {
		prefix := fmt.Sprintf("deliveries[%d].", i)
		if n := utf8.RuneCountInString(strings.TrimSpace(d.PickupAddress)); n < minAddressLength || n > maxAddressLength {
			return fieldError(prefix+"pickupAddress", "address must be between 5 and 500 characters")
		}
		if n := utf8.RuneCountInString(strings.TrimSpace(d.DropoffAddress)); n < minAddressLength || n > maxAddressLength {
			return fieldError(prefix+"dropoffAddress", "address must be between 5 and 500 characters")
		}
		if !d.PackageType.IsValid() {
			return fieldError(prefix+"packageType", "unknown package type")
		}
		if d.SuggestedPrice.IsNegative() || d.SuggestedPrice.GreaterThan(maxDeliveryPrice) {
			return fieldError(prefix+"suggestedPrice", "price must be between 0 and 10000")
		}
		if !d.SuggestedPrice.Equal(d.SuggestedPrice.Round(2)) {
			return fieldError(prefix+"suggestedPrice", "price supports at most two decimal places")
		}
		sum = sum.Add(d.SuggestedPrice)
	}

	if input.TotalValue.IsNegative() || input.TotalValue.GreaterThan(maxOrderValue) {
		return fieldError("totalValue", "total must be between 0 and 100000")
	}
	if !input.TotalValue.Equal(sum) {
		return fieldError("totalValue", "total must equal the sum of delivery prices").
			WithDetails(map[string]any{"field": "totalValue", "expected": sum.StringFixed(2)})
	}
	return nil
}

func fieldError(field, message string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(map[string]any{"field": field})
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move order from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}

func orderUnavailable() error {
	return pkgerrors.New(pkgerrors.CodeConflict, "order no longer available").
		WithDetails(map[string]any{"reason": "order_unavailable"})
}

func driverHasOpenOrder() error {
	return pkgerrors.New(pkgerrors.CodeConflict, "driver already has an open order").
		WithDetails(map[string]any{"reason": "driver_has_open_order"})
}

func concurrentUpdate() error {
	return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently").
		WithDetails(map[string]any{"reason": "concurrent_update"})
}

func acceptanceOutcome(err error) string {
	if reason := pkgerrors.Reason(err); reason != "" {
		return reason
	}
	if typed := pkgerrors.As(err); typed != nil {
		return string(typed.Code())
	}
	return "error"
}
