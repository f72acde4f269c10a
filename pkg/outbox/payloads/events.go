package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// OrderCreatedEvent announces a new pending order to drivers in the region.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	CompanyUserID uuid.UUID `json:"company_user_id"`
	City          string    `json:"city"`
	State         string    `json:"state"`
	TotalValue    string    `json:"total_value"`
	DeliveryCount int       `json:"delivery_count"`
}

// OrderAcceptedEvent is emitted when the acceptance guard hands an order to a driver.
type OrderAcceptedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	CompanyUserID uuid.UUID `json:"company_user_id"`
	DriverUserID  uuid.UUID `json:"driver_user_id"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// DeliveryCodesReadyEvent tells the company its recipients' codes can be shared.
type DeliveryCodesReadyEvent struct {
	OrderID       uuid.UUID   `json:"order_id"`
	CompanyUserID uuid.UUID   `json:"company_user_id"`
	DriverUserID  uuid.UUID   `json:"driver_user_id"`
	DeliveryIDs   []uuid.UUID `json:"delivery_ids"`
}

type DeliveryValidatedEvent struct {
	DeliveryID    uuid.UUID `json:"delivery_id"`
	OrderID       uuid.UUID `json:"order_id"`
	CompanyUserID uuid.UUID `json:"company_user_id"`
	DriverUserID  uuid.UUID `json:"driver_user_id"`
	ValidatedAt   time.Time `json:"validated_at"`
}

// OrderStatusChangedEvent covers driver_completed, completed and cancelled transitions.
type OrderStatusChangedEvent struct {
	OrderID       uuid.UUID         `json:"order_id"`
	CompanyUserID uuid.UUID         `json:"company_user_id"`
	DriverUserID  *uuid.UUID        `json:"driver_user_id,omitempty"`
	From          enums.OrderStatus `json:"from"`
	To            enums.OrderStatus `json:"to"`
	ActorUserID   uuid.UUID         `json:"actor_user_id"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// CreditsExtendedEvent records a successful extension of a user's access window.
type CreditsExtendedEvent struct {
	UserID             uuid.UUID          `json:"user_id"`
	Days               int                `json:"days"`
	PreviousValidUntil *time.Time         `json:"previous_valid_until,omitempty"`
	ValidUntil         time.Time          `json:"valid_until"`
	Source             enums.CreditSource `json:"source"`
	SourceRef          string             `json:"source_ref,omitempty"`
}

// DeliveryCodeResendRequestedEvent asks the company to re-share a recipient's code.
type DeliveryCodeResendRequestedEvent struct {
	DeliveryID     uuid.UUID `json:"delivery_id"`
	OrderID        uuid.UUID `json:"order_id"`
	CompanyUserID  uuid.UUID `json:"company_user_id"`
	OperatorUserID uuid.UUID `json:"operator_user_id"`
}
