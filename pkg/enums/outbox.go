package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder    OutboxAggregateType = "order"
	AggregateDelivery OutboxAggregateType = "delivery"
	AggregateCredits  OutboxAggregateType = "credits"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateDelivery,
	AggregateCredits,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated                OutboxEventType = "order_created"
	EventOrderAccepted               OutboxEventType = "order_accepted"
	EventDeliveryCodesReady          OutboxEventType = "delivery_codes_ready"
	EventDeliveryValidated           OutboxEventType = "delivery_validated"
	EventOrderDriverCompleted        OutboxEventType = "order_driver_completed"
	EventOrderCompleted              OutboxEventType = "order_completed"
	EventOrderCancelled              OutboxEventType = "order_cancelled"
	EventCreditsExtended             OutboxEventType = "credits_extended"
	EventDeliveryCodeResendRequested OutboxEventType = "delivery_code_resend_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderAccepted,
	EventDeliveryCodesReady,
	EventDeliveryValidated,
	EventOrderDriverCompleted,
	EventOrderCompleted,
	EventOrderCancelled,
	EventCreditsExtended,
	EventDeliveryCodeResendRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
