// Package registry maps outbox event types to their topic, aggregate and
// payload shape. The publisher resolves rows against it before sending;
// consumers build their decoders from the same table.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload type.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row whose envelope and payload decoded cleanly.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never publish, however often it is retried.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func payloadOf[T any]() func() any {
	return func() any { return new(T) }
}

// NewEventRegistry routes order lifecycle events to the orders topic, delivery
// code events to the notification topic and credit grants to the billing topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topics := map[string]string{
		"orders":       cfg.OrdersTopic,
		"notification": cfg.NotificationTopic,
		"billing":      cfg.BillingTopic,
	}
	for name, topic := range topics {
		if topic == "" {
			return nil, fmt.Errorf("%s topic is required", name)
		}
	}

	orders, notify := cfg.OrdersTopic, cfg.NotificationTopic
	descs := []EventDescriptor{
		{enums.EventOrderCreated, enums.AggregateOrder, orders, payloadOf[payloads.OrderCreatedEvent]()},
		{enums.EventOrderAccepted, enums.AggregateOrder, orders, payloadOf[payloads.OrderAcceptedEvent]()},
		{enums.EventOrderDriverCompleted, enums.AggregateOrder, orders, payloadOf[payloads.OrderStatusChangedEvent]()},
		{enums.EventOrderCompleted, enums.AggregateOrder, orders, payloadOf[payloads.OrderStatusChangedEvent]()},
		{enums.EventOrderCancelled, enums.AggregateOrder, orders, payloadOf[payloads.OrderStatusChangedEvent]()},

		{enums.EventDeliveryCodesReady, enums.AggregateOrder, notify, payloadOf[payloads.DeliveryCodesReadyEvent]()},
		{enums.EventDeliveryValidated, enums.AggregateDelivery, notify, payloadOf[payloads.DeliveryValidatedEvent]()},
		{enums.EventDeliveryCodeResendRequested, enums.AggregateDelivery, notify, payloadOf[payloads.DeliveryCodeResendRequestedEvent]()},

		{enums.EventCreditsExtended, enums.AggregateCredits, cfg.BillingTopic, payloadOf[payloads.CreditsExtendedEvent]()},
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descs))}
	for _, d := range descs {
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Descriptors lists every registered event, sorted by type.
func (r *EventRegistry) Descriptors() []EventDescriptor {
	out := make([]EventDescriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// Resolve validates the row against its descriptor and decodes the payload.
// Every failure is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	resolved, err := r.resolve(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return resolved, nil
}

func (r *EventRegistry) resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, fmt.Errorf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, errors.New("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
