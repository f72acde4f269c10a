package notifications

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/payloads"
)

// inboxConsumer scopes the processed-event markers of this consumer.
const inboxConsumer = "inbox-notifications"

type inboxWriter interface {
	CreateIfAbsent(ctx context.Context, notification *models.Notification) (bool, error)
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error)
}

type processedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type ConsumerParams struct {
	Repo          inboxWriter
	Subscriptions []*pubsub.Subscriber
	Decoders      payloadDecoder
	Idempotency   processedTracker
	Logger        *logger.Logger
}

// Consumer turns domain facts into in-app notifications for the users they concern.
type Consumer struct {
	ConsumerParams
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	for _, dep := range []struct {
		name  string
		unset bool
	}{
		{"repository", params.Repo == nil},
		{"decoders", params.Decoders == nil},
		{"idempotency tracker", params.Idempotency == nil},
		{"logger", params.Logger == nil},
	} {
		if dep.unset {
			return nil, fmt.Errorf("notifications consumer: %s required", dep.name)
		}
	}
	return &Consumer{ConsumerParams: params}, nil
}

// Run receives from every subscription until ctx ends or one receiver fails.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.Subscriptions) == 0 {
		return errors.New("notifications consumer: no subscriptions")
	}
	group, gctx := errgroup.WithContext(ctx)
	for _, sub := range c.Subscriptions {
		if sub == nil {
			return errors.New("notifications consumer: nil subscription")
		}
		group.Go(func() error {
			return sub.Receive(gctx, func(ctx context.Context, msg *pubsub.Message) {
				if c.handle(ctx, msg.ID, msg.Attributes, msg.Data).retry {
					msg.Nack()
					return
				}
				msg.Ack()
			})
		})
	}
	return group.Wait()
}

// handled reports how a message was settled. retry asks Pub/Sub to redeliver;
// everything else, including poison messages, is acked.
type handled struct {
	retry   bool
	written int
}

// fact is an envelope that parsed far enough to be routed.
type fact struct {
	id      uuid.UUID
	kind    enums.OutboxEventType
	version int
	data    json.RawMessage
}

func unwrap(attrs map[string]string, body []byte) (fact, error) {
	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fact{}, fmt.Errorf("envelope: %w", err)
	}
	id, err := uuid.Parse(env.EventID)
	if err != nil {
		return fact{}, fmt.Errorf("event id: %w", err)
	}
	version := env.Version
	if version == 0 {
		version, _ = strconv.Atoi(attrs["event_version"])
	}
	return fact{
		id:      id,
		kind:    enums.OutboxEventType(attrs["event_type"]),
		version: cmp.Or(version, 1),
		data:    env.Data,
	}, nil
}

func (c *Consumer) handle(ctx context.Context, messageID string, attrs map[string]string, body []byte) handled {
	ctx = c.Logger.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": attrs["event_type"],
	})

	f, err := unwrap(attrs, body)
	if err != nil {
		c.Logger.Error(ctx, "notifications.poison_message", err)
		return handled{}
	}
	payload, err := c.Decoders.Decode(f.kind, f.version, f.data)
	if err != nil {
		c.Logger.Warn(ctx, "notifications.event_ignored")
		return handled{}
	}
	notes := notificationsFor(f.id, payload)
	if len(notes) == 0 {
		return handled{}
	}

	seen, err := c.Idempotency.CheckAndMarkProcessed(ctx, inboxConsumer, f.id)
	switch {
	case err != nil:
		c.Logger.Error(ctx, "notifications.idempotency_failed", err)
		return handled{retry: true}
	case seen:
		c.Logger.Info(ctx, "notifications.duplicate_event")
		return handled{}
	}

	var out handled
	for i := range notes {
		created, err := c.Repo.CreateIfAbsent(ctx, &notes[i])
		if err != nil {
			c.Logger.Error(ctx, "notifications.write_failed", err)
			if relErr := c.Idempotency.Delete(ctx, inboxConsumer, f.id); relErr != nil {
				c.Logger.Error(ctx, "notifications.marker_release_failed", relErr)
			}
			return handled{retry: true}
		}
		if created {
			out.written++
		}
	}
	c.Logger.Info(c.Logger.WithField(ctx, "notifications_written", out.written), "notifications.delivered")
	return out
}

func notificationsFor(eventID uuid.UUID, payload interface{}) []models.Notification {
	switch p := payload.(type) {
	case *payloads.OrderCreatedEvent:
		return []models.Notification{
			note(eventID, p.CompanyUserID, enums.NotificationTypeOrderAlert, "Order posted",
				fmt.Sprintf("Your order with %d deliveries is visible to drivers in %s, %s.", p.DeliveryCount, p.City, p.State),
				orderLink(p.OrderID)),
		}
	case *payloads.OrderAcceptedEvent:
		return []models.Notification{
			note(eventID, p.CompanyUserID, enums.NotificationTypeOrderAlert, "Order accepted",
				"A driver accepted your order and is on the way to pickup.", orderLink(p.OrderID)),
		}
	case *payloads.DeliveryCodesReadyEvent:
		return []models.Notification{
			note(eventID, p.CompanyUserID, enums.NotificationTypeDeliveryAlert, "Delivery codes ready",
				fmt.Sprintf("Share the %d delivery codes with your recipients.", len(p.DeliveryIDs)),
				orderLink(p.OrderID)+"/delivery-codes"),
		}
	case *payloads.DeliveryValidatedEvent:
		return []models.Notification{
			note(eventID, p.CompanyUserID, enums.NotificationTypeDeliveryAlert, "Delivery confirmed",
				"The recipient's code was confirmed by the driver.", orderLink(p.OrderID)),
		}
	case *payloads.DeliveryCodeResendRequestedEvent:
		return []models.Notification{
			note(eventID, p.CompanyUserID, enums.NotificationTypeDeliveryAlert, "Re-share a delivery code",
				"Support reissued a delivery code. Share the new code with the recipient.",
				orderLink(p.OrderID)+"/delivery-codes"),
		}
	case *payloads.OrderStatusChangedEvent:
		return statusChangeNotifications(eventID, p)
	case *payloads.CreditsExtendedEvent:
		return []models.Notification{
			note(eventID, p.UserID, enums.NotificationTypeBillingAlert, "Credits extended",
				fmt.Sprintf("Your access is active until %s.", p.ValidUntil.UTC().Format("Jan 2, 2006")), "/billing"),
		}
	}
	return nil
}

func statusChangeNotifications(eventID uuid.UUID, p *payloads.OrderStatusChangedEvent) []models.Notification {
	link := orderLink(p.OrderID)
	switch p.To {
	case enums.OrderStatusDriverCompleted:
		return []models.Notification{
			note(eventID, p.CompanyUserID, enums.NotificationTypeOrderAlert, "Confirm order completion",
				"The driver finished every delivery. Confirm to complete the order.", link),
		}
	case enums.OrderStatusCompleted:
		if p.DriverUserID == nil {
			return nil
		}
		return []models.Notification{
			note(eventID, *p.DriverUserID, enums.NotificationTypeOrderAlert, "Order completed",
				"The company confirmed the order as completed.", link),
		}
	case enums.OrderStatusCancelled:
		var out []models.Notification
		if p.CompanyUserID != p.ActorUserID {
			out = append(out, note(eventID, p.CompanyUserID, enums.NotificationTypeOrderAlert, "Order cancelled",
				"The driver cancelled the order. It is no longer assigned.", link))
		}
		if p.DriverUserID != nil && *p.DriverUserID != p.ActorUserID {
			out = append(out, note(eventID, *p.DriverUserID, enums.NotificationTypeOrderAlert, "Order cancelled",
				"The company cancelled the order.", link))
		}
		return out
	}
	return nil
}

func note(eventID, userID uuid.UUID, kind enums.NotificationType, title, message, link string) models.Notification {
	id := eventID
	return models.Notification{
		UserID:  userID,
		EventID: &id,
		Type:    kind,
		Title:   title,
		Message: message,
		Link:    &link,
	}
}

func orderLink(orderID uuid.UUID) string {
	return "/orders/" + orderID.String()
}
