package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 10
	publishTimeout      = 15 * time.Second
	backoffCeiling      = 10 * time.Second
	jitter              = 250 * time.Millisecond
)

var errUnroutable = errors.New("no publisher for topic")

type store interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type broker interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type rowStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicPublisher is the slice of *pubsub.Publisher the relay needs.
type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) ackFuture
	// ResumePublish unblocks an ordering key after a failed publish.
	ResumePublish(orderingKey string)
}

type ackFuture interface {
	Get(context.Context) (string, error)
}

// outcome is what the relay decided for one outbox row.
type outcome struct {
	metric    string
	dlqReason enums.OutboxDLQErrorReason
	err       error
}

func (o outcome) terminal() bool { return o.dlqReason != "" }

// classify maps a publish error onto retry or dead-letter. attempt is the
// attempt number this publish just used.
func classify(err error, attempt, maxAttempts int) outcome {
	var nonRetry registry.NonRetryableError
	switch {
	case err == nil:
		return outcome{metric: "published"}
	case errors.Is(err, errUnroutable):
		return outcome{metric: "unroutable", dlqReason: enums.OutboxDLQReasonUnroutable, err: err}
	case errors.As(err, &nonRetry):
		return outcome{metric: "non_retryable", dlqReason: enums.OutboxDLQReasonNonRetryable, err: err}
	case attempt >= maxAttempts:
		return outcome{
			metric:    "failed",
			dlqReason: enums.OutboxDLQReasonMaxAttempts,
			err:       fmt.Errorf("max publish attempts reached: %w", err),
		}
	}
	return outcome{metric: "failed", err: err}
}

type RelayParams struct {
	Outbox  config.OutboxConfig
	Logger  *logger.Logger
	DB      store
	PubSub  broker
	Rows    rowStore
	DLQ     deadLetters
	Events  resolver
	Metrics *metrics.DomainMetrics
	// Topics overrides how a topic name becomes a publisher.
	Topics func(topic string) topicPublisher
	Now    func() time.Time
}

// Relay drains outbox rows onto their Pub/Sub topics. A row is marked
// published, retried later, or parked in outbox_dlq, all inside the claiming tx.
type Relay struct {
	RelayParams
	batch       int
	maxAttempts int
	idle        time.Duration
}

func NewRelay(p RelayParams) (*Relay, error) {
	for _, dep := range []struct {
		name  string
		unset bool
	}{
		{"logger", p.Logger == nil},
		{"database client", p.DB == nil},
		{"pubsub client", p.PubSub == nil},
		{"outbox repository", p.Rows == nil},
		{"dlq repository", p.DLQ == nil},
		{"event registry", p.Events == nil},
	} {
		if dep.unset {
			return nil, fmt.Errorf("outbox relay: %s required", dep.name)
		}
	}
	if p.Topics == nil {
		p.Topics = func(topic string) topicPublisher {
			if pub := p.PubSub.Publisher(topic); pub != nil {
				return gcpPublisher{pub}
			}
			return nil
		}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Relay{
		RelayParams: p,
		batch:       positive(p.Outbox.BatchSize, defaultBatchSize),
		maxAttempts: positive(p.Outbox.MaxAttempts, defaultMaxAttempts),
		idle:        positive(time.Duration(p.Outbox.PollIntervalMS)*time.Millisecond, defaultPollInterval),
	}, nil
}

// Run polls until ctx is canceled. An empty batch waits one idle interval; a
// failing batch doubles the wait up to backoffCeiling.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.DB.Ping(ctx); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	if err := r.PubSub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub not ready: %w", err)
	}

	wait := r.idle
	for ctx.Err() == nil {
		drained, err := r.drain(ctx)
		switch {
		case err != nil:
			r.Logger.Error(ctx, "outbox.batch_failed", err)
			wait = min(wait*2, backoffCeiling)
		case drained:
			wait = r.idle
			continue
		default:
			wait = r.idle
		}

		timer := time.NewTimer(wait + rand.N(jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
	return ctx.Err()
}

// drain claims one batch and settles every row in it. It reports whether the batch was non-empty.
func (r *Relay) drain(ctx context.Context) (bool, error) {
	var claimed int
	err := r.DB.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.Rows.FetchUnpublishedForPublish(tx, r.batch, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		claimed = len(rows)
		for _, row := range rows {
			if err := r.relay(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed > 0, err
}

// relay only returns an error when the outcome could not be recorded.
func (r *Relay) relay(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	attempt := row.AttemptCount + 1
	resolved, err := r.Events.Resolve(row)
	if err != nil {
		return r.record(ctx, tx, row, nil, classify(registry.NewNonRetryableError(err), attempt, r.maxAttempts))
	}
	return r.record(ctx, tx, row, resolved, classify(r.send(ctx, row, resolved), attempt, r.maxAttempts))
}

func (r *Relay) record(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, resolved *registry.ResolvedEvent, res outcome) error {
	ctx = r.Logger.WithFields(ctx, rowFields(row, resolved))
	if resolved != nil {
		r.Metrics.IncOutboxPublish(resolved.Descriptor.Topic, res.metric)
	}

	if res.err == nil {
		if err := r.Rows.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.Logger.Info(ctx, "outbox.published")
		return nil
	}

	ctx = r.Logger.WithField(ctx, "outcome", res.metric)
	if !res.terminal() {
		r.Logger.Warn(ctx, "outbox.publish_retry")
		if err := r.Rows.MarkFailedTx(tx, row.ID, res.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", row.ID, err)
		}
		return nil
	}

	r.Logger.Error(r.Logger.WithField(ctx, "dlq_reason", res.dlqReason), "outbox.dead_lettered", res.err)
	reason := res.err.Error()
	if err := r.DLQ.InsertTx(tx, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   res.dlqReason,
		ErrorMessage:  &reason,
		AttemptCount:  row.AttemptCount,
		FailedAt:      r.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.Rows.MarkTerminalTx(tx, row.ID, res.err, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

// send publishes the row keyed by its aggregate, so one order's facts stay in sequence.
func (r *Relay) send(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.Topics(topic)
	if pub == nil {
		return fmt.Errorf("%w: %s", errUnroutable, topic)
	}

	key := orderingKey(row)
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ack := pub.Publish(ctx, &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_version":  strconv.Itoa(resolved.Envelope.Version),
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if ack == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no ack future for topic %s", topic))
	}
	if _, err := ack.Get(ctx); err != nil {
		pub.ResumePublish(key)
		return err
	}
	return nil
}

// orderingKey scopes sequencing to one aggregate. The type prefix keeps a user's
// credits facts off the key of an order that shares the id.
func orderingKey(row models.OutboxEvent) string {
	return string(row.AggregateType) + ":" + row.AggregateID.String()
}

func rowFields(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	if resolved == nil {
		return fields
	}
	fields["topic"] = resolved.Descriptor.Topic
	if env := resolved.Envelope; env.EventID != "" {
		fields["event_id"] = env.EventID
		fields["occurred_at"] = env.OccurredAt.Format(time.RFC3339Nano)
	}
	return fields
}

func positive[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) ackFuture {
	return p.Publisher.Publish(ctx, msg)
}
