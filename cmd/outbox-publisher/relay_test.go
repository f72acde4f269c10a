package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/payloads"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/registry"
)

func TestClassify(t *testing.T) {
	transient := errors.New("deadline exceeded")
	for name, tc := range map[string]struct {
		err      error
		attempt  int
		metric   string
		reason   enums.OutboxDLQErrorReason
		terminal bool
	}{
		"published":         {nil, 1, "published", "", false},
		"transient retries": {transient, 1, "failed", "", false},
		"transient at cap":  {transient, 3, "failed", enums.OutboxDLQReasonMaxAttempts, true},
		"unroutable":        {errUnroutable, 1, "unroutable", enums.OutboxDLQReasonUnroutable, true},
		"non retryable":     {registry.NewNonRetryableError(transient), 1, "non_retryable", enums.OutboxDLQReasonNonRetryable, true},
	} {
		t.Run(name, func(t *testing.T) {
			got := classify(tc.err, tc.attempt, 3)
			assert.Equal(t, tc.metric, got.metric)
			assert.Equal(t, tc.reason, got.dlqReason)
			assert.Equal(t, tc.terminal, got.terminal())
		})
	}
}

type harness struct {
	rows  *memRows
	dlq   *memDLQ
	pub   *scriptedPublisher
	reg   *prometheus.Registry
	relay *Relay
}

func newHarness(t *testing.T, events resolver, cfg config.OutboxConfig, rows ...models.OutboxEvent) *harness {
	t.Helper()
	h := &harness{
		rows: &memRows{pending: rows},
		dlq:  &memDLQ{},
		pub:  &scriptedPublisher{},
		reg:  prometheus.NewRegistry(),
	}
	relay, err := NewRelay(RelayParams{
		Outbox:  cfg,
		Logger:  logger.New(logger.Options{ServiceName: "outbox-relay-test", Output: io.Discard}),
		DB:      nopStore{},
		PubSub:  nopBroker{},
		Rows:    h.rows,
		DLQ:     h.dlq,
		Events:  events,
		Metrics: metrics.NewDomainMetrics(h.reg),
		Topics:  func(string) topicPublisher { return h.pub },
	})
	require.NoError(t, err)
	h.relay = relay
	return h
}

func TestDrainKeepsGoingAfterTransientFailure(t *testing.T) {
	first, second := orderRow(t, 0), orderRow(t, 0)
	h := newHarness(t, orderResolver(), config.OutboxConfig{}, first, second)
	h.pub.errs = []error{errors.New("unavailable"), nil}

	drained, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	assert.True(t, drained)
	assert.Equal(t, []uuid.UUID{first.ID}, h.rows.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, h.rows.published)
	assert.Equal(t, []string{"order:" + first.AggregateID.String()}, h.pub.resumed)
}

func TestDrainReportsEmptyBatch(t *testing.T) {
	h := newHarness(t, orderResolver(), config.OutboxConfig{})
	drained, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	assert.False(t, drained)
}

func TestSendKeysMessagesByAggregate(t *testing.T) {
	row := orderRow(t, 0)
	h := newHarness(t, orderResolver(), config.OutboxConfig{}, row)

	_, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	require.Len(t, h.pub.sent, 1)
	msg := h.pub.sent[0]
	assert.Equal(t, "order:"+row.AggregateID.String(), msg.OrderingKey)
	assert.Equal(t, row.AggregateID.String(), msg.Attributes["aggregate_id"])
	assert.Equal(t, string(enums.EventOrderCreated), msg.Attributes["event_type"])
	assert.Equal(t, row.ID.String(), msg.Attributes["event_id"])
	assert.JSONEq(t, string(row.Payload), string(msg.Data))
}

func TestOrderingKeySeparatesAggregateTypes(t *testing.T) {
	id := uuid.New()
	order := models.OutboxEvent{AggregateType: enums.AggregateOrder, AggregateID: id}
	credits := models.OutboxEvent{AggregateType: enums.AggregateCredits, AggregateID: id}

	assert.Equal(t, "order:"+id.String(), orderingKey(order))
	assert.Equal(t, "credits:"+id.String(), orderingKey(credits))
	assert.NotEqual(t, orderingKey(order), orderingKey(credits))
}

func TestUnroutableTopicIsDeadLettered(t *testing.T) {
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventCreditsExtended,
		AggregateType: enums.AggregateCredits,
		AggregateID:   uuid.New(),
		Payload:       envelopeBytes(t, "credits"),
	}
	events := &stubResolver{resolved: &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "billing-topic", AggregateType: enums.AggregateCredits},
		Envelope:   outbox.PayloadEnvelope{OccurredAt: time.Now()},
		Payload:    &payloads.CreditsExtendedEvent{},
	}}
	h := newHarness(t, events, config.OutboxConfig{}, row)
	h.relay.Topics = func(topic string) topicPublisher {
		assert.Equal(t, "billing-topic", topic)
		return nil
	}

	_, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonUnroutable, h.dlq.entries[0].ErrorReason)
	assert.Empty(t, h.rows.published)
	assert.Equal(t, []uuid.UUID{row.ID}, h.rows.terminal)
	assert.Equal(t, 1.0, publishCount(t, h.reg, "billing-topic", "unroutable"))
}

func TestUnresolvableRowIsDeadLetteredWithPayload(t *testing.T) {
	row := orderRow(t, 0)
	h := newHarness(t, &stubResolver{err: errors.New("invalid payload")}, config.OutboxConfig{}, row)

	_, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	entry := h.dlq.entries[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.Equal(t, []byte(row.Payload), []byte(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "invalid payload")
	assert.Empty(t, h.pub.sent)
}

func TestLastAttemptIsDeadLettered(t *testing.T) {
	h := newHarness(t, orderResolver(), config.OutboxConfig{MaxAttempts: 2}, orderRow(t, 1))
	h.pub.errs = []error{errors.New("unavailable")}

	_, err := h.relay.drain(context.Background())
	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, h.dlq.entries[0].ErrorReason)
	assert.Empty(t, h.rows.failed)
}

func TestBookkeepingFailureAbortsBatch(t *testing.T) {
	h := newHarness(t, orderResolver(), config.OutboxConfig{}, orderRow(t, 0))
	h.rows.markErr = errors.New("connection reset")

	_, err := h.relay.drain(context.Background())
	assert.ErrorContains(t, err, "mark published")
}

func TestNewRelayDefaults(t *testing.T) {
	h := newHarness(t, orderResolver(), config.OutboxConfig{})
	assert.Equal(t, defaultBatchSize, h.relay.batch)
	assert.Equal(t, defaultMaxAttempts, h.relay.maxAttempts)
	assert.Equal(t, defaultPollInterval, h.relay.idle)

	_, err := NewRelay(RelayParams{})
	assert.ErrorContains(t, err, "logger required")
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, orderResolver(), config.OutboxConfig{PollIntervalMS: 10})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.relay.Run(ctx), context.DeadlineExceeded)
}

func publishCount(t *testing.T, reg *prometheus.Registry, topic, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "outbox_publish_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range m.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["topic"] == topic && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func orderRow(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       envelopeBytes(t, uuid.NewString()),
		AttemptCount:  attempts,
	}
}

func orderResolver() *stubResolver {
	return &stubResolver{resolved: &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "orders-topic", AggregateType: enums.AggregateOrder},
		Envelope:   outbox.PayloadEnvelope{Version: 1, OccurredAt: time.Now()},
		Payload:    &payloads.OrderCreatedEvent{},
	}}
}

func envelopeBytes(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(tb, err)
	return body
}

type memRows struct {
	pending   []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	markErr   error
}

func (m *memRows) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return m.pending, nil
}

func (m *memRows) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.published = append(m.published, id)
	return nil
}

func (m *memRows) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	m.failed = append(m.failed, id)
	return nil
}

func (m *memRows) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	m.terminal = append(m.terminal, id)
	return nil
}

type memDLQ struct{ entries []models.OutboxDLQ }

func (m *memDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	m.entries = append(m.entries, entry)
	return nil
}

type nopStore struct{}

func (nopStore) Ping(context.Context) error                              { return nil }
func (nopStore) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type nopBroker struct{}

func (nopBroker) Ping(context.Context) error            { return nil }
func (nopBroker) Publisher(string) *gcppubsub.Publisher { return nil }

// scriptedPublisher acks each publish with the next queued error; an empty queue acks success.
type scriptedPublisher struct {
	errs    []error
	sent    []*gcppubsub.Message
	resumed []string
}

func (s *scriptedPublisher) Publish(_ context.Context, msg *gcppubsub.Message) ackFuture {
	s.sent = append(s.sent, msg)
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	return ack{err: err}
}

func (s *scriptedPublisher) ResumePublish(key string) { s.resumed = append(s.resumed, key) }

type ack struct{ err error }

func (a ack) Get(context.Context) (string, error) { return "server-id", a.err }

type stubResolver struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (s *stubResolver) Resolve(row models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	resolved := *s.resolved
	resolved.Envelope.EventID = row.ID.String()
	return &resolved, nil
}
