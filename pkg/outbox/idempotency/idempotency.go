// Package idempotency keeps short-lived "already handled" markers in redis.
// Markers only short-circuit duplicate work; the database remains the
// authority on whether an event took effect.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dispatchly/dispatchly-backend/pkg/redis"
)

var (
	errNoConsumer = errors.New("consumer name is required")
	errNoEventID  = errors.New("event id is required")
)

// Manager stores markers under dl:idempotency:evt:processed:<consumer>:<id>.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed claims eventID for consumer. It reports true when an
// earlier delivery already holds the claim.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errNoEventID
	}
	key, err := m.key(consumer, eventID.String())
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return !claimed, nil
}

// Delete releases a claim so a redelivery is handled again.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID.String())
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// Seen reports whether externalID was marked for consumer. It never writes.
func (m *Manager) Seen(ctx context.Context, consumer, externalID string) (bool, error) {
	key, err := m.key(consumer, externalID)
	if err != nil {
		return false, err
	}
	val, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return val != "", nil
}

// Mark records externalID for consumer. Call it only after the work committed.
func (m *Manager) Mark(ctx context.Context, consumer, externalID string) error {
	key, err := m.key(consumer, externalID)
	if err != nil {
		return err
	}
	if _, err := m.store.SetNX(ctx, key, "1", m.ttl); err != nil {
		return fmt.Errorf("mark %s: %w", key, err)
	}
	return nil
}

// Scoped binds Seen and Mark to one consumer name.
func (m *Manager) Scoped(consumer string) *Scope {
	return &Scope{m: m, consumer: consumer}
}

// Scope is a Manager fixed to one consumer, e.g. the Stripe webhook.
type Scope struct {
	m        *Manager
	consumer string
}

func (s *Scope) Seen(ctx context.Context, id string) (bool, error) {
	return s.m.Seen(ctx, s.consumer, id)
}

func (s *Scope) Mark(ctx context.Context, id string) error {
	return s.m.Mark(ctx, s.consumer, id)
}

func (m *Manager) key(consumer, id string) (string, error) {
	if strings.TrimSpace(consumer) == "" {
		return "", errNoConsumer
	}
	if strings.TrimSpace(id) == "" {
		return "", errNoEventID
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, id), nil
}
