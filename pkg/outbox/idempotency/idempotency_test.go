package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	v, ok := s.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (s *memStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = "1"
	s.ttls[key] = ttl
	return true, nil
}

func (s *memStore) IdempotencyKey(scope, id string) string {
	return "dl:idempotency:" + scope + ":" + id
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func TestCheckAndMarkProcessed(t *testing.T) {
	store := newMemStore()
	m, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	id := uuid.New()

	already, err := m.CheckAndMarkProcessed(ctx, "notifications-inbox", id)
	require.NoError(t, err)
	assert.False(t, already)

	key := "dl:idempotency:evt:processed:notifications-inbox:" + id.String()
	assert.Equal(t, 24*time.Hour, store.ttls[key])

	already, err = m.CheckAndMarkProcessed(ctx, "notifications-inbox", id)
	require.NoError(t, err)
	assert.True(t, already)

	require.NoError(t, m.Delete(ctx, "notifications-inbox", id))
	already, err = m.CheckAndMarkProcessed(ctx, "notifications-inbox", id)
	require.NoError(t, err)
	assert.False(t, already, "released claim can be taken again")
}

func TestCheckAndMarkProcessedRejectsBadInput(t *testing.T) {
	m, err := NewManager(newMemStore(), time.Hour)
	require.NoError(t, err)

	_, err = m.CheckAndMarkProcessed(context.Background(), "inbox", uuid.Nil)
	assert.ErrorIs(t, err, errNoEventID)
	_, err = m.CheckAndMarkProcessed(context.Background(), " ", uuid.New())
	assert.ErrorIs(t, err, errNoConsumer)
}

func TestCheckAndMarkProcessedSurfacesStoreError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	m, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = m.CheckAndMarkProcessed(context.Background(), "inbox", uuid.New())
	assert.ErrorContains(t, err, "connection refused")
}

func TestScopedSeenAndMark(t *testing.T) {
	store := newMemStore()
	m, err := NewManager(store, 72*time.Hour)
	require.NoError(t, err)
	scope := m.Scoped("stripe-webhook")
	ctx := context.Background()

	seen, err := scope.Seen(ctx, "evt_123")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, scope.Mark(ctx, "evt_123"))
	assert.Equal(t, 72*time.Hour, store.ttls["dl:idempotency:evt:processed:stripe-webhook:evt_123"])

	seen, err = scope.Seen(ctx, "evt_123")
	require.NoError(t, err)
	assert.True(t, seen)

	_, err = scope.Seen(ctx, " ")
	assert.ErrorIs(t, err, errNoEventID)
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewManager(newMemStore(), -time.Second)
	assert.Error(t, err)
}
