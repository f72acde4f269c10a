package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchly/dispatchly-backend/pkg/config"
)

type memStore struct {
	values    map[string]string
	counters  map[string]int64
	ttls      map[string]time.Duration
	expireErr error
}

func newMemStore() *memStore {
	return &memStore{
		values:   map[string]string{},
		counters: map[string]int64{},
		ttls:     map[string]time.Duration{},
	}
}

func (m *memStore) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *memStore) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	if _, ok := m.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.values[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (m *memStore) Incr(_ context.Context, key string) *redis.IntCmd {
	m.counters[key]++
	return redis.NewIntResult(m.counters[key], nil)
}

func (m *memStore) ExpireNX(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	if m.expireErr != nil {
		return redis.NewBoolResult(false, m.expireErr)
	}
	if _, ok := m.ttls[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (m *memStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.values, key)
		delete(m.ttls, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	client := &Client{store: store}

	for want := int64(1); want <= 2; want++ {
		allowed, count, err := client.FixedWindowAllow(ctx, "code:order-1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, want, count)
	}

	allowed, count, err := client.FixedWindowAllow(ctx, "code:order-1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.EqualValues(t, 3, count)
	assert.Equal(t, time.Minute, store.ttls["dl:rate_limit:code:order-1"])
}

func TestFixedWindowRecoversMissingTTL(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.expireErr = errors.New("connection reset")
	client := &Client{store: store}

	_, _, err := client.FixedWindowAllow(ctx, "code:order-2", 5, time.Minute)
	require.Error(t, err)
	_, hasTTL := store.ttls["dl:rate_limit:code:order-2"]
	require.False(t, hasTTL)

	store.expireErr = nil
	allowed, count, err := client.FixedWindowAllow(ctx, "code:order-2", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 2, count)
	assert.Equal(t, time.Minute, store.ttls["dl:rate_limit:code:order-2"])
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMemStore()}
	key := client.IdempotencyKey("stripe-webhook", "evt_1")

	won, err := client.SetNX(ctx, key, "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = client.SetNX(ctx, key, "1", time.Hour)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "dl:idempotency:scope:id", client.IdempotencyKey("scope", "id"))
	assert.Equal(t, "dl:idempotency:scope", client.IdempotencyKey("scope", " "))
	assert.Equal(t, "dl:rate_limit:scope", client.RateLimitKey("scope"))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	require.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://:pw@cache:6380/3",
		DB:          7,
		PoolSize:    12,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 12, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 1})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 1, opts.DB)
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	assert.Error(t, client.Ping(context.Background()))
	_, _, err := client.FixedWindowAllow(context.Background(), "x", 1, time.Second)
	assert.Error(t, err)
	_, err = client.DelIfValue(context.Background(), "k", "v")
	assert.ErrorIs(t, err, errNotInitialized)
	assert.NoError(t, client.Close())
}
