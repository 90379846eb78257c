package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisClient connects to REDIS_ADDR, skipping the test when unset.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s unavailable: %v", addr, err)
	}
	return client
}

func newTestRedisRegistry(t *testing.T, opts ...RedisOption) (*RedisRegistry, *redis.Client, string) {
	t.Helper()
	client := redisClient(t)
	prefix := "automata:test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, err := client.Keys(ctx, prefix+"*").Result()
		if err == nil && len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})
	return NewRedisRegistry(client, append([]RedisOption{WithRedisPrefix(prefix)}, opts...)...), client, prefix
}

func TestRedisRegistry(t *testing.T) {
	testRegistry(t, func(t *testing.T) Registry {
		r, _, _ := newTestRedisRegistry(t)
		return r
	})
}

func TestRedisRegistry_KeysCarryTTL(t *testing.T) {
	r, client, prefix := newTestRedisRegistry(t, WithConnectionTTL(time.Hour))
	ctx := t.Context()
	now := time.Now().UTC()

	require.NoError(t, r.PutToken(ctx, Token{Token: "tok", AccountID: "acct", IssuedAt: now, ExpiresAt: now.Add(30 * time.Second)}))
	require.NoError(t, r.PutConnection(ctx, Connection{ID: "conn-1", AccountID: "acct", State: StateOpen, ConnectedAt: now}))
	require.NoError(t, r.PutSubscription(ctx, Subscription{ConnectionID: "conn-1", AutomataID: "a-1", AccountID: "acct", SubscribedAt: now}))

	for key, max := range map[string]time.Duration{
		prefix + "token:tok":         30 * time.Second,
		prefix + "conn:conn-1":       time.Hour,
		prefix + "subs:conn:conn-1":  time.Hour,
		prefix + "subs:automata:a-1": time.Hour,
	} {
		ttl, err := client.TTL(ctx, key).Result()
		require.NoError(t, err, key)
		assert.Greater(t, ttl, time.Duration(0), key)
		assert.LessOrEqual(t, ttl, max, key)
	}
}

func TestRedisRegistry_TokenConsumedOnceUnderContention(t *testing.T) {
	r, _, _ := newTestRedisRegistry(t)
	ctx := t.Context()
	now := time.Now().UTC()
	require.NoError(t, r.PutToken(ctx, Token{Token: "tok", AccountID: "acct", IssuedAt: now, ExpiresAt: now.Add(30 * time.Second)}))

	const callers = 10
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := r.ConsumeToken(ctx, "tok", now)
			results <- err
		}()
	}
	ok := 0
	for i := 0; i < callers; i++ {
		if err := <-results; err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrTokenInvalid)
		}
	}
	assert.Equal(t, 1, ok)
}
