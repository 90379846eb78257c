package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix namespaces every key the registry writes.
	DefaultRedisPrefix = "automata:rt:"

	// DefaultConnectionTTL bounds how long an abandoned connection and its
	// subscriptions survive a crashed process.
	DefaultConnectionTTL = 24 * time.Hour
)

// putSubscriptionScript writes both subscription hashes if the connection
// is still open.
// KEYS[1] = conn:<connection>
// KEYS[2] = subs:conn:<connection>
// KEYS[3] = subs:automata:<automata>
// ARGV[1] = automata ID, ARGV[2] = connection ID
// ARGV[3] = JSON Subscription, ARGV[4] = TTL in milliseconds
var putSubscriptionScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[3])
redis.call("HSET", KEYS[3], ARGV[2], ARGV[3])
redis.call("PEXPIRE", KEYS[2], ARGV[4])
redis.call("PEXPIRE", KEYS[3], ARGV[4])
return 1
`)

// deleteConnectionScript drops a connection and its subscriptions from
// both indexes, returning the removed by-connection hash as a flat
// field/value list.
// KEYS[1] = subs:conn:<connection>
// KEYS[2] = conn:<connection>
// ARGV[1] = connection ID, ARGV[2] = subs:automata: key prefix
var deleteConnectionScript = redis.NewScript(`
local subs = redis.call("HGETALL", KEYS[1])
for i = 1, #subs, 2 do
    redis.call("HDEL", ARGV[2] .. subs[i], ARGV[1])
end
redis.call("DEL", KEYS[1], KEYS[2])
return subs
`)

// RedisRegistry is a Registry shared by every process pointed at the same
// Redis.
//
// Key layout (under the prefix):
//   - token:<token>            JSON Token, expires with the token
//   - conn:<id>                JSON Connection
//   - subs:conn:<id>           hash automataID -> JSON Subscription
//   - subs:automata:<id>       hash connectionID -> JSON Subscription
//
// Subscribing and closing run as Lua scripts, so a subscription is written
// only while its connection key exists and a close removes exactly the
// subscriptions present when it runs. Every key has a TTL, so state left
// by a dead process expires on its own. The scripts touch keys derived
// from other keys, so every key must live on one node.
type RedisRegistry struct {
	client  redis.UniversalClient
	prefix  string
	connTTL time.Duration
}

// RedisOption configures a RedisRegistry.
type RedisOption func(*RedisRegistry)

// WithRedisPrefix sets the key prefix. Default: DefaultRedisPrefix.
func WithRedisPrefix(p string) RedisOption {
	return func(r *RedisRegistry) {
		r.prefix = p
	}
}

// WithConnectionTTL sets the lifetime of connection and subscription keys,
// refreshed on every write. Default: DefaultConnectionTTL.
func WithConnectionTTL(d time.Duration) RedisOption {
	return func(r *RedisRegistry) {
		r.connTTL = d
	}
}

// NewRedisRegistry creates a registry over client. The client is owned by
// the caller.
func NewRedisRegistry(client redis.UniversalClient, opts ...RedisOption) *RedisRegistry {
	r := &RedisRegistry{
		client:  client,
		prefix:  DefaultRedisPrefix,
		connTTL: DefaultConnectionTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRegistry) tokenKey(t string) string { return r.prefix + "token:" + t }

func (r *RedisRegistry) connKey(id string) string { return r.prefix + "conn:" + id }

func (r *RedisRegistry) connSubsKey(id string) string { return r.prefix + "subs:conn:" + id }

func (r *RedisRegistry) automataKey(id string) string { return r.prefix + "subs:automata:" + id }

// PutToken implements Registry. The key lives for the token's lifetime.
func (r *RedisRegistry) PutToken(ctx context.Context, t Token) error {
	ttl := t.ExpiresAt.Sub(t.IssuedAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	if err := r.client.Set(ctx, r.tokenKey(t.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

// ConsumeToken implements Registry. GETDEL makes consumption atomic across
// processes: exactly one caller sees the value.
func (r *RedisRegistry) ConsumeToken(ctx context.Context, token string, now time.Time) (Token, error) {
	data, err := r.client.GetDel(ctx, r.tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, ErrTokenInvalid
	}
	if err != nil {
		return Token{}, fmt.Errorf("consume token: %w", err)
	}

	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return Token{}, fmt.Errorf("consume token: %w", err)
	}
	if t.Expired(now) {
		return Token{}, ErrTokenInvalid
	}
	return t, nil
}

// PutConnection implements Registry.
func (r *RedisRegistry) PutConnection(ctx context.Context, c Connection) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("put connection: %w", err)
	}
	if err := r.client.Set(ctx, r.connKey(c.ID), data, r.connTTL).Err(); err != nil {
		return fmt.Errorf("put connection: %w", err)
	}
	return nil
}

// GetConnection implements Registry.
func (r *RedisRegistry) GetConnection(ctx context.Context, id string) (Connection, error) {
	data, err := r.client.Get(ctx, r.connKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Connection{}, ErrConnectionClosed
	}
	if err != nil {
		return Connection{}, fmt.Errorf("get connection: %w", err)
	}

	var c Connection
	if err := json.Unmarshal(data, &c); err != nil {
		return Connection{}, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// DeleteConnection implements Registry.
func (r *RedisRegistry) DeleteConnection(ctx context.Context, id string) ([]Subscription, error) {
	res, err := deleteConnectionScript.Run(ctx, r.client,
		[]string{r.connSubsKey(id), r.connKey(id)},
		id, r.automataKey("")).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("delete connection: %w", err)
	}

	subs := make([]Subscription, 0, len(res)/2)
	for i := 1; i < len(res); i += 2 {
		var s Subscription
		if err := json.Unmarshal([]byte(res[i]), &s); err != nil {
			return nil, fmt.Errorf("delete connection: decode subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// PutSubscription implements Registry.
func (r *RedisRegistry) PutSubscription(ctx context.Context, s Subscription) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}

	written, err := putSubscriptionScript.Run(ctx, r.client,
		[]string{r.connKey(s.ConnectionID), r.connSubsKey(s.ConnectionID), r.automataKey(s.AutomataID)},
		s.AutomataID, s.ConnectionID, data, r.connTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	if written == 0 {
		return ErrConnectionClosed
	}
	return nil
}

// DeleteSubscription implements Registry.
func (r *RedisRegistry) DeleteSubscription(ctx context.Context, connectionID, automataID string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, r.connSubsKey(connectionID), automataID)
		pipe.HDel(ctx, r.automataKey(automataID), connectionID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	return removed.Val() > 0, nil
}

// SubscriptionsByAutomata implements Registry.
func (r *RedisRegistry) SubscriptionsByAutomata(ctx context.Context, automataID string) ([]Subscription, error) {
	return r.hashSubscriptions(ctx, r.automataKey(automataID))
}

// SubscriptionsByConnection implements Registry.
func (r *RedisRegistry) SubscriptionsByConnection(ctx context.Context, connectionID string) ([]Subscription, error) {
	return r.hashSubscriptions(ctx, r.connSubsKey(connectionID))
}

func (r *RedisRegistry) hashSubscriptions(ctx context.Context, key string) ([]Subscription, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	subs := make([]Subscription, 0, len(fields))
	for _, raw := range fields {
		var s Subscription
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode subscription in %s: %w", key, err)
		}
		subs = append(subs, s)
	}
	return subs, nil
}
