package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/automata/internal/ir"
)

const (
	// DefaultTokenTTL is how long an issued token stays usable.
	DefaultTokenTTL = 30 * time.Second

	// DefaultPushTimeout bounds a single push to one subscriber.
	DefaultPushTimeout = 2 * time.Second

	// DefaultFanout caps concurrent pushes per broadcast.
	DefaultFanout = 32

	// DefaultTokenRate and DefaultTokenBurst limit token issuance per
	// account.
	DefaultTokenRate  = rate.Limit(5)
	DefaultTokenBurst = 10

	// limiterCacheSize bounds the number of per-account limiters kept.
	limiterCacheSize = 10_000
)

// Gateway delivers encoded frames to connections. It is the transport
// and is supplied by the caller.
type Gateway interface {
	// Push sends frame to connectionID. It must return ErrGone (possibly
	// wrapped) when the peer has disconnected, and should honor ctx.
	Push(ctx context.Context, connectionID string, frame []byte) error
}

// StateReader reads the current automata record. engine.Engine satisfies
// it.
type StateReader interface {
	Get(ctx context.Context, id string) (ir.Automata, error)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator names new connections.
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

// Hub tracks connections and subscriptions and broadcasts transitions.
//
// Thread-safety: every method is safe for concurrent use. The hub holds
// no per-automata lock; subscription mutations touch disjoint registry
// keys.
type Hub struct {
	registry Registry
	gateway  Gateway
	reader   StateReader
	codec    Codec
	clock    Clock
	ids      IDGenerator
	logger   *slog.Logger

	tokenTTL    time.Duration
	pushTimeout time.Duration
	fanout      int
	tokenRate   rate.Limit
	tokenBurst  int
	limiters    *lru.Cache[string, *rate.Limiter]
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithClock sets the time source used for token expiry and timestamps.
func WithClock(c Clock) HubOption {
	return func(h *Hub) {
		h.clock = c
	}
}

// WithIDGenerator sets how connection IDs are generated. Default: random
// UUIDs.
func WithIDGenerator(g IDGenerator) HubOption {
	return func(h *Hub) {
		h.ids = g
	}
}

// WithCodec sets the frame encoding. Default: JSONCodec.
func WithCodec(c Codec) HubOption {
	return func(h *Hub) {
		h.codec = c
	}
}

// WithTokenTTL sets token lifetime. Default: 30s.
func WithTokenTTL(d time.Duration) HubOption {
	return func(h *Hub) {
		h.tokenTTL = d
	}
}

// WithPushTimeout bounds each push. A push that times out is treated as a
// gone peer. Default: 5s.
func WithPushTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.pushTimeout = d
	}
}

// WithFanout caps concurrent pushes per broadcast. Default: 32.
func WithFanout(n int) HubOption {
	return func(h *Hub) {
		h.fanout = n
	}
}

// WithTokenRate sets the per-account token issuance limit.
// Default: 1 per second with a burst of 5.
func WithTokenRate(r rate.Limit, burst int) HubOption {
	return func(h *Hub) {
		h.tokenRate = r
		h.tokenBurst = burst
	}
}

// NewHub creates a hub. reader is consulted for subscribe
// acknowledgments; gateway receives broadcasts.
func NewHub(registry Registry, gateway Gateway, reader StateReader, opts ...HubOption) *Hub {
	h := &Hub{
		registry:    registry,
		gateway:     gateway,
		reader:      reader,
		codec:       JSONCodec{},
		clock:       systemClock{},
		ids:         uuidGenerator{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		tokenTTL:    DefaultTokenTTL,
		pushTimeout: DefaultPushTimeout,
		fanout:      DefaultFanout,
		tokenRate:   DefaultTokenRate,
		tokenBurst:  DefaultTokenBurst,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.fanout <= 0 {
		h.fanout = DefaultFanout
	}
	// lru.New only fails for a non-positive size.
	h.limiters, _ = lru.New[string, *rate.Limiter](limiterCacheSize)
	return h
}

// Codec returns the frame codec in use.
func (h *Hub) Codec() Codec {
	return h.codec
}

// IssueToken creates a single-use token for accountID, valid for the
// token TTL.
func (h *Hub) IssueToken(ctx context.Context, accountID string) (Token, error) {
	now := h.clock.Now()
	if !h.limiter(accountID).AllowN(now, 1) {
		return Token{}, ErrRateLimited
	}

	t := Token{
		Token:     uuid.NewString(),
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(h.tokenTTL),
	}
	if err := h.registry.PutToken(ctx, t); err != nil {
		return Token{}, fmt.Errorf("issue token: %w", err)
	}
	h.logger.Debug("token issued", "account_id", accountID, "expires_at", t.ExpiresAt)
	return t, nil
}

func (h *Hub) limiter(accountID string) *rate.Limiter {
	if l, ok := h.limiters.Get(accountID); ok {
		return l
	}
	l := rate.NewLimiter(h.tokenRate, h.tokenBurst)
	if prev, ok, _ := h.limiters.PeekOrAdd(accountID, l); ok {
		return prev
	}
	return l
}

// ConsumeToken redeems a token, returning the account it was issued to.
// A token works once; reuse and expiry fail with ErrTokenInvalid.
func (h *Hub) ConsumeToken(ctx context.Context, token string) (string, error) {
	t, err := h.registry.ConsumeToken(ctx, token, h.clock.Now())
	if err != nil {
		return "", err
	}
	return t.AccountID, nil
}

// Connect redeems token and opens a connection for its account.
func (h *Hub) Connect(ctx context.Context, token string) (Connection, error) {
	accountID, err := h.ConsumeToken(ctx, token)
	if err != nil {
		return Connection{}, err
	}

	c := Connection{
		ID:          h.ids.Generate(),
		AccountID:   accountID,
		State:       StateOpen,
		ConnectedAt: h.clock.Now(),
	}
	if err := h.registry.PutConnection(ctx, c); err != nil {
		return Connection{}, fmt.Errorf("open connection: %w", err)
	}
	h.logger.Debug("connection opened", "connection_id", c.ID, "account_id", accountID)
	return c, nil
}

// Subscribe registers connectionID for updates to automataID and returns
// an ack frame carrying the automata's current state and version.
//
// The subscription is written before the state is read, so no commit
// between the two is missed; the subscriber may see that update after the
// ack and drops it by version.
func (h *Hub) Subscribe(ctx context.Context, connectionID, automataID string) (Frame, error) {
	c, err := h.registry.GetConnection(ctx, connectionID)
	if err != nil {
		return Frame{}, err
	}

	sub := Subscription{
		ConnectionID: c.ID,
		AutomataID:   automataID,
		AccountID:    c.AccountID,
		SubscribedAt: h.clock.Now(),
	}
	if err := h.registry.PutSubscription(ctx, sub); err != nil {
		return Frame{}, fmt.Errorf("subscribe: %w", err)
	}

	a, err := h.reader.Get(ctx, automataID)
	if err == nil && a.OwnerID != c.AccountID {
		err = ErrForbidden
	}
	if err != nil {
		if _, derr := h.registry.DeleteSubscription(ctx, c.ID, automataID); derr != nil {
			h.logger.Warn("subscribe rollback failed",
				"connection_id", c.ID, "automata_id", automataID, "error", derr)
		}
		return Frame{}, err
	}

	h.logger.Debug("subscribed", "connection_id", c.ID, "automata_id", automataID, "version", a.Version)
	return Frame{
		Type:       FrameAck,
		AutomataID: a.ID,
		Version:    a.Version,
		State:      a.State,
	}, nil
}

// Unsubscribe removes one subscription. Removing an absent subscription
// is not an error.
func (h *Hub) Unsubscribe(ctx context.Context, connectionID, automataID string) error {
	removed, err := h.registry.DeleteSubscription(ctx, connectionID, automataID)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if removed {
		h.logger.Debug("unsubscribed", "connection_id", connectionID, "automata_id", automataID)
	}
	return nil
}

// Close tears down a connection and all of its subscriptions. The
// returned connection is in StateClosed.
func (h *Hub) Close(ctx context.Context, connectionID string) (Connection, error) {
	c, err := h.registry.GetConnection(ctx, connectionID)
	if err != nil && !errors.Is(err, ErrConnectionClosed) {
		return Connection{}, err
	}

	subs, err := h.registry.DeleteConnection(ctx, connectionID)
	if err != nil {
		return Connection{}, fmt.Errorf("close connection: %w", err)
	}

	c.ID = connectionID
	c.State = StateClosed
	h.logger.Debug("connection closed", "connection_id", connectionID, "subscriptions", len(subs))
	return c, nil
}

// Broadcast pushes a committed transition to every subscriber of its
// automata. It implements engine.Notifier: it never returns an error and
// bounds every push by the push timeout. Subscriptions whose push fails
// with ErrGone or times out are pruned from both indexes.
func (h *Hub) Broadcast(ctx context.Context, t ir.Transition) {
	subs, err := h.registry.SubscriptionsByAutomata(ctx, t.AutomataID)
	if err != nil {
		h.logger.Warn("broadcast lookup failed", "automata_id", t.AutomataID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	frame, err := h.codec.Encode(updateFrame(t))
	if err != nil {
		h.logger.Error("broadcast encode failed", "automata_id", t.AutomataID, "error", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(h.fanout)
	for _, s := range subs {
		g.Go(func() error {
			h.push(ctx, s, frame)
			return nil
		})
	}
	_ = g.Wait()

	h.logger.Debug("broadcast", "automata_id", t.AutomataID, "version", t.Version, "subscribers", len(subs))
}

func (h *Hub) push(ctx context.Context, s Subscription, frame []byte) {
	pctx, cancel := context.WithTimeout(ctx, h.pushTimeout)
	defer cancel()

	err := h.gateway.Push(pctx, s.ConnectionID, frame)
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrGone), errors.Is(err, context.DeadlineExceeded):
		if _, derr := h.registry.DeleteSubscription(ctx, s.ConnectionID, s.AutomataID); derr != nil {
			h.logger.Warn("prune subscription failed",
				"connection_id", s.ConnectionID, "automata_id", s.AutomataID, "error", derr)
			return
		}
		h.logger.Debug("subscription pruned",
			"connection_id", s.ConnectionID, "automata_id", s.AutomataID, "reason", err)
	default:
		h.logger.Warn("push failed",
			"connection_id", s.ConnectionID, "automata_id", s.AutomataID, "error", err)
	}
}
