package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/store"
	"github.com/roach88/automata/internal/transition"
)

const (
	// DefaultSnapshotInterval is the snapshot spacing in versions.
	DefaultSnapshotInterval = 62

	// DefaultBlueprintCacheSize bounds the compiled-blueprint cache.
	DefaultBlueprintCacheSize = 256
)

// Notifier observes committed transitions. Called after commit on a
// background goroutine; it cannot fail or delay the write.
type Notifier interface {
	Broadcast(ctx context.Context, t ir.Transition)
}

// Engine runs the automata protocol over a store.
//
// Thread-safety model:
//   - Every exported method is safe for concurrent use
//   - No in-process lock serializes an automata; the store's conditional
//     writes are the only serialization point, so several engines (or
//     processes) may share one database
//   - Post-commit work (snapshots, notification) runs on goroutines
//     tracked by the engine; Drain waits for them
type Engine struct {
	store     *store.Store
	evaluator transition.Evaluator
	clock     Clock
	ids       IDGenerator
	notifier  Notifier
	logger    *slog.Logger

	snapshotInterval uint64
	blueprints       *lru.Cache[string, *compiledBlueprint]
	blueprintCache   int

	background sync.WaitGroup
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock sets the timestamp source. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the automata ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithNotifier sets the observer of committed transitions.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithSnapshotInterval sets the snapshot spacing.
//
// Default: 62 versions (DefaultSnapshotInterval).
// Zero disables snapshotting.
func WithSnapshotInterval(n uint64) EngineOption {
	return func(e *Engine) {
		e.snapshotInterval = n
	}
}

// WithBlueprintCacheSize bounds the number of compiled blueprints held in
// memory. Blueprints are immutable, so entries never go stale.
func WithBlueprintCacheSize(n int) EngineOption {
	return func(e *Engine) {
		e.blueprintCache = n
	}
}

// New creates an Engine over s that evaluates transitions with eval.
func New(s *store.Store, eval transition.Evaluator, opts ...EngineOption) *Engine {
	e := &Engine{
		store:            s,
		evaluator:        eval,
		clock:            SystemClock{},
		ids:              UUIDv7Generator{},
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		snapshotInterval: DefaultSnapshotInterval,
		blueprintCache:   DefaultBlueprintCacheSize,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.blueprintCache <= 0 {
		e.blueprintCache = DefaultBlueprintCacheSize
	}
	// lru.New only fails for a non-positive size.
	e.blueprints, _ = lru.New[string, *compiledBlueprint](e.blueprintCache)

	return e
}

// SetNotifier installs the transition observer. The realtime hub reads
// state through the engine, so it is built after the engine and attached
// here. Must be called before the engine is shared between goroutines.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SnapshotInterval returns the configured snapshot spacing.
func (e *Engine) SnapshotInterval() uint64 {
	return e.snapshotInterval
}

// Drain blocks until all post-commit work started so far has finished.
func (e *Engine) Drain() {
	e.background.Wait()
}

// Close drains post-commit work. The store is owned by the caller and is
// left open.
func (e *Engine) Close() error {
	e.Drain()
	return nil
}

// afterCommit runs the snapshot policy and notifies observers. Neither can
// affect the commit: failures are logged and dropped. The request context
// may be cancelled once Append returns, so the work runs detached from it.
func (e *Engine) afterCommit(ctx context.Context, t ir.Transition) {
	ctx = context.WithoutCancel(ctx)

	e.background.Add(1)
	go func() {
		defer e.background.Done()

		e.maybeSnapshot(ctx, t)

		if e.notifier != nil {
			e.notifier.Broadcast(ctx, t)
		}
	}()
}
