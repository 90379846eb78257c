package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/automata/internal/compiler"
	"github.com/roach88/automata/internal/engine"
	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/realtime"
	"github.com/roach88/automata/internal/store"
	"github.com/roach88/automata/internal/testutil"
	"github.com/roach88/automata/internal/transition"
	"github.com/roach88/automata/internal/version"
)

const (
	tenantID       = "tenant-1"
	defaultAccount = "account-1"
	senderID       = "harness"
)

// epoch is the fixed time every scenario starts at.
var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution environment: one engine, one hub
// and the name bindings of a single run.
type Harness struct {
	engine  *engine.Engine
	hub     *realtime.Hub
	gateway *recordingGateway
	logger  *slog.Logger

	blueprints  map[string]string // label -> blueprint ID
	automata    map[string]string // name -> automata ID
	names       map[string]string // automata ID -> name
	connections map[string]string // account -> connection ID
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Load blueprint files and store every blueprint
// 2. Create the declared automata
// 3. Execute flow steps, checking each expect clause
// 4. Evaluate assertions
//
// A returned error means the scenario could not run. Failed expectations
// are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st)
	if err != nil {
		return nil, err
	}
	defer h.engine.Close()

	ctx := context.Background()
	result := NewResult()

	if err := h.loadBlueprints(ctx, scenario.Blueprints); err != nil {
		return nil, fmt.Errorf("failed to load blueprints: %w", err)
	}
	if err := h.createAutomata(ctx, scenario.Automata, result); err != nil {
		return nil, fmt.Errorf("failed to create automata: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	h.engine.Drain()
	if err := h.countUpdates(result); err != nil {
		return nil, err
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st *store.Store) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewFakeClock(epoch)

	eval, err := transition.NewCELEvaluator(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}
	eng := engine.New(st, eval,
		engine.WithClock(clock),
		engine.WithIDGenerator(testutil.NewSequentialIDs("automata")),
		engine.WithLogger(logger),
	)

	registry, err := realtime.NewMemoryRegistry()
	if err != nil {
		return nil, err
	}
	gateway := &recordingGateway{}
	hub := realtime.NewHub(registry, gateway, eng,
		realtime.WithClock(clock),
		realtime.WithIDGenerator(testutil.NewSequentialIDs("conn")),
		realtime.WithLogger(logger),
	)
	eng.SetNotifier(hub)

	return &Harness{
		engine:      eng,
		hub:         hub,
		gateway:     gateway,
		logger:      logger,
		blueprints:  make(map[string]string),
		automata:    make(map[string]string),
		names:       make(map[string]string),
		connections: make(map[string]string),
	}, nil
}

// loadBlueprints compiles every file and stores its blueprints. Content
// outside the builtin namespace is stored as signed by the harness.
func (h *Harness) loadBlueprints(ctx context.Context, paths []string) error {
	var errs []error
	for _, path := range paths {
		sources, loadErrs := compiler.LoadFile(path)
		errs = append(errs, loadErrs...)

		for _, src := range sources {
			var signature *string
			if !src.Content.IsBuiltin() {
				sig := "harness"
				signature = &sig
			}
			bp, _, err := h.engine.CreateBlueprint(ctx, src.Content, signature, senderID)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %s: %w", path, src.Label, err))
				continue
			}
			h.blueprints[src.Label] = bp.ID
		}
	}
	return errors.Join(errs...)
}

func (h *Harness) createAutomata(ctx context.Context, specs []AutomataSpec, result *Result) error {
	for _, spec := range specs {
		bpID, ok := h.blueprints[spec.Blueprint]
		if !ok {
			return fmt.Errorf("automata %q: unknown blueprint %q", spec.Name, spec.Blueprint)
		}

		a, err := h.engine.Create(ctx, owner(spec), bpID, spec.InitialState)
		if err != nil {
			return fmt.Errorf("automata %q: %w", spec.Name, err)
		}
		h.automata[spec.Name] = a.ID
		h.names[a.ID] = spec.Name

		result.addStep(TraceStep{
			Kind:     StepCreate,
			Automata: spec.Name,
			Version:  a.Version,
			Status:   a.Status,
			State:    a.State,
		})
	}
	return nil
}

func owner(spec AutomataSpec) ir.Identity {
	account := spec.Owner
	if account == "" {
		account = defaultAccount
	}
	return ir.Identity{TenantID: tenantID, AccountID: account}
}

// executeFlow runs each step. Post-commit work is drained after every step
// so that subscriptions observe exactly the commits that follow them.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		kind, name := step.kind()
		id := h.automata[name]

		var (
			trace TraceStep
			err   error
		)
		switch kind {
		case StepSubmit:
			trace, err = h.submit(ctx, id, step)
		case StepArchive:
			trace, err = h.setStatus(ctx, id, ir.StatusArchived)
		case StepUnarchive:
			trace, err = h.setStatus(ctx, id, ir.StatusActive)
		case StepSubscribe:
			trace, err = h.subscribe(ctx, id)
		case StepUnsubscribe:
			trace, err = h.unsubscribe(ctx, id)
		}
		h.engine.Drain()

		trace.Kind = kind
		trace.Automata = name
		if err != nil {
			code := errorCode(err)
			if code == "" {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			trace.Error = code
		}
		result.addStep(trace)

		for _, msg := range checkExpect(trace, step.Expect) {
			result.AddError(fmt.Sprintf("flow[%d] %s %s: %s", i, kind, name, msg))
		}
	}
	return nil
}

func (h *Harness) submit(ctx context.Context, id string, step FlowStep) (TraceStep, error) {
	expected := version.Version(step.Version)
	if expected == "" {
		a, err := h.engine.Get(ctx, id)
		if err != nil {
			return TraceStep{EventType: step.Event}, err
		}
		expected = a.Version
	}

	res, err := h.engine.Append(ctx, engine.AppendRequest{
		AutomataID:      id,
		ExpectedVersion: expected,
		EventType:       step.Event,
		EventData:       step.Data,
		SenderID:        senderID,
	})
	if err != nil {
		return TraceStep{EventType: step.Event}, err
	}
	return TraceStep{
		EventType:   step.Event,
		BaseVersion: res.BaseVersion,
		Version:     res.Version,
		Committed:   &res.Committed,
		State:       res.State,
	}, nil
}

func (h *Harness) setStatus(ctx context.Context, id string, status ir.Status) (TraceStep, error) {
	a, err := h.engine.SetStatus(ctx, id, status)
	if err != nil {
		return TraceStep{}, err
	}
	return TraceStep{Version: a.Version, Status: a.Status}, nil
}

// subscribe subscribes the owner's connection, opening it on first use.
func (h *Harness) subscribe(ctx context.Context, id string) (TraceStep, error) {
	a, err := h.engine.Get(ctx, id)
	if err != nil {
		return TraceStep{}, err
	}
	connID, err := h.connection(ctx, a.OwnerID)
	if err != nil {
		return TraceStep{}, err
	}
	ack, err := h.hub.Subscribe(ctx, connID, id)
	if err != nil {
		return TraceStep{}, err
	}
	return TraceStep{Version: ack.Version, State: ack.State}, nil
}

func (h *Harness) unsubscribe(ctx context.Context, id string) (TraceStep, error) {
	a, err := h.engine.Get(ctx, id)
	if err != nil {
		return TraceStep{}, err
	}
	connID, ok := h.connections[a.OwnerID]
	if !ok {
		return TraceStep{}, nil
	}
	return TraceStep{}, h.hub.Unsubscribe(ctx, connID, id)
}

func (h *Harness) connection(ctx context.Context, accountID string) (string, error) {
	if id, ok := h.connections[accountID]; ok {
		return id, nil
	}
	tok, err := h.hub.IssueToken(ctx, accountID)
	if err != nil {
		return "", err
	}
	c, err := h.hub.Connect(ctx, tok.Token)
	if err != nil {
		return "", err
	}
	h.connections[accountID] = c.ID
	return c.ID, nil
}

// countUpdates decodes every pushed frame and counts updates per automata.
func (h *Harness) countUpdates(result *Result) error {
	for _, data := range h.gateway.all() {
		f, err := h.hub.Codec().Decode(data)
		if err != nil {
			return fmt.Errorf("decode pushed frame: %w", err)
		}
		if f.Type == realtime.FrameUpdate {
			result.Updates[h.names[f.AutomataID]]++
		}
	}
	return nil
}

// errorCode names err for the trace: the engine code, a realtime
// condition, or "" for errors that abort the run.
func errorCode(err error) string {
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	return realtime.ErrorCode(err)
}

// recordingGateway stores every pushed frame.
type recordingGateway struct {
	mu     sync.Mutex
	frames [][]byte
}

func (g *recordingGateway) Push(_ context.Context, _ string, frame []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frames = append(g.frames, frame)
	return nil
}

func (g *recordingGateway) all() [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]byte(nil), g.frames...)
}
