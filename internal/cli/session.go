package cli

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/automata/internal/engine"
	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/realtime"
	"github.com/roach88/automata/internal/version"
)

// SessionRequest is one line of session input.
type SessionRequest struct {
	Op         string          `json:"op"`
	AutomataID string          `json:"automata_id,omitempty"`
	EventType  string          `json:"event_type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Version    version.Version `json:"version,omitempty"`
}

// SessionReply answers one request.
type SessionReply struct {
	Op     string    `json:"op"`
	OK     bool      `json:"ok"`
	Result any       `json:"result,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// Session ops.
const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opSubmit      = "submit"
	opClose       = "close"
)

// NewSessionCommand creates the session command.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Observe and drive automata over a line protocol on stdin/stdout",
		Long: `Open a realtime connection for the acting account and serve it over
stdin/stdout. Each input line is a JSON request:

  {"op":"subscribe","automata_id":"..."}
  {"op":"unsubscribe","automata_id":"..."}
  {"op":"submit","automata_id":"...","event_type":"...","version":"000001","data":{}}
  {"op":"close"}

Each request gets a reply line {"op":...,"ok":...}. Frames are written
as they are pushed: with the json codec each frame is a line of its own;
with cbor it is wrapped as {"frame":"<base64>"}. Updates caused by a
submit are written before its reply. The session ends on close or at end
of input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				return runSession(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

// lineGateway writes frames for one connection to a shared writer.
type lineGateway struct {
	mu     sync.Mutex
	w      io.Writer
	binary bool
	closed bool
}

func (g *lineGateway) Push(_ context.Context, _ string, frame []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return realtime.ErrGone
	}
	if g.binary {
		line, err := json.Marshal(map[string]string{"frame": base64.StdEncoding.EncodeToString(frame)})
		if err != nil {
			return err
		}
		frame = line
	}
	if _, err := fmt.Fprintf(g.w, "%s\n", frame); err != nil {
		return fmt.Errorf("%w: %v", realtime.ErrGone, err)
	}
	return nil
}

func (g *lineGateway) reply(r SessionReply) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return json.NewEncoder(g.w).Encode(r)
}

func (g *lineGateway) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

// session is one served connection.
type session struct {
	app     *app
	hub     *realtime.Hub
	gateway *lineGateway
	connID  string
}

func runSession(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	gw := &lineGateway{w: out}
	hub, err := a.newHub(gw)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start realtime hub", err)
	}
	gw.binary = hub.Codec().Name() != "json"

	token, err := hub.IssueToken(ctx, a.identity.AccountID)
	if err != nil {
		return WrapExitError(ExitInternal, "failed to issue token", err)
	}
	conn, err := hub.Connect(ctx, token.Token)
	if err != nil {
		return WrapExitError(ExitInternal, "failed to connect", err)
	}
	a.logger.Debug("session opened", "connection_id", conn.ID, "account_id", conn.AccountID)

	s := &session{app: a, hub: hub, gateway: gw, connID: conn.ID}
	defer s.close(ctx)

	dec := json.NewDecoder(in)
	for {
		var req SessionRequest
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return WrapExitError(ExitCommandError, "malformed session request", err)
		}

		reply := s.handle(ctx, req)
		if err := gw.reply(reply); err != nil {
			return err
		}
		if req.Op == opClose {
			return nil
		}
	}
}

func (s *session) handle(ctx context.Context, req SessionRequest) SessionReply {
	var (
		result any
		err    error
	)
	switch req.Op {
	case opSubscribe:
		err = s.subscribe(ctx, req.AutomataID)
	case opUnsubscribe:
		err = s.hub.Unsubscribe(ctx, s.connID, req.AutomataID)
	case opSubmit:
		result, err = s.submit(ctx, req)
	case opClose:
		result, err = s.close(ctx)
	default:
		return SessionReply{Op: req.Op, Error: &CLIError{
			Code:    "UNKNOWN_OP",
			Message: fmt.Sprintf("unknown op %q", req.Op),
		}}
	}
	if err != nil {
		return SessionReply{Op: req.Op, Error: &CLIError{Code: sessionErrorCode(err), Message: err.Error()}}
	}
	return SessionReply{Op: req.Op, OK: true, Result: result}
}

// subscribe registers the connection and pushes the ack frame.
func (s *session) subscribe(ctx context.Context, automataID string) error {
	ack, err := s.hub.Subscribe(ctx, s.connID, automataID)
	if err != nil {
		return err
	}
	frame, err := s.hub.Codec().Encode(ack)
	if err != nil {
		return err
	}
	return s.gateway.Push(ctx, s.connID, frame)
}

func (s *session) submit(ctx context.Context, req SessionRequest) (engine.AppendResult, error) {
	var data ir.State
	if len(req.Data) > 0 {
		d, err := ir.DecodeState(req.Data)
		if err != nil {
			return engine.AppendResult{}, fmt.Errorf("data must be a JSON object: %w", err)
		}
		data = d
	}

	result, err := s.app.engine.Append(ctx, engine.AppendRequest{
		AutomataID:      req.AutomataID,
		ExpectedVersion: req.Version,
		EventType:       req.EventType,
		EventData:       data,
		SenderID:        s.app.identity.AccountID,
	})
	if err != nil {
		return engine.AppendResult{}, err
	}
	s.app.engine.Drain()
	return result, nil
}

// close tears down the connection once; later calls report it closed.
func (s *session) close(ctx context.Context) (realtime.Connection, error) {
	if s.connID == "" {
		return realtime.Connection{}, realtime.ErrConnectionClosed
	}
	conn, err := s.hub.Close(ctx, s.connID)
	s.gateway.close()
	s.connID = ""
	if err == nil {
		s.app.logger.Debug("session closed", "connection_id", conn.ID)
	}
	return conn, err
}

func sessionErrorCode(err error) string {
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	if code := realtime.ErrorCode(err); code != "" {
		return code
	}
	return "INVALID_REQUEST"
}
