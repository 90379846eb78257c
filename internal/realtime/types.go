package realtime

import (
	"errors"
	"time"
)

// ConnState is the lifecycle position of a connection. A client holding
// an unredeemed token is Connecting; Hub.Connect opens it and Hub.Close
// closes it for good.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

// Token is a one-time credential authorizing a single connection.
type Token struct {
	Token     string    `json:"token"`
	AccountID string    `json:"account_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is unusable at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Connection is a live client connection.
type Connection struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	State       ConnState `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Subscription is a connection's interest in one automata.
type Subscription struct {
	ConnectionID string    `json:"connection_id"`
	AutomataID   string    `json:"automata_id"`
	AccountID    string    `json:"account_id"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

var (
	// ErrTokenInvalid is returned for an unknown, consumed, or expired token.
	ErrTokenInvalid = errors.New("realtime: token invalid or expired")

	// ErrRateLimited is returned when an account requests tokens too fast.
	ErrRateLimited = errors.New("realtime: token rate limit exceeded")

	// ErrConnectionClosed is returned for operations on a connection that
	// is not open.
	ErrConnectionClosed = errors.New("realtime: connection closed")

	// ErrForbidden is returned when a connection's account does not own the
	// automata it tries to observe.
	ErrForbidden = errors.New("realtime: not authorized for automata")

	// ErrGone is returned by a Gateway when the peer has disconnected.
	// Broadcast prunes the subscription in response.
	ErrGone = errors.New("realtime: peer gone")
)

// ErrorCode names a realtime error for clients: FORBIDDEN,
// CONNECTION_CLOSED, TOKEN_INVALID, RATE_LIMITED or GONE. It returns ""
// for anything else.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrConnectionClosed):
		return "CONNECTION_CLOSED"
	case errors.Is(err, ErrTokenInvalid):
		return "TOKEN_INVALID"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrGone):
		return "GONE"
	}
	return ""
}
