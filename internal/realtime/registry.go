package realtime

import (
	"context"
	"time"
)

// Registry holds tokens, connections, and the two subscription indexes.
//
// Implementations must keep the indexes consistent: a subscription is
// visible through both SubscriptionsByConnection and
// SubscriptionsByAutomata, or through neither.
type Registry interface {
	// PutToken stores a token until its expiry.
	PutToken(ctx context.Context, t Token) error

	// ConsumeToken removes and returns a token. Unknown and expired
	// tokens fail with ErrTokenInvalid; either way the token is gone.
	ConsumeToken(ctx context.Context, token string, now time.Time) (Token, error)

	// PutConnection stores or replaces a connection.
	PutConnection(ctx context.Context, c Connection) error

	// GetConnection returns an open connection, or ErrConnectionClosed.
	GetConnection(ctx context.Context, id string) (Connection, error)

	// DeleteConnection removes a connection and every subscription it
	// holds, returning the subscriptions removed. It is atomic with
	// respect to PutSubscription.
	DeleteConnection(ctx context.Context, id string) ([]Subscription, error)

	// PutSubscription writes s into both indexes. It fails with
	// ErrConnectionClosed, writing nothing, unless the connection is open
	// at the moment of the write.
	PutSubscription(ctx context.Context, s Subscription) error

	// DeleteSubscription removes one subscription from both indexes.
	// removed is false when it did not exist.
	DeleteSubscription(ctx context.Context, connectionID, automataID string) (removed bool, err error)

	// SubscriptionsByAutomata returns the subscribers of automataID.
	SubscriptionsByAutomata(ctx context.Context, automataID string) ([]Subscription, error)

	// SubscriptionsByConnection returns what connectionID subscribes to.
	SubscriptionsByConnection(ctx context.Context, connectionID string) ([]Subscription, error)
}
