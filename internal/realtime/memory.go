package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"
)

const (
	tokensTable        = "tokens"
	connectionsTable   = "connections"
	subscriptionsTable = "subscriptions"

	idIndex         = "id"
	connectionIndex = "connection"
	automataIndex   = "automata"

	// tokenSweepInterval spaces out full scans for expired tokens.
	tokenSweepInterval = time.Minute
)

// registrySchema defines the in-memory tables. Subscriptions carry the
// by-connection and by-automata indexes next to their (connection,
// automata) primary key, so both indexes change in the same transaction.
var registrySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tokensTable: {
			Name: tokensTable,
			Indexes: map[string]*memdb.IndexSchema{
				idIndex: {
					Name:    idIndex,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Token"},
				},
			},
		},
		connectionsTable: {
			Name: connectionsTable,
			Indexes: map[string]*memdb.IndexSchema{
				idIndex: {
					Name:    idIndex,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
		subscriptionsTable: {
			Name: subscriptionsTable,
			Indexes: map[string]*memdb.IndexSchema{
				idIndex: {
					Name:   idIndex,
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "ConnectionID"},
							&memdb.StringFieldIndex{Field: "AutomataID"},
						},
					},
				},
				connectionIndex: {
					Name:    connectionIndex,
					Indexer: &memdb.StringFieldIndex{Field: "ConnectionID"},
				},
				automataIndex: {
					Name:    automataIndex,
					Indexer: &memdb.StringFieldIndex{Field: "AutomataID"},
				},
			},
		},
	},
}

// MemoryRegistry is a Registry for a single process.
//
// Thread-safety: memdb serializes writers and gives readers snapshots, so
// every method is safe for concurrent use.
type MemoryRegistry struct {
	db *memdb.MemDB

	mu        sync.Mutex
	nextSweep time.Time
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() (*MemoryRegistry, error) {
	db, err := memdb.NewMemDB(registrySchema)
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &MemoryRegistry{db: db}, nil
}

// PutToken implements Registry.
func (r *MemoryRegistry) PutToken(_ context.Context, t Token) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tokensTable, t); err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	txn.Commit()
	return nil
}

// ConsumeToken implements Registry. Tokens nobody redeems are swept at
// most once per tokenSweepInterval.
func (r *MemoryRegistry) ConsumeToken(_ context.Context, token string, now time.Time) (Token, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tokensTable, idIndex, token)
	if err != nil {
		return Token{}, fmt.Errorf("consume token: %w", err)
	}
	if raw != nil {
		if err := txn.Delete(tokensTable, raw); err != nil {
			return Token{}, fmt.Errorf("consume token: %w", err)
		}
	}
	if r.sweepDue(now) {
		if err := sweepTokens(txn, now); err != nil {
			return Token{}, err
		}
	}
	txn.Commit()

	if raw == nil {
		return Token{}, ErrTokenInvalid
	}
	t := raw.(Token)
	if t.Expired(now) {
		return Token{}, ErrTokenInvalid
	}
	return t, nil
}

func (r *MemoryRegistry) sweepDue(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Before(r.nextSweep) {
		return false
	}
	r.nextSweep = now.Add(tokenSweepInterval)
	return true
}

func sweepTokens(txn *memdb.Txn, now time.Time) error {
	var expired []Token
	it, err := txn.Get(tokensTable, idIndex)
	if err != nil {
		return fmt.Errorf("sweep tokens: %w", err)
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if t := obj.(Token); t.Expired(now) {
			expired = append(expired, t)
		}
	}
	for _, t := range expired {
		if err := txn.Delete(tokensTable, t); err != nil {
			return fmt.Errorf("sweep tokens: %w", err)
		}
	}
	return nil
}

// PutConnection implements Registry.
func (r *MemoryRegistry) PutConnection(_ context.Context, c Connection) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(connectionsTable, c); err != nil {
		return fmt.Errorf("put connection: %w", err)
	}
	txn.Commit()
	return nil
}

// GetConnection implements Registry.
func (r *MemoryRegistry) GetConnection(_ context.Context, id string) (Connection, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(connectionsTable, idIndex, id)
	if err != nil {
		return Connection{}, fmt.Errorf("get connection: %w", err)
	}
	if raw == nil {
		return Connection{}, ErrConnectionClosed
	}
	return raw.(Connection), nil
}

// DeleteConnection implements Registry.
func (r *MemoryRegistry) DeleteConnection(_ context.Context, id string) ([]Subscription, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()

	subs, err := collect(txn, connectionIndex, id)
	if err != nil {
		return nil, fmt.Errorf("delete connection: %w", err)
	}
	if _, err := txn.DeleteAll(subscriptionsTable, connectionIndex, id); err != nil {
		return nil, fmt.Errorf("delete connection subscriptions: %w", err)
	}
	if _, err := txn.DeleteAll(connectionsTable, idIndex, id); err != nil {
		return nil, fmt.Errorf("delete connection: %w", err)
	}
	txn.Commit()
	return subs, nil
}

// PutSubscription implements Registry. The connection is checked in the
// same transaction, so a subscription never outlives a concurrent close.
func (r *MemoryRegistry) PutSubscription(_ context.Context, s Subscription) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	conn, err := txn.First(connectionsTable, idIndex, s.ConnectionID)
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	if conn == nil {
		return ErrConnectionClosed
	}
	if err := txn.Insert(subscriptionsTable, s); err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	txn.Commit()
	return nil
}

// DeleteSubscription implements Registry.
func (r *MemoryRegistry) DeleteSubscription(_ context.Context, connectionID, automataID string) (bool, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()

	n, err := txn.DeleteAll(subscriptionsTable, idIndex, connectionID, automataID)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	txn.Commit()
	return n > 0, nil
}

// SubscriptionsByAutomata implements Registry.
func (r *MemoryRegistry) SubscriptionsByAutomata(_ context.Context, automataID string) ([]Subscription, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	return collect(txn, automataIndex, automataID)
}

// SubscriptionsByConnection implements Registry.
func (r *MemoryRegistry) SubscriptionsByConnection(_ context.Context, connectionID string) ([]Subscription, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	return collect(txn, connectionIndex, connectionID)
}

func collect(txn *memdb.Txn, index, key string) ([]Subscription, error) {
	it, err := txn.Get(subscriptionsTable, index, key)
	if err != nil {
		return nil, fmt.Errorf("lookup subscriptions by %s: %w", index, err)
	}
	var subs []Subscription
	for obj := it.Next(); obj != nil; obj = it.Next() {
		subs = append(subs, obj.(Subscription))
	}
	return subs, nil
}
