package realtime

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automata/internal/testutil"
)

// testRegistry runs the behavior every Registry must share.
func testRegistry(t *testing.T, newRegistry func(t *testing.T) Registry) {
	epoch := testutil.DefaultEpoch

	t.Run("token is single use", func(t *testing.T) {
		r := newRegistry(t)
		ctx := t.Context()
		tok := Token{Token: "tok-1", AccountID: "acct", IssuedAt: epoch, ExpiresAt: epoch.Add(30 * time.Second)}
		require.NoError(t, r.PutToken(ctx, tok))

		got, err := r.ConsumeToken(ctx, "tok-1", epoch.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, "acct", got.AccountID)

		_, err = r.ConsumeToken(ctx, "tok-1", epoch.Add(time.Second))
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("expired token is rejected and removed", func(t *testing.T) {
		r := newRegistry(t)
		ctx := t.Context()
		tok := Token{Token: "tok-2", AccountID: "acct", IssuedAt: epoch, ExpiresAt: epoch.Add(30 * time.Second)}
		require.NoError(t, r.PutToken(ctx, tok))

		_, err := r.ConsumeToken(ctx, "tok-2", tok.ExpiresAt)
		assert.ErrorIs(t, err, ErrTokenInvalid)
		_, err = r.ConsumeToken(ctx, "tok-2", epoch)
		assert.ErrorIs(t, err, ErrTokenInvalid, "expired token is gone even for an earlier clock")
	})

	t.Run("unknown token", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.ConsumeToken(t.Context(), "never-issued", epoch)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("connections", func(t *testing.T) {
		r := newRegistry(t)
		ctx := t.Context()
		c := Connection{ID: "conn-1", AccountID: "acct", State: StateOpen, ConnectedAt: epoch}
		require.NoError(t, r.PutConnection(ctx, c))

		got, err := r.GetConnection(ctx, "conn-1")
		require.NoError(t, err)
		assert.Equal(t, "acct", got.AccountID)
		assert.Equal(t, StateOpen, got.State)
		assert.True(t, got.ConnectedAt.Equal(epoch))

		_, err = r.GetConnection(ctx, "conn-2")
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})

	t.Run("subscriptions are visible through both indexes", func(t *testing.T) {
		r := newRegistry(t)
		ctx := t.Context()
		for _, id := range []string{"conn-1", "conn-2"} {
			require.NoError(t, r.PutConnection(ctx, Connection{ID: id, AccountID: "acct", State: StateOpen, ConnectedAt: epoch}))
		}
		for _, s := range []Subscription{
			{ConnectionID: "conn-1", AutomataID: "a-1", AccountID: "acct", SubscribedAt: epoch},
			{ConnectionID: "conn-1", AutomataID: "a-2", AccountID: "acct", SubscribedAt: epoch},
			{ConnectionID: "conn-2", AutomataID: "a-1", AccountID: "acct", SubscribedAt: epoch},
		} {
			require.NoError(t, r.PutSubscription(ctx, s))
		}
		// Re-subscribing replaces rather than duplicates.
		require.NoError(t, r.PutSubscription(ctx, Subscription{ConnectionID: "conn-1", AutomataID: "a-1", AccountID: "acct", SubscribedAt: epoch}))

		byAutomata, err := r.SubscriptionsByAutomata(ctx, "a-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"conn-1", "conn-2"}, connectionIDs(byAutomata))

		byConn, err := r.SubscriptionsByConnection(ctx, "conn-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a-1", "a-2"}, automataIDs(byConn))

		removed, err := r.DeleteSubscription(ctx, "conn-1", "a-1")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = r.DeleteSubscription(ctx, "conn-1", "a-1")
		require.NoError(t, err)
		assert.False(t, removed)

		byAutomata, err = r.SubscriptionsByAutomata(ctx, "a-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"conn-2"}, connectionIDs(byAutomata))
		byConn, err = r.SubscriptionsByConnection(ctx, "conn-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a-2"}, automataIDs(byConn))
	})

	t.Run("deleting a connection clears both indexes", func(t *testing.T) {
		r := newRegistry(t)
		ctx := t.Context()
		for _, id := range []string{"conn-1", "conn-2"} {
			require.NoError(t, r.PutConnection(ctx, Connection{ID: id, AccountID: "acct", State: StateOpen, ConnectedAt: epoch}))
		}
		for _, a := range []string{"a-1", "a-2", "a-3"} {
			require.NoError(t, r.PutSubscription(ctx, Subscription{ConnectionID: "conn-1", AutomataID: a, AccountID: "acct", SubscribedAt: epoch}))
		}
		require.NoError(t, r.PutSubscription(ctx, Subscription{ConnectionID: "conn-2", AutomataID: "a-1", AccountID: "acct", SubscribedAt: epoch}))

		removed, err := r.DeleteConnection(ctx, "conn-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a-1", "a-2", "a-3"}, automataIDs(removed))

		_, err = r.GetConnection(ctx, "conn-1")
		assert.ErrorIs(t, err, ErrConnectionClosed)
		byConn, err := r.SubscriptionsByConnection(ctx, "conn-1")
		require.NoError(t, err)
		assert.Empty(t, byConn)
		for _, a := range []string{"a-2", "a-3"} {
			subs, err := r.SubscriptionsByAutomata(ctx, a)
			require.NoError(t, err)
			assert.Empty(t, subs, a)
		}
		subs, err := r.SubscriptionsByAutomata(ctx, "a-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"conn-2"}, connectionIDs(subs), "other connections untouched")

		removed, err = r.DeleteConnection(ctx, "conn-1")
		require.NoError(t, err)
		assert.Empty(t, removed)
	})

	t.Run("subscribing a closed connection writes nothing", func(t *testing.T) {
		r := newRegistry(t)
		ctx := t.Context()
		sub := Subscription{ConnectionID: "conn-1", AutomataID: "a-1", AccountID: "acct", SubscribedAt: epoch}

		assert.ErrorIs(t, r.PutSubscription(ctx, sub), ErrConnectionClosed, "never opened")

		require.NoError(t, r.PutConnection(ctx, Connection{ID: "conn-1", AccountID: "acct", State: StateOpen, ConnectedAt: epoch}))
		_, err := r.DeleteConnection(ctx, "conn-1")
		require.NoError(t, err)
		assert.ErrorIs(t, r.PutSubscription(ctx, sub), ErrConnectionClosed, "already closed")

		byAutomata, err := r.SubscriptionsByAutomata(ctx, "a-1")
		require.NoError(t, err)
		assert.Empty(t, byAutomata)
		byConn, err := r.SubscriptionsByConnection(ctx, "conn-1")
		require.NoError(t, err)
		assert.Empty(t, byConn)
	})

	t.Run("concurrent subscribe and close leave no orphans", func(t *testing.T) {
		r := newRegistry(t)
		ctx := t.Context()
		require.NoError(t, r.PutConnection(ctx, Connection{ID: "conn-1", AccountID: "acct", State: StateOpen, ConnectedAt: epoch}))

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := r.PutSubscription(ctx, Subscription{ConnectionID: "conn-1", AutomataID: fmt.Sprintf("a-%d", i), AccountID: "acct", SubscribedAt: epoch})
				if err != nil {
					assert.ErrorIs(t, err, ErrConnectionClosed)
				}
			}()
		}
		_, err := r.DeleteConnection(ctx, "conn-1")
		require.NoError(t, err)
		wg.Wait()

		for i := 0; i < n; i++ {
			subs, err := r.SubscriptionsByAutomata(ctx, fmt.Sprintf("a-%d", i))
			require.NoError(t, err)
			assert.Empty(t, subs)
		}
		byConn, err := r.SubscriptionsByConnection(ctx, "conn-1")
		require.NoError(t, err)
		assert.Empty(t, byConn)
	})
}

func connectionIDs(subs []Subscription) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ConnectionID)
	}
	slices.Sort(out)
	return out
}

func automataIDs(subs []Subscription) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.AutomataID)
	}
	slices.SortFunc(out, strings.Compare)
	return out
}

func TestMemoryRegistry(t *testing.T) {
	testRegistry(t, func(t *testing.T) Registry {
		r, err := NewMemoryRegistry()
		require.NoError(t, err)
		return r
	})
}

func TestMemoryRegistry_SweepsExpiredTokens(t *testing.T) {
	r, err := NewMemoryRegistry()
	require.NoError(t, err)
	ctx := t.Context()
	epoch := testutil.DefaultEpoch

	for _, tok := range []string{"old-1", "old-2"} {
		require.NoError(t, r.PutToken(ctx, Token{Token: tok, AccountID: "acct", IssuedAt: epoch, ExpiresAt: epoch.Add(time.Second)}))
	}
	require.NoError(t, r.PutToken(ctx, Token{Token: "fresh", AccountID: "acct", IssuedAt: epoch, ExpiresAt: epoch.Add(time.Hour)}))

	_, err = r.ConsumeToken(ctx, "unrelated", epoch.Add(time.Minute))
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, []string{"fresh"}, storedTokens(t, r))

	// Within the interval nothing else is scanned.
	require.NoError(t, r.PutToken(ctx, Token{Token: "old-3", AccountID: "acct", IssuedAt: epoch, ExpiresAt: epoch.Add(time.Minute + time.Second)}))
	_, err = r.ConsumeToken(ctx, "unrelated", epoch.Add(90*time.Second))
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, []string{"fresh", "old-3"}, storedTokens(t, r))

	_, err = r.ConsumeToken(ctx, "unrelated", epoch.Add(time.Minute+tokenSweepInterval))
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, []string{"fresh"}, storedTokens(t, r))
}

func TestMemoryRegistry_ConsumeRemovesOnlyTheToken(t *testing.T) {
	r, err := NewMemoryRegistry()
	require.NoError(t, err)
	ctx := t.Context()
	epoch := testutil.DefaultEpoch

	for _, tok := range []string{"a", "b"} {
		require.NoError(t, r.PutToken(ctx, Token{Token: tok, AccountID: "acct", IssuedAt: epoch, ExpiresAt: epoch.Add(time.Hour)}))
	}
	_, err = r.ConsumeToken(ctx, "a", epoch)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, storedTokens(t, r))
}

// storedTokens lists the token table in index order.
func storedTokens(t *testing.T, r *MemoryRegistry) []string {
	t.Helper()
	txn := r.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tokensTable, idIndex)
	require.NoError(t, err)
	var left []string
	for obj := it.Next(); obj != nil; obj = it.Next() {
		left = append(left, obj.(Token).Token)
	}
	return left
}
