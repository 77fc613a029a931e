package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkcap/linkcap/internal/capture"
)

func TestMemoryStorePutGet(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	rec := NewRecord("sess-1")
	rec.RemoteSessionID = "bb-1"
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "bb-1", got.RemoteSessionID)
	assert.Equal(t, StateCreated, got.State)
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	rec := NewRecord("sess-1")
	rec.State = StateAwaitingLogin
	rec.CreatedAt = base
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingLogin, got.State)

	store.now = func() time.Time { return base.Add(31 * time.Minute) }

	got, err = store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateExpired, got.State)
}

func TestMemoryStoreExpiryLeavesTerminalStates(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base.Add(2 * time.Hour) }

	rec := NewRecord("sess-1")
	rec.State = StateFinalized
	rec.CreatedAt = base
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, got.State)
}

func TestMemoryStoreCompareAndTransition(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	rec := NewRecord("sess-1")
	rec.State = StateAwaitingLogin
	require.NoError(t, store.Put(ctx, rec))

	finalizedAt := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	updated, err := store.CompareAndTransition(ctx, "sess-1", StateAwaitingLogin, StateFinalized, func(r *Record) {
		r.FinalizedAt = &finalizedAt
		r.CapturedSummary = &capture.Summary{AuthCookiePresent: true, UserAgentLength: 42}
	})
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, updated.State)
	require.NotNil(t, updated.FinalizedAt)
	assert.Equal(t, finalizedAt, *updated.FinalizedAt)
	require.NotNil(t, updated.CapturedSummary)
	assert.True(t, updated.CapturedSummary.AuthCookiePresent)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, got.State)
}

func TestMemoryStoreCompareAndTransitionStale(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	rec := NewRecord("sess-1")
	rec.State = StateFinalized
	require.NoError(t, store.Put(ctx, rec))

	_, err := store.CompareAndTransition(ctx, "sess-1", StateAwaitingLogin, StateFinalized, nil)
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestMemoryStoreCompareAndTransitionExpired(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base.Add(time.Hour) }

	rec := NewRecord("sess-1")
	rec.State = StateAwaitingLogin
	rec.CreatedAt = base
	require.NoError(t, store.Put(ctx, rec))

	// The record reads as EXPIRED now, so the expected state no longer matches.
	_, err := store.CompareAndTransition(ctx, "sess-1", StateAwaitingLogin, StateFinalized, nil)
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestMemoryStoreCompareAndTransitionNotFound(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	_, err := store.CompareAndTransition(context.Background(), "missing", StateAwaitingLogin, StateFinalized, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreLease(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	token, err := store.AcquireLease(ctx, "sess-1", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = store.AcquireLease(ctx, "sess-1", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	// Releasing with the wrong token leaves the lease in place.
	require.NoError(t, store.ReleaseLease(ctx, "sess-1", "wrong-token"))
	_, err = store.AcquireLease(ctx, "sess-1", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, store.ReleaseLease(ctx, "sess-1", token))
	token2, err := store.AcquireLease(ctx, "sess-1", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}

func TestMemoryStoreLeaseExpiry(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	_, err := store.AcquireLease(ctx, "sess-1", time.Minute)
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(2 * time.Minute) }

	_, err = store.AcquireLease(ctx, "sess-1", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	fresh := NewRecord("sess-fresh")
	fresh.State = StateAwaitingLogin
	fresh.CreatedAt = base
	require.NoError(t, store.Put(ctx, fresh))

	old := NewRecord("sess-old")
	old.State = StateAwaitingLogin
	old.CreatedAt = base.Add(-time.Hour)
	require.NoError(t, store.Put(ctx, old))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	states := map[string]State{}
	for _, rec := range records {
		states[rec.SessionID] = rec.State
	}
	assert.Equal(t, StateAwaitingLogin, states["sess-fresh"])
	assert.Equal(t, StateExpired, states["sess-old"])
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, NewRecord("sess-1")))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing session is not an error.
	assert.NoError(t, store.Delete(ctx, "sess-1"))
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	require.NoError(t, store.Close())
	ctx := context.Background()

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Put(ctx, NewRecord("sess-1")), ErrStoreClosed)
	_, err = store.CompareAndTransition(ctx, "sess-1", StateCreated, StateAwaitingLogin, nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.AcquireLease(ctx, "sess-1", time.Minute)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)

	// Double close is safe.
	assert.NoError(t, store.Close())
}
