package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJanitor(t *testing.T, store Store, retention time.Duration) *Janitor {
	t.Helper()
	j, err := NewJanitor(store, JanitorConfig{
		RetentionAge: retention,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return j
}

func TestNewJanitorRejectsBadSchedule(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	_, err := NewJanitor(store, JanitorConfig{Schedule: "not a cron expr", Logger: zerolog.Nop()})
	assert.ErrorContains(t, err, "invalid sweep schedule")
}

func TestNewJanitorDefaults(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	j, err := NewJanitor(store, JanitorConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, DefaultSweepSchedule, j.cfg.Schedule)
	assert.Equal(t, DefaultRetentionAge, j.cfg.RetentionAge)
}

func TestSweepPersistsOverdueExpiry(t *testing.T) {
	store := NewMemoryStore(10 * time.Minute)
	j := newTestJanitor(t, store, 24*time.Hour)

	overdue := NewRecord("sess-overdue")
	overdue.State = StateAwaitingLogin
	overdue.CreatedAt = time.Now().UTC().Add(-11 * time.Minute)
	require.NoError(t, store.Put(context.Background(), overdue))

	fresh := NewRecord("sess-fresh")
	fresh.State = StateAwaitingLogin
	require.NoError(t, store.Put(context.Background(), fresh))

	expired, cleaned, err := j.SweepNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, cleaned)

	// The stored state itself must now read EXPIRED, not just the lazy view.
	store.mu.RLock()
	stored := store.records["sess-overdue"].State
	store.mu.RUnlock()
	assert.Equal(t, StateExpired, stored)

	rec, err := store.Get(context.Background(), "sess-fresh")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingLogin, rec.State)
}

func TestSweepDeletesOldTerminalRecords(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	j := newTestJanitor(t, store, time.Hour)

	oldFinalized := NewRecord("sess-old-done")
	oldFinalized.State = StateFinalized
	finalizedAt := time.Now().UTC().Add(-2 * time.Hour)
	oldFinalized.FinalizedAt = &finalizedAt
	require.NoError(t, store.Put(context.Background(), oldFinalized))

	recentFinalized := NewRecord("sess-recent-done")
	recentFinalized.State = StateFinalized
	recentAt := time.Now().UTC().Add(-10 * time.Minute)
	recentFinalized.FinalizedAt = &recentAt
	require.NoError(t, store.Put(context.Background(), recentFinalized))

	oldFailed := NewRecord("sess-old-failed")
	oldFailed.State = StateFailed
	oldFailed.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.Put(context.Background(), oldFailed))

	expired, cleaned, err := j.SweepNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
	assert.Equal(t, 2, cleaned)

	_, err = store.Get(context.Background(), "sess-old-done")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(context.Background(), "sess-old-failed")
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := store.Get(context.Background(), "sess-recent-done")
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, rec.State)
}

func TestSweepDeletesExpiredRecordsPastRetention(t *testing.T) {
	store := NewMemoryStore(10 * time.Minute)
	j := newTestJanitor(t, store, time.Hour)

	ancient := NewRecord("sess-ancient")
	ancient.State = StateAwaitingLogin
	ancient.CreatedAt = time.Now().UTC().Add(-3 * time.Hour)
	require.NoError(t, store.Put(context.Background(), ancient))

	expired, cleaned, err := j.SweepNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
	assert.Equal(t, 1, cleaned)

	_, err = store.Get(context.Background(), "sess-ancient")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJanitorStartStop(t *testing.T) {
	store := NewMemoryStore(30 * time.Minute)
	j := newTestJanitor(t, store, time.Hour)

	require.NoError(t, j.Start())
	assert.True(t, j.IsRunning())
	assert.Error(t, j.Start(), "second start must be rejected")

	require.NoError(t, j.Stop())
	assert.False(t, j.IsRunning())
	assert.Error(t, j.Stop(), "second stop must be rejected")

	// A stopped janitor can be started again.
	require.NoError(t, j.Start())
	require.NoError(t, j.Stop())
}
