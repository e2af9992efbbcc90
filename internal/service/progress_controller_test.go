package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsaroadmap/internal/models"
	"dsaroadmap/internal/observability"
	"dsaroadmap/internal/stats"
)

var fixedNow = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newTestController(t *testing.T, store ProgressStore, debounce time.Duration) (*ProgressController, *Feed) {
	t.Helper()
	feed := NewFeed()
	feed.now = clock
	c := NewProgressController(store, ControllerOptions{
		Notifier:     feed,
		Logger:       observability.Discard(),
		NoteDebounce: debounce,
		Now:          clock,
	})
	t.Cleanup(c.Close)
	return c, feed
}

func signIn(t *testing.T, c *ProgressController, userID string) {
	t.Helper()
	require.NoError(t, c.SetIdentity(context.Background(), &Identity{UserID: userID, Email: userID + "@example.com"}))
	require.Equal(t, StateReady, c.State())
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func kinds(feed *Feed) []NotificationKind {
	var out []NotificationKind
	for _, n := range feed.Active() {
		out = append(out, n.Kind)
	}
	return out
}

func TestMutatorsRequireIdentity(t *testing.T) {
	store := newMemStore(clock)
	c, feed := newTestController(t, store, time.Hour)
	ctx := context.Background()

	for name, res := range map[string]MutationResult{
		"toggle task": c.ToggleTask(ctx, "d1t1"),
		"update note": c.UpdateNote("week1d1", "hello"),
		"toggle skip": c.ToggleSkipDay(ctx, "week1d1"),
	} {
		assert.Equal(t, OutcomeRejected, res.Outcome, name)
		assert.ErrorIs(t, res.Err, ErrAuthRequired, name)
	}

	assert.Equal(t, StateUnloaded, c.State())
	assert.Empty(t, c.Snapshot().CompletedTasks)
	assert.Empty(t, c.Snapshot().Notes)
	assert.Zero(t, store.taskCalls)
	assert.Zero(t, c.PendingNotes())
	assert.Equal(t, []NotificationKind{NotifyAuth, NotifyAuth, NotifyAuth}, kinds(feed))
	assert.ErrorIs(t, c.ResetProgress(ctx), ErrAuthRequired)
	assert.ErrorIs(t, c.Reload(ctx), ErrAuthRequired)
}

func TestIdentityLifecycle(t *testing.T) {
	store := newMemStore(clock)
	store.seedTask("u1", "d1t1", fixedNow.Add(-time.Hour))
	store.seedTask("u2", "d9t9", fixedNow.Add(-time.Hour))
	c, _ := newTestController(t, store, time.Hour)

	signIn(t, c, "u1")
	assert.Equal(t, []string{"d1t1"}, keys(c.Snapshot().CompletedTasks))
	assert.Equal(t, "u1", c.Identity().UserID)

	// Switching users replaces the snapshot wholesale
	signIn(t, c, "u2")
	assert.Equal(t, []string{"d9t9"}, keys(c.Snapshot().CompletedTasks))

	require.NoError(t, c.SetIdentity(context.Background(), nil))
	assert.Equal(t, StateUnloaded, c.State())
	assert.Nil(t, c.Identity())
	assert.Empty(t, c.Snapshot().CompletedTasks)
}

func TestSameIdentityDoesNotReload(t *testing.T) {
	store := newMemStore(clock)
	c, _ := newTestController(t, store, time.Hour)

	signIn(t, c, "u1")
	loads := store.loadCount()
	signIn(t, c, "u1")
	assert.Equal(t, loads, store.loadCount())
}

func TestToggleTaskTwiceRestoresOriginal(t *testing.T) {
	store := newMemStore(clock)
	store.seedTask("u1", "keep", fixedNow.Add(-24*time.Hour))
	c, _ := newTestController(t, store, time.Hour)
	signIn(t, c, "u1")
	ctx := context.Background()

	before := keys(c.Snapshot().CompletedTasks)

	res := c.ToggleTask(ctx, "d1t1")
	require.Equal(t, OutcomeApplied, res.Outcome)
	require.NoError(t, res.Err)
	assert.True(t, c.Snapshot().IsTaskCompleted("d1t1"))

	res = c.ToggleTask(ctx, "d1t1")
	require.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, before, keys(c.Snapshot().CompletedTasks))

	// and the other way round for an already completed task
	c.ToggleTask(ctx, "keep")
	c.ToggleTask(ctx, "keep")
	assert.Equal(t, before, keys(c.Snapshot().CompletedTasks))
	assert.Nil(t, c.LastError())
}

func TestToggleTaskTreatsAlreadyAppliedAsSuccess(t *testing.T) {
	store := newMemStore(clock)
	c, _ := newTestController(t, store, time.Hour)
	signIn(t, c, "u1")

	// another device completed the task after our load
	store.seedTask("u1", "d1t1", fixedNow)

	res := c.ToggleTask(context.Background(), "d1t1")
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.NoError(t, res.Err)
	assert.True(t, c.Snapshot().IsTaskCompleted("d1t1"))
	assert.Nil(t, c.LastError())
}

func TestStatsCacheMatchesRecomputation(t *testing.T) {
	for _, noRecompute := range []bool{false, true} {
		store := newMemStore(clock)
		store.noRecompute = noRecompute
		store.seedTask("u1", "old", fixedNow.Add(-24*time.Hour))
		c, _ := newTestController(t, store, time.Hour)
		signIn(t, c, "u1")
		ctx := context.Background()

		c.ToggleTask(ctx, "a")
		c.ToggleTask(ctx, "b")
		c.ToggleTask(ctx, "a")

		snap := c.Snapshot()
		fresh := stats.RecomputeCache(snap.CompletedTasks, fixedNow)
		assert.Equal(t, fresh.CurrentStreak, snap.Stats.CurrentStreak, "noRecompute=%v", noRecompute)
		assert.Equal(t, fresh.MaxStreak, snap.Stats.MaxStreak, "noRecompute=%v", noRecompute)
		assert.Equal(t, fresh.TotalTasksCompleted, snap.Stats.TotalTasksCompleted, "noRecompute=%v", noRecompute)
		assert.Equal(t, 2, snap.Stats.TotalTasksCompleted)
		assert.Equal(t, 2, snap.Stats.CurrentStreak)
	}
}

func TestToggleTaskReconcilesOnStoreUnavailable(t *testing.T) {
	store := newMemStore(clock)
	store.seedTask("u1", "a", fixedNow)
	c, feed := newTestController(t, store, time.Hour)
	signIn(t, c, "u1")

	// remote state moved on, and writes now fail
	store.seedTask("u1", "b", fixedNow)
	store.set(func(m *memStore) {
		m.failSetTask = &StoreError{Kind: KindStoreUnavailable, Message: "Failed to update task"}
	})

	res := c.ToggleTask(context.Background(), "c")
	assert.Equal(t, OutcomeReverted, res.Outcome)
	assert.Equal(t, KindStoreUnavailable, KindOf(res.Err))

	fresh, err := store.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, keys(fresh.CompletedTasks), keys(c.Snapshot().CompletedTasks))
	assert.Equal(t, KindStoreUnavailable, KindOf(c.LastError()))
	assert.Contains(t, kinds(feed), NotifyError)
}

func TestToggleRevertsLocallyWhenReloadFails(t *testing.T) {
	store := newMemStore(clock)
	completedAt := fixedNow.Add(-48 * time.Hour)
	store.seedTask("u1", "a", completedAt)
	c, _ := newTestController(t, store, time.Hour)
	signIn(t, c, "u1")

	unavailable := &StoreError{Kind: KindStoreUnavailable, Message: "down"}
	store.set(func(m *memStore) {
		m.failSetTask = unavailable
		m.failLoad = unavailable
	})
	ctx := context.Background()

	res := c.ToggleTask(ctx, "new")
	assert.Equal(t, OutcomeReverted, res.Outcome)
	assert.False(t, c.Snapshot().IsTaskCompleted("new"))

	res = c.ToggleTask(ctx, "a")
	assert.Equal(t, OutcomeReverted, res.Outcome)
	got, ok := c.Snapshot().CompletedTasks["a"]
	require.True(t, ok)
	assert.True(t, got.Equal(completedAt), "original timestamp restored")
}

func TestToggleSkipDayIsOrthogonalToCompletion(t *testing.T) {
	store := newMemStore(clock)
	store.seedTask("u1", "d1t1", fixedNow)
	c, _ := newTestController(t, store, time.Hour)
	signIn(t, c, "u1")
	ctx := context.Background()

	res := c.ToggleSkipDay(ctx, "week1d1")
	require.Equal(t, OutcomeApplied, res.Outcome)
	snap := c.Snapshot()
	assert.True(t, snap.IsDaySkipped("week1d1"))
	assert.True(t, snap.IsTaskCompleted("d1t1"))

	res = c.ToggleSkipDay(ctx, "week1d1")
	require.Equal(t, OutcomeApplied, res.Outcome)
	assert.False(t, c.Snapshot().IsDaySkipped("week1d1"))

	store.set(func(m *memStore) { m.failSetSkip = &StoreError{Kind: KindUnknown, Message: "boom"} })
	res = c.ToggleSkipDay(ctx, "week1d2")
	assert.Equal(t, OutcomeReverted, res.Outcome)
	assert.False(t, c.Snapshot().IsDaySkipped("week1d2"))
}

func TestNoteDebounceCoalesces(t *testing.T) {
	store := newMemStore(clock)
	c, _ := newTestController(t, store, 50*time.Millisecond)
	signIn(t, c, "u1")

	require.Equal(t, OutcomeApplied, c.UpdateNote("week1d1", "a").Outcome)
	require.Equal(t, OutcomeApplied, c.UpdateNote("week1d1", "ab").Outcome)

	// visible locally before any write
	assert.Equal(t, "ab", c.Snapshot().Notes["week1d1"])
	assert.Empty(t, store.writes())

	require.Eventually(t, func() bool { return len(store.writes()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	writes := store.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, noteWrite{userID: "u1", dayID: "week1d1", text: "ab"}, writes[0])
	assert.Zero(t, c.PendingNotes())
}

func TestNoteDebounceIsPerDay(t *testing.T) {
	store := newMemStore(clock)
	c, _ := newTestController(t, store, 30*time.Millisecond)
	signIn(t, c, "u1")

	c.UpdateNote("week1d1", "one")
	c.UpdateNote("week1d2", "two")
	c.UpdateNote("week1d1", "one!")

	require.Eventually(t, func() bool { return len(store.writes()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := map[string]string{}
	for _, w := range store.writes() {
		got[w.dayID] = w.text
	}
	assert.Equal(t, map[string]string{"week1d1": "one!", "week1d2": "two"}, got)
}

func TestFlushNotesWritesImmediately(t *testing.T) {
	store := newMemStore(clock)
	c, _ := newTestController(t, store, time.Hour)
	signIn(t, c, "u1")

	c.UpdateNote("week1d1", "draft")
	c.UpdateNote("week2d6", "other")
	require.Equal(t, 2, c.PendingNotes())

	require.NoError(t, c.FlushNotes(context.Background()))
	assert.Len(t, store.writes(), 2)
	assert.Zero(t, c.PendingNotes())

	// nothing left to fire later
	require.NoError(t, c.FlushNotes(context.Background()))
	assert.Len(t, store.writes(), 2)
}

func TestNoteFailureRetainsLocalText(t *testing.T) {
	store := newMemStore(clock)
	c, feed := newTestController(t, store, time.Hour)
	signIn(t, c, "u1")
	store.set(func(m *memStore) {
		m.failSetNote = &StoreError{Kind: KindStoreUnavailable, Message: "Failed to save note"}
	})
	loads := store.loadCount()

	c.UpdateNote("week1d1", "keep me")
	err := c.FlushNotes(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindStoreUnavailable, KindOf(err))

	assert.Equal(t, "keep me", c.Snapshot().Notes["week1d1"])
	assert.Equal(t, loads, store.loadCount(), "note failures never reload")
	assert.Equal(t, KindStoreUnavailable, KindOf(c.LastError()))
	assert.Contains(t, kinds(feed), NotifyError)
}

func TestSignOutCancelsPendingNotes(t *testing.T) {
	store := newMemStore(clock)
	c, _ := newTestController(t, store, 30*time.Millisecond)
	signIn(t, c, "u1")

	c.UpdateNote("week1d1", "unsent")
	require.NoError(t, c.SetIdentity(context.Background(), nil))
	assert.Zero(t, c.PendingNotes())

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, store.writes())
}

func TestPendingNotesSurviveReload(t *testing.T) {
	store := newMemStore(clock)
	c, _ := newTestController(t, store, time.Hour)
	signIn(t, c, "u1")

	c.UpdateNote("week1d1", "typing")
	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, "typing", c.Snapshot().Notes["week1d1"])
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	store := newMemStore(clock)
	store.seedTask("u1", "from-u1", fixedNow)
	store.seedTask("u2", "from-u2", fixedNow)

	entered := make(chan struct{})
	release := make(chan struct{})
	store.loadHook = func(userID string) {
		if userID == "u1" {
			close(entered)
			<-release
		}
	}
	c, _ := newTestController(t, store, time.Hour)

	done := make(chan error, 1)
	go func() {
		done <- c.SetIdentity(context.Background(), &Identity{UserID: "u1"})
	}()
	<-entered
	assert.Equal(t, StateLoading, c.State())

	// mutations are refused while the snapshot is loading
	res := c.ToggleTask(context.Background(), "x")
	assert.ErrorIs(t, res.Err, ErrNotReady)

	signIn(t, c, "u2")
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, "u2", c.Identity().UserID)
	assert.Equal(t, []string{"from-u2"}, keys(c.Snapshot().CompletedTasks))
	assert.Equal(t, StateReady, c.State())
}

func TestLoadAfterSignOutIsDiscarded(t *testing.T) {
	store := newMemStore(clock)
	store.seedTask("u1", "from-u1", fixedNow)

	entered := make(chan struct{})
	release := make(chan struct{})
	store.loadHook = func(string) {
		close(entered)
		<-release
	}
	c, _ := newTestController(t, store, time.Hour)

	done := make(chan error, 1)
	go func() {
		done <- c.SetIdentity(context.Background(), &Identity{UserID: "u1"})
	}()
	<-entered
	require.NoError(t, c.SetIdentity(context.Background(), nil))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, StateUnloaded, c.State())
	assert.Empty(t, c.Snapshot().CompletedTasks)
}

func TestFailedLoadCanBeRetried(t *testing.T) {
	store := newMemStore(clock)
	store.seedTask("u1", "a", fixedNow)
	store.failLoad = &StoreError{Kind: KindStoreUnavailable, Message: "Failed to load progress"}
	c, feed := newTestController(t, store, time.Hour)

	err := c.SetIdentity(context.Background(), &Identity{UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, OutcomeRejected, c.ToggleTask(context.Background(), "b").Outcome)
	assert.Contains(t, kinds(feed), NotifyError)

	store.set(func(m *memStore) { m.failLoad = nil })
	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, StateReady, c.State())
	assert.True(t, c.Snapshot().IsTaskCompleted("a"))
}

func TestResetProgress(t *testing.T) {
	store := newMemStore(clock)
	store.seedTask("u1", "a", fixedNow)
	c, feed := newTestController(t, store, time.Hour)
	signIn(t, c, "u1")
	c.UpdateNote("week1d1", "pending")

	require.NoError(t, c.ResetProgress(context.Background()))
	snap := c.Snapshot()
	assert.Empty(t, snap.CompletedTasks)
	assert.Empty(t, snap.Notes)
	assert.Zero(t, c.PendingNotes())
	assert.Equal(t, models.UserStats{}, snap.Stats)
	assert.Contains(t, kinds(feed), NotifySuccess)

	fresh, _ := store.LoadAll(context.Background(), "u1")
	assert.Empty(t, fresh.CompletedTasks)
}

func TestHandleAuthEvent(t *testing.T) {
	store := newMemStore(clock)
	c, _ := newTestController(t, store, time.Hour)
	ctx := context.Background()
	u1 := &Session{User: &models.User{ID: "u1", Email: "u1@example.com"}}
	u2 := &Session{User: &models.User{ID: "u2", Email: "u2@example.com"}}

	// an update for someone who is not signed in does nothing
	require.NoError(t, c.HandleAuthEvent(ctx, EventUserUpdated, u1))
	assert.Nil(t, c.Identity())

	require.NoError(t, c.HandleAuthEvent(ctx, EventSignedIn, u1))
	assert.Equal(t, "u1", c.Identity().UserID)
	assert.Equal(t, StateReady, c.State())

	require.NoError(t, c.HandleAuthEvent(ctx, EventUserUpdated, u2))
	assert.Equal(t, "u1", c.Identity().UserID)

	require.NoError(t, c.HandleAuthEvent(ctx, EventSignedOut, nil))
	assert.Nil(t, c.Identity())
	assert.Equal(t, StateUnloaded, c.State())
}

func TestSnapshotIsACopy(t *testing.T) {
	store := newMemStore(clock)
	c, _ := newTestController(t, store, time.Hour)
	signIn(t, c, "u1")

	snap := c.Snapshot()
	snap.CompletedTasks["sneaky"] = fixedNow
	assert.False(t, c.Snapshot().IsTaskCompleted("sneaky"))
}

func TestOutcomeAndStateStrings(t *testing.T) {
	assert.Equal(t, "applied", OutcomeApplied.String())
	assert.Equal(t, "reverted", OutcomeReverted.String())
	assert.Equal(t, "retained", OutcomeRetained.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
}

// blockNote makes the store hold the write of text until release is closed.
func blockNote(store *memStore, text string) (entered <-chan struct{}, release chan struct{}) {
	in := make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	store.noteHook = func(_, got string) {
		if got == text {
			once.Do(func() { close(in) })
			<-release
		}
	}
	return in, release
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for note write")
	}
}

func TestSlowNoteWriteIsNotOvertaken(t *testing.T) {
	store := newMemStore(clock)
	entered, release := blockNote(store, "a")
	c, _ := newTestController(t, store, 20*time.Millisecond)
	signIn(t, c, "u1")

	c.UpdateNote("week1d1", "a")
	waitFor(t, entered)

	// the next edit's quiet period ends while "a" is still being written
	c.UpdateNote("week1d1", "ab")
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, store.writes())

	close(release)
	require.Eventually(t, func() bool { return len(store.writes()) == 2 }, 2*time.Second, 10*time.Millisecond)

	writes := store.writes()
	assert.Equal(t, "a", writes[0].text)
	assert.Equal(t, "ab", writes[1].text)

	remote, err := store.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "ab", remote.Notes["week1d1"])
	assert.Equal(t, "ab", c.Snapshot().Notes["week1d1"])
}

func TestFlushWaitsForOlderWriteOfSameDay(t *testing.T) {
	store := newMemStore(clock)
	entered, release := blockNote(store, "first")
	c, _ := newTestController(t, store, 20*time.Millisecond)
	signIn(t, c, "u1")

	c.UpdateNote("week1d1", "first")
	waitFor(t, entered)
	c.UpdateNote("week1d1", "second")

	flushed := make(chan error, 1)
	go func() { flushed <- c.FlushNotes(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	close(release)
	require.NoError(t, <-flushed)

	remote, err := store.LoadAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "second", remote.Notes["week1d1"])
}

func TestInFlightNoteSurvivesReload(t *testing.T) {
	store := newMemStore(clock)
	entered, release := blockNote(store, "hello")
	c, _ := newTestController(t, store, 20*time.Millisecond)
	signIn(t, c, "u1")
	ctx := context.Background()

	c.UpdateNote("week1d1", "hello")
	waitFor(t, entered)

	require.NoError(t, c.Reload(ctx))
	assert.Equal(t, "hello", c.Snapshot().Notes["week1d1"])

	// a failed toggle reconciles by reloading too
	store.set(func(m *memStore) { m.failSetTask = &StoreError{Kind: KindStoreUnavailable, Message: "down"} })
	assert.Equal(t, OutcomeReverted, c.ToggleTask(ctx, "d1t1").Outcome)
	assert.Equal(t, "hello", c.Snapshot().Notes["week1d1"])

	close(release)
	require.NoError(t, c.FlushNotes(ctx))
	remote, err := store.LoadAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "hello", remote.Notes["week1d1"])
}
