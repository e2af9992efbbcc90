package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsaroadmap/internal/database"
	"dsaroadmap/internal/models"
	"dsaroadmap/internal/observability"
	"dsaroadmap/internal/repository"
)

func setupServiceDB(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	db, err := database.Initialize(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(context.Background()))
	return db
}

func createTestUser(t *testing.T, users *repository.UserRepository, id string) {
	t.Helper()
	require.NoError(t, users.CreateUser(context.Background(), &models.User{
		ID:            id,
		Username:      "user " + id,
		Email:         id + "@example.com",
		PasswordHash:  "hash",
		EmailVerified: true,
	}))
}

func newTestSQLStore(t *testing.T, userIDs ...string) *SQLProgressStore {
	t.Helper()
	db := setupServiceDB(t)
	users := repository.NewUserRepository(db)
	for _, id := range userIDs {
		createTestUser(t, users, id)
	}
	store := NewSQLProgressStore(repository.NewProgressRepository(db), observability.Discard())
	store.now = clock
	return store
}

func TestSQLProgressStoreRequiresUser(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	_, err := store.LoadAll(ctx, "")
	assert.Equal(t, KindNotAuthenticated, KindOf(err))
	assert.Equal(t, KindNotAuthenticated, KindOf(store.SetTaskCompletion(ctx, "", "t", true)))
	assert.Equal(t, KindNotAuthenticated, KindOf(store.SetNote(ctx, "", "week1d1", "x")))
	assert.Equal(t, KindNotAuthenticated, KindOf(store.SetSkipped(ctx, "", "week1d1", true)))
	assert.Equal(t, KindNotAuthenticated, KindOf(store.RecomputeStreaks(ctx, "")))
	assert.Equal(t, KindNotAuthenticated, KindOf(store.Reset(ctx, "")))
}

func TestSQLProgressStoreRoundTrip(t *testing.T) {
	store := newTestSQLStore(t, "u1", "u2")
	ctx := context.Background()

	empty, err := store.LoadAll(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, empty.CompletedTasks)
	assert.Equal(t, fixedNow, empty.StartDate)

	require.NoError(t, store.SetTaskCompletion(ctx, "u1", "d1t1", true))
	require.NoError(t, store.SetTaskCompletion(ctx, "u1", "d1t2", true))
	require.NoError(t, store.SetNote(ctx, "u1", "week1d1", "first"))
	require.NoError(t, store.SetNote(ctx, "u1", "week1d1", "second"))
	require.NoError(t, store.SetSkipped(ctx, "u1", "week1d2", true))
	require.NoError(t, store.SetTaskCompletion(ctx, "u2", "other", true))

	p, err := store.LoadAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1t1", "d1t2"}, keys(p.CompletedTasks))
	assert.True(t, p.CompletedTasks["d1t1"].Equal(fixedNow))
	assert.Equal(t, map[string]string{"week1d1": "second"}, p.Notes)
	assert.True(t, p.IsDaySkipped("week1d2"))
	assert.True(t, p.StartDate.Equal(fixedNow))

	require.NoError(t, store.SetTaskCompletion(ctx, "u1", "d1t1", false))
	require.NoError(t, store.SetSkipped(ctx, "u1", "week1d2", false))
	p, err = store.LoadAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1t2"}, keys(p.CompletedTasks))
	assert.Empty(t, p.SkippedDays)
}

func TestSQLProgressStoreTogglesAreIdempotent(t *testing.T) {
	store := newTestSQLStore(t, "u1")
	ctx := context.Background()

	require.NoError(t, store.SetTaskCompletion(ctx, "u1", "d1t1", true))
	assert.Equal(t, KindNotFound, KindOf(store.SetTaskCompletion(ctx, "u1", "d1t1", true)))
	require.NoError(t, store.SetTaskCompletion(ctx, "u1", "d1t1", false))
	assert.Equal(t, KindNotFound, KindOf(store.SetTaskCompletion(ctx, "u1", "d1t1", false)))

	assert.Equal(t, KindNotFound, KindOf(store.SetSkipped(ctx, "u1", "week1d1", false)))
	require.NoError(t, store.SetSkipped(ctx, "u1", "week1d1", true))
	assert.Equal(t, KindNotFound, KindOf(store.SetSkipped(ctx, "u1", "week1d1", true)))
}

func TestSQLProgressStoreRecomputeStreaks(t *testing.T) {
	store := newTestSQLStore(t, "u1")
	ctx := context.Background()

	stored, err := store.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.UserStats{}, stored)

	require.NoError(t, store.SetTaskCompletion(ctx, "u1", "a", true))
	require.NoError(t, store.SetTaskCompletion(ctx, "u1", "b", true))
	require.NoError(t, store.RecomputeStreaks(ctx, "u1"))

	stored, err = store.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentStreak)
	assert.Equal(t, 1, stored.MaxStreak)
	assert.Equal(t, 2, stored.TotalTasksCompleted)
	require.NotNil(t, stored.LastActivityDate)

	p, err := store.LoadAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, stored.TotalTasksCompleted, p.Stats.TotalTasksCompleted)
}

func TestSQLProgressStoreReset(t *testing.T) {
	store := newTestSQLStore(t, "u1", "u2")
	ctx := context.Background()

	require.NoError(t, store.SetTaskCompletion(ctx, "u1", "a", true))
	require.NoError(t, store.SetNote(ctx, "u1", "week1d1", "n"))
	require.NoError(t, store.SetTaskCompletion(ctx, "u2", "a", true))
	require.NoError(t, store.RecomputeStreaks(ctx, "u1"))

	require.NoError(t, store.Reset(ctx, "u1"))

	p, err := store.LoadAll(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, p.CompletedTasks)
	assert.Empty(t, p.Notes)
	assert.Equal(t, models.UserStats{}, p.Stats)

	other, err := store.LoadAll(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, other.CompletedTasks, 1)
}

func TestSQLProgressStoreCanceledContext(t *testing.T) {
	store := newTestSQLStore(t, "u1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.SetNote(ctx, "u1", "week1d1", "late")
	require.Error(t, err)
	assert.Equal(t, KindStoreUnavailable, KindOf(err))

	_, err = store.LoadAll(ctx, "u1")
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
}

func TestControllerOverSQLStore(t *testing.T) {
	store := newTestSQLStore(t, "u1")
	c, _ := newTestController(t, store, 20*time.Millisecond)
	signIn(t, c, "u1")
	ctx := context.Background()

	require.Equal(t, OutcomeApplied, c.ToggleTask(ctx, "d1t1").Outcome)
	require.Equal(t, OutcomeApplied, c.ToggleSkipDay(ctx, "week1d2").Outcome)
	c.UpdateNote("week1d1", "remember heaps")
	require.NoError(t, c.FlushNotes(ctx))

	assert.Equal(t, 1, c.Snapshot().Stats.TotalTasksCompleted)

	fresh, err := store.LoadAll(ctx, "u1")
	require.NoError(t, err)
	snap := c.Snapshot()
	assert.Equal(t, keys(fresh.CompletedTasks), keys(snap.CompletedTasks))
	assert.Equal(t, fresh.Notes, snap.Notes)
	assert.Equal(t, keys(fresh.SkippedDays), keys(snap.SkippedDays))
}
