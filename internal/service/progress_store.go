package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"dsaroadmap/internal/models"
	"dsaroadmap/internal/repository"
	"dsaroadmap/internal/stats"
)

// ProgressStore hides persistence behind per-user operations. Every error it
// returns is a *StoreError.
type ProgressStore interface {
	// LoadAll fetches the complete snapshot of a user.
	LoadAll(ctx context.Context, userID string) (models.UserProgress, error)
	// SetTaskCompletion creates or removes the completion record. A record
	// already in the requested state yields KindNotFound.
	SetTaskCompletion(ctx context.Context, userID, taskID string, completed bool) error
	// SetNote upserts the note of a day. Last write wins.
	SetNote(ctx context.Context, userID, dayID, text string) error
	// SetSkipped creates or removes the skip record, like SetTaskCompletion.
	SetSkipped(ctx context.Context, userID, dayID string, skipped bool) error
	// RecomputeStreaks refreshes the cached aggregate row. Best-effort.
	RecomputeStreaks(ctx context.Context, userID string) error
	// Stats reads the cached aggregate row.
	Stats(ctx context.Context, userID string) (models.UserStats, error)
	// Reset deletes every progress record of a user.
	Reset(ctx context.Context, userID string) error
}

// SQLProgressStore implements ProgressStore on the SQL repositories.
type SQLProgressStore struct {
	repo   *repository.ProgressRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLProgressStore creates a store over repo.
func NewSQLProgressStore(repo *repository.ProgressRepository, logger *slog.Logger) *SQLProgressStore {
	return &SQLProgressStore{repo: repo, logger: logger, now: time.Now}
}

func (s *SQLProgressStore) classify(message string, err error) error {
	if err == nil {
		return nil
	}
	return classifyError(s.repo.DB().Dialect, message, err)
}

// LoadAll reads the four progress tables concurrently and combines them.
func (s *SQLProgressStore) LoadAll(ctx context.Context, userID string) (models.UserProgress, error) {
	if userID == "" {
		return models.UserProgress{}, notAuthenticated()
	}

	var (
		tasks   []models.CompletedTask
		notes   []models.DayNote
		skipped []models.SkippedDay
		cached  *models.UserStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = s.repo.ListCompletedTasks(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		notes, err = s.repo.ListNotes(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		skipped, err = s.repo.ListSkippedDays(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		cached, err = s.repo.GetStats(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.UserProgress{}, s.classify("Failed to load progress", err)
	}

	progress := models.EmptyProgress()
	progress.StartDate = s.now().UTC()
	for _, t := range tasks {
		progress.CompletedTasks[t.TaskID] = t.CompletedAt
		if t.CompletedAt.Before(progress.StartDate) {
			progress.StartDate = t.CompletedAt
		}
	}
	for _, n := range notes {
		progress.Notes[n.DayID] = n.NoteText
	}
	for _, sd := range skipped {
		progress.SkippedDays[sd.DayID] = sd.SkippedAt
	}
	if cached != nil {
		progress.Stats = *cached
	}
	return progress, nil
}

func (s *SQLProgressStore) SetTaskCompletion(ctx context.Context, userID, taskID string, completed bool) error {
	if userID == "" {
		return notAuthenticated()
	}

	var (
		changed bool
		err     error
	)
	if completed {
		changed, err = s.repo.InsertCompletedTask(ctx, userID, taskID, s.now())
	} else {
		changed, err = s.repo.DeleteCompletedTask(ctx, userID, taskID)
	}
	if err != nil {
		return s.classify("Failed to update task", err)
	}
	if !changed {
		return &StoreError{Kind: KindNotFound, Message: "task already in requested state"}
	}
	return nil
}

func (s *SQLProgressStore) SetNote(ctx context.Context, userID, dayID, text string) error {
	if userID == "" {
		return notAuthenticated()
	}
	if err := s.repo.UpsertNote(ctx, userID, dayID, text, s.now()); err != nil {
		return s.classify("Failed to save note", err)
	}
	return nil
}

func (s *SQLProgressStore) SetSkipped(ctx context.Context, userID, dayID string, skipped bool) error {
	if userID == "" {
		return notAuthenticated()
	}

	var (
		changed bool
		err     error
	)
	if skipped {
		changed, err = s.repo.InsertSkippedDay(ctx, userID, dayID, s.now())
	} else {
		changed, err = s.repo.DeleteSkippedDay(ctx, userID, dayID)
	}
	if err != nil {
		return s.classify("Failed to update skipped day", err)
	}
	if !changed {
		return &StoreError{Kind: KindNotFound, Message: "day already in requested state"}
	}
	return nil
}

// RecomputeStreaks rebuilds user_stats from completed_tasks. Failures are
// logged and swallowed.
func (s *SQLProgressStore) RecomputeStreaks(ctx context.Context, userID string) error {
	if userID == "" {
		return notAuthenticated()
	}

	tasks, err := s.repo.ListCompletedTasks(ctx, userID)
	if err != nil {
		s.logger.Warn("streak recompute skipped", "user_id", userID, "error", err)
		return nil
	}
	completed := make(map[string]time.Time, len(tasks))
	for _, t := range tasks {
		completed[t.TaskID] = t.CompletedAt
	}

	cache := stats.RecomputeCache(completed, s.now())
	if err := s.repo.UpsertStats(ctx, userID, cache); err != nil {
		s.logger.Warn("streak recompute not saved", "user_id", userID, "error", err)
	}
	return nil
}

func (s *SQLProgressStore) Stats(ctx context.Context, userID string) (models.UserStats, error) {
	if userID == "" {
		return models.UserStats{}, notAuthenticated()
	}
	cached, err := s.repo.GetStats(ctx, userID)
	if err != nil {
		return models.UserStats{}, s.classify("Failed to load stats", err)
	}
	if cached == nil {
		return models.UserStats{}, nil
	}
	return *cached, nil
}

func (s *SQLProgressStore) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return notAuthenticated()
	}
	if err := s.repo.ResetUser(ctx, userID); err != nil {
		return s.classify("Failed to reset progress", err)
	}
	return nil
}
