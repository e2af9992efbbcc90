package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dsaroadmap/internal/database"
	"dsaroadmap/internal/models"
)

// ProgressRepository handles the completed_tasks, user_notes, skipped_days
// and user_stats tables. Every query is scoped to one user.
type ProgressRepository struct {
	db *database.DB
}

// NewProgressRepository creates a new progress repository
func NewProgressRepository(db *database.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// DB exposes the underlying connection for callers that classify driver errors
func (r *ProgressRepository) DB() *database.DB {
	return r.db
}

// ListCompletedTasks returns every completion record of a user
func (r *ProgressRepository) ListCompletedTasks(ctx context.Context, userID string) ([]models.CompletedTask, error) {
	query := `
		SELECT user_id, task_id, completed_at
		FROM completed_tasks
		WHERE user_id = ?
		ORDER BY completed_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed tasks: %w", err)
	}
	defer rows.Close()

	var out []models.CompletedTask
	for rows.Next() {
		var ct models.CompletedTask
		if err := rows.Scan(&ct.UserID, &ct.TaskID, &ct.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan completed task: %w", err)
		}
		out = append(out, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read completed tasks: %w", err)
	}
	return out, nil
}

// ListNotes returns every day note of a user
func (r *ProgressRepository) ListNotes(ctx context.Context, userID string) ([]models.DayNote, error) {
	query := `
		SELECT user_id, day_id, note_text, updated_at
		FROM user_notes
		WHERE user_id = ?
		ORDER BY day_id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var out []models.DayNote
	for rows.Next() {
		var n models.DayNote
		if err := rows.Scan(&n.UserID, &n.DayID, &n.NoteText, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	return out, nil
}

// ListSkippedDays returns every skip record of a user
func (r *ProgressRepository) ListSkippedDays(ctx context.Context, userID string) ([]models.SkippedDay, error) {
	query := `
		SELECT user_id, day_id, skipped_at
		FROM skipped_days
		WHERE user_id = ?
		ORDER BY skipped_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query skipped days: %w", err)
	}
	defer rows.Close()

	var out []models.SkippedDay
	for rows.Next() {
		var s models.SkippedDay
		if err := rows.Scan(&s.UserID, &s.DayID, &s.SkippedAt); err != nil {
			return nil, fmt.Errorf("failed to scan skipped day: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read skipped days: %w", err)
	}
	return out, nil
}

// GetStats returns the cached stats row, or nil when the user has none yet
func (r *ProgressRepository) GetStats(ctx context.Context, userID string) (*models.UserStats, error) {
	query := `
		SELECT current_streak, max_streak, total_tasks_completed, last_activity_date
		FROM user_stats
		WHERE user_id = ?
	`
	var (
		s    models.UserStats
		last sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&s.CurrentStreak, &s.MaxStreak, &s.TotalTasksCompleted, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	if last.Valid {
		t := last.Time
		s.LastActivityDate = &t
	}
	return &s, nil
}

// InsertCompletedTask records a completion. It reports false when the task
// was already completed, leaving the original timestamp untouched.
func (r *ProgressRepository) InsertCompletedTask(ctx context.Context, userID, taskID string, at time.Time) (bool, error) {
	return insertIgnore(ctx, r.db, "completed_tasks", []string{"user_id", "task_id", "completed_at"}, userID, taskID, at.UTC())
}

// DeleteCompletedTask removes a completion. It reports false when there was none.
func (r *ProgressRepository) DeleteCompletedTask(ctx context.Context, userID, taskID string) (bool, error) {
	return deleteRow(ctx, r.db, "DELETE FROM completed_tasks WHERE user_id = ? AND task_id = ?", userID, taskID)
}

// UpsertNote writes the note for a day, replacing any earlier text
func (r *ProgressRepository) UpsertNote(ctx context.Context, userID, dayID, text string, at time.Time) error {
	query := r.db.Dialect.Upsert("user_notes",
		[]string{"user_id", "day_id", "note_text", "updated_at"},
		[]string{"user_id", "day_id"},
		[]string{"note_text", "updated_at"})
	if _, err := r.db.ExecContext(ctx, query, userID, dayID, text, at.UTC()); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}
	return nil
}

// InsertSkippedDay records a skip. It reports false when the day was already skipped.
func (r *ProgressRepository) InsertSkippedDay(ctx context.Context, userID, dayID string, at time.Time) (bool, error) {
	return insertIgnore(ctx, r.db, "skipped_days", []string{"user_id", "day_id", "skipped_at"}, userID, dayID, at.UTC())
}

// DeleteSkippedDay removes a skip. It reports false when there was none.
func (r *ProgressRepository) DeleteSkippedDay(ctx context.Context, userID, dayID string) (bool, error) {
	return deleteRow(ctx, r.db, "DELETE FROM skipped_days WHERE user_id = ? AND day_id = ?", userID, dayID)
}

// UpsertStats replaces the cached stats row
func (r *ProgressRepository) UpsertStats(ctx context.Context, userID string, s models.UserStats) error {
	return upsertStats(ctx, r.db, userID, s)
}

// ResetUser deletes all progress rows of a user in one transaction
func (r *ProgressRepository) ResetUser(ctx context.Context, userID string) error {
	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		return deleteAll(ctx, tx, userID)
	})
}

// ReplaceUser swaps a user's progress rows for the given set in one transaction
func (r *ProgressRepository) ReplaceUser(ctx context.Context, userID string, tasks []models.CompletedTask, notes []models.DayNote, skipped []models.SkippedDay, s models.UserStats) error {
	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := deleteAll(ctx, tx, userID); err != nil {
			return err
		}
		for _, t := range tasks {
			if _, err := insertIgnore(ctx, tx, "completed_tasks", []string{"user_id", "task_id", "completed_at"}, userID, t.TaskID, t.CompletedAt.UTC()); err != nil {
				return err
			}
		}
		for _, n := range notes {
			query := tx.GetDialect().Upsert("user_notes",
				[]string{"user_id", "day_id", "note_text", "updated_at"},
				[]string{"user_id", "day_id"},
				[]string{"note_text", "updated_at"})
			if _, err := tx.ExecContext(ctx, query, userID, n.DayID, n.NoteText, n.UpdatedAt.UTC()); err != nil {
				return fmt.Errorf("failed to import note: %w", err)
			}
		}
		for _, sd := range skipped {
			if _, err := insertIgnore(ctx, tx, "skipped_days", []string{"user_id", "day_id", "skipped_at"}, userID, sd.DayID, sd.SkippedAt.UTC()); err != nil {
				return err
			}
		}
		return upsertStats(ctx, tx, userID, s)
	})
}

func insertIgnore(ctx context.Context, db database.DBTX, table string, columns []string, args ...interface{}) (bool, error) {
	result, err := db.ExecContext(ctx, db.GetDialect().InsertIgnore(table, columns), args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

func deleteRow(ctx context.Context, db database.DBTX, query string, args ...interface{}) (bool, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

func upsertStats(ctx context.Context, db database.DBTX, userID string, s models.UserStats) error {
	query := db.GetDialect().Upsert("user_stats",
		[]string{"user_id", "current_streak", "max_streak", "total_tasks_completed", "last_activity_date", "updated_at"},
		[]string{"user_id"},
		[]string{"current_streak", "max_streak", "total_tasks_completed", "last_activity_date", "updated_at"})

	var last sql.NullTime
	if s.LastActivityDate != nil {
		last = sql.NullTime{Time: s.LastActivityDate.UTC(), Valid: true}
	}
	_, err := db.ExecContext(ctx, query, userID, s.CurrentStreak, s.MaxStreak, s.TotalTasksCompleted, last, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}

func deleteAll(ctx context.Context, db database.DBTX, userID string) error {
	for _, table := range []string{"completed_tasks", "user_notes", "skipped_days", "user_stats"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
