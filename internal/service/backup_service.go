package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"dsaroadmap/internal/models"
	"dsaroadmap/internal/repository"
)

const backupVersion = "1.0"

// ErrUnknownUser is returned when exporting a user that does not exist
var ErrUnknownUser = errors.New("user not found")

// BackupData represents a backup of one or more users
type BackupData struct {
	Version      string       `json:"version"`
	ExportedAt   time.Time    `json:"exported_at"`
	DatabaseType string       `json:"database_type"`
	Users        []UserBackup `json:"users"`
}

// UserBackup is an account together with all of its progress
type UserBackup struct {
	ID             string                `json:"id"`
	Username       string                `json:"username"`
	Email          string                `json:"email"`
	PasswordHash   string                `json:"password_hash,omitempty"`
	EmailVerified  bool                  `json:"email_verified"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	CompletedTasks []CompletedTaskBackup `json:"completed_tasks"`
	Notes          []NoteBackup          `json:"notes"`
	SkippedDays    []SkippedDayBackup    `json:"skipped_days"`
	Stats          StatsBackup           `json:"stats"`
}

type CompletedTaskBackup struct {
	TaskID      string    `json:"task_id"`
	CompletedAt time.Time `json:"completed_at"`
}

type NoteBackup struct {
	DayID     string    `json:"day_id"`
	NoteText  string    `json:"note_text"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SkippedDayBackup struct {
	DayID     string    `json:"day_id"`
	SkippedAt time.Time `json:"skipped_at"`
}

type StatsBackup struct {
	CurrentStreak       int        `json:"current_streak"`
	MaxStreak           int        `json:"max_streak"`
	TotalTasksCompleted int        `json:"total_tasks_completed"`
	LastActivityDate    *time.Time `json:"last_activity_date"`
}

// BackupService exports and imports users and their progress as JSON
type BackupService struct {
	users    *repository.UserRepository
	progress *repository.ProgressRepository
	logger   *slog.Logger
}

func NewBackupService(users *repository.UserRepository, progress *repository.ProgressRepository, logger *slog.Logger) *BackupService {
	return &BackupService{users: users, progress: progress, logger: logger}
}

// Export writes every user with their progress, including password hashes
func (s *BackupService) Export(ctx context.Context, w io.Writer) error {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to export users: %w", err)
	}

	backup := s.newBackup()
	for _, u := range users {
		ub, err := s.exportUser(ctx, u, true)
		if err != nil {
			return err
		}
		backup.Users = append(backup.Users, ub)
	}

	if err := encodeBackup(w, backup); err != nil {
		return err
	}
	s.logger.Info("database exported", "users", len(backup.Users))
	return nil
}

// ExportUser writes one user's progress. The password hash is left out.
func (s *BackupService) ExportUser(ctx context.Context, userID string, w io.Writer) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUnknownUser
	}

	ub, err := s.exportUser(ctx, *user, false)
	if err != nil {
		return err
	}
	backup := s.newBackup()
	backup.Users = []UserBackup{ub}
	if err := encodeBackup(w, backup); err != nil {
		return err
	}
	s.logger.Info("user exported", "user_id", userID, "completed_tasks", len(ub.CompletedTasks))
	return nil
}

// Import restores a full backup. Users that already exist keep their
// account row; their progress is replaced by the backup's.
func (s *BackupService) Import(ctx context.Context, r io.Reader) error {
	backup, err := decodeBackup(r)
	if err != nil {
		return err
	}
	s.logger.Info("importing backup", "version", backup.Version, "exported_at", backup.ExportedAt, "users", len(backup.Users))

	for _, ub := range backup.Users {
		if ub.ID == "" || ub.PasswordHash == "" {
			return fmt.Errorf("failed to import user %q: backup has no account data", ub.Email)
		}
		created, err := s.users.RestoreUser(ctx, models.User{
			ID:            ub.ID,
			Username:      ub.Username,
			Email:         ub.Email,
			PasswordHash:  ub.PasswordHash,
			EmailVerified: ub.EmailVerified,
			CreatedAt:     ub.CreatedAt,
			UpdatedAt:     ub.UpdatedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to import user %s: %w", ub.ID, err)
		}
		if !created {
			s.logger.Info("user already present, replacing progress only", "user_id", ub.ID)
		}
		if err := s.replaceProgress(ctx, ub.ID, ub); err != nil {
			return err
		}
	}
	return nil
}

// ImportUser replaces userID's progress with the first user in the backup
func (s *BackupService) ImportUser(ctx context.Context, userID string, r io.Reader) error {
	backup, err := decodeBackup(r)
	if err != nil {
		return err
	}
	if len(backup.Users) == 0 {
		return errors.New("backup contains no users")
	}
	if err := s.replaceProgress(ctx, userID, backup.Users[0]); err != nil {
		return err
	}
	s.logger.Info("user imported", "user_id", userID, "completed_tasks", len(backup.Users[0].CompletedTasks))
	return nil
}

func (s *BackupService) newBackup() *BackupData {
	return &BackupData{
		Version:      backupVersion,
		ExportedAt:   time.Now().UTC(),
		DatabaseType: s.progress.DB().Dialect.Name(),
	}
}

func (s *BackupService) exportUser(ctx context.Context, u models.User, withHash bool) (UserBackup, error) {
	ub := UserBackup{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		EmailVerified:  u.EmailVerified,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
		CompletedTasks: []CompletedTaskBackup{},
		Notes:          []NoteBackup{},
		SkippedDays:    []SkippedDayBackup{},
	}
	if withHash {
		ub.PasswordHash = u.PasswordHash
	}

	tasks, err := s.progress.ListCompletedTasks(ctx, u.ID)
	if err != nil {
		return ub, fmt.Errorf("failed to export completed tasks: %w", err)
	}
	for _, t := range tasks {
		ub.CompletedTasks = append(ub.CompletedTasks, CompletedTaskBackup{TaskID: t.TaskID, CompletedAt: t.CompletedAt})
	}

	notes, err := s.progress.ListNotes(ctx, u.ID)
	if err != nil {
		return ub, fmt.Errorf("failed to export notes: %w", err)
	}
	for _, n := range notes {
		ub.Notes = append(ub.Notes, NoteBackup{DayID: n.DayID, NoteText: n.NoteText, UpdatedAt: n.UpdatedAt})
	}

	skipped, err := s.progress.ListSkippedDays(ctx, u.ID)
	if err != nil {
		return ub, fmt.Errorf("failed to export skipped days: %w", err)
	}
	for _, sd := range skipped {
		ub.SkippedDays = append(ub.SkippedDays, SkippedDayBackup{DayID: sd.DayID, SkippedAt: sd.SkippedAt})
	}

	cached, err := s.progress.GetStats(ctx, u.ID)
	if err != nil {
		return ub, fmt.Errorf("failed to export stats: %w", err)
	}
	if cached != nil {
		ub.Stats = StatsBackup{
			CurrentStreak:       cached.CurrentStreak,
			MaxStreak:           cached.MaxStreak,
			TotalTasksCompleted: cached.TotalTasksCompleted,
			LastActivityDate:    cached.LastActivityDate,
		}
	}
	return ub, nil
}

func (s *BackupService) replaceProgress(ctx context.Context, userID string, ub UserBackup) error {
	tasks := make([]models.CompletedTask, 0, len(ub.CompletedTasks))
	for _, t := range ub.CompletedTasks {
		tasks = append(tasks, models.CompletedTask{UserID: userID, TaskID: t.TaskID, CompletedAt: t.CompletedAt})
	}
	notes := make([]models.DayNote, 0, len(ub.Notes))
	for _, n := range ub.Notes {
		notes = append(notes, models.DayNote{UserID: userID, DayID: n.DayID, NoteText: n.NoteText, UpdatedAt: n.UpdatedAt})
	}
	skipped := make([]models.SkippedDay, 0, len(ub.SkippedDays))
	for _, sd := range ub.SkippedDays {
		skipped = append(skipped, models.SkippedDay{UserID: userID, DayID: sd.DayID, SkippedAt: sd.SkippedAt})
	}
	cached := models.UserStats{
		CurrentStreak:       ub.Stats.CurrentStreak,
		MaxStreak:           ub.Stats.MaxStreak,
		TotalTasksCompleted: ub.Stats.TotalTasksCompleted,
		LastActivityDate:    ub.Stats.LastActivityDate,
	}

	if err := s.progress.ReplaceUser(ctx, userID, tasks, notes, skipped, cached); err != nil {
		return fmt.Errorf("failed to import progress for %s: %w", userID, err)
	}
	return nil
}

func encodeBackup(w io.Writer, backup *BackupData) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	return nil
}

func decodeBackup(r io.Reader) (*BackupData, error) {
	var backup BackupData
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	return &backup, nil
}
