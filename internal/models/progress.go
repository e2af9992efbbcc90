package models

import (
	"maps"
	"time"
)

// UserStats is the cached aggregate row. It is derived from CompletedTasks and
// can always be recomputed.
type UserStats struct {
	CurrentStreak       int
	MaxStreak           int
	TotalTasksCompleted int
	LastActivityDate    *time.Time
}

// UserProgress is one user's mutable progress snapshot.
type UserProgress struct {
	// task id -> completion time; presence means completed
	CompletedTasks map[string]time.Time
	// day id -> note text
	Notes map[string]string
	// day id -> skip time; presence means skipped
	SkippedDays map[string]time.Time
	Stats       UserStats
	StartDate   time.Time
}

// EmptyProgress is the placeholder used while nobody is signed in.
func EmptyProgress() UserProgress {
	return UserProgress{
		CompletedTasks: map[string]time.Time{},
		Notes:          map[string]string{},
		SkippedDays:    map[string]time.Time{},
		StartDate:      time.Now().UTC(),
	}
}

// Clone returns a deep copy so callers can read it without holding locks.
func (p UserProgress) Clone() UserProgress {
	out := p
	out.CompletedTasks = maps.Clone(p.CompletedTasks)
	out.Notes = maps.Clone(p.Notes)
	out.SkippedDays = maps.Clone(p.SkippedDays)
	if out.CompletedTasks == nil {
		out.CompletedTasks = map[string]time.Time{}
	}
	if out.Notes == nil {
		out.Notes = map[string]string{}
	}
	if out.SkippedDays == nil {
		out.SkippedDays = map[string]time.Time{}
	}
	if p.Stats.LastActivityDate != nil {
		last := *p.Stats.LastActivityDate
		out.Stats.LastActivityDate = &last
	}
	return out
}

// IsTaskCompleted reports whether taskID has a completion record
func (p UserProgress) IsTaskCompleted(taskID string) bool {
	_, ok := p.CompletedTasks[taskID]
	return ok
}

// IsDaySkipped reports whether dayID has a skip record
func (p UserProgress) IsDaySkipped(dayID string) bool {
	_, ok := p.SkippedDays[dayID]
	return ok
}

// CompletedTask is a completed_tasks row
type CompletedTask struct {
	UserID      string
	TaskID      string
	CompletedAt time.Time
}

// DayNote is a user_notes row
type DayNote struct {
	UserID    string
	DayID     string
	NoteText  string
	UpdatedAt time.Time
}

// SkippedDay is a skipped_days row
type SkippedDay struct {
	UserID    string
	DayID     string
	SkippedAt time.Time
}
