package stats

import (
	"math"
	"regexp"
	"strconv"
	"time"

	"dsaroadmap/internal/curriculum"
	"dsaroadmap/internal/models"
)

// Summary is everything the dashboard shows.
type Summary struct {
	TotalTasks           int
	CompletedCount       int
	CompletionPercentage int
	CurrentStreak        int
	MaxStreak            int
	ReadinessScore       int
	CompletedDays        int
	TotalDays            int
}

// legacyDayPattern matches task ids that embed their day number, e.g. "d12t3".
var legacyDayPattern = regexp.MustCompile(`^d(\d+)`)

// Calculate derives the summary. A missing or empty curriculum yields a zero Summary.
func Calculate(cur *curriculum.Curriculum, progress models.UserProgress, now time.Time) Summary {
	if !cur.Valid() {
		return Summary{}
	}

	totalTasks := cur.TotalTasks()
	totalDays := cur.TotalDays()
	completedCount := len(progress.CompletedTasks)
	streak := CalendarStreak(progress.CompletedTasks, now)
	completedDays := CompletedDays(cur, progress.CompletedTasks)

	return Summary{
		TotalTasks:           totalTasks,
		CompletedCount:       completedCount,
		CompletionPercentage: percent(completedCount, totalTasks),
		CurrentStreak:        streak.Current,
		MaxStreak:            streak.Max,
		ReadinessScore:       percent(completedDays, totalDays),
		CompletedDays:        completedDays,
		TotalDays:            totalDays,
	}
}

// CompletedDays counts the distinct days touched by at least one completed task.
// Days are told apart by their identity, so a roadmap that restarts day
// numbers every week still counts each day once. The owning day comes from
// the curriculum; ids the curriculum does not know fall back to the "d<N>"
// prefix, and anything else is skipped.
func CompletedDays(cur *curriculum.Curriculum, completed map[string]time.Time) int {
	days := make(map[string]struct{})
	for taskID := range completed {
		if day, ok := cur.TaskDay(taskID); ok {
			days[day.ID()] = struct{}{}
			continue
		}
		match := legacyDayPattern.FindStringSubmatch(taskID)
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if day, ok := cur.DayByNumber(n); ok {
			days[day.ID()] = struct{}{}
		} else {
			days["d"+strconv.Itoa(n)] = struct{}{}
		}
	}
	return len(days)
}

// IsDayCompleted reports whether every task of day is completed. A day with no tasks is complete.
func IsDayCompleted(day curriculum.Day, completed map[string]time.Time) bool {
	for _, task := range day.Tasks {
		if _, ok := completed[task.ID]; !ok {
			return false
		}
	}
	return true
}

// RecomputeCache rebuilds the cached stats row from the completion map.
func RecomputeCache(completed map[string]time.Time, now time.Time) models.UserStats {
	streak := CalendarStreak(completed, now)
	out := models.UserStats{
		CurrentStreak:       streak.Current,
		MaxStreak:           streak.Max,
		TotalTasksCompleted: len(completed),
	}
	for _, ts := range completed {
		if out.LastActivityDate == nil || ts.After(*out.LastActivityDate) {
			last := ts
			out.LastActivityDate = &last
		}
	}
	return out
}

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}
