// Package stats derives streaks, percentages and activity histograms from a
// progress snapshot. Every function is pure: the current time is an argument
// and nothing here mutates its inputs or returns an error.
package stats

import (
	"sort"
	"time"
)

// Streak holds the current and longest run of consecutive active days.
type Streak struct {
	Current int
	Max     int
}

// dayIndex maps t to a day count in loc, independent of DST shifts.
func dayIndex(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// activeDays returns the distinct calendar days of the timestamps, ascending.
func activeDays(completed map[string]time.Time, loc *time.Location) []int64 {
	seen := make(map[int64]struct{}, len(completed))
	for _, ts := range completed {
		seen[dayIndex(ts, loc)] = struct{}{}
	}
	days := make([]int64, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// CalendarStreak computes streaks over the calendar days (in now's location)
// on which at least one task was completed. The current streak is alive only
// when the latest active day is today or yesterday.
func CalendarStreak(completed map[string]time.Time, now time.Time) Streak {
	if len(completed) == 0 {
		return Streak{}
	}

	days := activeDays(completed, now.Location())
	today := dayIndex(now, now.Location())
	last := len(days) - 1

	current := 0
	if today-days[last] <= 1 {
		current = 1
		for i := last; i > 0 && days[i]-days[i-1] == 1; i-- {
			current++
		}
	}

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i]-days[i-1] == 1 {
			run++
			longest = max(longest, run)
		} else {
			run = 1
		}
	}

	return Streak{Current: current, Max: max(longest, current)}
}
