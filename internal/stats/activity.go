package stats

import "time"

// DefaultActivityDays is the heatmap window.
const DefaultActivityDays = 90

const dateLayout = "2006-01-02"

// DayCount is one bucket of the activity histogram.
type DayCount struct {
	Date  string
	Count int
}

// ActivityData counts completions per calendar date over the trailing window
// ending today (inclusive). Every date in the window is present, zero-filled.
// Completions outside the window are ignored. days <= 0 means DefaultActivityDays.
func ActivityData(completed map[string]time.Time, now time.Time, days int) map[string]int {
	series := ActivitySeries(completed, now, days)
	out := make(map[string]int, len(series))
	for _, dc := range series {
		out[dc.Date] = dc.Count
	}
	return out
}

// ActivitySeries is ActivityData ordered oldest first.
func ActivitySeries(completed map[string]time.Time, now time.Time, days int) []DayCount {
	if days <= 0 {
		days = DefaultActivityDays
	}
	loc := now.Location()
	y, m, d := now.Date()
	start := time.Date(y, m, d-(days-1), 0, 0, 0, 0, loc)

	series := make([]DayCount, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		key := time.Date(start.Year(), start.Month(), start.Day()+i, 0, 0, 0, 0, loc).Format(dateLayout)
		series[i] = DayCount{Date: key}
		index[key] = i
	}

	for _, ts := range completed {
		if i, ok := index[ts.In(loc).Format(dateLayout)]; ok {
			series[i].Count++
		}
	}
	return series
}
