// Package curriculum holds the static Week -> Day -> Task tree that every
// progress percentage is measured against.
package curriculum

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrEmpty     = errors.New("curriculum has no weeks")
	ErrMalformed = errors.New("malformed curriculum")
)

// Task is a single unit of work. DayID is stamped by New and never read from input.
type Task struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	DayID string `json:"-"`
}

// Day groups tasks. Number is the day's position in the whole roadmap (1-based).
type Day struct {
	Week   int    `json:"-"`
	Number int    `json:"day"`
	Title  string `json:"title"`
	Tasks  []Task `json:"tasks"`
}

// ID returns the day identity, e.g. "week2d9".
func (d Day) ID() string {
	return DayID(d.Week, d.Number)
}

// TaskIDs returns the identities of the day's tasks in display order.
func (d Day) TaskIDs() []string {
	ids := make([]string, len(d.Tasks))
	for i, t := range d.Tasks {
		ids[i] = t.ID
	}
	return ids
}

type Week struct {
	Number int    `json:"week"`
	Title  string `json:"title"`
	Days   []Day  `json:"days"`
}

// Curriculum is immutable once built. A nil *Curriculum behaves as an empty one.
type Curriculum struct {
	weeks      []Week
	days       map[string]*Day
	byNumber   map[int]string
	taskToDay  map[string]string
	totalTasks int
	totalDays  int
}

// DayID derives the identity of a day from its week and day number.
func DayID(week, day int) string {
	return fmt.Sprintf("week%dd%d", week, day)
}

// New validates weeks and builds the lookup indexes.
func New(weeks []Week) (*Curriculum, error) {
	if len(weeks) == 0 {
		return nil, ErrEmpty
	}

	c := &Curriculum{
		weeks:     make([]Week, len(weeks)),
		days:      make(map[string]*Day),
		byNumber:  make(map[int]string),
		taskToDay: make(map[string]string),
	}
	seenWeeks := make(map[int]bool)
	seenDays := make(map[string]bool)

	for wi, w := range weeks {
		if w.Number <= 0 {
			return nil, fmt.Errorf("%w: week %d has non-positive number %d", ErrMalformed, wi, w.Number)
		}
		if seenWeeks[w.Number] {
			return nil, fmt.Errorf("%w: duplicate week %d", ErrMalformed, w.Number)
		}
		seenWeeks[w.Number] = true

		week := Week{Number: w.Number, Title: w.Title, Days: make([]Day, len(w.Days))}
		for di, d := range w.Days {
			day := Day{Week: w.Number, Number: d.Number, Title: d.Title, Tasks: make([]Task, len(d.Tasks))}
			if day.Number <= 0 {
				return nil, fmt.Errorf("%w: week %d day %d has non-positive number", ErrMalformed, w.Number, di)
			}
			dayID := day.ID()
			if seenDays[dayID] {
				return nil, fmt.Errorf("%w: duplicate day %s", ErrMalformed, dayID)
			}
			seenDays[dayID] = true
			for ti, t := range d.Tasks {
				if t.ID == "" {
					return nil, fmt.Errorf("%w: %s task %d has no id", ErrMalformed, dayID, ti)
				}
				if owner, dup := c.taskToDay[t.ID]; dup {
					return nil, fmt.Errorf("%w: task %s appears in %s and %s", ErrMalformed, t.ID, owner, dayID)
				}
				day.Tasks[ti] = Task{ID: t.ID, Title: t.Title, DayID: dayID}
				c.taskToDay[t.ID] = dayID
			}
			week.Days[di] = day
			c.totalTasks += len(day.Tasks)
		}
		c.totalDays += len(week.Days)
		c.weeks[wi] = week
	}

	for wi := range c.weeks {
		for di := range c.weeks[wi].Days {
			day := &c.weeks[wi].Days[di]
			c.days[day.ID()] = day
			// day numbers restart per week in some roadmaps; "" marks an ambiguous number
			if _, dup := c.byNumber[day.Number]; dup {
				c.byNumber[day.Number] = ""
			} else {
				c.byNumber[day.Number] = day.ID()
			}
		}
	}

	return c, nil
}

type document struct {
	Weeks []Week `json:"weeks"`
}

// Load decodes a {"weeks": [...]} document.
func Load(r io.Reader) (*Curriculum, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return New(doc.Weeks)
}

// LoadFile reads a curriculum document from disk.
func LoadFile(path string) (*Curriculum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open curriculum: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Valid reports whether the curriculum has at least one week.
func (c *Curriculum) Valid() bool {
	return c != nil && len(c.weeks) > 0
}

// Weeks returns a copy of the week list.
func (c *Curriculum) Weeks() []Week {
	if c == nil {
		return nil
	}
	out := make([]Week, len(c.weeks))
	copy(out, c.weeks)
	return out
}

func (c *Curriculum) TotalTasks() int {
	if c == nil {
		return 0
	}
	return c.totalTasks
}

func (c *Curriculum) TotalDays() int {
	if c == nil {
		return 0
	}
	return c.totalDays
}

// Day looks up a day by identity.
func (c *Curriculum) Day(dayID string) (Day, bool) {
	if c == nil {
		return Day{}, false
	}
	d, ok := c.days[dayID]
	if !ok {
		return Day{}, false
	}
	return *d, true
}

// DayTasks returns the ordered task identities of a day.
func (c *Curriculum) DayTasks(dayID string) ([]string, bool) {
	d, ok := c.Day(dayID)
	if !ok {
		return nil, false
	}
	return d.TaskIDs(), true
}

// TaskDay returns the day a task belongs to.
func (c *Curriculum) TaskDay(taskID string) (Day, bool) {
	if c == nil {
		return Day{}, false
	}
	dayID, ok := c.taskToDay[taskID]
	if !ok {
		return Day{}, false
	}
	return c.Day(dayID)
}

// DayByNumber finds the day carrying number n. It fails when no day or more
// than one day (in different weeks) has that number.
func (c *Curriculum) DayByNumber(n int) (Day, bool) {
	if c == nil {
		return Day{}, false
	}
	dayID := c.byNumber[n]
	if dayID == "" {
		return Day{}, false
	}
	return c.Day(dayID)
}

func (c *Curriculum) HasTask(taskID string) bool {
	if c == nil {
		return false
	}
	_, ok := c.taskToDay[taskID]
	return ok
}

func (c *Curriculum) HasDay(dayID string) bool {
	if c == nil {
		return false
	}
	_, ok := c.days[dayID]
	return ok
}
