package service

import (
	"context"
	"sync"
	"time"

	"dsaroadmap/internal/models"
	"dsaroadmap/internal/stats"
)

type noteWrite struct {
	userID, dayID, text string
}

// memStore is an in-memory ProgressStore with failure injection.
type memStore struct {
	mu sync.Mutex

	tasks   map[string]map[string]time.Time
	notes   map[string]map[string]string
	skipped map[string]map[string]time.Time
	stats   map[string]models.UserStats

	noteWrites []noteWrite
	loads      int
	taskCalls  int

	failSetTask error
	failSetSkip error
	failSetNote error
	failLoad    error
	noRecompute bool
	loadHook    func(userID string)
	noteHook    func(dayID, text string)

	now func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		tasks:   map[string]map[string]time.Time{},
		notes:   map[string]map[string]string{},
		skipped: map[string]map[string]time.Time{},
		stats:   map[string]models.UserStats{},
		now:     now,
	}
}

func (m *memStore) seedTask(userID, taskID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks[userID] == nil {
		m.tasks[userID] = map[string]time.Time{}
	}
	m.tasks[userID][taskID] = at
}

func (m *memStore) set(fn func(m *memStore)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *memStore) writes() []noteWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]noteWrite(nil), m.noteWrites...)
}

func (m *memStore) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

func (m *memStore) LoadAll(ctx context.Context, userID string) (models.UserProgress, error) {
	if userID == "" {
		return models.UserProgress{}, notAuthenticated()
	}
	m.mu.Lock()
	hook := m.loadHook
	m.mu.Unlock()
	if hook != nil {
		hook(userID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.failLoad != nil {
		return models.UserProgress{}, m.failLoad
	}
	p := models.EmptyProgress()
	for k, v := range m.tasks[userID] {
		p.CompletedTasks[k] = v
	}
	for k, v := range m.notes[userID] {
		p.Notes[k] = v
	}
	for k, v := range m.skipped[userID] {
		p.SkippedDays[k] = v
	}
	p.Stats = m.stats[userID]
	return p, nil
}

func (m *memStore) SetTaskCompletion(ctx context.Context, userID, taskID string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskCalls++
	if m.failSetTask != nil {
		return m.failSetTask
	}
	if m.tasks[userID] == nil {
		m.tasks[userID] = map[string]time.Time{}
	}
	_, present := m.tasks[userID][taskID]
	if present == completed {
		return &StoreError{Kind: KindNotFound, Message: "task already in requested state"}
	}
	if completed {
		m.tasks[userID][taskID] = m.now()
	} else {
		delete(m.tasks[userID], taskID)
	}
	return nil
}

func (m *memStore) SetNote(ctx context.Context, userID, dayID, text string) error {
	m.mu.Lock()
	hook := m.noteHook
	m.mu.Unlock()
	if hook != nil {
		hook(dayID, text)
	}

	if err := ctx.Err(); err != nil {
		return &StoreError{Kind: KindStoreUnavailable, Message: "Failed to save note", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSetNote != nil {
		return m.failSetNote
	}
	if m.notes[userID] == nil {
		m.notes[userID] = map[string]string{}
	}
	m.notes[userID][dayID] = text
	m.noteWrites = append(m.noteWrites, noteWrite{userID, dayID, text})
	return nil
}

func (m *memStore) SetSkipped(ctx context.Context, userID, dayID string, skipped bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSetSkip != nil {
		return m.failSetSkip
	}
	if m.skipped[userID] == nil {
		m.skipped[userID] = map[string]time.Time{}
	}
	_, present := m.skipped[userID][dayID]
	if present == skipped {
		return &StoreError{Kind: KindNotFound, Message: "day already in requested state"}
	}
	if skipped {
		m.skipped[userID][dayID] = m.now()
	} else {
		delete(m.skipped[userID], dayID)
	}
	return nil
}

func (m *memStore) RecomputeStreaks(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.noRecompute {
		return &StoreError{Kind: KindUnknown, Message: "recompute not supported"}
	}
	m.stats[userID] = stats.RecomputeCache(m.tasks[userID], m.now())
	return nil
}

func (m *memStore) Stats(ctx context.Context, userID string) (models.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.noRecompute {
		return models.UserStats{}, &StoreError{Kind: KindUnknown, Message: "stats not supported"}
	}
	return m.stats[userID], nil
}

func (m *memStore) Reset(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, userID)
	delete(m.notes, userID)
	delete(m.skipped, userID)
	delete(m.stats, userID)
	return nil
}
