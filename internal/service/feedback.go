package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// NotificationKind selects how a notification is presented.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
	NotifyWarning NotificationKind = "warning"
	NotifyInfo    NotificationKind = "info"
	NotifyAuth    NotificationKind = "auth"
)

const (
	defaultNotificationDuration = 3 * time.Second
	authNotificationDuration    = 4 * time.Second
)

// Notification is one user-facing message.
type Notification struct {
	ID        int64
	Kind      NotificationKind
	Message   string
	Duration  time.Duration
	CreatedAt time.Time
}

// Expired reports whether the notification should no longer be shown at now.
func (n Notification) Expired(now time.Time) bool {
	return n.Duration > 0 && !now.Before(n.CreatedAt.Add(n.Duration))
}

// Notifier is the sink for user-facing messages.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// DefaultDuration is how long a kind stays visible when no duration is given.
func DefaultDuration(kind NotificationKind) time.Duration {
	if kind == NotifyAuth {
		return authNotificationDuration
	}
	return defaultNotificationDuration
}

// Feed keeps notifications in memory for a presentation layer to poll.
type Feed struct {
	mu     sync.Mutex
	nextID int64
	items  []Notification
	now    func() time.Time
}

func NewFeed() *Feed {
	return &Feed{now: time.Now}
}

func (f *Feed) Notify(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	n.ID = f.nextID
	if n.Duration == 0 {
		n.Duration = DefaultDuration(n.Kind)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = f.now()
	}
	f.items = append(f.items, n)
}

// Remove drops the notification with id. Unknown ids are ignored.
func (f *Feed) Remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.items {
		if n.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return
		}
	}
}

// Active prunes expired notifications and returns the rest.
func (f *Feed) Active() []Notification {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.items[:0]
	for _, n := range f.items {
		if !n.Expired(now) {
			kept = append(kept, n)
		}
	}
	f.items = kept
	out := make([]Notification, len(kept))
	copy(out, kept)
	return out
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	level := slog.LevelInfo
	switch n.Kind {
	case NotifyError:
		level = slog.LevelError
	case NotifyWarning, NotifyAuth:
		level = slog.LevelWarn
	}
	l.Logger.Log(context.Background(), level, n.Message, "kind", string(n.Kind))
}

// MultiNotifier fans a notification out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n Notification) {
	for _, sink := range m {
		if sink != nil {
			sink.Notify(n)
		}
	}
}
