// Package notification delivers non-blocking, user-visible status messages
// (the toast strip of the workbench, stderr lines of the CLI) and keeps a
// short history of them for display.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Levels
// ---------------------------------------------------------------------------

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

// Notification is a single message shown to the user.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier delivers notifications. Implementations must not block the
// caller on slow sinks.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// New builds a Notification with an id and timestamp.
func New(level Level, subject, title, message string) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Title:     title,
		Message:   message,
		Subject:   subject,
		CreatedAt: time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// LogNotifier
// ---------------------------------------------------------------------------

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n at a level matching its severity.
func (l *LogNotifier) Notify(_ context.Context, n Notification) {
	var evt *zerolog.Event
	switch n.Level {
	case LevelError:
		evt = l.logger.Error()
	case LevelWarning:
		evt = l.logger.Warn()
	default:
		evt = l.logger.Info()
	}
	evt.
		Str("notification_id", n.ID).
		Str("subject", n.Subject).
		Str("detail", n.Message).
		Msg(n.Title)
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

// DefaultHistory is the number of notifications a Recorder keeps.
const DefaultHistory = 50

// Recorder keeps the most recent notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

// NewRecorder creates a Recorder keeping up to limit notifications.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &Recorder{limit: limit}
}

// Notify stores n, dropping the oldest entry when full.
func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
}

// All returns a copy of the stored notifications, oldest first.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// For returns the stored notifications about subject.
func (r *Recorder) For(subject string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.items {
		if n.Subject == subject {
			out = append(out, n)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

// Multi delivers to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, target := range m {
		if target != nil {
			target.Notify(ctx, n)
		}
	}
}
