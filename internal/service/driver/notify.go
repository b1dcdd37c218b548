package driver

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Level classifies a notification for display.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a user-facing message produced by a run.
type Notification struct {
	ID             string    `json:"id"`
	Level          Level     `json:"level"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	ConversationID int64     `json:"conversationId,omitempty"`
	Turn           int       `json:"turn,omitempty"`
	At             time.Time `json:"at"`
}

// Notifier receives run notifications. Notify must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type multiNotifier []Notifier

func (m multiNotifier) Notify(n Notification) {
	for _, target := range m {
		target.Notify(n)
	}
}

// Multi fans a notification out to every non-nil notifier.
func Multi(notifiers ...Notifier) Notifier {
	var out multiNotifier
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.With(zap.String("component", "driver_notify"))}
}

func (l *LogNotifier) Notify(n Notification) {
	fields := []zap.Field{
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.Int64("conversation_id", n.ConversationID),
		zap.Int("turn", n.Turn),
	}
	if n.Level == LevelError {
		l.logger.Warn("run notification", fields...)
		return
	}
	l.logger.Info("run notification", fields...)
}

// Recorder keeps the most recent notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 50
	}
	return &Recorder{limit: limit}
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if over := len(r.items) - r.limit; over > 0 {
		r.items = append([]Notification(nil), r.items[over:]...)
	}
}

// List returns the retained notifications, oldest first.
func (r *Recorder) List() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification{}, r.items...)
}

func newNotification(level Level, title, message string) Notification {
	return Notification{
		ID:      uuid.NewString(),
		Level:   level,
		Title:   title,
		Message: message,
		At:      time.Now().UTC(),
	}
}
