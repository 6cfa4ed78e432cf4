// Package notify carries the user-facing toasts produced when a mutation
// settles.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"agencycrm/internal/models"
	"agencycrm/internal/utils/logger"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Notification is one toast.
type Notification struct {
	ID        string           `json:"id"`
	Level     Level            `json:"level"`
	Message   string           `json:"message"`
	Resource  string           `json:"resource,omitempty"`
	EntityID  string           `json:"entityId,omitempty"`
	Operation models.Operation `json:"operation,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Notifier receives toasts. Implementations must not block for long; they run
// on the goroutine that settled the mutation.
type Notifier interface {
	Notify(n Notification)
}

// New fills in the id and timestamp of a toast.
func New(level Level, message string) Notification {
	return Notification{
		ID:        uuid.New().String(),
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// Center buffers toasts until the dashboard drains them. When the buffer is
// full the oldest toast is dropped.
type Center struct {
	mu      sync.Mutex
	pending []Notification
	limit   int
}

func NewCenter(limit int) *Center {
	if limit <= 0 {
		limit = 100
	}
	return &Center{limit: limit}
}

func (c *Center) Notify(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= c.limit {
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, n)
}

// Drain returns and clears every pending toast, oldest first.
func (c *Center) Drain() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Pending returns a copy of the buffered toasts without clearing them.
func (c *Center) Pending() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.pending))
	copy(out, c.pending)
	return out
}

// Log writes every toast to the console.
type Log struct {
	log *logger.Logger
}

func NewLog(l *logger.Logger) *Log {
	return &Log{log: l}
}

func (l *Log) Notify(n Notification) {
	switch n.Level {
	case LevelSuccess:
		l.log.Success("[toast] %s", n.Message)
	case LevelError:
		l.log.Warn("[toast] %s", n.Message)
	default:
		l.log.Info("[toast] %s", n.Message)
	}
}

// Fanout forwards each toast to every notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(n Notification) {
	for _, target := range f {
		if target != nil {
			target.Notify(n)
		}
	}
}
