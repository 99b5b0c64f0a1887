// Package notify delivers fire-and-forget user-facing notifications on task
// transitions. The Center keeps the active set with auto-dismissal; sinks
// fan each notification out to a destination (log, e-mail).
package notify

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/okjin/crawlwatch/internal/metrics"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
)

// DefaultDuration applies when a notification does not set its own.
// Sticky disables auto-dismissal.
const (
	DefaultDuration               = 5 * time.Second
	Sticky          time.Duration = -1
)

type Notification struct {
	ID        string        `json:"id"`
	Kind      Kind          `json:"kind"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
}

// Sink receives notifications. Delivery is fire-and-forget; a sink must not
// block and must not return delivery problems to the caller.
type Sink interface {
	Notify(n Notification)
}

// Center assigns ids, applies auto-dismissal, and fans out to sinks.
type Center struct {
	mu     sync.Mutex
	active map[string]Notification
	sinks  []Sink
}

func NewCenter(sinks ...Sink) *Center {
	return &Center{
		active: make(map[string]Notification),
		sinks:  sinks,
	}
}

// Notify registers the notification and dispatches it to every sink. The
// notification auto-dismisses after its duration; an unset duration selects
// the default, Sticky keeps it until removed explicitly.
func (c *Center) Notify(n Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Duration == 0 {
		n.Duration = DefaultDuration
	}

	c.mu.Lock()
	c.active[n.ID] = n
	c.mu.Unlock()

	metrics.RecordNotification(string(n.Kind))
	for _, s := range c.sinks {
		s.Notify(n)
	}

	if n.Duration > 0 {
		time.AfterFunc(n.Duration, func() {
			c.Remove(n.ID)
		})
	}
}

func (c *Center) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
}

// Active returns the not-yet-dismissed notifications.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Notification, 0, len(c.active))
	for _, n := range c.active {
		out = append(out, n)
	}
	return out
}

// LogSink writes notifications to the structured log.
type LogSink struct{}

func (LogSink) Notify(n Notification) {
	switch n.Kind {
	case KindError:
		log.Error(n.Title, "message", n.Message)
	case KindWarning:
		log.Warn(n.Title, "message", n.Message)
	default:
		log.Info(n.Title, "message", n.Message)
	}
}
