package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"infinite-experiment/tourdesk/internal/logging"
)

// Level is the severity of a user-visible notification
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const (
	notifierBuffer = 32
	recentLimit    = 50
)

// Notification is a transient message shown to dashboard users
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	EntityID  string    `json:"entity_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier fans notifications out to live clients and keeps the most recent ones
type Notifier struct {
	mu     sync.RWMutex
	subs   map[int]chan Notification
	nextID int
	recent []Notification

	// OnNotify is called for every notification, used for metrics
	OnNotify func(level string)
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Notification)}
}

// Notify stamps and broadcasts n. Slow subscribers miss notifications rather
// than block the caller.
func (n *Notifier) Notify(note Notification) Notification {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	fields := []interface{}{"level", note.Level, "kind", note.Kind, "entity_id", note.EntityID, "detail", note.Detail}
	switch note.Level {
	case LevelError:
		logging.Error(note.Message, fields...)
	case LevelWarning:
		logging.Warn(note.Message, fields...)
	default:
		logging.Info(note.Message, fields...)
	}

	n.mu.Lock()
	n.recent = append(n.recent, note)
	if len(n.recent) > recentLimit {
		n.recent = n.recent[len(n.recent)-recentLimit:]
	}
	for _, ch := range n.subs {
		select {
		case ch <- note:
		default:
		}
	}
	n.mu.Unlock()

	if n.OnNotify != nil {
		n.OnNotify(string(note.Level))
	}
	return note
}

func (n *Notifier) Info(kind, message, detail string) Notification {
	return n.Notify(Notification{Level: LevelInfo, Kind: kind, Message: message, Detail: detail})
}

func (n *Notifier) Warning(kind, message, detail string) Notification {
	return n.Notify(Notification{Level: LevelWarning, Kind: kind, Message: message, Detail: detail})
}

func (n *Notifier) Error(kind, message, detail string) Notification {
	return n.Notify(Notification{Level: LevelError, Kind: kind, Message: message, Detail: detail})
}

// Subscribe returns a feed of new notifications and the func that ends it
func (n *Notifier) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, notifierBuffer)

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns the retained notifications, oldest first
func (n *Notifier) Recent() []Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Notification(nil), n.recent...)
}
