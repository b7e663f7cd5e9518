package annodb

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a database lifecycle change.
type EventType string

const (
	EventCreated  EventType = "database_created"
	EventImported EventType = "database_imported"
	EventUpdated  EventType = "database_updated"
	EventDeleted  EventType = "database_deleted"
	EventEnabled  EventType = "database_enabled"
	EventDisabled EventType = "database_disabled"
)

// Event is delivered to subscribers after the change is persisted.
type Event struct {
	Type       EventType
	DatabaseID string
	Name       string
	Records    int
	Time       time.Time
}

type eventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
	logger *zap.Logger
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]func(Event)), logger: zap.NewNop()}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (m *Manager) Subscribe(fn func(Event)) func() {
	h := m.events
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *eventHub) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.Lock()
	subs := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		h.notify(fn, e)
	}
}

// notify isolates listener panics so one bad subscriber cannot take down
// an import.
func (h *eventHub) notify(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("event listener panicked",
				zap.String("event", string(e.Type)),
				zap.Any("panic", r))
		}
	}()
	fn(e)
}
