package integration

import (
	"log/slog"
	"slices"
	"time"
)

// EventType identifies what happened to an Integration.
type EventType string

const (
	EventStatusChanged EventType = "status_changed"
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventRetrying      EventType = "retrying"
	EventError         EventType = "error"
	EventOperation     EventType = "operation"
)

// Event is delivered synchronously to listeners. Listeners must not block and
// must not call back into the emitting Integration's Connect or Disconnect.
type Event struct {
	Type        EventType
	Integration string
	Time        time.Time

	// From and To are set for EventStatusChanged.
	From Status
	To   Status

	// Attempt and Delay are set for EventRetrying.
	Attempt int
	Delay   time.Duration

	// Duration is set for EventOperation and operation EventErrors.
	Duration time.Duration

	Err error
}

// Listener receives integration events.
type Listener func(Event)

type subscription struct {
	id uint64
	fn Listener
}

// On subscribes l to every event and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (i *Integration) On(l Listener) (unsubscribe func()) {
	i.listenersMu.Lock()
	id := i.nextListener
	i.nextListener++
	i.listeners = append(i.listeners, subscription{id: id, fn: l})
	i.listenersMu.Unlock()

	return func() {
		i.listenersMu.Lock()
		i.listeners = slices.DeleteFunc(i.listeners, func(s subscription) bool { return s.id == id })
		i.listenersMu.Unlock()
	}
}

func (i *Integration) emit(e Event) {
	e.Integration = i.name
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	i.listenersMu.RLock()
	subs := slices.Clone(i.listeners)
	i.listenersMu.RUnlock()

	for _, s := range subs {
		i.safeCall(s.fn, e)
	}
}

func (i *Integration) safeCall(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("integration listener panicked",
				slog.String("event", string(e.Type)),
				slog.Any("panic", r),
			)
		}
	}()
	l(e)
}
