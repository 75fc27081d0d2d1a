// Package events provides the notification bus shared by the policy store,
// the safety interlocks, and the orchestrator. Subscribers are registered
// explicitly so fan-out is enumerable and testable.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind identifies a category of event on the bus.
type Kind string

const (
	// KindPolicyChanged fires when a policy setting changes value.
	KindPolicyChanged Kind = "policy_changed"

	// KindSafeModeChanged fires on safe-mode activation or deactivation.
	KindSafeModeChanged Kind = "safe_mode_changed"

	// KindHalt fires when the emergency stop or a blocking condition
	// halts the workflow. Subscribers must stop dispatching new work.
	KindHalt Kind = "halt"

	// KindResume fires when the emergency stop is cleared.
	KindResume Kind = "resume"
)

// Event carries a single notification. Old and New are set for
// KindPolicyChanged; Reason is set for halt/resume and safe-mode events.
type Event struct {
	Kind   Kind
	Key    string
	Old    any
	New    any
	Reason string
	Time   time.Time
}

// Handler receives events synchronously, in subscription order.
// Handlers must not block; long work belongs in the subscriber's own goroutine.
type Handler func(Event)

// Bus is a process-wide notification fan-out.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]Handler
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[Kind][]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for the given kind.
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], handler)
}

// Publish delivers the event to every subscriber of its kind.
// Events with a zero Time are stamped at publish.
func (b *Bus) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	b.mu.RLock()
	handlers := b.subs[evt.Kind]
	b.mu.RUnlock()

	b.logger.Debug("publishing event",
		zap.String("kind", string(evt.Kind)),
		zap.String("key", evt.Key),
		zap.Int("subscribers", len(handlers)),
	)

	for _, h := range handlers {
		h(evt)
	}
}

// SubscriberCount returns the number of handlers for a kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}
