package safety

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/events"
)

// SafeMode restricts which actions may execute and which require
// confirmation. Restriction effects reach the orchestrator and gate
// pipeline through the notification bus, the same path as policy changes,
// so nothing mutates another component's state directly.
type SafeMode struct {
	mu           sync.RWMutex
	active       bool
	startTime    time.Time
	restrictions map[string]Effect

	bus    *events.Bus
	logger *zap.Logger
}

// NewSafeMode creates an inactive safe mode control.
func NewSafeMode(bus *events.Bus, logger *zap.Logger) *SafeMode {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &SafeMode{
		bus:    bus,
		logger: logger.Named("safemode"),
	}
}

// Activate enables safe mode with the given restriction names, or the
// default set when names is empty. Unknown names take the confirm-mutations
// effect. Fails with ErrAlreadyActive when already active.
func (m *SafeMode) Activate(names []string) error {
	restrictions := make(map[string]Effect)
	if len(names) == 0 {
		restrictions = DefaultRestrictions()
	} else {
		defaults := DefaultRestrictions()
		for _, name := range names {
			effect, ok := defaults[name]
			if !ok {
				effect = EffectConfirmMutations
			}
			restrictions[name] = effect
		}
	}

	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	m.active = true
	m.startTime = time.Now()
	m.restrictions = restrictions
	m.mu.Unlock()

	m.logger.Warn("safe mode activated", zap.Int("restrictions", len(restrictions)))
	m.bus.Publish(events.Event{
		Kind:   events.KindSafeModeChanged,
		New:    true,
		Reason: "safe mode activated",
	})
	return nil
}

// Deactivate reverses every applied restriction and clears state.
// Fails with ErrNotActive when inactive.
func (m *SafeMode) Deactivate() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return ErrNotActive
	}
	duration := time.Since(m.startTime)
	m.active = false
	m.startTime = time.Time{}
	m.restrictions = nil
	m.mu.Unlock()

	m.logger.Info("safe mode deactivated", zap.Duration("active_for", duration))
	m.bus.Publish(events.Event{
		Kind:   events.KindSafeModeChanged,
		New:    false,
		Reason: "safe mode deactivated",
	})
	return nil
}

// IsAllowed reports whether action may execute. While inactive everything
// is allowed; while active only the fixed allow-list is.
func (m *SafeMode) IsAllowed(action Action) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.active {
		return true
	}
	return safeModeAllowed[action]
}

// RequiresConfirmation reports whether action needs explicit confirmation.
// Only mutating actions do, and only while safe mode is active.
func (m *SafeMode) RequiresConfirmation(action Action) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.active {
		return false
	}
	return mutatingActions[action]
}

// Active reports whether safe mode is engaged.
func (m *SafeMode) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Status returns an introspection snapshot.
func (m *SafeMode) Status() SafeModeStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := SafeModeStatus{Active: m.active}
	if m.active {
		status.StartTime = m.startTime
		status.Duration = time.Since(m.startTime)
		status.Restrictions = make(map[string]Effect, len(m.restrictions))
		for k, v := range m.restrictions {
			status.Restrictions[k] = v
		}
	}
	return status
}
