package safety

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/events"
)

// Interlocks bundles both safety controls behind a single proactive check.
// Components call Permit before executing an action rather than catching a
// violation after the fact, so a disallowed action never starts.
type Interlocks struct {
	SafeMode *SafeMode
	Stop     *EmergencyStop
}

// NewInterlocks wires both controls onto the shared bus.
func NewInterlocks(stateDir string, bus *events.Bus, logger *zap.Logger) *Interlocks {
	return &Interlocks{
		SafeMode: NewSafeMode(bus, logger),
		Stop:     NewEmergencyStop(stateDir, nil, bus, logger),
	}
}

// Permit returns nil if action may execute. The emergency stop is checked
// first: while engaged it is a strict superset restriction of safe mode.
func (i *Interlocks) Permit(action Action) error {
	if !i.Stop.IsAllowed(action) {
		return fmt.Errorf("%w: %q denied while emergency stop is engaged", ErrActionBlocked, action)
	}
	if !i.SafeMode.IsAllowed(action) {
		return fmt.Errorf("%w: %q denied while safe mode is active", ErrActionBlocked, action)
	}
	return nil
}

// RequiresConfirmation reports whether action needs explicit confirmation
// before executing.
func (i *Interlocks) RequiresConfirmation(action Action) bool {
	return i.SafeMode.RequiresConfirmation(action)
}
