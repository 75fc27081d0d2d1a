// Package safety implements the two cross-cutting interlocks of the
// control plane: safe mode (restricted operation with confirmation on
// mutating actions) and emergency stop (a one-way halt requiring explicit,
// auditable approval to clear). Both are consulted before any step or gate
// dispatches, and both broadcast state changes on the notification bus.
package safety

import (
	"errors"
	"time"
)

// Errors for interlock transitions.
var (
	ErrAlreadyActive  = errors.New("safe mode already active")
	ErrNotActive      = errors.New("safe mode not active")
	ErrAlreadyStopped = errors.New("emergency stop already engaged")
	ErrNotStopped     = errors.New("emergency stop not engaged")
	ErrActionBlocked  = errors.New("action blocked by safety interlock")
)

// Action names an operation checked against the interlocks.
type Action string

const (
	ActionReadFile      Action = "read-file"
	ActionWriteFile     Action = "write-file"
	ActionDelete        Action = "delete"
	ActionInvokeAgent   Action = "invoke-agent"
	ActionRollback      Action = "rollback"
	ActionApplyChanges  Action = "apply-changes"
	ActionStatus        Action = "status"
	ActionEmergencyStop Action = "emergency-stop"
	ActionResume        Action = "resume"
	ActionDeactivate    Action = "safe-mode-deactivate"
)

// Effect is what a named restriction does while safe mode is active.
type Effect string

const (
	EffectDisableAutomation    Effect = "disable_automation"
	EffectManualInvocationOnly Effect = "manual_invocation_only"
	EffectConfirmMutations     Effect = "confirm_mutations"
	EffectBlockDestructiveOps  Effect = "block_destructive_ops"
	EffectPauseBackgroundWork  Effect = "pause_background_work"
)

// DefaultRestrictions is the restriction set applied when safe mode is
// activated without an explicit set.
func DefaultRestrictions() map[string]Effect {
	return map[string]Effect{
		"automation":  EffectDisableAutomation,
		"agents":      EffectManualInvocationOnly,
		"mutations":   EffectConfirmMutations,
		"destructive": EffectBlockDestructiveOps,
		"background":  EffectPauseBackgroundWork,
	}
}

// mutatingActions require confirmation while safe mode is active.
var mutatingActions = map[Action]bool{
	ActionWriteFile:    true,
	ActionDelete:       true,
	ActionInvokeAgent:  true,
	ActionRollback:     true,
	ActionApplyChanges: true,
}

// safeModeAllowed is the fixed allow-list while safe mode is active:
// read-only operations, the emergency stop, and deactivation.
var safeModeAllowed = map[Action]bool{
	ActionReadFile:      true,
	ActionStatus:        true,
	ActionEmergencyStop: true,
	ActionDeactivate:    true,
}

// stopWhitelist is the stricter allow-list while the emergency stop is
// engaged: read-only introspection and resume only.
var stopWhitelist = map[Action]bool{
	ActionStatus:   true,
	ActionReadFile: true,
	ActionResume:   true,
}

// SafeModeStatus is the introspection snapshot for safe mode.
type SafeModeStatus struct {
	Active       bool              `json:"active"`
	StartTime    time.Time         `json:"start_time,omitempty"`
	Duration     time.Duration     `json:"duration,omitempty"`
	Restrictions map[string]Effect `json:"restrictions,omitempty"`
}

// StopStatus is the introspection snapshot for the emergency stop.
type StopStatus struct {
	Stopped  bool          `json:"stopped"`
	StopTime time.Time     `json:"stop_time,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Snapshot captures in-flight work at the moment of an emergency stop.
type Snapshot struct {
	Time              time.Time `json:"time"`
	Reason            string    `json:"reason"`
	CurrentPhase      string    `json:"current_phase,omitempty"`
	MachineState      string    `json:"machine_state,omitempty"`
	PendingSteps      []string  `json:"pending_steps,omitempty"`
	ActiveInvocations []string  `json:"active_invocations,omitempty"`
}

// SnapshotSource supplies the workflow position captured into stop
// snapshots. The orchestrator implements this.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// IncidentReport is the durable record written on every emergency stop.
type IncidentReport struct {
	ID                 string    `json:"id"`
	StoppedAt          time.Time `json:"stopped_at"`
	Reason             string    `json:"reason"`
	Snapshot           Snapshot  `json:"snapshot"`
	RecommendedActions []string  `json:"recommended_actions"`
}
