// Package orchestrator drives a project through an ordered sequence of
// delivery phases. Each phase has prerequisites, a body of sequential and
// parallel steps delegated to collaborator capabilities, exit conditions,
// an optional human checkpoint, and an optional automatic transition.
// Named blocking conditions drive the whole machine into a halt
// super-state that only explicit intervention clears.
package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/conductd/internal/gates"
)

// PhaseID identifies a phase in the workflow.
type PhaseID string

// MachineState is the orchestrator's position in its state machine.
type MachineState string

const (
	// StateIdle means no phase is executing.
	StateIdle MachineState = "idle"

	// StateRunning means a phase body is executing.
	StateRunning MachineState = "running"

	// StateAwaitingCheckpoint means execution is paused on a human
	// checkpoint, waiting for an explicit resolution.
	StateAwaitingCheckpoint MachineState = "awaiting_checkpoint"

	// StateHalted is the super-state reached from any other state via a
	// blocking condition or an emergency stop. Ordinary phase failures
	// never enter it.
	StateHalted MachineState = "halted"
)

var (
	ErrUnknownPhase        = errors.New("unknown phase")
	ErrPrerequisiteNotMet  = errors.New("prerequisite not met")
	ErrExitConditionNotMet = errors.New("exit condition not met")
	ErrHalted              = errors.New("workflow halted")
	ErrNotHalted           = errors.New("workflow not halted")
	ErrCheckpointRejected  = errors.New("checkpoint rejected")
	ErrNoPendingCheckpoint = errors.New("no pending checkpoint")
)

// StepError reports a blocking step failure that aborted its phase.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("blocking step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// BlockingConditionError reports a matched blocking condition. Unlike an
// ordinary phase failure it is not retryable: the machine is halted and
// the condition's configured message is surfaced verbatim.
type BlockingConditionError struct {
	Key     string
	Message string
}

func (e *BlockingConditionError) Error() string {
	return fmt.Sprintf("blocking condition %q triggered: %s", e.Key, e.Message)
}

// Step is one unit of phase work. Step executions are created fresh per
// phase run and never persisted. Steps declared consecutively with the
// same non-empty Group run concurrently; all others run sequentially in
// declared order.
type Step struct {
	ID         string   `yaml:"id" json:"id"`
	Capability string   `yaml:"capability" json:"capability"`
	Task       string   `yaml:"task" json:"task"`
	Inputs     []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs    []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Blocking   bool     `yaml:"blocking" json:"blocking"`
	Group      string   `yaml:"group,omitempty" json:"group,omitempty"`
}

// HumanCheckpoint pauses execution until a human records a resolution.
type HumanCheckpoint struct {
	Purpose   string   `yaml:"purpose" json:"purpose"`
	Questions []string `yaml:"questions,omitempty" json:"questions,omitempty"`
}

// AutoTransition names the phase to advance to when the autonomy policy
// enables automatic transitions. Transitions only move forward through
// the declared phase order.
type AutoTransition struct {
	Next    PhaseID `yaml:"next" json:"next"`
	Message string  `yaml:"message,omitempty" json:"message,omitempty"`
}

// ActionHalt is the only blocking-condition action currently defined.
const ActionHalt = "halt"

// BlockingCondition maps a failure pattern to an action.
type BlockingCondition struct {
	Action  string `yaml:"action" json:"action"`
	Message string `yaml:"message" json:"message"`
}

// Phase is static configuration. Phase definitions are loaded once and
// never mutated at runtime; only the orchestrator's current-phase pointer
// and machine state change.
type Phase struct {
	ID             PhaseID     `yaml:"id" json:"id"`
	Description    string      `yaml:"description,omitempty" json:"description,omitempty"`
	Prerequisites  []Condition `yaml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
	Steps          []Step      `yaml:"steps" json:"steps"`
	ExitConditions []Condition `yaml:"exit_conditions,omitempty" json:"exit_conditions,omitempty"`

	// Gated marks phases that represent story or feature completion.
	// Their advancement runs the validation gate pipeline.
	Gated bool `yaml:"gated,omitempty" json:"gated,omitempty"`

	Checkpoint *HumanCheckpoint `yaml:"checkpoint,omitempty" json:"checkpoint,omitempty"`
	Transition *AutoTransition  `yaml:"auto_transition,omitempty" json:"auto_transition,omitempty"`

	// BlockingConditions is keyed by failure pattern: a capability error
	// kind, or a message substring for untyped collaborator errors.
	BlockingConditions map[string]BlockingCondition `yaml:"blocking_conditions,omitempty" json:"blocking_conditions,omitempty"`
}

// StepFailure records a non-blocking step failure that execution
// continued past.
type StepFailure struct {
	Step     string `json:"step"`
	Reason   string `json:"reason"`
	Blocking bool   `json:"blocking"`
}

// PendingCheckpoint describes the checkpoint execution is paused on.
type PendingCheckpoint struct {
	Phase     PhaseID   `json:"phase"`
	Purpose   string    `json:"purpose"`
	Questions []string  `json:"questions,omitempty"`
	AskedAt   time.Time `json:"asked_at"`
}

// CheckpointResolution is the explicit signal that resolves a pending
// checkpoint.
type CheckpointResolution struct {
	Approved   bool      `json:"approved"`
	ApprovedBy string    `json:"approved_by"`
	Notes      string    `json:"notes,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Outcome status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// PhaseOutcome captures the result of one phase execution.
type PhaseOutcome struct {
	Phase        PhaseID               `json:"phase"`
	Status       string                `json:"status"`
	Outputs      map[string]any        `json:"outputs,omitempty"`
	StepFailures []StepFailure         `json:"step_failures,omitempty"`
	Gates        *gates.Report         `json:"gates,omitempty"`
	Checkpoint   *CheckpointResolution `json:"checkpoint,omitempty"`
	NextPhase    PhaseID               `json:"next_phase,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	CompletedAt  time.Time             `json:"completed_at,omitempty"`
}
