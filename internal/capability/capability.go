// Package capability defines the typed contract for external collaborators
// (agents) invoked by the control plane, and a name-keyed registry that is
// validated at startup so missing collaborators fail fast rather than at
// dispatch time.
package capability

import (
	"context"
	"fmt"
)

// Result is the structured outcome of a capability invocation.
// Outputs is keyed by the output paths the calling step declared; a
// capability may populate any subset of them.
type Result struct {
	Success bool           `json:"success"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// Capability is a single external unit of work, opaque to the control plane.
type Capability interface {
	// Name returns the stable capability identifier (e.g. "validation-officer").
	Name() string

	// Invoke runs the capability with the given task label, input references,
	// and options. Failures surface as an error; prefer returning *Error so
	// the orchestrator can match blocking conditions by kind.
	Invoke(ctx context.Context, task string, inputs []string, options map[string]any) (*Result, error)
}

// ErrorKind classifies capability failures for blocking-condition matching.
type ErrorKind string

const (
	// KindUnspecified is the zero value for untyped failures.
	KindUnspecified ErrorKind = ""

	// KindQuotaExceeded indicates an upstream resource quota was exhausted.
	KindQuotaExceeded ErrorKind = "quota_exceeded"

	// KindAuthFailure indicates credentials were rejected upstream.
	KindAuthFailure ErrorKind = "auth_failure"

	// KindTruthConflict indicates the collaborator detected a contradiction
	// in the project's source-of-truth documents.
	KindTruthConflict ErrorKind = "truth_conflict"

	// KindTransient indicates a retryable infrastructure failure.
	KindTransient ErrorKind = "transient"
)

// Error is a typed capability failure. The orchestrator matches blocking
// conditions against Kind first and falls back to substring matching on
// Message for collaborators that only return plain errors.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Kind == KindUnspecified {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates a typed capability error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Func adapts a plain function into a Capability.
type Func struct {
	CapabilityName string
	Fn             func(ctx context.Context, task string, inputs []string, options map[string]any) (*Result, error)
}

// Name returns the capability identifier.
func (f *Func) Name() string { return f.CapabilityName }

// Invoke calls the wrapped function.
func (f *Func) Invoke(ctx context.Context, task string, inputs []string, options map[string]any) (*Result, error) {
	return f.Fn(ctx, task, inputs, options)
}
