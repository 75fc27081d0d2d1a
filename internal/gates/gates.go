// Package gates implements the ordered validation-gate pipeline that gates
// phase advancement. Every applicable gate runs exactly once, in declared
// order, with no short-circuit: collecting all failures in one pass gives
// the caller complete diagnostics instead of a fix-rerun-fix loop.
package gates

import (
	"fmt"
)

// Subject is what a pipeline run validates: the story or feature whose
// completion is being gated.
type Subject struct {
	// Project identifies the project instance.
	Project string

	// Story names the unit of work being gated.
	Story string

	// Brownfield marks projects with an existing system; brownfield-only
	// gates (regression, migration compatibility) apply only when true.
	Brownfield bool

	// Artifacts are path references handed to gate capabilities as inputs.
	Artifacts []string

	// Options are passed through to each gate's capability invocation.
	Options map[string]any
}

// Definition declares one gate: its name, the capability it delegates to,
// and when it applies. Ordinal position comes from list order.
type Definition struct {
	// Name is the stable gate identifier (e.g. "regression-suite").
	Name string

	// Capability is the collaborator invoked to perform the check.
	Capability string

	// Task is the task label passed to the capability.
	Task string

	// AppliesTo filters by subject; nil means the gate always applies.
	// An inapplicable gate is omitted from the run entirely, not executed
	// and ignored, so its absence never appears in the report.
	AppliesTo func(Subject) bool
}

// Result is the structured outcome of one gate execution.
type Result struct {
	Ordinal int    `json:"gate"`
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Reason  string `json:"reason,omitempty"`
}

// Report aggregates the results of a full pipeline run.
type Report struct {
	AllPassed bool     `json:"passed"`
	Results   []Result `json:"results"`
}

// Failing returns only the failed results.
func (r *Report) Failing() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// GateError marks a single gate failure inside the aggregate error
// returned by ExecuteAll.
type GateError struct {
	Gate Result
}

func (e *GateError) Error() string {
	return fmt.Sprintf("gate %d (%s) failed: %s", e.Gate.Ordinal, e.Gate.Name, e.Gate.Reason)
}
