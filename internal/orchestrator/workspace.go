package orchestrator

import (
	"fmt"
	"sync"
)

// Workspace holds the artifacts and validation results accumulated across
// phase executions. Conditions evaluate against it.
type Workspace struct {
	mu          sync.RWMutex
	artifacts   map[string]any
	validations map[string]bool
}

// NewWorkspace returns an empty workspace.
func NewWorkspace() *Workspace {
	return &Workspace{
		artifacts:   make(map[string]any),
		validations: make(map[string]bool),
	}
}

// Record stores a produced artifact under its declared path.
func (w *Workspace) Record(path string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.artifacts[path] = value
}

// Artifact returns the recorded value for path.
func (w *Workspace) Artifact(path string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.artifacts[path]
	return v, ok
}

// RecordValidation stores the outcome of a validation run for a subject.
func (w *Workspace) RecordValidation(subject string, passed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.validations[subject] = passed
}

// ValidationPassed reports whether a validation run for subject passed.
func (w *Workspace) ValidationPassed(subject string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.validations[subject]
}

// Artifacts returns a copy of all recorded artifacts.
func (w *Workspace) Artifacts() map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]any, len(w.artifacts))
	for k, v := range w.artifacts {
		out[k] = v
	}
	return out
}

// ConditionKind selects how a condition is evaluated.
type ConditionKind string

const (
	// ConditionArtifactExists requires a non-empty artifact at Target.
	ConditionArtifactExists ConditionKind = "artifact_exists"

	// ConditionCoverageAtLeast requires the numeric artifact at Target
	// to be at least Threshold.
	ConditionCoverageAtLeast ConditionKind = "coverage_at_least"

	// ConditionValidationPassed requires a passing validation run
	// recorded for Target.
	ConditionValidationPassed ConditionKind = "validation_passed"
)

// Condition is a declarative check used as a phase prerequisite or exit
// condition.
type Condition struct {
	Name      string        `yaml:"name" json:"name"`
	Kind      ConditionKind `yaml:"kind" json:"kind"`
	Target    string        `yaml:"target" json:"target"`
	Threshold float64       `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// Evaluate checks the condition against the workspace, returning a
// descriptive error when it does not hold.
func (c Condition) Evaluate(ws *Workspace) error {
	switch c.Kind {
	case ConditionArtifactExists:
		v, ok := ws.Artifact(c.Target)
		if !ok {
			return fmt.Errorf("%s: artifact %q not produced", c.Name, c.Target)
		}
		if empty(v) {
			return fmt.Errorf("%s: artifact %q is empty", c.Name, c.Target)
		}
		return nil

	case ConditionCoverageAtLeast:
		v, ok := ws.Artifact(c.Target)
		if !ok {
			return fmt.Errorf("%s: no coverage recorded for %q", c.Name, c.Target)
		}
		pct, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("%s: coverage for %q is not numeric", c.Name, c.Target)
		}
		if pct < c.Threshold {
			return fmt.Errorf("%s: coverage %.1f%% below required %.1f%%", c.Name, pct, c.Threshold)
		}
		return nil

	case ConditionValidationPassed:
		if !ws.ValidationPassed(c.Target) {
			return fmt.Errorf("%s: no passing validation for %q", c.Name, c.Target)
		}
		return nil

	default:
		return fmt.Errorf("%s: unknown condition kind %q", c.Name, c.Kind)
	}
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
