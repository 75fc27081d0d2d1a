package orchestrator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// pipelineFile is the on-disk shape of a phase configuration document.
type pipelineFile struct {
	Phases []Phase `yaml:"phases"`
}

// LoadPhases reads a phase configuration from a YAML file and validates
// it.
func LoadPhases(path string) ([]Phase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	var file pipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file: %w", err)
	}
	if len(file.Phases) == 0 {
		return nil, fmt.Errorf("pipeline file %s declares no phases", path)
	}

	if err := ValidatePhases(file.Phases); err != nil {
		return nil, fmt.Errorf("invalid pipeline file %s: %w", path, err)
	}
	return file.Phases, nil
}

// ValidatePhases checks structural invariants of a phase sequence: unique
// phase and step identifiers, non-empty capability references, known
// blocking-condition actions, and strictly forward auto-transitions.
func ValidatePhases(phases []Phase) error {
	if len(phases) == 0 {
		return fmt.Errorf("at least one phase is required")
	}

	index := make(map[PhaseID]int, len(phases))
	for i, p := range phases {
		if p.ID == "" {
			return fmt.Errorf("phase %d has no id", i)
		}
		if _, dup := index[p.ID]; dup {
			return fmt.Errorf("duplicate phase id %q", p.ID)
		}
		index[p.ID] = i
	}

	for _, p := range phases {
		stepIDs := make(map[string]bool, len(p.Steps))
		for j, s := range p.Steps {
			if s.ID == "" {
				return fmt.Errorf("phase %q: step %d has no id", p.ID, j)
			}
			if stepIDs[s.ID] {
				return fmt.Errorf("phase %q: duplicate step id %q", p.ID, s.ID)
			}
			stepIDs[s.ID] = true
			if s.Capability == "" {
				return fmt.Errorf("phase %q: step %q names no capability", p.ID, s.ID)
			}
		}

		for key, bc := range p.BlockingConditions {
			if bc.Action != ActionHalt {
				return fmt.Errorf("phase %q: blocking condition %q has unknown action %q", p.ID, key, bc.Action)
			}
			if bc.Message == "" {
				return fmt.Errorf("phase %q: blocking condition %q has no message", p.ID, key)
			}
		}

		if p.Transition != nil {
			nextIdx, ok := index[p.Transition.Next]
			if !ok {
				return fmt.Errorf("phase %q: auto-transition targets unknown phase %q", p.ID, p.Transition.Next)
			}
			if nextIdx <= index[p.ID] {
				return fmt.Errorf("phase %q: auto-transition to %q does not move forward", p.ID, p.Transition.Next)
			}
		}
	}
	return nil
}

// DefaultPhases is the built-in delivery workflow: analysis, planning,
// solutioning, implementation, and release.
func DefaultPhases() []Phase {
	return []Phase{
		{
			ID:          "analysis",
			Description: "Understand the problem and produce a product brief",
			Steps: []Step{
				{
					ID:         "research-domain",
					Capability: "analyst",
					Task:       "Research the problem domain and constraints",
					Outputs:    []string{"docs/product-brief.md"},
					Blocking:   true,
				},
			},
			ExitConditions: []Condition{
				{Name: "brief-written", Kind: ConditionArtifactExists, Target: "docs/product-brief.md"},
			},
			Transition: &AutoTransition{Next: "planning", Message: "analysis complete"},
		},
		{
			ID:          "planning",
			Description: "Turn the brief into requirements and stories",
			Prerequisites: []Condition{
				{Name: "brief-exists", Kind: ConditionArtifactExists, Target: "docs/product-brief.md"},
			},
			Steps: []Step{
				{
					ID:         "write-prd",
					Capability: "product-manager",
					Task:       "Write the product requirements document",
					Inputs:     []string{"docs/product-brief.md"},
					Outputs:    []string{"docs/prd.md"},
					Blocking:   true,
				},
				{
					ID:         "draft-stories",
					Capability: "product-manager",
					Task:       "Break requirements into stories",
					Inputs:     []string{"docs/prd.md"},
					Outputs:    []string{"docs/stories.md"},
					Blocking:   true,
				},
			},
			ExitConditions: []Condition{
				{Name: "prd-written", Kind: ConditionArtifactExists, Target: "docs/prd.md"},
				{Name: "stories-written", Kind: ConditionArtifactExists, Target: "docs/stories.md"},
			},
			Checkpoint: &HumanCheckpoint{
				Purpose: "Confirm the requirements match intent before design begins",
				Questions: []string{
					"Do the stories cover the full scope?",
					"Are any requirements over-specified?",
				},
			},
			Transition: &AutoTransition{Next: "solutioning", Message: "requirements approved"},
		},
		{
			ID:          "solutioning",
			Description: "Design the architecture for the planned work",
			Prerequisites: []Condition{
				{Name: "prd-exists", Kind: ConditionArtifactExists, Target: "docs/prd.md"},
			},
			Steps: []Step{
				{
					ID:         "design-architecture",
					Capability: "architect",
					Task:       "Design the system architecture",
					Inputs:     []string{"docs/prd.md", "docs/stories.md"},
					Outputs:    []string{"docs/architecture.md"},
					Blocking:   true,
				},
			},
			ExitConditions: []Condition{
				{Name: "architecture-written", Kind: ConditionArtifactExists, Target: "docs/architecture.md"},
			},
			Transition: &AutoTransition{Next: "implementation", Message: "design complete"},
		},
		{
			ID:          "implementation",
			Description: "Build and test the planned stories",
			Prerequisites: []Condition{
				{Name: "architecture-exists", Kind: ConditionArtifactExists, Target: "docs/architecture.md"},
			},
			Steps: []Step{
				{
					ID:         "implement-stories",
					Capability: "developer",
					Task:       "Implement the planned stories",
					Inputs:     []string{"docs/stories.md", "docs/architecture.md"},
					Outputs:    []string{"src/changeset"},
					Blocking:   true,
				},
				{
					ID:         "write-tests",
					Capability: "developer",
					Task:       "Write tests for the implemented stories",
					Inputs:     []string{"docs/stories.md"},
					Outputs:    []string{"test/changeset"},
					Blocking:   true,
					Group:      "build",
				},
				{
					ID:         "update-docs",
					Capability: "technical-writer",
					Task:       "Update user-facing documentation",
					Inputs:     []string{"docs/stories.md"},
					Outputs:    []string{"docs/changelog.md"},
					Group:      "build",
				},
				{
					ID:         "run-tests",
					Capability: "test-runner",
					Task:       "Run the full test suite with coverage",
					Inputs:     []string{"src/changeset", "test/changeset"},
					Outputs:    []string{"reports/coverage"},
					Blocking:   true,
				},
			},
			ExitConditions: []Condition{
				{Name: "changes-produced", Kind: ConditionArtifactExists, Target: "src/changeset"},
				{Name: "coverage-floor", Kind: ConditionCoverageAtLeast, Target: "reports/coverage", Threshold: 80},
			},
			Gated: true,
			BlockingConditions: map[string]BlockingCondition{
				"quota exceeded": {
					Action:  ActionHalt,
					Message: "Upstream quota exhausted. HALT the workflow and wait for quota reset before retrying.",
				},
				"auth failure": {
					Action:  ActionHalt,
					Message: "Upstream credentials rejected. HALT the workflow and rotate credentials before retrying.",
				},
				"truth conflict": {
					Action:  ActionHalt,
					Message: "Source-of-truth documents contradict each other. HALT and reconcile them before retrying.",
				},
			},
			Transition: &AutoTransition{Next: "release", Message: "stories validated"},
		},
		{
			ID:          "release",
			Description: "Prepare and confirm the release",
			Prerequisites: []Condition{
				{Name: "implementation-validated", Kind: ConditionValidationPassed, Target: "implementation"},
			},
			Steps: []Step{
				{
					ID:         "prepare-release",
					Capability: "release-manager",
					Task:       "Prepare release notes and the rollout plan",
					Inputs:     []string{"docs/changelog.md"},
					Outputs:    []string{"docs/release-notes.md"},
					Blocking:   true,
				},
			},
			ExitConditions: []Condition{
				{Name: "release-notes-written", Kind: ConditionArtifactExists, Target: "docs/release-notes.md"},
			},
			Checkpoint: &HumanCheckpoint{
				Purpose: "Final go/no-go before rollout",
				Questions: []string{
					"Is the rollback plan in place?",
				},
			},
		},
	}
}
