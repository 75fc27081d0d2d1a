// Package policy implements the autonomy policy store: named profiles that
// trade blocking-strictness for speed, resolved through session-scoped
// overrides, with change notifications so the orchestrator and gate
// pipeline reconfigure live.
package policy

import (
	"errors"
	"fmt"

	yamlparser "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// ErrInvalidProfile is returned for profile names outside the fixed enum.
var ErrInvalidProfile = errors.New("invalid autonomy profile")

// Profile is one of the fixed autonomy levels.
type Profile string

const (
	ProfileConservative Profile = "conservative"
	ProfileBalanced     Profile = "balanced"
	ProfileAggressive   Profile = "aggressive"
	ProfileFullAuto     Profile = "full_auto"
)

// AllProfiles returns the fixed profile enum.
func AllProfiles() []Profile {
	return []Profile{ProfileConservative, ProfileBalanced, ProfileAggressive, ProfileFullAuto}
}

// ParseProfile validates a profile name against the fixed enum.
func ParseProfile(name string) (Profile, error) {
	switch Profile(name) {
	case ProfileConservative, ProfileBalanced, ProfileAggressive, ProfileFullAuto:
		return Profile(name), nil
	}
	return "", fmt.Errorf("%w: %q (want conservative|balanced|aggressive|full_auto)", ErrInvalidProfile, name)
}

// Well-known setting keys. Settings are dotted paths resolved against the
// active profile; the same keys work as session overrides.
const (
	KeyLevel                 = "autonomy-settings.level"
	KeyConfirmationRequired  = "autonomy-settings.confirmation.required"
	KeyCheckpointGranularity = "autonomy-settings.confirmation.checkpoint_granularity"
	KeyAutoCommandExecution  = "autonomy-settings.auto_command_execution.enabled"
	KeyAutoTransition        = "autonomy-settings.auto_transition.enabled"
	KeyBackgroundConcurrency = "autonomy-settings.background.concurrency_limit"
	KeyBlockingOnGateFailure = "autonomy-settings.blocking.on_gate_failure"
	KeyBlockingOnTestFailure = "autonomy-settings.blocking.on_test_failure"
	KeyBlockingOnLintFailure = "autonomy-settings.blocking.on_lint_failure"
)

// Checkpoint granularity values for KeyCheckpointGranularity.
const (
	GranularityStep  = "step"
	GranularityPhase = "phase"
	GranularityNone  = "none"
)

// Profile definitions. Each profile is a complete YAML document so applying
// one atomically rewrites every setting it defines; partial application is
// never observable.
var profileSettings = map[Profile][]byte{
	ProfileConservative: []byte(`
autonomy-settings:
  level: conservative
  confirmation:
    required: true
    checkpoint_granularity: step
  auto_command_execution:
    enabled: false
  auto_transition:
    enabled: false
  background:
    concurrency_limit: 1
  blocking:
    on_gate_failure: true
    on_test_failure: true
    on_lint_failure: true
`),
	ProfileBalanced: []byte(`
autonomy-settings:
  level: balanced
  confirmation:
    required: true
    checkpoint_granularity: phase
  auto_command_execution:
    enabled: false
  auto_transition:
    enabled: false
  background:
    concurrency_limit: 2
  blocking:
    on_gate_failure: true
    on_test_failure: true
    on_lint_failure: false
`),
	ProfileAggressive: []byte(`
autonomy-settings:
  level: aggressive
  confirmation:
    required: false
    checkpoint_granularity: phase
  auto_command_execution:
    enabled: true
  auto_transition:
    enabled: true
  background:
    concurrency_limit: 4
  blocking:
    on_gate_failure: true
    on_test_failure: false
    on_lint_failure: false
`),
	ProfileFullAuto: []byte(`
autonomy-settings:
  level: full_auto
  confirmation:
    required: false
    checkpoint_granularity: none
  auto_command_execution:
    enabled: true
  auto_transition:
    enabled: true
  background:
    concurrency_limit: 8
  blocking:
    on_gate_failure: false
    on_test_failure: false
    on_lint_failure: false
`),
}

// loadProfile parses a profile definition into a fresh koanf instance.
// The full settings map is built before the caller swaps it in.
func loadProfile(p Profile) (*koanf.Koanf, error) {
	raw, ok := profileSettings[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProfile, p)
	}
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), yamlparser.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", p, err)
	}
	return k, nil
}
