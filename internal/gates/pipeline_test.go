package gates

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/conductd/internal/capability"
	"github.com/fyrsmithlabs/conductd/internal/safety"
)

// recordingCapability counts invocations and returns a scripted outcome.
type recordingCapability struct {
	name    string
	calls   int
	succeed bool
	err     error
	reason  string
}

func (c *recordingCapability) Name() string { return c.name }

func (c *recordingCapability) Invoke(_ context.Context, _ string, _ []string, _ map[string]any) (*capability.Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	outputs := map[string]any{}
	if c.reason != "" {
		outputs["reason"] = c.reason
	}
	return &capability.Result{Success: c.succeed, Outputs: outputs}, nil
}

func newTestPipeline(t *testing.T, defs []Definition, caps ...*recordingCapability) *Pipeline {
	t.Helper()
	reg := capability.NewRegistry(nil)
	for _, c := range caps {
		require.NoError(t, reg.Register(c))
	}
	p, err := NewPipeline(defs, reg, nil, nil)
	require.NoError(t, err)
	return p
}

func TestExecuteAllNoShortCircuit(t *testing.T) {
	first := &recordingCapability{name: "check-1", succeed: false, reason: "coverage below threshold"}
	second := &recordingCapability{name: "check-2", succeed: true}
	third := &recordingCapability{name: "check-3", succeed: true}

	defs := []Definition{
		{Name: "gate-one", Capability: "check-1", Task: "t1"},
		{Name: "gate-two", Capability: "check-2", Task: "t2"},
		{Name: "gate-three", Capability: "check-3", Task: "t3"},
	}
	p := newTestPipeline(t, defs, first, second, third)

	report, err := p.ExecuteAll(context.Background(), Subject{Project: "demo"})
	require.Error(t, err)
	require.NotNil(t, report)

	// Gate one failing did not stop gates two and three.
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 1, third.calls)
	assert.Len(t, report.Results, 3)
	assert.False(t, report.AllPassed)
}

func TestExecuteAllCapabilityErrorBecomesResult(t *testing.T) {
	erroring := &recordingCapability{name: "flaky", err: errors.New("connection refused")}
	healthy := &recordingCapability{name: "steady", succeed: true}

	defs := []Definition{
		{Name: "flaky-gate", Capability: "flaky", Task: "t"},
		{Name: "steady-gate", Capability: "steady", Task: "t"},
	}
	p := newTestPipeline(t, defs, erroring, healthy)

	report, err := p.ExecuteAll(context.Background(), Subject{})
	require.Error(t, err)

	require.Len(t, report.Results, 2)
	assert.False(t, report.Results[0].Passed)
	assert.Equal(t, "connection refused", report.Results[0].Reason)
	assert.True(t, report.Results[1].Passed)
}

func TestExecuteAllBrownfieldExclusion(t *testing.T) {
	// Scenario from the gate battery: one brownfield-only regression gate
	// plus three others; greenfield subject, one failing gate.
	validation := &recordingCapability{name: "validation-officer", succeed: true}
	failing := &recordingCapability{name: "test-runner", succeed: false, reason: "2 tests failed"}
	security := &recordingCapability{name: "security-scanner", succeed: true}

	defs := []Definition{
		{Name: "definition-of-done", Capability: "validation-officer", Task: "dod"},
		{Name: "test-coverage", Capability: "test-runner", Task: "cov"},
		{Name: "security-scan", Capability: "security-scanner", Task: "scan"},
		{Name: "regression-suite", Capability: "test-runner", Task: "reg", AppliesTo: Brownfield()},
	}
	p := newTestPipeline(t, defs, validation, failing, security)

	report, err := p.ExecuteAll(context.Background(), Subject{Brownfield: false})
	require.Error(t, err)

	// Regression gate omitted entirely, not executed-and-ignored.
	require.Len(t, report.Results, 3)
	for _, res := range report.Results {
		assert.NotEqual(t, "regression-suite", res.Name)
	}

	// The aggregate error names exactly the one failing gate.
	assert.Contains(t, err.Error(), "test-coverage")
	assert.Contains(t, err.Error(), "2 tests failed")
	assert.NotContains(t, err.Error(), "definition-of-done")

	failed := report.Failing()
	require.Len(t, failed, 1)
	assert.Equal(t, "test-coverage", failed[0].Name)
}

func TestExecuteAllBrownfieldInclusion(t *testing.T) {
	validation := &recordingCapability{name: "validation-officer", succeed: true}
	tests := &recordingCapability{name: "test-runner", succeed: true}
	security := &recordingCapability{name: "security-scanner", succeed: true}
	migration := &recordingCapability{name: "migration-checker", succeed: true}

	p := newTestPipeline(t, DefaultDefinitions(), validation, tests, security, migration)

	report, err := p.ExecuteAll(context.Background(), Subject{Brownfield: true})
	require.NoError(t, err)
	assert.True(t, report.AllPassed)
	assert.Len(t, report.Results, 6)

	// Ordinals follow declared order of the applicable list.
	for i, res := range report.Results {
		assert.Equal(t, i+1, res.Ordinal)
	}
}

func TestExecuteAllAllPassing(t *testing.T) {
	ok := &recordingCapability{name: "checker", succeed: true}
	defs := []Definition{
		{Name: "a", Capability: "checker", Task: "t"},
		{Name: "b", Capability: "checker", Task: "t"},
	}
	p := newTestPipeline(t, defs, ok)

	report, err := p.ExecuteAll(context.Background(), Subject{})
	require.NoError(t, err)
	assert.True(t, report.AllPassed)
	assert.Equal(t, 2, ok.calls)
}

func TestExecuteAllAbortsWhenStopped(t *testing.T) {
	ok := &recordingCapability{name: "checker", succeed: true}
	defs := []Definition{{Name: "a", Capability: "checker", Task: "t"}}

	reg := capability.NewRegistry(nil)
	require.NoError(t, reg.Register(ok))
	locks := safety.NewInterlocks(t.TempDir(), nil, nil)
	p, err := NewPipeline(defs, reg, locks, nil)
	require.NoError(t, err)

	_, err = locks.Stop.Execute(context.Background(), "drill")
	require.NoError(t, err)

	report, err := p.ExecuteAll(context.Background(), Subject{})
	require.ErrorIs(t, err, safety.ErrActionBlocked)
	assert.Empty(t, report.Results)
	assert.Equal(t, 0, ok.calls)
}

func TestGateErrorMessage(t *testing.T) {
	err := &GateError{Gate: Result{Ordinal: 3, Name: "security-scan", Reason: "secret detected"}}
	assert.Equal(t, "gate 3 (security-scan) failed: secret detected", err.Error())
}

func TestCapabilityNames(t *testing.T) {
	p, err := NewPipeline(DefaultDefinitions(), capability.NewRegistry(nil), nil, nil)
	require.NoError(t, err)

	names := p.CapabilityNames()
	assert.ElementsMatch(t, []string{"validation-officer", "test-runner", "security-scanner", "migration-checker"}, names)
}
