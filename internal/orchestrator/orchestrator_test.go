package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/conductd/internal/capability"
	"github.com/fyrsmithlabs/conductd/internal/events"
	"github.com/fyrsmithlabs/conductd/internal/gates"
	"github.com/fyrsmithlabs/conductd/internal/policy"
	"github.com/fyrsmithlabs/conductd/internal/safety"
)

// fakeCapability returns a scripted outcome and counts invocations.
type fakeCapability struct {
	mu      sync.Mutex
	name    string
	calls   int
	outputs map[string]any
	err     error
	fail    bool
	reason  string
}

func (c *fakeCapability) Name() string { return c.name }

func (c *fakeCapability) Invoke(_ context.Context, _ string, _ []string, _ map[string]any) (*capability.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.fail {
		out := map[string]any{}
		if c.reason != "" {
			out["reason"] = c.reason
		}
		return &capability.Result{Success: false, Outputs: out}, nil
	}
	return &capability.Result{Success: true, Outputs: c.outputs}, nil
}

func (c *fakeCapability) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type testEnv struct {
	orch  *Orchestrator
	store *policy.Store
	bus   *events.Bus
	locks *safety.Interlocks
}

type envOption func(t *testing.T, e *testEnv)

func withProfile(name string) envOption {
	return func(t *testing.T, e *testEnv) {
		require.NoError(t, e.store.SetProfile(name))
	}
}

func withInterlocks() envOption {
	return func(t *testing.T, e *testEnv) {
		e.locks = safety.NewInterlocks(t.TempDir(), e.bus, zaptest.NewLogger(t))
	}
}

func newTestEnv(t *testing.T, cfg *Config, caps []capability.Capability, opts ...envOption) *testEnv {
	t.Helper()

	e := &testEnv{bus: events.NewBus(zaptest.NewLogger(t))}
	store, err := policy.NewStore(nil, e.bus, zaptest.NewLogger(t))
	require.NoError(t, err)
	e.store = store

	for _, opt := range opts {
		opt(t, e)
	}

	reg := capability.NewRegistry(zaptest.NewLogger(t))
	for _, c := range caps {
		require.NoError(t, reg.Register(c))
	}

	orch, err := New(cfg, reg, store, e.locks, nil, e.bus, zaptest.NewLogger(t))
	require.NoError(t, err)
	e.orch = orch
	return e
}

func singlePhase(p Phase) *Config {
	return &Config{Project: "demo", Phases: []Phase{p}}
}

func TestExecuteUnknownPhase(t *testing.T) {
	cap1 := &fakeCapability{name: "worker"}
	e := newTestEnv(t, singlePhase(Phase{
		ID:    "build",
		Steps: []Step{{ID: "s1", Capability: "worker", Task: "work"}},
	}), []capability.Capability{cap1})

	_, err := e.orch.Execute(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownPhase)
	assert.Equal(t, StateIdle, e.orch.State())
}

func TestPrerequisiteFailureDispatchesNoSteps(t *testing.T) {
	worker := &fakeCapability{name: "worker"}
	e := newTestEnv(t, singlePhase(Phase{
		ID: "build",
		Prerequisites: []Condition{
			{Name: "brief-exists", Kind: ConditionArtifactExists, Target: "docs/brief.md"},
		},
		Steps: []Step{{ID: "s1", Capability: "worker", Task: "work", Blocking: true}},
	}), []capability.Capability{worker})

	outcome, err := e.orch.Execute(context.Background(), "build")
	require.ErrorIs(t, err, ErrPrerequisiteNotMet)
	assert.Contains(t, err.Error(), "brief-exists")
	assert.Equal(t, 0, worker.callCount())
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, StateIdle, e.orch.State())
}

func TestStepOutputsCapturedAndMissingSkipped(t *testing.T) {
	worker := &fakeCapability{
		name:    "worker",
		outputs: map[string]any{"docs/prd.md": "requirements"},
	}
	e := newTestEnv(t, singlePhase(Phase{
		ID: "plan",
		Steps: []Step{{
			ID:         "s1",
			Capability: "worker",
			Task:       "write",
			Outputs:    []string{"docs/prd.md", "docs/stories.md"},
			Blocking:   true,
		}},
	}), []capability.Capability{worker})

	outcome, err := e.orch.Execute(context.Background(), "plan")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Equal(t, "requirements", outcome.Outputs["docs/prd.md"])

	v, ok := e.orch.Workspace().Artifact("docs/prd.md")
	require.True(t, ok)
	assert.Equal(t, "requirements", v)

	// The undeclared-by-the-capability output is simply absent.
	_, ok = e.orch.Workspace().Artifact("docs/stories.md")
	assert.False(t, ok)
}

func TestNonBlockingStepFailureContinues(t *testing.T) {
	flaky := &fakeCapability{name: "flaky", fail: true, reason: "formatting glitch"}
	worker := &fakeCapability{name: "worker"}
	e := newTestEnv(t, singlePhase(Phase{
		ID: "build",
		Steps: []Step{
			{ID: "optional", Capability: "flaky", Task: "polish"},
			{ID: "main", Capability: "worker", Task: "work", Blocking: true},
		},
	}), []capability.Capability{flaky, worker})

	outcome, err := e.orch.Execute(context.Background(), "build")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Equal(t, 1, worker.callCount())
	require.Len(t, outcome.StepFailures, 1)
	assert.Equal(t, "optional", outcome.StepFailures[0].Step)
	assert.Equal(t, "formatting glitch", outcome.StepFailures[0].Reason)
}

func TestBlockingStepFailureAbortsPhase(t *testing.T) {
	broken := &fakeCapability{name: "broken", err: errors.New("compiler crashed")}
	worker := &fakeCapability{name: "worker"}
	e := newTestEnv(t, singlePhase(Phase{
		ID: "build",
		Steps: []Step{
			{ID: "first", Capability: "broken", Task: "work", Blocking: true},
			{ID: "second", Capability: "worker", Task: "work"},
		},
	}), []capability.Capability{broken, worker})

	outcome, err := e.orch.Execute(context.Background(), "build")
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "first", stepErr.Step)
	assert.Equal(t, 0, worker.callCount())
	assert.Equal(t, StatusFailed, outcome.Status)

	// An ordinary failure is retryable: the machine is idle, not halted.
	assert.Equal(t, StateIdle, e.orch.State())
}

func TestBlockingConditionHaltsMachine(t *testing.T) {
	broken := &fakeCapability{
		name: "developer",
		err:  capability.NewError(capability.KindQuotaExceeded, "tokens exhausted for org"),
	}
	e := newTestEnv(t, singlePhase(Phase{
		ID:    "implementation",
		Steps: []Step{{ID: "implement", Capability: "developer", Task: "build", Blocking: true}},
		BlockingConditions: map[string]BlockingCondition{
			"quota exceeded": {Action: ActionHalt, Message: "Quota exhausted. Wait for reset."},
		},
	}), []capability.Capability{broken})

	_, err := e.orch.Execute(context.Background(), "implementation")
	var bcErr *BlockingConditionError
	require.ErrorAs(t, err, &bcErr)
	assert.Equal(t, "quota exceeded", bcErr.Key)
	assert.Equal(t, "Quota exhausted. Wait for reset.", bcErr.Message)
	assert.Equal(t, StateHalted, e.orch.State())
	assert.Equal(t, "Quota exhausted. Wait for reset.", e.orch.HaltReason())

	// Halted is a super-state: no phase runs until it is cleared.
	_, err = e.orch.Execute(context.Background(), "implementation")
	assert.ErrorIs(t, err, ErrHalted)

	require.Error(t, e.orch.ClearHalt(""))
	require.NoError(t, e.orch.ClearHalt("alice"))
	assert.Equal(t, StateIdle, e.orch.State())

	assert.ErrorIs(t, e.orch.ClearHalt("alice"), ErrNotHalted)
}

func TestBlockingConditionMatchesMessageSubstring(t *testing.T) {
	broken := &fakeCapability{
		name: "developer",
		err:  errors.New("provider reported quota exceeded for request"),
	}
	e := newTestEnv(t, singlePhase(Phase{
		ID:    "implementation",
		Steps: []Step{{ID: "implement", Capability: "developer", Task: "build", Blocking: true}},
		BlockingConditions: map[string]BlockingCondition{
			"quota exceeded": {Action: ActionHalt, Message: "Quota exhausted."},
		},
	}), []capability.Capability{broken})

	_, err := e.orch.Execute(context.Background(), "implementation")
	var bcErr *BlockingConditionError
	require.ErrorAs(t, err, &bcErr)
	assert.Equal(t, "quota exceeded", bcErr.Key)
	assert.Equal(t, StateHalted, e.orch.State())
}

func TestBlockingConditionOutranksNonBlockingStep(t *testing.T) {
	// Even a non-blocking step's failure halts when it matches a
	// declared blocking condition.
	broken := &fakeCapability{
		name: "writer",
		err:  capability.NewError(capability.KindAuthFailure, "token rejected"),
	}
	e := newTestEnv(t, singlePhase(Phase{
		ID:    "docs",
		Steps: []Step{{ID: "update-docs", Capability: "writer", Task: "write"}},
		BlockingConditions: map[string]BlockingCondition{
			"auth failure": {Action: ActionHalt, Message: "Rotate credentials."},
		},
	}), []capability.Capability{broken})

	_, err := e.orch.Execute(context.Background(), "docs")
	var bcErr *BlockingConditionError
	require.ErrorAs(t, err, &bcErr)
	assert.Equal(t, StateHalted, e.orch.State())
}

func TestParallelGroupRunsAllMembers(t *testing.T) {
	a := &fakeCapability{name: "cap-a", outputs: map[string]any{"out/a": "a"}}
	b := &fakeCapability{name: "cap-b", fail: true, reason: "lint noise"}
	c := &fakeCapability{name: "cap-c", outputs: map[string]any{"out/c": "c"}}
	e := newTestEnv(t, singlePhase(Phase{
		ID: "build",
		Steps: []Step{
			{ID: "sa", Capability: "cap-a", Task: "a", Outputs: []string{"out/a"}, Group: "fan"},
			{ID: "sb", Capability: "cap-b", Task: "b", Group: "fan"},
			{ID: "sc", Capability: "cap-c", Task: "c", Outputs: []string{"out/c"}, Group: "fan"},
		},
	}), []capability.Capability{a, b, c})

	outcome, err := e.orch.Execute(context.Background(), "build")
	require.NoError(t, err)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
	assert.Equal(t, 1, c.callCount())
	require.Len(t, outcome.StepFailures, 1)
	assert.Equal(t, "sb", outcome.StepFailures[0].Step)
	assert.Equal(t, "a", outcome.Outputs["out/a"])
	assert.Equal(t, "c", outcome.Outputs["out/c"])
}

func TestParallelGroupBlockingFailureWaitsForSiblings(t *testing.T) {
	a := &fakeCapability{name: "cap-a", outputs: map[string]any{"out/a": "a"}}
	b := &fakeCapability{name: "cap-b", err: errors.New("tests failed")}
	e := newTestEnv(t, singlePhase(Phase{
		ID: "build",
		Steps: []Step{
			{ID: "sa", Capability: "cap-a", Task: "a", Outputs: []string{"out/a"}, Group: "fan"},
			{ID: "sb", Capability: "cap-b", Task: "b", Blocking: true, Group: "fan"},
		},
	}), []capability.Capability{a, b})

	outcome, err := e.orch.Execute(context.Background(), "build")
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "sb", stepErr.Step)

	// The sibling still ran to completion, but the failed batch
	// contributes no outputs to the outcome.
	assert.Equal(t, 1, a.callCount())
	assert.Empty(t, outcome.Outputs)

	// Nor does the sibling's artifact leak into the workspace; a retry
	// of the phase starts from a clean slate.
	_, recorded := e.orch.Workspace().Artifact("out/a")
	assert.False(t, recorded)
}

func TestExitConditionFailureNamesCondition(t *testing.T) {
	worker := &fakeCapability{
		name:    "test-runner",
		outputs: map[string]any{"reports/coverage": 61.5},
	}
	e := newTestEnv(t, singlePhase(Phase{
		ID: "build",
		Steps: []Step{{
			ID: "run-tests", Capability: "test-runner", Task: "test",
			Outputs: []string{"reports/coverage"}, Blocking: true,
		}},
		ExitConditions: []Condition{
			{Name: "coverage-floor", Kind: ConditionCoverageAtLeast, Target: "reports/coverage", Threshold: 80},
		},
	}), []capability.Capability{worker})

	_, err := e.orch.Execute(context.Background(), "build")
	require.ErrorIs(t, err, ErrExitConditionNotMet)
	assert.Contains(t, err.Error(), "coverage-floor")
	assert.Equal(t, StateIdle, e.orch.State())
}

func TestAutoTransitionRespectsPolicy(t *testing.T) {
	phases := []Phase{
		{
			ID:         "analysis",
			Steps:      []Step{{ID: "s1", Capability: "worker", Task: "work", Blocking: true}},
			Transition: &AutoTransition{Next: "planning"},
		},
		{
			ID:    "planning",
			Steps: []Step{{ID: "s2", Capability: "worker", Task: "work", Blocking: true}},
		},
	}

	t.Run("disabled by default profile", func(t *testing.T) {
		worker := &fakeCapability{name: "worker"}
		e := newTestEnv(t, &Config{Phases: phases}, []capability.Capability{worker})

		outcome, err := e.orch.Execute(context.Background(), "analysis")
		require.NoError(t, err)
		assert.Empty(t, outcome.NextPhase)
		assert.Equal(t, PhaseID("analysis"), e.orch.Current())
	})

	t.Run("enabled by aggressive profile", func(t *testing.T) {
		worker := &fakeCapability{name: "worker"}
		e := newTestEnv(t, &Config{Phases: phases}, []capability.Capability{worker},
			withProfile("aggressive"))

		outcome, err := e.orch.Execute(context.Background(), "analysis")
		require.NoError(t, err)
		assert.Equal(t, PhaseID("planning"), outcome.NextPhase)
		assert.Equal(t, PhaseID("planning"), e.orch.Current())
	})
}

func TestCheckpointPauseAndResolve(t *testing.T) {
	worker := &fakeCapability{name: "worker"}
	e := newTestEnv(t, singlePhase(Phase{
		ID:    "planning",
		Steps: []Step{{ID: "s1", Capability: "worker", Task: "work", Blocking: true}},
		Checkpoint: &HumanCheckpoint{
			Purpose:   "Confirm scope",
			Questions: []string{"Is the scope right?"},
		},
	}), []capability.Capability{worker})

	type result struct {
		outcome *PhaseOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := e.orch.Execute(context.Background(), "planning")
		done <- result{outcome, err}
	}()

	require.Eventually(t, func() bool {
		return e.orch.State() == StateAwaitingCheckpoint
	}, 2*time.Second, 5*time.Millisecond)

	pending := e.orch.PendingCheckpoint()
	require.NotNil(t, pending)
	assert.Equal(t, PhaseID("planning"), pending.Phase)
	assert.Equal(t, "Confirm scope", pending.Purpose)

	snap := e.orch.Snapshot()
	assert.Equal(t, "planning", snap.CurrentPhase)
	assert.Equal(t, string(StateAwaitingCheckpoint), snap.MachineState)

	err := e.orch.ResolveCheckpoint("wrong-phase", CheckpointResolution{Approved: true, ApprovedBy: "alice"})
	assert.ErrorIs(t, err, ErrNoPendingCheckpoint)

	err = e.orch.ResolveCheckpoint("planning", CheckpointResolution{Approved: true, ApprovedBy: "alice", Notes: "ship it"})
	require.NoError(t, err)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StatusSuccess, res.outcome.Status)
	require.NotNil(t, res.outcome.Checkpoint)
	assert.True(t, res.outcome.Checkpoint.Approved)
	assert.Equal(t, "alice", res.outcome.Checkpoint.ApprovedBy)
	assert.Nil(t, e.orch.PendingCheckpoint())
	assert.Equal(t, StateIdle, e.orch.State())
}

func TestCheckpointRejectionFailsPhase(t *testing.T) {
	worker := &fakeCapability{name: "worker"}
	e := newTestEnv(t, singlePhase(Phase{
		ID:         "planning",
		Steps:      []Step{{ID: "s1", Capability: "worker", Task: "work", Blocking: true}},
		Checkpoint: &HumanCheckpoint{Purpose: "Confirm scope"},
	}), []capability.Capability{worker})

	done := make(chan error, 1)
	go func() {
		_, err := e.orch.Execute(context.Background(), "planning")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return e.orch.State() == StateAwaitingCheckpoint
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.orch.ResolveCheckpoint("planning", CheckpointResolution{
		Approved: false, ApprovedBy: "bob",
	}))
	assert.ErrorIs(t, <-done, ErrCheckpointRejected)
	assert.Equal(t, StateIdle, e.orch.State())
}

func TestCheckpointAutoApprovedWhenUnattended(t *testing.T) {
	worker := &fakeCapability{name: "worker"}
	e := newTestEnv(t, singlePhase(Phase{
		ID:         "planning",
		Steps:      []Step{{ID: "s1", Capability: "worker", Task: "work", Blocking: true}},
		Checkpoint: &HumanCheckpoint{Purpose: "Confirm scope"},
	}), []capability.Capability{worker}, withProfile("full_auto"))

	outcome, err := e.orch.Execute(context.Background(), "planning")
	require.NoError(t, err)
	require.NotNil(t, outcome.Checkpoint)
	assert.True(t, outcome.Checkpoint.Approved)
	assert.Equal(t, "policy:unattended", outcome.Checkpoint.ApprovedBy)
}

func TestResolveCheckpointWithoutPending(t *testing.T) {
	worker := &fakeCapability{name: "worker"}
	e := newTestEnv(t, singlePhase(Phase{
		ID:    "build",
		Steps: []Step{{ID: "s1", Capability: "worker", Task: "work"}},
	}), []capability.Capability{worker})

	err := e.orch.ResolveCheckpoint("build", CheckpointResolution{Approved: true, ApprovedBy: "alice"})
	assert.ErrorIs(t, err, ErrNoPendingCheckpoint)

	err = e.orch.ResolveCheckpoint("build", CheckpointResolution{Approved: true})
	assert.Error(t, err)
}

func TestEmergencyStopHaltsAndResumeRestores(t *testing.T) {
	worker := &fakeCapability{name: "worker"}
	e := newTestEnv(t, singlePhase(Phase{
		ID:    "build",
		Steps: []Step{{ID: "s1", Capability: "worker", Task: "work", Blocking: true}},
	}), []capability.Capability{worker}, withInterlocks())
	e.locks.Stop.SetSource(e.orch)

	_, err := e.locks.Stop.Execute(context.Background(), "runaway deletion detected")
	require.NoError(t, err)
	assert.Equal(t, StateHalted, e.orch.State())

	_, err = e.orch.Execute(context.Background(), "build")
	assert.ErrorIs(t, err, ErrHalted)
	assert.Equal(t, 0, worker.callCount())

	// A stop-sourced halt cannot be cleared while the stop is engaged.
	require.Error(t, e.orch.ClearHalt("alice"))

	require.NoError(t, e.locks.Stop.Resume(context.Background(), "alice"))
	assert.Equal(t, StateIdle, e.orch.State())

	outcome, err := e.orch.Execute(context.Background(), "build")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, outcome.Status)
}

func TestEmergencyStopDuringFinalStepPreemptsCheckpoint(t *testing.T) {
	var e *testEnv
	worker := &capability.Func{
		CapabilityName: "worker",
		Fn: func(ctx context.Context, _ string, _ []string, _ map[string]any) (*capability.Result, error) {
			_, err := e.locks.Stop.Execute(ctx, "operator pulled the cord")
			require.NoError(t, err)
			return &capability.Result{Success: true}, nil
		},
	}
	e = newTestEnv(t, singlePhase(Phase{
		ID:         "planning",
		Steps:      []Step{{ID: "s1", Capability: "worker", Task: "work", Blocking: true}},
		Checkpoint: &HumanCheckpoint{Purpose: "Confirm scope"},
	}), []capability.Capability{worker}, withInterlocks())
	e.locks.Stop.SetSource(e.orch)

	_, err := e.orch.Execute(context.Background(), "planning")
	assert.ErrorIs(t, err, ErrHalted)

	// The stop wins over the checkpoint: the machine stays halted and
	// nothing is left pending for a resolver to approve.
	assert.Equal(t, StateHalted, e.orch.State())
	assert.Nil(t, e.orch.PendingCheckpoint())

	require.NoError(t, e.locks.Stop.Resume(context.Background(), "alice"))
	assert.Equal(t, StateIdle, e.orch.State())
}

func TestConcurrentStopAndClearHaltBothReturn(t *testing.T) {
	broken := &fakeCapability{
		name: "developer",
		err:  capability.NewError(capability.KindQuotaExceeded, "tokens exhausted"),
	}
	e := newTestEnv(t, singlePhase(Phase{
		ID:    "implementation",
		Steps: []Step{{ID: "implement", Capability: "developer", Task: "build", Blocking: true}},
		BlockingConditions: map[string]BlockingCondition{
			"quota exceeded": {Action: ActionHalt, Message: "Quota exhausted."},
		},
	}), []capability.Capability{broken}, withInterlocks())
	e.locks.Stop.SetSource(e.orch)

	_, err := e.orch.Execute(context.Background(), "implementation")
	require.Error(t, err)
	require.Equal(t, StateHalted, e.orch.State())

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, _ = e.locks.Stop.Execute(context.Background(), "manual stop during recovery")
	}()
	go func() {
		defer wg.Done()
		<-start
		_ = e.orch.ClearHalt("alice")
	}()
	close(start)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop and halt-clear did not both return")
	}

	// Whichever order they landed in, the stop is engaged and the
	// machine is halted.
	assert.True(t, e.locks.Stop.Stopped())
	assert.Equal(t, StateHalted, e.orch.State())
}

func TestGatedPhaseBlockingPolicy(t *testing.T) {
	newGated := func(t *testing.T, profile string) (*testEnv, *fakeCapability) {
		t.Helper()
		worker := &fakeCapability{name: "worker"}
		officer := &fakeCapability{name: "validation-officer", fail: true, reason: "criteria unmet"}

		bus := events.NewBus(zaptest.NewLogger(t))
		store, err := policy.NewStore(nil, bus, zaptest.NewLogger(t))
		require.NoError(t, err)
		if profile != "" {
			require.NoError(t, store.SetProfile(profile))
		}

		reg := capability.NewRegistry(zaptest.NewLogger(t))
		require.NoError(t, reg.Register(worker))
		require.NoError(t, reg.Register(officer))

		pipeline, err := gates.NewPipeline([]gates.Definition{
			{Name: "definition-of-done", Capability: "validation-officer", Task: "verify"},
		}, reg, nil, zaptest.NewLogger(t))
		require.NoError(t, err)

		cfg := singlePhase(Phase{
			ID:    "implementation",
			Steps: []Step{{ID: "s1", Capability: "worker", Task: "work", Blocking: true}},
			Gated: true,
		})
		orch, err := New(cfg, reg, store, nil, pipeline, bus, zaptest.NewLogger(t))
		require.NoError(t, err)
		return &testEnv{orch: orch, store: store, bus: bus}, officer
	}

	t.Run("gate failure blocks under default profile", func(t *testing.T) {
		e, officer := newGated(t, "")
		outcome, err := e.orch.Execute(context.Background(), "implementation")
		require.Error(t, err)
		assert.Equal(t, 1, officer.callCount())
		assert.Equal(t, StatusFailed, outcome.Status)
		require.NotNil(t, outcome.Gates)
		assert.False(t, outcome.Gates.AllPassed)
		assert.False(t, e.orch.Workspace().ValidationPassed("implementation"))
	})

	t.Run("gate failure recorded but not blocking under full_auto", func(t *testing.T) {
		e, officer := newGated(t, "full_auto")
		outcome, err := e.orch.Execute(context.Background(), "implementation")
		require.NoError(t, err)
		assert.Equal(t, 1, officer.callCount())
		assert.Equal(t, StatusSuccess, outcome.Status)
		require.NotNil(t, outcome.Gates)
		assert.False(t, outcome.Gates.AllPassed)
	})
}

func TestNewRejectsUnregisteredCapability(t *testing.T) {
	reg := capability.NewRegistry(zaptest.NewLogger(t))
	store, err := policy.NewStore(nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	cfg := singlePhase(Phase{
		ID:    "build",
		Steps: []Step{{ID: "s1", Capability: "ghost", Task: "work"}},
	})
	_, err = New(cfg, reg, store, nil, nil, nil, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, capability.ErrNotRegistered)
}

func TestValidatePhases(t *testing.T) {
	base := func() []Phase {
		return []Phase{
			{ID: "a", Steps: []Step{{ID: "s1", Capability: "worker", Task: "t"}}},
			{ID: "b", Steps: []Step{{ID: "s2", Capability: "worker", Task: "t"}}},
		}
	}

	tests := []struct {
		name    string
		mutate  func([]Phase) []Phase
		wantErr string
	}{
		{"valid", func(p []Phase) []Phase { return p }, ""},
		{"empty", func(p []Phase) []Phase { return nil }, "at least one phase"},
		{"duplicate phase id", func(p []Phase) []Phase {
			p[1].ID = "a"
			return p
		}, "duplicate phase id"},
		{"missing step id", func(p []Phase) []Phase {
			p[0].Steps[0].ID = ""
			return p
		}, "has no id"},
		{"duplicate step id", func(p []Phase) []Phase {
			p[0].Steps = append(p[0].Steps, Step{ID: "s1", Capability: "worker"})
			return p
		}, "duplicate step id"},
		{"missing capability", func(p []Phase) []Phase {
			p[0].Steps[0].Capability = ""
			return p
		}, "names no capability"},
		{"unknown blocking action", func(p []Phase) []Phase {
			p[0].BlockingConditions = map[string]BlockingCondition{
				"quota exceeded": {Action: "retry", Message: "m"},
			}
			return p
		}, "unknown action"},
		{"blocking condition without message", func(p []Phase) []Phase {
			p[0].BlockingConditions = map[string]BlockingCondition{
				"quota exceeded": {Action: ActionHalt},
			}
			return p
		}, "has no message"},
		{"transition to unknown phase", func(p []Phase) []Phase {
			p[0].Transition = &AutoTransition{Next: "zzz"}
			return p
		}, "unknown phase"},
		{"backward transition", func(p []Phase) []Phase {
			p[1].Transition = &AutoTransition{Next: "a"}
			return p
		}, "does not move forward"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePhases(tt.mutate(base()))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultPhasesAreValid(t *testing.T) {
	require.NoError(t, ValidatePhases(DefaultPhases()))
}

func TestLoadPhases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	doc := `
phases:
  - id: analysis
    steps:
      - id: research
        capability: analyst
        task: Research the domain
        outputs: [docs/brief.md]
        blocking: true
    exit_conditions:
      - name: brief-written
        kind: artifact_exists
        target: docs/brief.md
    auto_transition:
      next: implementation
  - id: implementation
    gated: true
    steps:
      - id: build
        capability: developer
        task: Build it
        blocking: true
    blocking_conditions:
      quota exceeded:
        action: halt
        message: Wait for quota reset.
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	phases, err := LoadPhases(path)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, PhaseID("analysis"), phases[0].ID)
	require.NotNil(t, phases[0].Transition)
	assert.Equal(t, PhaseID("implementation"), phases[0].Transition.Next)
	assert.True(t, phases[1].Gated)
	require.Contains(t, phases[1].BlockingConditions, "quota exceeded")
	assert.Equal(t, ActionHalt, phases[1].BlockingConditions["quota exceeded"].Action)

	_, err = LoadPhases(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("phases: [{id: a, steps: [{id: s, capability: c}], auto_transition: {next: zzz}}]"), 0o600))
	_, err = LoadPhases(bad)
	assert.Error(t, err)
}

func TestGroupSteps(t *testing.T) {
	steps := []Step{
		{ID: "a"},
		{ID: "b", Group: "g1"},
		{ID: "c", Group: "g1"},
		{ID: "d"},
		{ID: "e", Group: "g2"},
	}
	batches := groupSteps(steps)
	require.Len(t, batches, 4)
	assert.Len(t, batches[0], 1)
	assert.Len(t, batches[1], 2)
	assert.Equal(t, "b", batches[1][0].ID)
	assert.Equal(t, "c", batches[1][1].ID)
	assert.Len(t, batches[2], 1)
	assert.Len(t, batches[3], 1)
}

func TestConditionEvaluate(t *testing.T) {
	ws := NewWorkspace()
	ws.Record("docs/prd.md", "content")
	ws.Record("docs/empty.md", "")
	ws.Record("reports/coverage", 85.0)
	ws.RecordValidation("implementation", true)

	tests := []struct {
		name string
		cond Condition
		ok   bool
	}{
		{"artifact present", Condition{Name: "c", Kind: ConditionArtifactExists, Target: "docs/prd.md"}, true},
		{"artifact missing", Condition{Name: "c", Kind: ConditionArtifactExists, Target: "docs/none.md"}, false},
		{"artifact empty", Condition{Name: "c", Kind: ConditionArtifactExists, Target: "docs/empty.md"}, false},
		{"coverage met", Condition{Name: "c", Kind: ConditionCoverageAtLeast, Target: "reports/coverage", Threshold: 80}, true},
		{"coverage below", Condition{Name: "c", Kind: ConditionCoverageAtLeast, Target: "reports/coverage", Threshold: 90}, false},
		{"coverage missing", Condition{Name: "c", Kind: ConditionCoverageAtLeast, Target: "reports/none", Threshold: 50}, false},
		{"coverage not numeric", Condition{Name: "c", Kind: ConditionCoverageAtLeast, Target: "docs/prd.md", Threshold: 50}, false},
		{"validation passed", Condition{Name: "c", Kind: ConditionValidationPassed, Target: "implementation"}, true},
		{"validation absent", Condition{Name: "c", Kind: ConditionValidationPassed, Target: "release"}, false},
		{"unknown kind", Condition{Name: "c", Kind: "mystery", Target: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Evaluate(ws)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
