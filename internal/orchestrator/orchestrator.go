package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/conductd/internal/capability"
	"github.com/fyrsmithlabs/conductd/internal/events"
	"github.com/fyrsmithlabs/conductd/internal/gates"
	"github.com/fyrsmithlabs/conductd/internal/policy"
	"github.com/fyrsmithlabs/conductd/internal/safety"
)

const instrumentationName = "github.com/fyrsmithlabs/conductd/internal/orchestrator"

// Halt sources. A halt caused by the emergency stop clears when the stop
// is resumed; a blocking-condition halt clears only through ClearHalt.
const (
	haltSourceStop     = "emergency_stop"
	haltSourceBlocking = "blocking_condition"
)

// Config configures an orchestrator instance.
type Config struct {
	// Project identifies the project being driven.
	Project string

	// Brownfield marks projects with an existing system to protect.
	Brownfield bool

	// Phases is the ordered phase sequence. Defaults to DefaultPhases.
	Phases []Phase
}

// Orchestrator is the phase state machine. All exported methods are safe
// for concurrent use; only one phase executes at a time.
type Orchestrator struct {
	mu           sync.RWMutex
	phases       []Phase
	index        map[PhaseID]int
	current      PhaseID
	state        MachineState
	haltReason   string
	haltSource   string
	pending      *PendingCheckpoint
	checkpointCh chan CheckpointResolution
	haltNotify   chan struct{}
	pendingSteps map[string]bool
	activeSteps  map[string]bool

	project    string
	brownfield bool

	ws           *Workspace
	registry     *capability.Registry
	policies     *policy.Store
	locks        *safety.Interlocks
	gatePipeline *gates.Pipeline
	bus          *events.Bus
	logger       *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	phaseCounter metric.Int64Counter
	stepCounter  metric.Int64Counter
	haltCounter  metric.Int64Counter
}

// New creates an orchestrator and validates that every capability the
// phases and the gate pipeline reference is registered.
func New(cfg *Config, registry *capability.Registry, policies *policy.Store, locks *safety.Interlocks, gatePipeline *gates.Pipeline, bus *events.Bus, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if registry == nil {
		return nil, fmt.Errorf("capability registry is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	phases := cfg.Phases
	if len(phases) == 0 {
		phases = DefaultPhases()
	}
	if err := ValidatePhases(phases); err != nil {
		return nil, fmt.Errorf("invalid phase configuration: %w", err)
	}

	index := make(map[PhaseID]int, len(phases))
	for i, p := range phases {
		index[p.ID] = i
	}

	o := &Orchestrator{
		phases:       phases,
		index:        index,
		current:      phases[0].ID,
		state:        StateIdle,
		haltNotify:   make(chan struct{}, 1),
		pendingSteps: make(map[string]bool),
		activeSteps:  make(map[string]bool),
		project:      cfg.Project,
		brownfield:   cfg.Brownfield,
		ws:           NewWorkspace(),
		registry:     registry,
		policies:     policies,
		locks:        locks,
		gatePipeline: gatePipeline,
		bus:          bus,
		logger:       logger.Named("orchestrator"),
		tracer:       otel.Tracer(instrumentationName),
		meter:        otel.Meter(instrumentationName),
	}
	o.initMetrics()

	if err := registry.Validate(o.requiredCapabilities()); err != nil {
		return nil, fmt.Errorf("capability validation failed: %w", err)
	}

	if bus != nil {
		bus.Subscribe(events.KindHalt, o.onHalt)
		bus.Subscribe(events.KindResume, o.onResume)
	}

	return o, nil
}

func (o *Orchestrator) initMetrics() {
	var err error

	o.phaseCounter, err = o.meter.Int64Counter(
		"conductd.orchestrator.phase_executions_total",
		metric.WithDescription("Total phase executions by status"),
		metric.WithUnit("{phase}"),
	)
	if err != nil {
		o.logger.Warn("failed to create phase counter", zap.Error(err))
	}

	o.stepCounter, err = o.meter.Int64Counter(
		"conductd.orchestrator.step_dispatches_total",
		metric.WithDescription("Total step dispatches"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		o.logger.Warn("failed to create step counter", zap.Error(err))
	}

	o.haltCounter, err = o.meter.Int64Counter(
		"conductd.orchestrator.halts_total",
		metric.WithDescription("Total workflow halts by source"),
		metric.WithUnit("{halt}"),
	)
	if err != nil {
		o.logger.Warn("failed to create halt counter", zap.Error(err))
	}
}

// requiredCapabilities returns every capability name the phase steps and
// the gate pipeline reference.
func (o *Orchestrator) requiredCapabilities() []string {
	seen := make(map[string]bool)
	for _, p := range o.phases {
		for _, s := range p.Steps {
			seen[s.Capability] = true
		}
	}
	if o.gatePipeline != nil {
		for _, name := range o.gatePipeline.CapabilityNames() {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Phases returns the configured phase sequence.
func (o *Orchestrator) Phases() []Phase {
	return o.phases
}

// Current returns the phase the machine points at.
func (o *Orchestrator) Current() PhaseID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// State returns the machine state.
func (o *Orchestrator) State() MachineState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// HaltReason returns the message recorded when the machine halted.
func (o *Orchestrator) HaltReason() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.haltReason
}

// Workspace returns the shared artifact workspace.
func (o *Orchestrator) Workspace() *Workspace {
	return o.ws
}

// PendingCheckpoint returns the checkpoint execution is paused on, or nil.
func (o *Orchestrator) PendingCheckpoint() *PendingCheckpoint {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.pending == nil {
		return nil
	}
	cp := *o.pending
	return &cp
}

// Snapshot reports the machine's position for emergency-stop incident
// records.
func (o *Orchestrator) Snapshot() safety.Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return safety.Snapshot{
		CurrentPhase:      string(o.current),
		MachineState:      string(o.state),
		PendingSteps:      sortedKeys(o.pendingSteps),
		ActiveInvocations: sortedKeys(o.activeSteps),
	}
}

// Execute runs the named phase to completion. It returns a PhaseOutcome
// even on failure so callers can inspect partial results.
func (o *Orchestrator) Execute(ctx context.Context, id PhaseID) (*PhaseOutcome, error) {
	o.mu.Lock()
	if o.state == StateHalted {
		reason := o.haltReason
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrHalted, reason)
	}
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("cannot execute phase while %s", state)
	}
	idx, ok := o.index[id]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, id)
	}
	phase := o.phases[idx]
	o.state = StateRunning
	o.current = id
	o.pendingSteps = make(map[string]bool, len(phase.Steps))
	for _, s := range phase.Steps {
		o.pendingSteps[s.ID] = true
	}
	o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "orchestrator.execute",
		trace.WithAttributes(attribute.String("phase.id", string(id))))
	defer span.End()

	o.logger.Info("phase started",
		zap.String("phase", string(id)),
		zap.Int("steps", len(phase.Steps)))

	outcome := &PhaseOutcome{
		Phase:     id,
		Outputs:   make(map[string]any),
		StartedAt: time.Now(),
	}

	for _, cond := range phase.Prerequisites {
		if err := cond.Evaluate(o.ws); err != nil {
			return o.finish(outcome, fmt.Errorf("%w: %v", ErrPrerequisiteNotMet, err))
		}
	}

	if err := o.runBody(ctx, phase, outcome); err != nil {
		return o.finish(outcome, err)
	}

	for _, cond := range phase.ExitConditions {
		if err := cond.Evaluate(o.ws); err != nil {
			return o.finish(outcome, fmt.Errorf("%w: %v", ErrExitConditionNotMet, err))
		}
	}

	if phase.Gated && o.gatePipeline != nil {
		if err := o.runGates(ctx, phase, outcome); err != nil {
			return o.finish(outcome, err)
		}
	}

	if phase.Checkpoint != nil {
		if err := o.runCheckpoint(ctx, phase, outcome); err != nil {
			return o.finish(outcome, err)
		}
	}

	if phase.Transition != nil && o.policies.ResolveBool(policy.KeyAutoTransition) {
		if nextIdx, ok := o.index[phase.Transition.Next]; ok && nextIdx > idx {
			o.mu.Lock()
			o.current = phase.Transition.Next
			o.mu.Unlock()
			outcome.NextPhase = phase.Transition.Next
			o.logger.Info("auto transition",
				zap.String("from", string(id)),
				zap.String("to", string(phase.Transition.Next)),
				zap.String("message", phase.Transition.Message))
		}
	}

	return o.finish(outcome, nil)
}

// runBody dispatches the phase steps: sequentially in declared order,
// with consecutive same-group steps fanned out concurrently.
func (o *Orchestrator) runBody(ctx context.Context, phase Phase, outcome *PhaseOutcome) error {
	for _, batch := range groupSteps(phase.Steps) {
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(batch) == 1 && batch[0].Group == "" {
			out, err := o.runStep(ctx, batch[0])
			if err != nil {
				if abort := o.handleStepError(phase, batch[0], err, outcome); abort != nil {
					return abort
				}
				continue
			}
			o.commitOutputs(outcome, out)
			continue
		}

		// Parallel fan-out. All members run to completion before any
		// failure is acted on, so a failing sibling never leaves the
		// batch half-observed.
		limit := o.policies.ResolveInt(policy.KeyBackgroundConcurrency)
		if limit < 1 {
			limit = 1
		}
		type stepResult struct {
			out map[string]any
			err error
		}
		results := make([]stepResult, len(batch))
		eg := new(errgroup.Group)
		eg.SetLimit(limit)
		for i, st := range batch {
			eg.Go(func() error {
				out, err := o.runStep(ctx, st)
				results[i] = stepResult{out: out, err: err}
				return nil
			})
		}
		_ = eg.Wait()

		var abort error
		for i, st := range batch {
			if results[i].err == nil {
				continue
			}
			if err := o.handleStepError(phase, st, results[i].err, outcome); err != nil && abort == nil {
				abort = err
			}
		}
		if abort != nil {
			return abort
		}
		for i := range batch {
			o.commitOutputs(outcome, results[i].out)
		}
	}
	return nil
}

// runStep checks the safety interlocks, invokes the step's capability,
// and captures any declared outputs the capability produced. Declared
// outputs the capability did not produce are skipped, not errors.
// Captured outputs are not committed to the workspace here; the caller
// commits them once the whole batch has succeeded, so an aborted group
// never leaves partial artifacts behind.
func (o *Orchestrator) runStep(ctx context.Context, step Step) (map[string]any, error) {
	if o.locks != nil {
		if err := o.locks.Permit(safety.ActionInvokeAgent); err != nil {
			return nil, err
		}
	}

	o.trackStep(step.ID, true)
	defer o.trackStep(step.ID, false)

	if o.stepCounter != nil {
		o.stepCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("capability", step.Capability)))
	}

	res, err := o.registry.Invoke(ctx, step.Capability, step.Task, step.Inputs, nil)
	if err != nil {
		return nil, err
	}
	if res == nil || !res.Success {
		reason := "capability reported failure"
		if res != nil {
			if r, ok := res.Outputs["reason"].(string); ok && r != "" {
				reason = r
			}
		}
		return nil, errors.New(reason)
	}

	captured := make(map[string]any, len(step.Outputs))
	for _, path := range step.Outputs {
		v, ok := res.Outputs[path]
		if !ok {
			o.logger.Debug("declared output not produced",
				zap.String("step", step.ID),
				zap.String("output", path))
			continue
		}
		captured[path] = v
	}
	return captured, nil
}

func (o *Orchestrator) trackStep(id string, active bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if active {
		o.activeSteps[id] = true
	} else {
		delete(o.activeSteps, id)
		delete(o.pendingSteps, id)
	}
}

// handleStepError decides what a step failure means. A matched blocking
// condition halts the machine; a failed blocking step aborts the phase;
// anything else is recorded and execution continues.
func (o *Orchestrator) handleStepError(phase Phase, step Step, err error, outcome *PhaseOutcome) error {
	if key, bc, ok := matchBlockingCondition(phase, err); ok {
		o.haltFor(key, bc, err)
		return &BlockingConditionError{Key: key, Message: bc.Message}
	}
	if step.Blocking {
		return &StepError{Step: step.ID, Err: err}
	}
	outcome.StepFailures = append(outcome.StepFailures, StepFailure{
		Step:   step.ID,
		Reason: err.Error(),
	})
	o.logger.Warn("non-blocking step failed",
		zap.String("phase", string(phase.ID)),
		zap.String("step", step.ID),
		zap.Error(err))
	return nil
}

// matchBlockingCondition checks a step failure against the phase's
// declared blocking conditions. Typed capability error kinds are matched
// first; message substrings cover untyped collaborator errors. Keys are
// checked in sorted order so matching is deterministic.
func matchBlockingCondition(phase Phase, err error) (string, BlockingCondition, bool) {
	if len(phase.BlockingConditions) == 0 {
		return "", BlockingCondition{}, false
	}

	keys := make([]string, 0, len(phase.BlockingConditions))
	for k := range phase.BlockingConditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var capErr *capability.Error
	if errors.As(err, &capErr) && capErr.Kind != capability.KindUnspecified {
		for _, key := range keys {
			bc := phase.BlockingConditions[key]
			if bc.Action != ActionHalt {
				continue
			}
			if normalizePattern(key) == string(capErr.Kind) {
				return key, bc, true
			}
		}
	}

	msg := err.Error()
	for _, key := range keys {
		bc := phase.BlockingConditions[key]
		if bc.Action != ActionHalt {
			continue
		}
		if strings.Contains(msg, key) {
			return key, bc, true
		}
	}
	return "", BlockingCondition{}, false
}

func normalizePattern(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
}

// haltFor drives the machine into the halt super-state for a matched
// blocking condition and broadcasts the halt.
func (o *Orchestrator) haltFor(key string, bc BlockingCondition, cause error) {
	o.mu.Lock()
	o.state = StateHalted
	o.haltReason = bc.Message
	o.haltSource = haltSourceBlocking
	o.mu.Unlock()

	o.logger.Error("blocking condition halted workflow",
		zap.String("condition", key),
		zap.String("message", bc.Message),
		zap.Error(cause))

	if o.haltCounter != nil {
		o.haltCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("source", haltSourceBlocking)))
	}

	if o.bus != nil {
		o.bus.Publish(events.Event{
			Kind:   events.KindHalt,
			Key:    haltSourceBlocking,
			Reason: bc.Message,
		})
	}
	o.signalHalt()
}

func (o *Orchestrator) signalHalt() {
	select {
	case o.haltNotify <- struct{}{}:
	default:
	}
}

// runGates executes the validation gate pipeline for a gated phase and
// records the outcome as a validation result for the phase. Whether a
// failing report blocks advancement is a policy decision.
func (o *Orchestrator) runGates(ctx context.Context, phase Phase, outcome *PhaseOutcome) error {
	subject := gates.Subject{
		Project:    o.project,
		Story:      string(phase.ID),
		Brownfield: o.brownfield,
		Artifacts:  declaredOutputs(phase),
	}

	report, err := o.gatePipeline.ExecuteAll(ctx, subject)
	outcome.Gates = report
	o.ws.RecordValidation(string(phase.ID), report != nil && report.AllPassed)
	if err == nil {
		return nil
	}
	if errors.Is(err, safety.ErrActionBlocked) || errors.Is(err, context.Canceled) {
		return err
	}
	if o.policies.ResolveBool(policy.KeyBlockingOnGateFailure) {
		return err
	}
	o.logger.Warn("gate failures recorded without blocking advancement",
		zap.String("phase", string(phase.ID)),
		zap.Error(err))
	return nil
}

// runCheckpoint pauses execution until the pending checkpoint is
// resolved. When the policy's checkpoint granularity is "none" the
// checkpoint is auto-approved and recorded as such.
func (o *Orchestrator) runCheckpoint(ctx context.Context, phase Phase, outcome *PhaseOutcome) error {
	if o.policies.ResolveString(policy.KeyCheckpointGranularity) == policy.GranularityNone {
		outcome.Checkpoint = &CheckpointResolution{
			Approved:   true,
			ApprovedBy: "policy:unattended",
			ResolvedAt: time.Now(),
		}
		o.logger.Info("checkpoint auto-approved by policy",
			zap.String("phase", string(phase.ID)))
		return nil
	}

	res, err := o.awaitCheckpoint(ctx, phase)
	if err != nil {
		return err
	}
	outcome.Checkpoint = res
	if !res.Approved {
		return fmt.Errorf("%w by %s", ErrCheckpointRejected, res.ApprovedBy)
	}
	return nil
}

func (o *Orchestrator) awaitCheckpoint(ctx context.Context, phase Phase) (*CheckpointResolution, error) {
	ch := make(chan CheckpointResolution, 1)

	o.mu.Lock()
	// A halt raised while the last step was in flight must win over the
	// checkpoint; entering the wait would mask the halted state.
	if o.state == StateHalted {
		reason := o.haltReason
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrHalted, reason)
	}
	// Drain a stale halt signal from a previous halt/clear cycle.
	select {
	case <-o.haltNotify:
	default:
	}
	o.checkpointCh = ch
	o.pending = &PendingCheckpoint{
		Phase:     phase.ID,
		Purpose:   phase.Checkpoint.Purpose,
		Questions: phase.Checkpoint.Questions,
		AskedAt:   time.Now(),
	}
	o.state = StateAwaitingCheckpoint
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.pending = nil
		o.checkpointCh = nil
		o.mu.Unlock()
	}()

	o.logger.Info("awaiting checkpoint",
		zap.String("phase", string(phase.ID)),
		zap.String("purpose", phase.Checkpoint.Purpose))

	select {
	case res := <-ch:
		return &res, nil
	case <-o.haltNotify:
		return nil, fmt.Errorf("%w: %s", ErrHalted, o.HaltReason())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveCheckpoint records a human resolution for the pending checkpoint.
func (o *Orchestrator) ResolveCheckpoint(id PhaseID, res CheckpointResolution) error {
	if res.ApprovedBy == "" {
		return fmt.Errorf("checkpoint resolution requires an approver")
	}

	o.mu.Lock()
	if o.pending == nil || o.checkpointCh == nil {
		o.mu.Unlock()
		return ErrNoPendingCheckpoint
	}
	if o.pending.Phase != id {
		o.mu.Unlock()
		return fmt.Errorf("%w for phase %q", ErrNoPendingCheckpoint, id)
	}
	ch := o.checkpointCh
	o.checkpointCh = nil
	o.mu.Unlock()

	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now()
	}
	ch <- res
	return nil
}

// ClearHalt returns a halted machine to idle. It refuses while the
// emergency stop is still engaged; resume the stop first.
func (o *Orchestrator) ClearHalt(clearedBy string) error {
	if clearedBy == "" {
		return fmt.Errorf("clearing a halt requires an approver")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateHalted {
		return ErrNotHalted
	}
	if o.locks != nil && o.locks.Stop != nil && o.locks.Stop.Stopped() {
		return fmt.Errorf("emergency stop still engaged; resume it before clearing the halt")
	}

	o.logger.Info("halt cleared",
		zap.String("cleared_by", clearedBy),
		zap.String("reason", o.haltReason),
		zap.String("source", o.haltSource))
	o.state = StateIdle
	o.haltReason = ""
	o.haltSource = ""
	return nil
}

// onHalt moves the machine into the halt super-state when the emergency
// stop fires. Halts the orchestrator raised itself are already applied.
func (o *Orchestrator) onHalt(evt events.Event) {
	o.mu.Lock()
	if o.state == StateHalted {
		o.mu.Unlock()
		return
	}
	o.state = StateHalted
	o.haltReason = evt.Reason
	if evt.Key == haltSourceBlocking {
		o.haltSource = haltSourceBlocking
	} else {
		o.haltSource = haltSourceStop
	}
	o.mu.Unlock()

	if o.haltCounter != nil {
		o.haltCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("source", o.haltSource)))
	}
	o.signalHalt()
}

// onResume clears an emergency-stop halt when the stop is resumed. A
// blocking-condition halt stays in place until ClearHalt.
func (o *Orchestrator) onResume(evt events.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateHalted || o.haltSource != haltSourceStop {
		return
	}
	o.state = StateIdle
	o.haltReason = ""
	o.haltSource = ""
}

func (o *Orchestrator) finish(outcome *PhaseOutcome, err error) (*PhaseOutcome, error) {
	outcome.CompletedAt = time.Now()
	if err != nil {
		outcome.Status = StatusFailed
	} else {
		outcome.Status = StatusSuccess
	}

	o.mu.Lock()
	if o.state == StateRunning || o.state == StateAwaitingCheckpoint {
		o.state = StateIdle
	}
	o.pendingSteps = make(map[string]bool)
	o.mu.Unlock()

	if o.phaseCounter != nil {
		o.phaseCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("phase", string(outcome.Phase)),
			attribute.String("status", outcome.Status)))
	}

	o.logger.Info("phase finished",
		zap.String("phase", string(outcome.Phase)),
		zap.String("status", outcome.Status),
		zap.Duration("duration", outcome.CompletedAt.Sub(outcome.StartedAt)),
		zap.Error(err))
	return outcome, err
}

// groupSteps batches consecutive steps sharing a non-empty group for
// concurrent dispatch; everything else becomes a singleton batch.
func groupSteps(steps []Step) [][]Step {
	var batches [][]Step
	for i := 0; i < len(steps); {
		st := steps[i]
		if st.Group == "" {
			batches = append(batches, []Step{st})
			i++
			continue
		}
		j := i + 1
		for j < len(steps) && steps[j].Group == st.Group {
			j++
		}
		batches = append(batches, steps[i:j])
		i = j
	}
	return batches
}

// declaredOutputs collects every output path the phase's steps declare,
// in declaration order.
func declaredOutputs(phase Phase) []string {
	var outs []string
	seen := make(map[string]bool)
	for _, s := range phase.Steps {
		for _, path := range s.Outputs {
			if seen[path] {
				continue
			}
			seen[path] = true
			outs = append(outs, path)
		}
	}
	return outs
}

// commitOutputs publishes a completed step's artifacts to the shared
// workspace and the phase outcome. Steps whose batch aborted never reach
// this point, so the workspace only ever sees outputs from good batches.
func (o *Orchestrator) commitOutputs(outcome *PhaseOutcome, out map[string]any) {
	for path, v := range out {
		o.ws.Record(path, v)
	}
	mergeOutputs(outcome.Outputs, out)
}

func mergeOutputs(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
