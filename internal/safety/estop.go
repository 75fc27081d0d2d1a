package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/events"
)

const instrumentationName = "github.com/fyrsmithlabs/conductd/internal/safety"

// EmergencyStop is a two-state machine {Running, Stopped}. Stopping
// snapshots in-flight work, broadcasts halt to every subsystem, and writes
// a durable incident report. Clearing it requires an explicit approver;
// in-flight work is never resumed automatically because an automated
// resume after an unknown failure is itself unsafe.
type EmergencyStop struct {
	mu       sync.RWMutex
	stopped  bool
	stopTime time.Time
	reason   string
	snapshot *Snapshot

	source   SnapshotSource
	stateDir string

	bus    *events.Bus
	logger *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	stopCounter   metric.Int64Counter
	resumeCounter metric.Int64Counter
}

// NewEmergencyStop creates an emergency stop in the Running state.
// stateDir receives incident reports; source supplies workflow snapshots
// and may be nil.
func NewEmergencyStop(stateDir string, source SnapshotSource, bus *events.Bus, logger *zap.Logger) *EmergencyStop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}

	e := &EmergencyStop{
		source:   source,
		stateDir: stateDir,
		bus:      bus,
		logger:   logger.Named("estop"),
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	e.initMetrics()
	return e
}

func (e *EmergencyStop) initMetrics() {
	var err error

	e.stopCounter, err = e.meter.Int64Counter(
		"conductd.safety.emergency_stops_total",
		metric.WithDescription("Total number of emergency stops executed"),
		metric.WithUnit("{stop}"),
	)
	if err != nil {
		e.logger.Warn("failed to create stop counter", zap.Error(err))
	}

	e.resumeCounter, err = e.meter.Int64Counter(
		"conductd.safety.resumes_total",
		metric.WithDescription("Total number of approved resumes"),
		metric.WithUnit("{resume}"),
	)
	if err != nil {
		e.logger.Warn("failed to create resume counter", zap.Error(err))
	}
}

// SetSource installs the snapshot source after construction. The
// orchestrator depends on the interlocks, so it registers itself here once
// both exist.
func (e *EmergencyStop) SetSource(source SnapshotSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = source
}

// Execute transitions Running -> Stopped. Fails with ErrAlreadyStopped if
// already stopped. Captures a snapshot of in-flight work, broadcasts halt,
// and writes a durable incident report.
func (e *EmergencyStop) Execute(ctx context.Context, reason string) (*IncidentReport, error) {
	ctx, span := e.tracer.Start(ctx, "safety.emergency_stop")
	defer span.End()
	span.SetAttributes(attribute.String("reason", reason))

	e.mu.RLock()
	if e.stopped {
		e.mu.RUnlock()
		return nil, ErrAlreadyStopped
	}
	source := e.source
	e.mu.RUnlock()

	// Snapshot outside the lock. The source is the orchestrator, whose
	// halt-clearing path queries Stopped() under the same mutex
	// Snapshot takes; capturing while holding e.mu could deadlock.
	snap := Snapshot{Time: time.Now(), Reason: reason}
	if source != nil {
		captured := source.Snapshot()
		captured.Time = snap.Time
		captured.Reason = reason
		snap = captured
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrAlreadyStopped
	}
	e.stopped = true
	e.stopTime = snap.Time
	e.reason = reason
	e.snapshot = &snap
	e.mu.Unlock()

	e.logger.Error("EMERGENCY STOP engaged",
		zap.String("reason", reason),
		zap.String("current_phase", snap.CurrentPhase),
		zap.Strings("pending_steps", snap.PendingSteps),
	)

	// Halt reaches the orchestrator, gate pipeline, and background
	// collectors before the report hits disk.
	e.bus.Publish(events.Event{
		Kind:   events.KindHalt,
		Reason: reason,
	})

	report := &IncidentReport{
		ID:        uuid.New().String(),
		StoppedAt: snap.Time,
		Reason:    reason,
		Snapshot:  snap,
		RecommendedActions: []string{
			"Review the incident reason and the captured workflow snapshot.",
			"Inspect collaborator logs for the failing invocation.",
			"Resume with an explicit approver once the cause is understood.",
			"Re-drive the orchestrator from the last completed phase.",
		},
	}

	if err := e.writeReport(report); err != nil {
		// The stop itself stands even if the report cannot be persisted.
		e.logger.Error("failed to persist incident report", zap.Error(err))
		span.RecordError(err)
	}

	if e.stopCounter != nil {
		e.stopCounter.Add(ctx, 1)
	}

	return report, nil
}

// Resume transitions Stopped -> Running. Fails with ErrNotStopped if not
// stopped. Logs the approver and the elapsed stopped duration. In-flight
// work is not restarted; the caller re-drives the orchestrator from the
// last completed phase.
func (e *EmergencyStop) Resume(ctx context.Context, approvedBy string) error {
	ctx, span := e.tracer.Start(ctx, "safety.resume")
	defer span.End()

	if approvedBy == "" {
		return fmt.Errorf("resume requires an approver identity")
	}
	span.SetAttributes(attribute.String("approved_by", approvedBy))

	e.mu.Lock()
	if !e.stopped {
		e.mu.Unlock()
		return ErrNotStopped
	}
	duration := time.Since(e.stopTime)
	reason := e.reason
	e.stopped = false
	e.stopTime = time.Time{}
	e.reason = ""
	e.snapshot = nil
	e.mu.Unlock()

	e.logger.Warn("emergency stop cleared",
		zap.String("approved_by", approvedBy),
		zap.Duration("stopped_for", duration),
		zap.String("stop_reason", reason),
	)

	e.bus.Publish(events.Event{
		Kind:   events.KindResume,
		Reason: fmt.Sprintf("approved by %s", approvedBy),
	})

	if e.resumeCounter != nil {
		e.resumeCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("approved_by", approvedBy),
		))
	}
	return nil
}

// Stopped reports whether the stop is engaged.
func (e *EmergencyStop) Stopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}

// IsAllowed reports whether action may execute. While stopped, only the
// fixed allow-list of read-only introspection and resume passes, a
// stricter restriction than safe mode's.
func (e *EmergencyStop) IsAllowed(action Action) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.stopped {
		return true
	}
	return stopWhitelist[action]
}

// Status returns an introspection snapshot.
func (e *EmergencyStop) Status() StopStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := StopStatus{Stopped: e.stopped}
	if e.stopped {
		status.StopTime = e.stopTime
		status.Reason = e.reason
		status.Duration = time.Since(e.stopTime)
	}
	return status
}

// LastSnapshot returns the snapshot captured by the active stop, or nil.
func (e *EmergencyStop) LastSnapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.snapshot == nil {
		return nil
	}
	snap := *e.snapshot
	return &snap
}

// writeReport persists an incident report under stateDir/incidents.
func (e *EmergencyStop) writeReport(report *IncidentReport) error {
	if e.stateDir == "" {
		return nil
	}

	dir := filepath.Join(e.stateDir, "incidents")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create incident directory: %w", err)
	}

	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode incident report: %w", err)
	}

	path := filepath.Join(dir, report.ID+".json")
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("failed to write incident report: %w", err)
	}

	e.logger.Info("incident report written", zap.String("path", path))
	return nil
}
