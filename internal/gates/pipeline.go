package gates

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/capability"
	"github.com/fyrsmithlabs/conductd/internal/safety"
)

const instrumentationName = "github.com/fyrsmithlabs/conductd/internal/gates"

// Pipeline runs an ordered battery of validation gates. Gates execute
// strictly in sequence, since later gates assume artifacts produced by
// earlier ones exist, but a failing gate never stops the ones after it.
type Pipeline struct {
	defs     []Definition
	registry *capability.Registry
	locks    *safety.Interlocks
	logger   *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	runCounter  metric.Int64Counter
	failCounter metric.Int64Counter
}

// NewPipeline creates a pipeline over the given gate definitions.
func NewPipeline(defs []Definition, registry *capability.Registry, locks *safety.Interlocks, logger *zap.Logger) (*Pipeline, error) {
	if registry == nil {
		return nil, fmt.Errorf("capability registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		defs:     defs,
		registry: registry,
		locks:    locks,
		logger:   logger.Named("gates"),
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	p.initMetrics()
	return p, nil
}

func (p *Pipeline) initMetrics() {
	var err error

	p.runCounter, err = p.meter.Int64Counter(
		"conductd.gates.runs_total",
		metric.WithDescription("Total gate executions"),
		metric.WithUnit("{gate}"),
	)
	if err != nil {
		p.logger.Warn("failed to create run counter", zap.Error(err))
	}

	p.failCounter, err = p.meter.Int64Counter(
		"conductd.gates.failures_total",
		metric.WithDescription("Total gate failures"),
		metric.WithUnit("{gate}"),
	)
	if err != nil {
		p.logger.Warn("failed to create failure counter", zap.Error(err))
	}
}

// CapabilityNames returns every capability the pipeline delegates to, for
// startup registry validation.
func (p *Pipeline) CapabilityNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, def := range p.defs {
		if !seen[def.Capability] {
			seen[def.Capability] = true
			names = append(names, def.Capability)
		}
	}
	return names
}

// applicable filters definitions by subject, preserving declared order.
func (p *Pipeline) applicable(subject Subject) []Definition {
	out := make([]Definition, 0, len(p.defs))
	for _, def := range p.defs {
		if def.AppliesTo == nil || def.AppliesTo(subject) {
			out = append(out, def)
		}
	}
	return out
}

// ExecuteAll runs every applicable gate in declared order. A failing gate
// does not stop later gates; a capability error becomes a failed result
// rather than aborting the aggregation. The safety interlocks are checked
// before each gate so an emergency stop aborts before the next gate runs.
//
// The report is returned even when the call fails, so callers always have
// the complete diagnostic picture. The error aggregates every failing gate.
func (p *Pipeline) ExecuteAll(ctx context.Context, subject Subject) (*Report, error) {
	ctx, span := p.tracer.Start(ctx, "gates.execute_all")
	defer span.End()
	span.SetAttributes(
		attribute.String("project", subject.Project),
		attribute.Bool("brownfield", subject.Brownfield),
	)

	defs := p.applicable(subject)
	report := &Report{
		AllPassed: true,
		Results:   make([]Result, 0, len(defs)),
	}

	p.logger.Info("running validation gates",
		zap.String("story", subject.Story),
		zap.Int("applicable", len(defs)),
		zap.Int("declared", len(p.defs)),
	)

	for i, def := range defs {
		if p.locks != nil {
			if err := p.locks.Permit(safety.ActionInvokeAgent); err != nil {
				span.RecordError(err)
				return report, fmt.Errorf("gate pipeline aborted before gate %d (%s): %w", i+1, def.Name, err)
			}
		}
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		result := p.runGate(ctx, i+1, def, subject)
		report.Results = append(report.Results, result)
		if !result.Passed {
			report.AllPassed = false
		}

		if p.runCounter != nil {
			p.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", def.Name)))
		}
		if !result.Passed && p.failCounter != nil {
			p.failCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", def.Name)))
		}
	}

	if !report.AllPassed {
		var agg error
		for _, res := range report.Failing() {
			agg = multierr.Append(agg, &GateError{Gate: res})
		}
		span.SetAttributes(attribute.Int("failed", len(report.Failing())))
		return report, fmt.Errorf("validation gates failed: %w", agg)
	}

	return report, nil
}

// runGate executes one gate, converting any capability error into a failed
// result so a misbehaving collaborator cannot abort the aggregation.
func (p *Pipeline) runGate(ctx context.Context, ordinal int, def Definition, subject Subject) Result {
	result := Result{Ordinal: ordinal, Name: def.Name}

	res, err := p.registry.Invoke(ctx, def.Capability, def.Task, subject.Artifacts, subject.Options)
	if err != nil {
		result.Reason = err.Error()
		p.logger.Warn("gate errored",
			zap.String("gate", def.Name),
			zap.String("capability", def.Capability),
			zap.Error(err),
		)
		return result
	}

	result.Passed = res.Success
	if !res.Success {
		if reason, ok := res.Outputs["reason"].(string); ok {
			result.Reason = reason
		} else {
			result.Reason = "check reported failure"
		}
		p.logger.Warn("gate failed",
			zap.String("gate", def.Name),
			zap.String("reason", result.Reason),
		)
	} else {
		p.logger.Debug("gate passed", zap.String("gate", def.Name))
	}
	return result
}
