package otel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MinerInstruments publishes metrics and traces for ingest and mine runs.
type MinerInstruments struct {
	meterEnabled bool
	traceEnabled bool

	counterRuns     metric.Int64Counter
	counterErrors   metric.Int64Counter
	counterLogs     metric.Int64Counter
	counterPolicies metric.Int64Counter
	histDuration    metric.Int64Histogram

	tracer trace.Tracer
}

type RunHandle struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
	attrs []attribute.KeyValue
}

type RunInfo struct {
	Operation string
	Source    string
	SetName   string
}

func newMinerInstruments(p *Provider) *MinerInstruments {
	if p == nil {
		return nil
	}

	inst := &MinerInstruments{
		meterEnabled: p.meterProvider != nil,
		traceEnabled: p.tracerProvider != nil,
	}
	if p.meterProvider != nil {
		inst.counterRuns, _ = p.meter.Int64Counter(
			"miner.runs_total",
			metric.WithDescription("Number of ingest and mine runs processed"),
		)
		inst.counterErrors, _ = p.meter.Int64Counter(
			"miner.errors_total",
			metric.WithDescription("Number of runs that ended in error"),
		)
		inst.counterLogs, _ = p.meter.Int64Counter(
			"miner.logs_total",
			metric.WithDescription("Number of behavior logs accepted during runs"),
		)
		inst.counterPolicies, _ = p.meter.Int64Counter(
			"miner.policies_total",
			metric.WithDescription("Number of policies produced by mine runs"),
		)
		inst.histDuration, _ = p.meter.Int64Histogram(
			"miner.run.duration",
			metric.WithDescription("Duration of runs in milliseconds"),
		)
	}
	if p.tracerProvider != nil {
		inst.tracer = p.tracer
	}
	return inst
}

// Start returns a run handle and context including the active span when tracing is enabled.
func (i *MinerInstruments) Start(parent context.Context, info RunInfo) (*RunHandle, context.Context) {
	if i == nil {
		return nil, parent
	}

	h := &RunHandle{
		ctx:   parent,
		start: time.Now(),
		attrs: buildAttributes(info),
	}

	if i.traceEnabled && i.tracer != nil {
		spanName := spanNameFor(info.Operation, info.SetName)
		ctx, span := i.tracer.Start(parent, spanName, trace.WithAttributes(h.attrs...))
		h.ctx = ctx
		h.span = span
	}
	return h, h.ctx
}

// Finish records metrics and updates the span with outcome information.
func (i *MinerInstruments) Finish(h *RunHandle, logs, policies int, outcome string, errText string) {
	if i == nil || h == nil {
		return
	}
	elapsed := time.Since(h.start)
	attrs := append([]attribute.KeyValue{}, h.attrs...)
	if outcome != "" {
		attrs = append(attrs, attribute.String("outcome", outcome))
	}
	if errText != "" {
		attrs = append(attrs, attribute.String("error.message", errText))
	}

	if i.meterEnabled {
		i.counterRuns.Add(h.ctx, 1, metric.WithAttributes(attrs...))
		if logs > 0 {
			i.counterLogs.Add(h.ctx, int64(logs), metric.WithAttributes(attrs...))
		}
		if policies > 0 {
			i.counterPolicies.Add(h.ctx, int64(policies), metric.WithAttributes(attrs...))
		}
		if strings.EqualFold(outcome, "error") {
			i.counterErrors.Add(h.ctx, 1, metric.WithAttributes(attrs...))
		}
		i.histDuration.Record(h.ctx, elapsed.Milliseconds(), metric.WithAttributes(attrs...))
	}

	if h.span != nil {
		h.span.SetAttributes(attrs...)
		if strings.EqualFold(outcome, "error") {
			h.span.SetStatus(codes.Error, errText)
		}
		h.span.End()
	}
}

func buildAttributes(info RunInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if info.Operation != "" {
		attrs = append(attrs, attribute.String("miner.operation", info.Operation))
	}
	if info.Source != "" {
		attrs = append(attrs, attribute.String("miner.source", info.Source))
	}
	if info.SetName != "" {
		attrs = append(attrs, attribute.String("miner.set_name", info.SetName))
	}
	return attrs
}

func spanNameFor(operation, setName string) string {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		return "miner.run"
	}
	switch operation {
	case "mine":
		if setName != "" {
			return fmt.Sprintf("miner.%s:%s", operation, setName)
		}
		return "miner.mine"
	default:
		return "miner." + operation
	}
}
