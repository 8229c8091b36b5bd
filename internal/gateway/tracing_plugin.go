// Package gateway provides the main Nexus gateway server.
//
// tracing_plugin.go bridges AgentEvents to OpenTelemetry spans (spec.md
// ambient observability stack), one span per turn and one child span per
// tool call.
package gateway

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/nexus-assist/internal/agent"
	"github.com/haasonsaas/nexus-assist/internal/observability"
	"github.com/haasonsaas/nexus-assist/pkg/models"
)

// TracingPlugin records one OTel span per agent run and one child span per
// tool call, using the server's shared Tracer. It implements agent.Plugin.
type TracingPlugin struct {
	tracer *observability.Tracer

	mu        sync.Mutex
	runSpans  map[string]spanEntry
	toolSpans map[string]spanEntry
}

type spanEntry struct {
	ctx  context.Context
	span trace.Span
}

// NewTracingPlugin creates a plugin that traces turns and tool calls.
func NewTracingPlugin(tracer *observability.Tracer) *TracingPlugin {
	return &TracingPlugin{
		tracer:    tracer,
		runSpans:  make(map[string]spanEntry),
		toolSpans: make(map[string]spanEntry),
	}
}

// OnEvent implements agent.Plugin.
func (p *TracingPlugin) OnEvent(ctx context.Context, e models.AgentEvent) {
	if p == nil || p.tracer == nil {
		return
	}

	switch e.Type {
	case models.AgentEventRunStarted:
		spanCtx, span := p.tracer.Start(ctx, "agent.turn")
		p.tracer.SetAttributes(span, "run_id", e.RunID)
		p.mu.Lock()
		p.runSpans[e.RunID] = spanEntry{ctx: spanCtx, span: span}
		p.mu.Unlock()

	case models.AgentEventRunFinished:
		p.endRunSpan(e.RunID, nil)

	case models.AgentEventRunError, models.AgentEventRunCancelled, models.AgentEventRunTimedOut:
		var err error
		if e.Error != nil {
			err = errString(e.Error.Message)
		}
		p.endRunSpan(e.RunID, err)

	case models.AgentEventToolStarted:
		if e.Tool == nil {
			return
		}
		parent := ctx
		p.mu.Lock()
		if entry, ok := p.runSpans[e.RunID]; ok {
			parent = entry.ctx
		}
		p.mu.Unlock()
		spanCtx, span := p.tracer.TraceToolExecution(parent, e.Tool.Name)
		p.mu.Lock()
		p.toolSpans[e.Tool.CallID] = spanEntry{ctx: spanCtx, span: span}
		p.mu.Unlock()

	case models.AgentEventToolFinished, models.AgentEventToolTimedOut:
		if e.Tool == nil {
			return
		}
		var err error
		if !e.Tool.Success && e.Error != nil {
			err = errString(e.Error.Message)
		}
		p.endToolSpan(e.Tool.CallID, err)
	}
}

func (p *TracingPlugin) endRunSpan(runID string, err error) {
	p.mu.Lock()
	entry, ok := p.runSpans[runID]
	delete(p.runSpans, runID)
	p.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		p.tracer.RecordError(entry.span, err)
		entry.span.SetStatus(codes.Error, err.Error())
	}
	entry.span.End()
}

func (p *TracingPlugin) endToolSpan(callID string, err error) {
	p.mu.Lock()
	entry, ok := p.toolSpans[callID]
	delete(p.toolSpans, callID)
	p.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		p.tracer.RecordError(entry.span, err)
		entry.span.SetStatus(codes.Error, err.Error())
	}
	entry.span.End()
}

func errString(msg string) error {
	if msg == "" {
		return nil
	}
	return errMessage(msg)
}

type errMessage string

func (e errMessage) Error() string { return string(e) }

// GetTracingPlugin returns the server's tracing plugin, or nil if tracing
// is not configured.
func (s *Server) GetTracingPlugin() agent.Plugin {
	if s.tracer == nil {
		return nil
	}
	return NewTracingPlugin(s.tracer)
}
