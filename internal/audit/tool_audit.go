package audit

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ToolAuditor records research tool calls and query outcomes for one agent.
// A nil ToolAuditor, or one with a nil Auditor, records nothing.
type ToolAuditor struct {
	auditor   Auditor
	agentName string
	sessionID string
	traceID   string
}

// NewToolAuditor creates a tool auditor for an agent.
func NewToolAuditor(auditor Auditor, agentName string) *ToolAuditor {
	return &ToolAuditor{auditor: auditor, agentName: agentName}
}

// ForRequest returns a copy bound to one citizen query.
func (ta *ToolAuditor) ForRequest(sessionID, traceID string) *ToolAuditor {
	if ta == nil {
		return nil
	}
	cp := *ta
	cp.sessionID = sessionID
	cp.traceID = traceID
	return &cp
}

func (ta *ToolAuditor) enabled() bool {
	return ta != nil && ta.auditor != nil
}

// traceFor prefers the bound trace ID and falls back to the one in ctx.
func (ta *ToolAuditor) traceFor(ctx context.Context) string {
	if ta.traceID != "" {
		return ta.traceID
	}
	return TraceIDFromContext(ctx)
}

// ToolCall represents a tool invocation to be audited.
type ToolCall struct {
	Name       string
	Parameters map[string]any
}

// ToolResult represents the result of a tool invocation.
type ToolResult struct {
	Output string
	Error  string
}

// RecordToolCall records a tool execution event. Failures to write are
// logged, never returned: auditing must not break a citizen's answer.
func (ta *ToolAuditor) RecordToolCall(ctx context.Context, call ToolCall, result ToolResult, duration time.Duration) {
	if !ta.enabled() {
		return
	}

	event := &Event{
		EventID:   "tool_" + uuid.New().String()[:8],
		Timestamp: time.Now().UTC(),
		EventType: EventTypeToolExecution,
		TraceID:   ta.traceFor(ctx),
		Session:   Session{ID: ta.sessionID},
		Tool: &ToolExecution{
			Name:       call.Name,
			Agent:      ta.agentName,
			Parameters: call.Parameters,
			Result:     truncateString(result.Output, 500),
			Error:      result.Error,
			Duration:   duration,
		},
		Outcome: &Outcome{
			Status:       outcomeStatus(result.Error),
			ErrorMessage: result.Error,
			Duration:     duration,
		},
	}

	if err := ta.auditor.Record(ctx, event); err != nil {
		slog.Warn("failed to record tool audit event", "tool", call.Name, "err", err)
	}
}

// RecordQuery records how a citizen query ended. query must already be
// redacted.
func (ta *ToolAuditor) RecordQuery(ctx context.Context, query string, outcome Outcome) {
	if !ta.enabled() {
		return
	}

	event := &Event{
		EventID:   "qry_" + uuid.New().String()[:8],
		Timestamp: time.Now().UTC(),
		EventType: EventTypeQueryOutcome,
		TraceID:   ta.traceFor(ctx),
		Session:   Session{ID: ta.sessionID},
		Input:     Input{UserQuery: query},
		Outcome:   &outcome,
	}

	if err := ta.auditor.Record(ctx, event); err != nil {
		slog.Warn("failed to record query audit event", "status", outcome.Status, "err", err)
	}
}

func outcomeStatus(errMsg string) string {
	if errMsg != "" {
		return StatusError
	}
	return StatusSuccess
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
