// Package audit keeps a tamper-evident trail of what happened while answering
// citizen queries: every research tool call and the final outcome of every
// query. Events are hash-chained so edits to the table are detectable.
package audit

import "time"

// EventType identifies the type of audit event.
type EventType string

const (
	EventTypeToolExecution EventType = "tool_execution"
	EventTypeQueryOutcome  EventType = "query_outcome"
)

// Outcome statuses.
const (
	StatusSuccess   = "success"   // tool call succeeded
	StatusError     = "error"     // tool call failed
	StatusAnswered  = "answered"  // query answered and released
	StatusEmergency = "emergency" // query short-circuited to the emergency redirect
	StatusFallback  = "fallback"  // query failed; the citizen got the fallback message
)

// Session identifies the request context an event belongs to.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
}

// Input captures the citizen's request, already redacted.
type Input struct {
	UserQuery string `json:"user_query,omitempty"`
}

// ToolExecution captures one research tool invocation.
type ToolExecution struct {
	Name       string         `json:"name"`
	Agent      string         `json:"agent,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     string         `json:"result,omitempty"` // truncated
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// Outcome is the final state of a tool call or a query.
type Outcome struct {
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration"`
	ToolCalls    int           `json:"tool_calls,omitempty"`
	Violations   []string      `json:"violations,omitempty"`
}

// Event is one audit record.
type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	// TraceID correlates all events of one citizen query.
	TraceID string `json:"trace_id,omitempty"`

	PrevHash  string `json:"prev_hash,omitempty"`
	EventHash string `json:"event_hash,omitempty"`

	Session Session        `json:"session"`
	Input   Input          `json:"input"`
	Tool    *ToolExecution `json:"tool,omitempty"`
	Outcome *Outcome       `json:"outcome,omitempty"`
}
