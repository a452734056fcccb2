// Package research answers citizen queries about Rio de Janeiro municipal
// services. An ADK agent researches with the web_search and read_url tools;
// the handler bounds the loop, validates the draft against the policy and
// converts every failure into a citizen-facing message.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"riosearch/internal/audit"
	"riosearch/internal/policy"
	"riosearch/prompts"
)

const (
	appName   = "rio_search"
	agentName = "rio_research_agent"
	userID    = "citizen"

	DefaultMaxSteps         = 100
	DefaultRequestTimeout   = 10 * time.Minute
	DefaultMaxContinuations = 3
)

var (
	// ErrEmptyQuery is returned for a blank citizen query.
	ErrEmptyQuery = errors.New("citizen query is empty")

	// ErrNoEvidence is returned when the agent called the tools but every
	// call failed, so nothing in an answer could be grounded.
	ErrNoEvidence = errors.New("every research tool call failed")

	// ErrNoAnswer is returned when the loop ended without final text.
	ErrNoAnswer = errors.New("agent produced no answer")
)

// PolicyError is returned when the draft still has blocking violations after
// every continuation round.
type PolicyError struct {
	Violations []policy.Violation
}

func (e *PolicyError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = string(v.Rule) + ": " + v.Message
	}
	return "answer rejected by policy: " + strings.Join(parts, "; ")
}

// State is the position of a query in the reasoning loop.
type State string

const (
	StateReasoning         State = "reasoning"
	StateToolCallPending   State = "tool-call-pending"
	StateTerminated        State = "terminated"
	StateStepLimitExceeded State = "step-limit-exceeded"
)

// Outcome describes how one citizen query was handled.
type Outcome struct {
	Answer        string
	State         State
	Emergency     bool
	ToolCalls     int
	Succeeded     int
	Steps         int
	Continuations int
	Decision      policy.Decision
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Model    adkmodel.LLM
	Searcher Searcher
	Reader   Reader

	// Policy validates drafts. Nil means the default policy.
	Policy *policy.Engine

	// Auditor records tool calls and outcomes. Nil disables auditing.
	Auditor *audit.ToolAuditor

	MaxSteps         int           // default DefaultMaxSteps
	MaxContinuations int           // rounds granted to fix a rejected draft
	RequestTimeout   time.Duration // default DefaultRequestTimeout
}

// Handler answers citizen queries. It is safe for concurrent use: every
// query gets its own agent, session and ledger.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler validates cfg and returns a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Model == nil {
		return nil, errors.New("research handler: model is required")
	}
	if cfg.Searcher == nil || cfg.Reader == nil {
		return nil, errors.New("research handler: searcher and reader are required")
	}
	if cfg.Policy == nil {
		engine, err := policy.NewEngine(policy.EngineConfig{})
		if err != nil {
			return nil, fmt.Errorf("research handler: default policy: %w", err)
		}
		cfg.Policy = engine
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxContinuations < 0 {
		cfg.MaxContinuations = 0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Handler{cfg: cfg}, nil
}

// Fallback is the citizen-facing message for a query that failed.
func Fallback(query string) string {
	return fmt.Sprintf("Erro: Não foi possível processar a consulta '%s'. Por favor, tente novamente ou reformule sua pergunta.", query)
}

// Answer returns the answer to query. It never fails: errors and panics are
// logged and turned into Fallback(query).
func (h *Handler) Answer(ctx context.Context, query string) (answer string) {
	traceID := audit.NewTraceID()
	ctx = audit.WithTraceID(ctx, traceID)
	auditor := h.cfg.Auditor.ForRequest("sess_"+uuid.New().String()[:8], traceID)
	start := time.Now()

	slog.Info("processing citizen query", "trace_id", traceID, "query", query)

	var out Outcome
	defer func() {
		if r := recover(); r != nil {
			slog.Error("error processing citizen query", "query", query, "err", fmt.Errorf("panic: %v", r), "stack", string(debug.Stack()))
			answer = Fallback(query)
			out = Outcome{}
		}
		h.recordOutcome(ctx, auditor, query, out, answer, time.Since(start))
	}()

	out, err := h.Run(ctx, query, auditor)
	if err != nil {
		slog.Error("error processing citizen query", "query", query, "err", err,
			"trace_id", traceID, "state", out.State, "tool_calls", out.ToolCalls, "steps", out.Steps)
		return Fallback(query)
	}

	slog.Info("citizen query answered", "trace_id", traceID, "tool_calls", out.ToolCalls,
		"steps", out.Steps, "continuations", out.Continuations, "emergency", out.Emergency)
	return out.Answer
}

func (h *Handler) recordOutcome(ctx context.Context, auditor *audit.ToolAuditor, query string, out Outcome, answer string, d time.Duration) {
	status := audit.StatusAnswered
	switch {
	case out.Emergency:
		status = audit.StatusEmergency
	case answer == Fallback(query):
		status = audit.StatusFallback
	}
	var violations []string
	for _, v := range out.Decision.Violations {
		violations = append(violations, string(v.Rule))
	}
	redacted, _ := h.cfg.Policy.Redact(query)
	auditor.RecordQuery(context.WithoutCancel(ctx), redacted, audit.Outcome{
		Status:     status,
		Duration:   d,
		ToolCalls:  out.ToolCalls,
		Violations: violations,
	})
}

// Run researches query and returns the validated outcome. auditor may be nil.
func (h *Handler) Run(ctx context.Context, query string, auditor *audit.ToolAuditor) (Outcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Outcome{}, ErrEmptyQuery
	}

	if h.cfg.Policy.IsEmergency(query) {
		slog.Warn("emergency detected, skipping research", "query", query)
		return Outcome{Answer: h.cfg.Policy.EmergencyMessage(), State: StateTerminated, Emergency: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
	defer cancel()

	ledger := &Ledger{}
	model := newBoundedModel(h.cfg.Model, h.cfg.MaxSteps)
	tools, err := newTools(&toolset{
		searcher: h.cfg.Searcher,
		reader:   h.cfg.Reader,
		ledger:   ledger,
		auditor:  auditor,
	})
	if err != nil {
		return Outcome{}, err
	}

	researchAgent, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Description: "Researches Rio de Janeiro municipal services on official sources and writes a grounded, structured answer.",
		Instruction: prompts.Research(h.cfg.Policy.MinToolCalls()),
		Model:       model,
		Tools:       tools,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create research agent: %w", err)
	}

	sessionService := session.InMemoryService()
	created, err := sessionService.Create(ctx, &session.CreateRequest{AppName: appName, UserID: userID})
	if err != nil {
		return Outcome{}, fmt.Errorf("create session: %w", err)
	}
	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          researchAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create runner: %w", err)
	}

	t := &turn{runner: r, sessionID: created.Session.ID(), state: StateReasoning}
	out := Outcome{}
	message := query

	for round := 0; ; round++ {
		draft, err := t.run(ctx, message)
		out.State = t.state
		out.ToolCalls = ledger.Calls()
		out.Succeeded = ledger.Succeeded()
		out.Steps = model.Steps()
		if err != nil {
			if out.Steps > h.cfg.MaxSteps {
				out.State = StateStepLimitExceeded
			}
			return out, err
		}
		if out.ToolCalls > 0 && out.Succeeded == 0 {
			records := ledger.Records()
			last := records[len(records)-1]
			slog.Warn("last research tool failure", "tool", last.Tool, "input", last.Input,
				"err", last.Err, "duration", last.Duration, "failed_calls", len(records))
			return out, fmt.Errorf("%w: %w", ErrNoEvidence, ledger.Err())
		}

		out.Decision = h.cfg.Policy.Evaluate(policy.Request{
			Query:     query,
			Answer:    draft,
			ToolCalls: out.ToolCalls,
			Evidence:  ledger.Observations(),
		})
		if out.Decision.Allowed {
			out.Answer = out.Decision.Answer
			return out, nil
		}
		if round >= h.cfg.MaxContinuations {
			return out, &PolicyError{Violations: out.Decision.Blocking()}
		}

		out.Continuations++
		message = continuation(out.Decision, out.ToolCalls, h.cfg.Policy)
		slog.Info("draft rejected, continuing research", "round", out.Continuations,
			"tool_calls", out.ToolCalls, "violations", len(out.Decision.Blocking()))
	}
}

// continuation is the follow-up message sent in the same session after a
// rejected draft.
func continuation(d policy.Decision, calls int, engine *policy.Engine) string {
	var b strings.Builder
	b.WriteString(d.Explain())
	fmt.Fprintf(&b, "\nChamadas às ferramentas até agora: %d. Mínimo exigido: %d.\n", calls, engine.MinToolCalls())
	fmt.Fprintf(&b, "Escreva a resposta final completa novamente, com as seções %s.", strings.Join(engine.Sections(), ", "))
	return b.String()
}

// turn drives the ADK runner for one user message and tracks the loop state.
type turn struct {
	runner    *runner.Runner
	sessionID string
	state     State
}

// run sends message and returns the final text of the agent.
func (t *turn) run(ctx context.Context, message string) (string, error) {
	content := genai.NewContentFromText(message, genai.RoleUser)
	t.state = StateReasoning

	var final string
	for event, err := range t.runner.Run(ctx, userID, t.sessionID, content, agent.RunConfig{}) {
		if err != nil {
			if errors.Is(err, ErrStepLimit) {
				t.state = StateStepLimitExceeded
			}
			return "", err
		}
		if event == nil || event.Content == nil || event.Partial {
			continue
		}

		var text strings.Builder
		calls, responses := 0, 0
		for _, part := range event.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				calls++
			case part.FunctionResponse != nil:
				responses++
			case part.Text != "" && !part.Thought:
				text.WriteString(part.Text)
			}
		}
		switch {
		case calls > 0:
			t.state = StateToolCallPending
		case responses > 0:
			t.state = StateReasoning
		case text.Len() > 0 && event.Author == agentName:
			final = text.String()
		}
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("research interrupted: %w", err)
	}
	if strings.TrimSpace(final) == "" {
		return "", ErrNoAnswer
	}
	t.state = StateTerminated
	return final, nil
}
