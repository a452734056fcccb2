package research

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"riosearch/internal/audit"
	"riosearch/internal/jina"
)

// Searcher is the web search adapter.
type Searcher interface {
	Search(ctx context.Context, query string) (*jina.SearchResult, error)
}

// Reader is the page content extraction adapter.
type Reader interface {
	Read(ctx context.Context, pageURL string) (*jina.PageContent, error)
}

// WebSearchArgs defines arguments for the web_search tool.
type WebSearchArgs struct {
	Query string `json:"query" jsonschema:"Search terms in Portuguese. Include 'Rio de Janeiro' or a site: operator such as site:1746.rio."`
}

// ReadURLArgs defines arguments for the read_url tool.
type ReadURLArgs struct {
	URL string `json:"url" jsonschema:"Full http(s) URL of the page to read, usually taken from a web_search result."`
}

// ToolResult is what the model sees after a tool call. Failures are
// reported in Error instead of a Go error so the model can react to them.
type ToolResult struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// toolset binds the adapters to one query's ledger and auditor.
type toolset struct {
	searcher Searcher
	reader   Reader
	ledger   *Ledger
	auditor  *audit.ToolAuditor
}

func errorResult(toolName, input string, err error) ToolResult {
	return ToolResult{Error: fmt.Sprintf("%s(%q) failed: %v", toolName, input, err)}
}

func (ts *toolset) webSearch(ctx tool.Context, args WebSearchArgs) (ToolResult, error) {
	return ts.call(ctx, "web_search", args.Query, func(c context.Context) (fmt.Stringer, error) {
		return ts.searcher.Search(c, args.Query)
	})
}

func (ts *toolset) readURL(ctx tool.Context, args ReadURLArgs) (ToolResult, error) {
	return ts.call(ctx, "read_url", args.URL, func(c context.Context) (fmt.Stringer, error) {
		return ts.reader.Read(c, args.URL)
	})
}

// call runs one adapter call, records it in the ledger and the audit trail,
// and converts the outcome into a ToolResult.
func (ts *toolset) call(ctx context.Context, name, input string, fn func(context.Context) (fmt.Stringer, error)) (ToolResult, error) {
	// Once the query is abandoned no new outbound call is started.
	if err := ctx.Err(); err != nil {
		return errorResult(name, input, err), nil
	}

	start := time.Now()
	out, err := fn(ctx)
	duration := time.Since(start)

	var observation string
	if err == nil {
		observation = out.String()
	}
	ts.ledger.Record(ToolCallRecord{Tool: name, Input: input, Err: err, Duration: duration}, observation)

	result := audit.ToolResult{Output: observation}
	if err != nil {
		result.Error = err.Error()
	}
	ts.auditor.RecordToolCall(context.WithoutCancel(ctx),
		audit.ToolCall{Name: name, Parameters: map[string]any{"input": input}},
		result, duration)

	if err != nil {
		slog.Warn("research tool failed", "tool", name, "input", input, "err", err)
		return errorResult(name, input, err), nil
	}
	slog.Debug("research tool", "tool", name, "input", input, "bytes", len(observation), "duration", duration)
	return ToolResult{Result: observation}, nil
}

func newTools(ts *toolset) ([]tool.Tool, error) {
	webSearch, err := functiontool.New(functiontool.Config{
		Name:        "web_search",
		Description: "Return web search results for the query, localized to Rio de Janeiro (country BR, language pt). Results list titles, URLs and snippets only; use read_url for the full page.",
	}, ts.webSearch)
	if err != nil {
		return nil, fmt.Errorf("create web_search tool: %w", err)
	}

	readURL, err := functiontool.New(functiontool.Config{
		Name:        "read_url",
		Description: "Read the main text content of a web page. Navigation, menus, footers, forms and images are stripped.",
	}, ts.readURL)
	if err != nil {
		return nil, fmt.Errorf("create read_url tool: %w", err)
	}

	return []tool.Tool{webSearch, readURL}, nil
}
