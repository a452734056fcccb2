// Command rio-search serves the rio_search MCP tool over stdio. Each call
// runs a research agent over Rio de Janeiro's official sources and returns
// a validated, structured answer for the citizen.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"riosearch/agentutil"
	"riosearch/internal/audit"
	"riosearch/internal/jina"
	"riosearch/internal/research"
)

func main() {
	cfg, args := agentutil.MustLoadConfig()
	ctx := context.Background()

	fs := flag.NewFlagSet("rio-search", flag.ExitOnError)
	verify := fs.Bool("verify-audit", false, "Verify the audit hash chain and exit")
	recent := fs.Int("recent", 100, "Query outcomes to summarize with -verify-audit")
	asJSON := fs.Bool("json", false, "Print the -verify-audit report as JSON")
	fs.Parse(args)

	if *verify {
		store, err := agentutil.InitAuditStore(cfg)
		if err != nil || store == nil {
			slog.Error("audit store unavailable; set RIO_AUDIT_DSN", "err", err)
			os.Exit(1)
		}
		code := runVerify(ctx, store, *recent, *asJSON, os.Stdout)
		store.Close()
		os.Exit(code)
	}

	llm, err := agentutil.NewLLM(ctx, cfg)
	if err != nil {
		slog.Error("failed to create LLM model", "err", err)
		os.Exit(1)
	}

	// One limiter for both endpoints: they share the provider account.
	var limiter *rate.Limiter
	if cfg.OutboundRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.OutboundRPS), 1)
	}
	opts := jina.Options{
		APIKey:  cfg.SearchAPIKey,
		Timeout: cfg.HTTPTimeout,
		Limiter: limiter,
	}

	searchOpts := opts
	searchOpts.BaseURL = cfg.SearchURL
	searcher, err := jina.NewSearcher(searchOpts)
	if err != nil {
		slog.Error("failed to create search adapter", "err", err)
		os.Exit(1)
	}
	readerOpts := opts
	readerOpts.BaseURL = cfg.ReaderURL
	reader, err := jina.NewReader(readerOpts)
	if err != nil {
		slog.Error("failed to create reader adapter", "err", err)
		os.Exit(1)
	}

	engine, err := agentutil.InitPolicyEngine(cfg)
	if err != nil {
		slog.Error("failed to initialize policy engine", "err", err)
		os.Exit(1)
	}

	var toolAuditor *audit.ToolAuditor
	store, err := agentutil.InitAuditStore(cfg)
	if err != nil {
		slog.Error("failed to initialize audit store", "err", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
		toolAuditor = audit.NewToolAuditor(store, "rio_research_agent")
	}

	handler, err := research.NewHandler(research.HandlerConfig{
		Model:            llm,
		Searcher:         searcher,
		Reader:           reader,
		Policy:           engine,
		Auditor:          toolAuditor,
		MaxSteps:         cfg.MaxSteps,
		MaxContinuations: cfg.MaxContinuations,
		RequestTimeout:   cfg.RequestTimeout,
	})
	if err != nil {
		slog.Error("failed to create research handler", "err", err)
		os.Exit(1)
	}

	slog.Info("starting MCP server", "name", serverName, "transport", "stdio",
		"max_steps", cfg.MaxSteps, "min_tool_calls", engine.MinToolCalls(), "audit", store != nil)

	if err := server.ServeStdio(newMCPServer(handler)); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
