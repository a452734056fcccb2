package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"riosearch/prompts"
)

const (
	serverName    = "Rio Search"
	serverVersion = "1.0.0"
	infoURI       = "rio://search/info"
)

// answerer is the part of research.Handler the MCP server needs.
type answerer interface {
	Answer(ctx context.Context, query string) string
}

// newMCPServer exposes the rio_search tool and the service description.
func newMCPServer(h answerer) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)

	searchTool := mcp.NewTool("rio_search",
		mcp.WithDescription("Search for Rio de Janeiro government information and services using a specialized research agent. "+
			"The agent searches official municipal sources (1746.rio, prefeitura.rio, carioca.rio) extensively and returns "+
			"a structured answer about services, procedures, documents and programs, with official links."),
		mcp.WithString("citizen_query",
			mcp.Required(),
			mcp.Description("The citizen's question about Rio de Janeiro services, procedures, documents, programs or any government-related information."),
		),
	)
	s.AddTool(searchTool, searchHandler(h))

	info := mcp.NewResource(infoURI, "Rio Search info",
		mcp.WithResourceDescription("Capabilities, sources and supported query types of the Rio Search service."),
		mcp.WithMIMEType("text/plain"),
	)
	s.AddResource(info, infoHandler)

	return s
}

func searchHandler(h answerer) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := strings.TrimSpace(req.GetString("citizen_query", ""))
		if query == "" {
			return mcp.NewToolResultError("citizen_query parameter is required"), nil
		}
		slog.Info("rio_search called", "query", query)
		return mcp.NewToolResultText(h.Answer(ctx, query)), nil
	}
}

func infoHandler(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      infoURI,
			MIMEType: "text/plain",
			Text:     prompts.ServiceInfo,
		},
	}, nil
}
