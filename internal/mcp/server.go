// Package mcp exposes a read-only MCP tool surface over the workflow engine
// so assistants can inspect case state without a seat in the web UI. All
// tools are queries; mutation stays behind the authenticated REST API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"caseflow/backend/internal/engine"
	"caseflow/backend/internal/projection"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	projector *projection.Projector
	slaDays   int
}

func NewServer(eng *engine.Engine, proj *projection.Projector, defaultSLADays int) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Case Workflow",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine:    eng,
		projector: proj,
		slaDays:   defaultSLADays,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"case_workflow",
			mcp.WithDescription("Summarize a case's workflow state: current step, missing evidence, timeline"),
			mcp.WithString("case_id", mcp.Required(), mcp.Description("The case identifier")),
		),
		s.handleCaseWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"kanban_board",
			mcp.WithDescription("Return the kanban board of all cases grouped by workflow stage"),
		),
		s.handleKanbanBoard,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_analytics",
			mcp.WithDescription("Return portfolio workflow metrics: dwell times, SLA breaches, block reasons, overrides"),
			mcp.WithNumber("sla_days", mcp.Description("Fallback SLA in days for steps without one")),
		),
		s.handleWorkflowAnalytics,
	)
}

func (s *Server) handleCaseWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	caseID, ok := args["case_id"].(string)
	if !ok || caseID == "" {
		return mcp.NewToolResultError("Missing required parameter: case_id"), nil
	}

	summary, err := s.engine.Summary(ctx, caseID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to summarize case: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(summary)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleKanbanBoard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	board, err := s.projector.Board(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to build board: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(board)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleWorkflowAnalytics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slaDays := s.slaDays
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		if v, ok := args["sla_days"].(float64); ok && v > 0 {
			slaDays = int(v)
		}
	}

	analytics, err := s.projector.Analytics(ctx, slaDays)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to compute analytics: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(analytics)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
