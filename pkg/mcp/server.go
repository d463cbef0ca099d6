// Package mcp exposes the auditor as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ritzau/ds-audit/pkg/audit"
	"github.com/ritzau/ds-audit/pkg/learning"
	"github.com/ritzau/ds-audit/pkg/output"
	"github.com/ritzau/ds-audit/pkg/rules"
)

const serverVersion = "0.1.0"

// Server implements the MCP server for ds-audit.
type Server struct {
	mcpServer *server.MCPServer
	runner    *audit.Runner
	learning  *learning.Service
	engine    *rules.Engine
	threshold int
}

// NewServer creates an MCP server backed by the given runner and learning
// service.
func NewServer(runner *audit.Runner, svc *learning.Service, engine *rules.Engine, threshold int) *Server {
	if threshold <= 0 {
		threshold = output.DefaultThreshold
	}
	s := &Server{runner: runner, learning: svc, engine: engine, threshold: threshold}

	s.mcpServer = server.NewMCPServer(
		"ds-audit",
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(loggingMiddleware()),
	)

	s.mcpServer.AddTools(
		server.ServerTool{Tool: analyzeFrameTool(), Handler: s.handleAnalyzeFrame},
		server.ServerTool{Tool: submitFeedbackTool(), Handler: s.handleSubmitFeedback},
		server.ServerTool{Tool: listRulesTool(), Handler: s.handleListRules},
		server.ServerTool{Tool: learningStatsTool(), Handler: s.handleLearningStats},
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

type analyzeFrameResult struct {
	ID string `json:"id"`
	output.Report
	Corrections *learning.Counts `json:"corrections,omitempty"`
	Suggestions any              `json:"suggestions"`
}

func (s *Server) handleAnalyzeFrame(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.runner.Run(ctx, url)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}

	return jsonResult(analyzeFrameResult{
		ID:          out.ID,
		Report:      output.NewReport(out.Result, s.threshold),
		Corrections: out.Corrections,
		Suggestions: out.Suggestions,
	})
}

func (s *Server) handleSubmitFeedback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	frameID, err := req.RequireString("frame_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	fb := rules.Feedback{
		Type:          rules.FeedbackType(typ),
		ComponentName: req.GetString("component_name", ""),
		Description:   req.GetString("description", ""),
		NodeID:        req.GetString("node_id", ""),
	}
	if cls := req.GetString("expected_classification", ""); cls != "" {
		c := rules.Classification(cls)
		fb.ExpectedClassification = &c
	}

	generated, err := s.learning.SubmitFeedback(ctx, frameID, fb)
	switch {
	case errors.Is(err, learning.ErrPatternNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("frame %s has not been analyzed yet; run analyze_frame first", frameID)), nil
	case err != nil:
		return mcp.NewToolResultError(err.Error()), nil
	}
	if generated == nil {
		generated = []rules.Rule{}
	}
	return jsonResult(map[string]any{"rules": generated})
}

func (s *Server) handleListRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	set, err := s.engine.Snapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(set.Rules())
}

func (s *Server) handleLearningStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.learning.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
