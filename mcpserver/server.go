package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/PaiCY-T/LLM-strategy-generator-sub011/config"
	"github.com/PaiCY-T/LLM-strategy-generator-sub011/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  sandbox.Executor
	sweeper   sandbox.Sweeper
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.Executor, sweeper sandbox.Sweeper) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
		sweeper:  sweeper,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("sandbox.image", s.config.Sandbox.Image),
		zap.Int("sandbox.timeout_sec", s.config.Sandbox.TimeoutSec),
		zap.Int("sandbox.memory_mb", s.config.Sandbox.MemoryMB),
		zap.Float64("sandbox.cpu_cores", s.config.Sandbox.CPUCores),
		zap.Int("sandbox.max_concurrent", s.config.Sandbox.MaxConcurrent),
		zap.Int("reaper.interval_sec", s.config.Reaper.IntervalSec),
		zap.Int("reaper.grace_period_sec", s.config.Reaper.GracePeriodSec),
	)

	s.mcpServer = server.NewMCPServer("strategy-executor", "A secure strategy execution server")

	s.registerRunStrategyTool()
	s.registerReapOrphansTool()

	return s, nil
}

// registerRunStrategyTool registers the run_strategy tool
func (s *MCPServer) registerRunStrategyTool() {
	tool := mcp.Tool{
		Name:        "run_strategy",
		Description: "Validate and execute untrusted strategy code in an isolated environment",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python strategy source code",
				},
				"timeout_sec": map[string]any{
					"type":        "number",
					"description": "Wall-clock execution limit in seconds (optional, defaults to configured timeout)",
				},
				"capabilities": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Extra module names permitted for this request (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunStrategy)
}

// registerReapOrphansTool registers the reap_orphans tool
func (s *MCPServer) registerReapOrphansTool() {
	tool := mcp.Tool{
		Name:        "reap_orphans",
		Description: "Sweep and remove abandoned execution environments",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleReapOrphans)
}

// runStrategyResponse is the JSON shape returned to the tool caller.
type runStrategyResponse struct {
	Success           bool               `json:"success"`
	ErrorType         string             `json:"error_type"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
	ExecutionTimeMS   int64              `json:"execution_time_ms"`
	PeakCPUPercent    float64            `json:"peak_cpu_percent"`
	PeakMemoryPercent float64            `json:"peak_memory_percent"`
	PeakPids          int                `json:"peak_pids"`
	KilledReason      string             `json:"killed_reason,omitempty"`
	ExitCode          int                `json:"exit_code"`
	Stdout            string             `json:"stdout"`
	Stderr            string             `json:"stderr"`
	Violations        []string           `json:"violations,omitempty"`
}

// handleRunStrategy handles the run_strategy tool
func (s *MCPServer) handleRunStrategy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("strategy execution requested")

	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	var timeout time.Duration
	if sec := request.GetFloat("timeout_sec", 0); sec > 0 {
		timeout = time.Duration(sec * float64(time.Second))
	}

	capabilities, err := capabilityList(request)
	if err != nil {
		return nil, err
	}

	s.logger.Info("executing strategy",
		zap.Duration("timeout", timeout),
		zap.Strings("capabilities", capabilities),
		zap.Int("code_len", len(code)))

	result, err := s.executor.Run(ctx, sandbox.ExecutionRequest{
		Code:         code,
		Timeout:      timeout,
		Capabilities: capabilities,
	})
	if err != nil {
		s.logger.Error("strategy execution failed", zap.Error(err))

		var infra *sandbox.InfraError
		if errors.As(err, &infra) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.TextContent{
						Type: "text",
						Text: fmt.Sprintf("Execution failed: %v", err),
					},
				},
				IsError: true,
			}, nil
		}
		return nil, err
	}

	s.logger.Info("strategy execution completed",
		zap.String("error_type", string(result.ErrorType)),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("execution_time", result.ExecutionTime))

	resp := runStrategyResponse{
		Success:           result.Success,
		ErrorType:         string(result.ErrorType),
		Metrics:           result.Metrics,
		ExecutionTimeMS:   result.ExecutionTime.Milliseconds(),
		PeakCPUPercent:    result.Usage.PeakCPUPercent,
		PeakMemoryPercent: result.Usage.PeakMemoryPercent,
		PeakPids:          result.Usage.PeakPids,
		KilledReason:      result.KilledReason,
		ExitCode:          result.ExitCode,
		Stdout:            result.Stdout,
		Stderr:            result.Stderr,
	}
	for _, v := range result.Violations {
		resp.Violations = append(resp.Violations, v.String())
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(payload),
			},
		},
	}, nil
}

// handleReapOrphans handles the reap_orphans tool
func (s *MCPServer) handleReapOrphans(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("orphan sweep requested")

	removed, err := s.sweeper.Cleanup(ctx)
	if err != nil {
		s.logger.Error("orphan sweep failed", zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Sweep failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: fmt.Sprintf(`{"removed":%d}`, removed),
			},
		},
	}, nil
}

// capabilityList extracts the optional capabilities array.
func capabilityList(request mcp.CallToolRequest) ([]string, error) {
	raw, ok := request.GetArguments()["capabilities"]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("capabilities must be an array of strings")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("capabilities must be an array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
