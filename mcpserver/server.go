// Package mcpserver exposes the research engine and its tools over MCP stdio.
package mcpserver

import (
	"context"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"go.uber.org/zap"
)

// Version is reported in the MCP handshake.
var Version = "dev"

const ResearchToolName = "deep_research"

// Researcher is the engine surface the server needs.
type Researcher interface {
	Run(ctx context.Context, req core.Request, sink stream.Sink, opts ...stream.Option) (core.Result, error)
	Tools() ([]capability.OrchestratorTool, error)
}

// New registers deep_research plus every registered tool, callable directly.
func New(engine Researcher, logger *zap.Logger) (*server.MCPServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := server.NewMCPServer(
		"deepresearch",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	h := &handlers{engine: engine, logger: logger.Named("mcp")}
	s.AddTool(mcp.NewTool(ResearchToolName,
		mcp.WithDescription("Research a question iteratively across the configured sources and return a cited answer."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question to research")),
		mcp.WithString("mode", mcp.Enum("fast", "thoughtful", "deep"), mcp.Description("Effort level")),
	), h.research)

	tools, err := engine.Tools()
	if err != nil {
		return nil, err
	}
	for _, t := range tools {
		if t.Capability == nil || t.Name == ResearchToolName {
			continue
		}
		s.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Description, t.Capability.ArgumentSchema()), h.direct(t.Capability))
	}
	return s, nil
}

// Serve speaks MCP on in/out until ctx is done.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

type handlers struct {
	engine Researcher
	logger *zap.Logger
}

func (h *handlers) research(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question := strings.TrimSpace(req.GetString("question", ""))
	if question == "" {
		return mcp.NewToolResultError("question is required"), nil
	}
	var mode models.ResearchMode
	if raw := req.GetString("mode", ""); raw != "" {
		m, err := models.ParseMode(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		mode = m
	}
	res, err := h.engine.Run(ctx, core.Request{Question: question, Mode: mode}, &stream.Recorder{})
	if err != nil {
		h.logger.Warn("research failed", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(FormatResult(res)), nil
}

func (h *handlers) direct(t capability.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, ok, err := capability.Final(t.Execute(ctx, req.GetArguments()), nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !ok {
			return mcp.NewToolResultError(t.Name() + " returned nothing"), nil
		}
		return mcp.NewToolResultText(t.Summarize(resp)), nil
	}
}

// sourceSnippetChars caps the snippet shown per source.
const sourceSnippetChars = 120

// FormatResult renders an answer with its numbered sources, or the
// clarifying question when the run stopped to ask one.
func FormatResult(res core.Result) string {
	if res.StopReason == models.StopClarification && res.Clarification != "" {
		return res.Clarification
	}
	sources := helpers.FormatCitations(res.Citations, helpers.WithMaxSnippetLength(sourceSnippetChars))
	if len(sources) == 0 {
		return res.Answer
	}
	return res.Answer + "\n\nSources:\n" + strings.Join(sources, "\n")
}
