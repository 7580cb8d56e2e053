// Package mcp discovers tools on MCP servers and serves them as custom tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
	"go.uber.org/zap"
)

const summaryChars = 4000

// ErrToolFailed is returned when the server reports a tool-level error.
var ErrToolFailed = errors.New("mcp tool returned an error")

// ServerConfig launches one stdio MCP server.
type ServerConfig struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
}

// Client is the part of an MCP client the tools use.
type Client interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Server is a connected MCP server and the tools it offers.
type Server struct {
	name   string
	client Client
	tools  []*Tool
}

// Connect starts the server process, performs the handshake and lists tools.
func Connect(ctx context.Context, cfg ServerConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %s: %w", cfg.Name, err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "deepresearch", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp server %s: %w", cfg.Name, err)
	}
	s, err := NewServer(ctx, cfg.Name, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	logger.Named("mcp").Info("connected", zap.String("server", cfg.Name), zap.Int("tools", len(s.tools)))
	return s, nil
}

// NewServer wraps an initialized client.
func NewServer(ctx context.Context, name string, c Client) (*Server, error) {
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", name, err)
	}
	s := &Server{name: name, client: c}
	for _, t := range res.Tools {
		schema := t.RawInputSchema
		if len(schema) == 0 {
			if schema, err = json.Marshal(t.InputSchema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
		}
		s.tools = append(s.tools, &Tool{server: s, remote: t.Name, description: t.Description, schema: schema})
	}
	return s, nil
}

func (s *Server) Tools() []*Tool { return s.tools }

func (s *Server) Close() error { return s.client.Close() }

// Tool is one remote tool. Its name is prefixed with the server name.
type Tool struct {
	server      *Server
	remote      string
	description string
	schema      json.RawMessage
}

func (t *Tool) Name() string                    { return t.server.name + "_" + t.remote }
func (t *Tool) Description() string             { return t.description }
func (t *Tool) ArgumentSchema() json.RawMessage { return t.schema }

// DeriveArguments maps the query onto a lone string parameter.
func (t *Tool) DeriveArguments(_ context.Context, query string, _ []models.ChatMessage) (map[string]any, error) {
	var schema struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(t.schema, &schema); err != nil || len(schema.Properties) != 1 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	for name, p := range schema.Properties {
		if p.Type == "string" {
			return map[string]any{name: query}, nil
		}
	}
	return nil, nil
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) iter.Seq2[capability.Response, error] {
	return func(yield func(capability.Response, error) bool) {
		req := mcp.CallToolRequest{}
		req.Params.Name = t.remote
		req.Params.Arguments = args
		res, err := t.server.client.CallTool(ctx, req)
		if err != nil {
			yield(capability.Response{}, fmt.Errorf("call %s: %w", t.Name(), err))
			return
		}
		text := contentText(res.Content)
		if res.IsError {
			yield(capability.Response{}, fmt.Errorf("%w: %s: %s", ErrToolFailed, t.Name(), helpers.Truncate(text, 500)))
			return
		}
		resp := capability.Response{Kind: capability.KindFinal, Text: text, ResponseType: "text"}
		if res.StructuredContent != nil {
			if data, err := json.Marshal(res.StructuredContent); err == nil {
				resp.Data = data
				resp.ResponseType = "json"
			}
		}
		yield(resp, nil)
	}
}

func (t *Tool) Summarize(resp capability.Response) string {
	if resp.Text == "" && len(resp.Data) > 0 {
		return helpers.Truncate(string(resp.Data), summaryChars)
	}
	return helpers.Truncate(resp.Text, summaryChars)
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, "\n")
}
