// Package gemini implements provider.Provider on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/provider"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// Config configures the Gemini client.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxRetries  int
}

// Client has no function calling wired, so tool arguments go through the
// capability fallback path.
type Client struct {
	api    *genai.Client
	cfg    Config
	retry  helpers.RetryPolicy
	logger *zap.Logger
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{
		api:    api,
		cfg:    cfg,
		retry:  helpers.RetryPolicy{Attempts: cfg.MaxRetries + 1, Backoff: 500 * time.Millisecond, MaxBackoff: 8 * time.Second},
		logger: logger.Named("gemini"),
	}, nil
}

func (c *Client) Name() string { return string(provider.Gemini) + ":" + c.cfg.Model }

func (c *Client) SupportsToolCalling() bool { return false }

func (c *Client) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	if len(req.Tools) > 0 {
		return provider.Response{}, provider.ErrNoToolCall
	}
	temp := c.cfg.Temperature
	gcfg := &genai.GenerateContentConfig{Temperature: &temp}
	if req.System != "" {
		gcfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != nil {
		gcfg.ResponseMIMEType = "application/json"
	}

	var resp *genai.GenerateContentResponse
	err := helpers.Retry(ctx, c.retry, func(attempt int) error {
		var err error
		resp, err = c.api.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(req.Prompt), gcfg)
		if err == nil {
			return nil
		}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code != http.StatusTooManyRequests && apiErr.Code < 500 {
			return helpers.Permanent(err)
		}
		c.logger.Warn("generate content failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		return err
	})
	if err != nil {
		return provider.Response{}, fmt.Errorf("gemini generate content: %w", err)
	}
	out := provider.Response{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}
