package openai_provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Config configures the OpenAI client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	ImageModel  string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// Client implements provider.Provider on the OpenAI chat completions API.
type Client struct {
	api    *openai.Client
	cfg    Config
	retry  helpers.RetryPolicy
	logger *zap.Logger
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openai.CreateImageModelDallE3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{
		api:    openai.NewClientWithConfig(oc),
		cfg:    cfg,
		retry:  helpers.RetryPolicy{Attempts: cfg.MaxRetries + 1, Backoff: 500 * time.Millisecond, MaxBackoff: 8 * time.Second},
		logger: logger.Named("openai"),
	}
}

func (c *Client) Name() string { return string(provider.OpenAI) + ":" + c.cfg.Model }

func (c *Client) SupportsToolCalling() bool { return true }

// Invoke sends one chat completion, retrying rate limits and server errors.
func (c *Client) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	ccr := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if req.Schema != nil {
		ccr.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: req.Schema.Definition,
			},
		}
	}
	for _, t := range req.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		ccr.Tools = append(ccr.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	if len(ccr.Tools) > 0 {
		ccr.ToolChoice = "required"
	}

	var resp openai.ChatCompletionResponse
	start := time.Now()
	err := helpers.Retry(ctx, c.retry, func(attempt int) error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, ccr)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return helpers.Permanent(err)
		}
		c.logger.Warn("chat completion failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		return err
	})
	if err != nil {
		return provider.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return provider.Response{}, errors.New("openai chat completion: no choices")
	}
	msg := resp.Choices[0].Message
	out := provider.Response{Text: msg.Content, TokensUsed: int64(resp.Usage.TotalTokens)}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	c.logger.Debug("chat completion",
		zap.String("model", c.cfg.Model),
		zap.Int64("tokens", out.TokensUsed),
		zap.Duration("latency", time.Since(start)))
	return out, nil
}

// GenerateImage creates images for prompt through the images API.
func (c *Client) GenerateImage(ctx context.Context, prompt, size string) ([]models.GeneratedImage, error) {
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	var resp openai.ImageResponse
	err := helpers.Retry(ctx, c.retry, func(int) error {
		var err error
		resp, err = c.api.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          c.cfg.ImageModel,
			N:              1,
			Size:           size,
			ResponseFormat: openai.CreateImageResponseFormatURL,
		})
		if err != nil && !transient(err) {
			return helpers.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("openai create image: %w", err)
	}
	out := make([]models.GeneratedImage, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, models.GeneratedImage{URL: d.URL, RevisedPrompt: d.RevisedPrompt})
	}
	return out, nil
}

func transient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
