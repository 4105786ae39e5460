package analysis

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// maxTokens bounds the reply size. Violation reports rarely exceed half of
// this even for full batches.
const maxTokens = 4096

// Service is the external analysis backend contract: one call per batch,
// guidelines passed as long-lived context, reply aligned to the batch.
type Service interface {
	Analyze(ctx context.Context, guidelines string, batch []FileContent) ([]Result, error)
}

// ClientConfig configures the OpenAI-compatible analysis client.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration // Per-call deadline; zero means no client timeout.
}

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient creates an analysis client. BaseURL may point at any
// OpenAI-compatible endpoint; empty means the provider default.
func NewClient(cfg ClientConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	if cfg.Timeout > 0 {
		apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		api:   openai.NewClientWithConfig(apiCfg),
		model: cfg.Model,
	}
}

// Analyze implements Service. The guidelines document is sent as the system
// message: it is identical across all batches of a run, which lets the
// provider serve it from its prompt cache while only the batch content varies.
func (c *Client) Analyze(ctx context.Context, guidelines string, batch []FileContent) ([]Result, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: guidelines},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(batch)},
		},
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: reply has no choices", ErrMalformedResponse)
	}

	return ParseResults(resp.Choices[0].Message.Content, batch)
}
