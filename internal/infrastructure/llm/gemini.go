package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"OutreachEngine/internal/config"
	"OutreachEngine/internal/ports"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClient implements ports.Completer on top of the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

var _ ports.Completer = (*GeminiClient)(nil)

// GeminiOption customizes the underlying genai client.
type GeminiOption func(*genai.ClientConfig)

// WithGeminiEndpoint points the client at another base URL and HTTP client.
func WithGeminiEndpoint(baseURL string, httpClient *http.Client) GeminiOption {
	return func(cc *genai.ClientConfig) {
		cc.HTTPOptions.BaseURL = baseURL
		cc.HTTPClient = httpClient
	}
}

// NewGeminiClient creates a Gemini-backed completer.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, opts ...GeminiOption) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cc)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{client: client, model: model}, nil
}

// Complete generates text for the prompt.
func (g *GeminiClient) Complete(ctx context.Context, in ports.CompletionRequest) (string, error) {
	if g == nil || g.client == nil {
		return "", fmt.Errorf("gemini client is not configured")
	}

	gc := &genai.GenerateContentConfig{}
	if in.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(in.MaxTokens)
	}
	if in.Temperature != nil {
		gc.Temperature = genai.Ptr(float32(*in.Temperature))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(in.Prompt), gc)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}
