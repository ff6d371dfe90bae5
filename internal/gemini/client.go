// Package gemini adapts the Google GenAI SDK to the prompt-in, text-out
// contract the evaluator uses, so sessions can be scored by Gemini instead
// of Claude.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/MikeSquared-Agency/arbiter/internal/llm"
)

type Client struct {
	genai *genai.Client
	model string
}

type Option func(*genai.ClientConfig)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(url string) Option {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPOptions.BaseURL = url
	}
}

// NewClient creates a Gemini API client. An empty key yields a client whose
// Generate always fails with llm.ErrMissingCredential.
func NewClient(ctx context.Context, apiKey, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return &Client{model: model}, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{genai: gc, model: model}, nil
}

func (c *Client) Model() string {
	return c.model
}

// Generate sends prompt as a single user turn and returns the reply text.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.genai == nil {
		return "", llm.ErrMissingCredential
	}

	result, err := c.genai.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(0.1)),
		MaxOutputTokens: int32(maxTokens),
	})
	if err != nil {
		return "", translateError(err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("unexpected response format: no candidates")
	}
	return result.Text(), nil
}

func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.StatusError{Provider: "gemini", Code: apiErr.Code, Type: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &llm.StatusError{Provider: "gemini", Code: apiErrPtr.Code, Type: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini call: %w", err)
}
