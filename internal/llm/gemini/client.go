// Package gemini implements receipt extraction against Google's Gemini API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/expensobot/receipts-engine/internal/llm"
)

// Sampling configuration tuned for deterministic field extraction rather
// than creative generation.
const (
	temperature     = 0.1
	topP            = 0.8
	topK            = 40
	maxOutputTokens = 2048
)

type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

var _ llm.Extractor = (*Client)(nil)

func NewClient(ctx context.Context, apiKey, model string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{client: client, model: model, timeout: timeout, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) ModelVersion() string {
	return c.model
}

func (c *Client) ExtractFromImage(ctx context.Context, imageData []byte, mimeType string) (*llm.Candidate, error) {
	format := strings.TrimPrefix(mimeType, "image/")
	if format == mimeType || format == "" {
		format = "png"
	}
	return c.generate(ctx, genai.Text(llm.ImagePrompt()), genai.ImageData(format, imageData))
}

func (c *Client) ExtractFromText(ctx context.Context, ocrText string) (*llm.Candidate, error) {
	return c.generate(ctx, genai.Text(llm.TextPrompt(ocrText)))
}

func (c *Client) generate(ctx context.Context, parts ...genai.Part) (*llm.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetTopK(topK)
	model.SetMaxOutputTokens(maxOutputTokens)

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	raw, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("gemini.response", "model", c.model, "len", len(raw))

	return llm.ParseCandidate(raw)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: empty response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gemini: no text parts in response")
	}
	return b.String(), nil
}
