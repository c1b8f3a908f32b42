package cerebras

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/llm"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/resilience"
)

const DefaultModel = "llama-4-scout-17b-16e-instruct"

// Client talks to an OpenAI-compatible chat completions endpoint such as
// Cerebras Cloud.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
	executor    *resilience.Executor
}

type Options struct {
	Temperature        float64
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, apiKey, model string, options Options) *Client {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	temperature := options.Temperature
	if temperature <= 0 {
		temperature = 0.2
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		httpClient:  httpClient,
		executor:    options.ResilienceExecutor,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify returns the raw assistant message for the triage prompt.
func (c *Client) Classify(ctx context.Context, subject, body string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: llm.BuildClassificationPrompt(subject, body)},
		},
		Temperature: c.temperature,
		MaxTokens:   llm.MaxOutputTokens,
	}

	text, err := resilience.Call(ctx, c.executor, "cerebras.chat", func(callCtx context.Context) (string, error) {
		return c.complete(callCtx, req)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", resilience.WrapHTTPError("cerebras chat completion", err)
	}
	return text, nil
}

// WriteReport returns the assistant's narrative for a statistics report.
func (c *Client) WriteReport(ctx context.Context, report domain.Report) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: llm.BuildReportPrompt(report)},
		},
		Temperature: c.temperature,
		MaxTokens:   llm.MaxOutputTokens,
	}

	text, err := resilience.Call(ctx, c.executor, "cerebras.chat", func(callCtx context.Context) (string, error) {
		return c.complete(callCtx, req)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", resilience.WrapHTTPError("cerebras report completion", err)
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, payload chatRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cerebras chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", resilience.NewHTTPStatusError("cerebras", "chat", resp)
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, llm.MaxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("cerebras chat response has no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
