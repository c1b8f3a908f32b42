package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/llm"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, genModel string, options Options) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		httpClient: httpClient,
		executor:   options.ResilienceExecutor,
	}
}

// Classifier asks a local Ollama model to triage a maintenance email and
// returns the model text untouched.
type Classifier struct {
	client *Client
}

func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

// Classify runs the triage prompt in JSON mode with a low temperature.
func (c *Classifier) Classify(ctx context.Context, subject, body string) (string, error) {
	return c.client.generate(ctx, generateRequest{
		Prompt:  llm.BuildClassificationPrompt(subject, body),
		Format:  "json",
		Options: map[string]any{"temperature": 0.2, "num_predict": llm.MaxOutputTokens},
	})
}

// Reporter asks the same model for the narrative part of a report.
type Reporter struct {
	client *Client
}

func NewReporter(client *Client) *Reporter {
	return &Reporter{client: client}
}

func (r *Reporter) WriteReport(ctx context.Context, report domain.Report) (string, error) {
	return r.client.generate(ctx, generateRequest{
		Prompt:  llm.BuildReportPrompt(report),
		Options: map[string]any{"temperature": 0.3, "num_predict": llm.MaxOutputTokens},
	})
}

// generate fills in the configured model and returns the trimmed response.
func (c *Client) generate(ctx context.Context, req generateRequest) (string, error) {
	req.Model = c.genModel
	req.Stream = false
	text, err := resilience.Call(ctx, c.executor, "ollama.generate", func(callCtx context.Context) (string, error) {
		res, err := c.postGenerate(callCtx, req)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(res.Response), nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", resilience.WrapHTTPError("ollama generate", err)
	}
	return text, nil
}
