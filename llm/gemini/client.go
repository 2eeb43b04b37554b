// Package gemini implements taskcore.Oracle on Gemini through Vertex AI or the Gemini API.
package gemini

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"google.golang.org/genai"
)

var (
	promptScope   = ctxlog.NewScope("gemini_prompt", ctxlog.EnabledBy("TASKCORE_LOGGING_PROMPT"))
	responseScope = ctxlog.NewScope("gemini_response", ctxlog.EnabledBy("TASKCORE_LOGGING_RESPONSE"))
)

const DefaultModel = "gemini-2.5-flash"

type Client struct {
	api   apiClient
	model string

	projectID string
	location  string
	apiKey    string

	temperature *float32
	maxTokens   int32
}

var _ taskcore.Oracle = (*Client)(nil)

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = int32(n)
	}
}

// WithAPIKey uses the Gemini API with key instead of Vertex AI. projectID and location of New are
// ignored then.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

func newClient(options ...Option) *Client {
	c := &Client{model: DefaultModel}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// New creates a Vertex AI backed client, or a Gemini API backed one if WithAPIKey is given.
func New(ctx context.Context, projectID, location string, options ...Option) (*Client, error) {
	c := newClient(options...)
	c.projectID, c.location = projectID, location

	cfg := &genai.ClientConfig{}
	if c.apiKey != "" {
		cfg.APIKey = c.apiKey
		cfg.Backend = genai.BackendGeminiAPI
	} else {
		if projectID == "" {
			return nil, goerr.New("projectID is required")
		}
		if location == "" {
			return nil, goerr.New("location is required")
		}
		cfg.Project = projectID
		cfg.Location = location
		cfg.Backend = genai.BackendVertexAI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client", goerr.V("project_id", projectID), goerr.V("location", location))
	}
	c.api = &realAPIClient{client: client}
	return c, nil
}

// GenerateStructured implements taskcore.Oracle. The schema is enforced by the prompt; the response MIME
// type is JSON.
func (c *Client) GenerateStructured(ctx context.Context, req *taskcore.StructuredRequest) ([]byte, error) {
	system, contents := convertMessages(req.Messages)
	instruction := req.Instruction()
	if system != "" {
		instruction += "\n\n" + system
	}

	cfg := c.config("application/json")
	cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instruction}}}

	text, err := c.generate(ctx, contents, cfg)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// GenerateText implements taskcore.TextGenerator.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}}
	return c.generate(ctx, contents, c.config("text/plain"))
}

func (c *Client) config(mimeType string) *genai.GenerateContentConfig {
	var budget int32
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: mimeType,
		Temperature:      c.temperature,
		ThinkingConfig:   &genai.ThinkingConfig{ThinkingBudget: &budget},
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	return cfg
}

func (c *Client) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	if logger := ctxlog.From(ctx, promptScope); logger.Enabled(ctx, slog.LevelInfo) {
		logger.Info("Gemini prompt", "model", c.model, "contents", len(contents), "mime_type", cfg.ResponseMIMEType)
	}

	resp, err := c.api.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", append(errorOptions(err), goerr.V("model", c.model))...)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("no candidates in response", goerr.V("model", c.model))
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())

	if logger := ctxlog.From(ctx, responseScope); logger.Enabled(ctx, slog.LevelInfo) {
		attrs := []any{"text", text, "finish_reason", resp.Candidates[0].FinishReason}
		if resp.UsageMetadata != nil {
			attrs = append(attrs,
				"input_tokens", resp.UsageMetadata.PromptTokenCount,
				"output_tokens", resp.UsageMetadata.CandidatesTokenCount,
			)
		}
		logger.Info("Gemini response", attrs...)
	}

	if text == "" {
		return "", goerr.New("empty response", goerr.V("model", c.model), goerr.V("finish_reason", resp.Candidates[0].FinishReason))
	}
	return text, nil
}

func errorOptions(err error) []goerr.Option {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return nil
	}

	opts := []goerr.Option{goerr.V("status", code)}
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		opts = append(opts, goerr.T(taskcore.TagRetryable))
	}
	return opts
}

// convertMessages splits system entries out of the window and maps the rest to user and model turns.
func convertMessages(msgs []taskcore.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case taskcore.RoleSystem:
			system = append(system, m.Content)
		case taskcore.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		case taskcore.RoleTool:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: "Result of tool " + m.Name + ":\n" + m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(contents) == 0 {
		contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: "Continue."}}})
	}
	return strings.Join(system, "\n\n"), contents
}
