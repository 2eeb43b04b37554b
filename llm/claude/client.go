// Package claude implements taskcore.Oracle on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
)

var (
	promptScope   = ctxlog.NewScope("claude_prompt", ctxlog.EnabledBy("TASKCORE_LOGGING_PROMPT"))
	responseScope = ctxlog.NewScope("claude_response", ctxlog.EnabledBy("TASKCORE_LOGGING_RESPONSE"))
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// Client is an Oracle backed by Claude. The API has no JSON mode, so the schema goes into the system
// prompt and the JSON object is extracted from the reply.
type Client struct {
	api       apiClient
	model     string
	maxTokens int64

	// temperature is sent only when set. Negative means unset.
	temperature float64
}

var _ taskcore.Oracle = (*Client)(nil)

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = int64(n)
	}
}

func newClient(options ...Option) *Client {
	c := &Client{
		model:       DefaultModel,
		maxTokens:   DefaultMaxTokens,
		temperature: -1,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func New(ctx context.Context, apiKey string, options ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.New("anthropic api key is required")
	}

	c := newClient(options...)
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	c.api = &realAPIClient{client: &client}
	return c, nil
}

// GenerateStructured implements taskcore.Oracle.
func (c *Client) GenerateStructured(ctx context.Context, req *taskcore.StructuredRequest) ([]byte, error) {
	system, msgs := convertMessages(req.Messages)
	instruction := req.Instruction()
	if system != "" {
		instruction += "\n\n" + system
	}

	text, err := c.complete(ctx, instruction, msgs)
	if err != nil {
		return nil, err
	}
	return []byte(extractJSON(text)), nil
}

// GenerateText implements taskcore.TextGenerator.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, "", []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	})
}

func (c *Client) complete(ctx context.Context, system string, msgs []anthropic.MessageParam) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if c.temperature >= 0 {
		params.Temperature = anthropic.Float(c.temperature)
	}

	if logger := ctxlog.From(ctx, promptScope); logger.Enabled(ctx, slog.LevelInfo) {
		logger.Info("Claude prompt", "model", c.model, "system", system, "messages", len(msgs))
	}

	resp, err := c.api.MessagesNew(ctx, params)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create message", append(errorOptions(err), goerr.V("model", c.model))...)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())

	if logger := ctxlog.From(ctx, responseScope); logger.Enabled(ctx, slog.LevelInfo) {
		logger.Info("Claude response",
			"text", text,
			"stop_reason", resp.StopReason,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)
	}

	if text == "" {
		return "", goerr.New("empty response", goerr.V("model", c.model), goerr.V("stop_reason", resp.StopReason))
	}
	return text, nil
}

func errorOptions(err error) []goerr.Option {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return nil
	}
	opts := []goerr.Option{goerr.V("status", apiErr.StatusCode)}
	if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
		opts = append(opts, goerr.T(taskcore.TagRetryable))
	}
	return opts
}

// convertMessages splits system entries out of the window and merges consecutive turns of the same
// role, since the API requires alternating user and assistant turns starting with the user.
func convertMessages(msgs []taskcore.Message) (string, []anthropic.MessageParam) {
	var system []string
	type turn struct {
		assistant bool
		texts     []string
	}
	var turns []*turn

	for _, m := range msgs {
		var text string
		assistant := false
		switch m.Role {
		case taskcore.RoleSystem:
			system = append(system, m.Content)
			continue
		case taskcore.RoleAssistant:
			text, assistant = m.Content, true
		case taskcore.RoleTool:
			text = "Result of tool " + m.Name + ":\n" + m.Content
		default:
			text = m.Content
		}

		if len(turns) == 0 && assistant {
			turns = append(turns, &turn{texts: []string{"(conversation start)"}})
		}
		if n := len(turns); n > 0 && turns[n-1].assistant == assistant {
			turns[n-1].texts = append(turns[n-1].texts, text)
			continue
		}
		turns = append(turns, &turn{assistant: assistant, texts: []string{text}})
	}

	if len(turns) == 0 {
		turns = append(turns, &turn{texts: []string{"Continue."}})
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(t.texts))
		for _, text := range t.texts {
			blocks = append(blocks, anthropic.NewTextBlock(text))
		}
		if t.assistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return strings.Join(system, "\n\n"), out
}
