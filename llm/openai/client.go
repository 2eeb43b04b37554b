// Package openai implements taskcore.Oracle on the OpenAI chat completion API.
package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/sashabaranov/go-openai"
)

var (
	promptScope   = ctxlog.NewScope("openai_prompt", ctxlog.EnabledBy("TASKCORE_LOGGING_PROMPT"))
	responseScope = ctxlog.NewScope("openai_response", ctxlog.EnabledBy("TASKCORE_LOGGING_RESPONSE"))
)

const DefaultModel = "gpt-4o"

// Client is an Oracle backed by OpenAI. Structured requests use the JSON object response format.
type Client struct {
	api     apiClient
	model   string
	baseURL string

	temperature float32
	maxTokens   int
}

var _ taskcore.Oracle = (*Client)(nil)

type Option func(*Client)

// WithModel sets the model. See DefaultModel.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithBaseURL sets a custom endpoint for compatible servers or proxies.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = n
	}
}

func New(ctx context.Context, apiKey string, options ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.New("openai api key is required")
	}

	c := &Client{model: DefaultModel}
	for _, opt := range options {
		opt(c)
	}

	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	c.api = &realAPIClient{client: openai.NewClientWithConfig(cfg)}
	return c, nil
}

// GenerateStructured implements taskcore.Oracle.
func (c *Client) GenerateStructured(ctx context.Context, req *taskcore.StructuredRequest) ([]byte, error) {
	msgs := append([]openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.Instruction()},
	}, convertMessages(req.Messages)...)

	text, err := c.complete(ctx, msgs, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// GenerateText implements taskcore.TextGenerator.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, nil)
}

func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessage, format *openai.ChatCompletionResponseFormat) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       msgs,
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: format,
	}

	if logger := ctxlog.From(ctx, promptScope); logger.Enabled(ctx, slog.LevelInfo) {
		logger.Info("OpenAI prompt", "model", c.model, "messages", msgs)
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create chat completion", append(errorOptions(err), goerr.V("model", c.model))...)
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("no choices in response", goerr.V("model", c.model))
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)

	if logger := ctxlog.From(ctx, responseScope); logger.Enabled(ctx, slog.LevelInfo) {
		logger.Info("OpenAI response",
			"text", text,
			"finish_reason", resp.Choices[0].FinishReason,
			"input_tokens", resp.Usage.PromptTokens,
			"output_tokens", resp.Usage.CompletionTokens,
		)
	}

	if text == "" {
		return "", goerr.New("empty response", goerr.V("model", c.model), goerr.V("finish_reason", resp.Choices[0].FinishReason))
	}
	return text, nil
}

// errorOptions tags rate limit and server errors as retryable.
func errorOptions(err error) []goerr.Option {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	opts := []goerr.Option{goerr.V("status", apiErr.HTTPStatusCode)}
	if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError {
		opts = append(opts, goerr.T(taskcore.TagRetryable))
	}
	return opts
}

// convertMessages maps the conversation window to chat messages. Tool observations become user
// messages since they do not answer a native tool call.
func convertMessages(msgs []taskcore.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case taskcore.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case taskcore.RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
		case taskcore.RoleTool:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "Result of tool " + m.Name + ":\n" + m.Content})
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}
	return out
}
