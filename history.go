package taskcore

import (
	"context"
	"slices"
	"sync"

	"github.com/m-mizutani/ctxlog"
)

const (
	// DefaultSummaryThreshold is the window length that triggers summarization.
	DefaultSummaryThreshold = 40

	// DefaultMaxMessages is the hard upper bound of the window length.
	DefaultMaxMessages = 50
)

// History is the bounded conversation window of a session. The system prompt is always at index 0.
// When the window grows past the summary threshold, the oldest segment is replaced by one summary
// produced by the summarizer. If summarization fails the window is truncated instead.
type History struct {
	mu sync.Mutex

	messages   []Message
	summarizer TextGenerator
	threshold  int
	max        int
	template   string
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithSummarizer sets the text generator used for compression. Without it, compression always truncates.
func WithSummarizer(g TextGenerator) HistoryOption {
	return func(h *History) {
		h.summarizer = g
	}
}

// WithSummaryThreshold sets the window length that triggers compression.
func WithSummaryThreshold(n int) HistoryOption {
	return func(h *History) {
		h.threshold = n
	}
}

// WithMaxMessages sets the hard upper bound of the window length.
func WithMaxMessages(n int) HistoryOption {
	return func(h *History) {
		h.max = n
	}
}

// WithSummaryPromptTemplate replaces DefaultSummaryPromptTemplate.
func WithSummaryPromptTemplate(tmpl string) HistoryOption {
	return func(h *History) {
		h.template = tmpl
	}
}

// NewHistory creates a window holding only the system prompt.
func NewHistory(systemPrompt string, options ...HistoryOption) *History {
	h := &History{
		messages:  []Message{SystemMessage(systemPrompt)},
		threshold: DefaultSummaryThreshold,
		max:       DefaultMaxMessages,
		template:  DefaultSummaryPromptTemplate,
	}
	for _, opt := range options {
		opt(h)
	}
	if h.threshold < 3 {
		h.threshold = 3
	}
	if h.max < h.threshold {
		h.max = h.threshold
	}
	return h
}

// Append adds messages to the window, compressing it when it crosses the summary threshold.
func (h *History) Append(ctx context.Context, msgs ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msgs...)
	if len(h.messages) > h.threshold {
		h.compress(ctx)
	}
	h.enforceMax()
}

// Compress summarizes the oldest segment regardless of the threshold. It is a no-op for windows that
// hold nothing beyond the system prompt and one message.
func (h *History) Compress(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.messages) <= 2 {
		return
	}
	h.compress(ctx)
	h.enforceMax()
}

// Messages returns a copy of the current window.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.messages)
}

// Len returns the current window length.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// SystemPrompt returns the message at index 0.
func (h *History) SystemPrompt() Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.messages[0]
}

// Restore replaces the window with previously persisted messages. The current system prompt is kept
// at index 0 and the restored window is truncated to the maximum length. No summarization happens.
func (h *History) Restore(msgs []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	restored := []Message{h.messages[0]}
	for i, m := range msgs {
		if i == 0 && m.Role == RoleSystem && m.Name == "" {
			continue
		}
		restored = append(restored, m)
	}
	h.messages = restored
	h.enforceMax()
}

// compress replaces messages[1:end] with a summary, where end is the threshold or the window length.
func (h *History) compress(ctx context.Context) {
	end := min(h.threshold, len(h.messages))
	segment := h.messages[1:end]

	summary, err := summarize(ctx, h.summarizer, h.template, segment)
	if err != nil {
		ctxlog.From(ctx).Warn("failed to summarize history, truncating",
			"error", err,
			"messages", len(h.messages),
		)
		h.truncate(h.threshold / 2)
		return
	}

	compressed := make([]Message, 0, len(h.messages)-len(segment)+2)
	compressed = append(compressed, h.messages[0], Message{
		Role:    RoleSystem,
		Name:    MessageNameSummary,
		Content: summary,
	})
	compressed = append(compressed, h.messages[end:]...)
	h.messages = compressed

	ctxlog.From(ctx).Debug("history compressed",
		"summarized", len(segment),
		"messages", len(h.messages),
	)
}

// truncate keeps the system prompt and the most recent keep messages.
func (h *History) truncate(keep int) {
	if len(h.messages)-1 <= keep {
		return
	}
	tail := h.messages[len(h.messages)-keep:]
	h.messages = append([]Message{h.messages[0]}, tail...)
}

func (h *History) enforceMax() {
	h.truncate(h.max - 1)
}
