// Package event provides taskcore.Emitter implementations: a slog sink, a JSON lines writer, an
// in-memory recorder and a fan-out.
package event

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/taskcore"
)

type loggerConfig struct {
	logger *slog.Logger
	kinds  map[taskcore.EventKind]bool
}

// LoggerOption configures the slog sink.
type LoggerOption func(*loggerConfig)

// WithLogger sets the destination logger. Default is the logger in the context.
func WithLogger(l *slog.Logger) LoggerOption {
	return func(c *loggerConfig) {
		c.logger = l
	}
}

// WithKinds enables only the given kinds. All kinds are logged when not set.
func WithKinds(kinds ...taskcore.EventKind) LoggerOption {
	return func(c *loggerConfig) {
		c.kinds = make(map[taskcore.EventKind]bool, len(kinds))
		for _, k := range kinds {
			c.kinds[k] = true
		}
	}
}

type loggerSink struct {
	cfg loggerConfig
}

// NewLogger returns an Emitter logging each event via slog. ERROR events are logged at error level.
func NewLogger(opts ...LoggerOption) taskcore.Emitter {
	var cfg loggerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &loggerSink{cfg: cfg}
}

func (x *loggerSink) Emit(ctx context.Context, ev *taskcore.Event) {
	if x.cfg.kinds != nil && !x.cfg.kinds[ev.Kind] {
		return
	}

	logger := x.cfg.logger
	if logger == nil {
		logger = ctxlog.From(ctx)
	}

	level := slog.LevelInfo
	if ev.Kind == taskcore.EventError {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "event",
		"kind", ev.Kind,
		"session_id", ev.SessionID,
		"iteration", ev.Iteration,
		"payload", ev.Payload,
	)
}

// JSONLines writes one JSON document per event.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (x *JSONLines) Emit(ctx context.Context, ev *taskcore.Event) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.enc.Encode(ev); err != nil {
		ctxlog.From(ctx).Warn("failed to write event", "error", err, "kind", ev.Kind)
	}
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []*taskcore.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (x *Recorder) Emit(_ context.Context, ev *taskcore.Event) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.events = append(x.events, ev)
}

// Events returns the recorded events in emission order.
func (x *Recorder) Events() []*taskcore.Event {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.events)
}

// Kinds returns the kinds of the recorded events in emission order.
func (x *Recorder) Kinds() []taskcore.EventKind {
	x.mu.Lock()
	defer x.mu.Unlock()
	kinds := make([]taskcore.EventKind, len(x.events))
	for i, ev := range x.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// Reset drops the recorded events.
func (x *Recorder) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.events = nil
}
