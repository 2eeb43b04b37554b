// Package toolrunner wraps pluggable tools with input validation, a per-attempt deadline, bounded retry
// with exponential backoff and panic capture. Every outcome is reported as a taskcore.ToolResult.
package toolrunner

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"sort"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffUnit = time.Second
)

type entry struct {
	spec   *taskcore.ToolSpec
	schema *taskcore.Schema
	run    func(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Runner executes tools by name.
type Runner struct {
	entries map[string]*entry

	timeout     time.Duration
	maxRetries  int
	backoffUnit time.Duration

	tools    []taskcore.Tool
	toolSets []taskcore.ToolSet
}

type Option func(*Runner)

func WithTools(tools ...taskcore.Tool) Option {
	return func(r *Runner) {
		r.tools = append(r.tools, tools...)
	}
}

func WithToolSets(sets ...taskcore.ToolSet) Option {
	return func(r *Runner) {
		r.toolSets = append(r.toolSets, sets...)
	}
}

// WithTimeout sets the deadline of a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithMaxRetries sets the total number of attempts for retryable failures.
func WithMaxRetries(n int) Option {
	return func(r *Runner) {
		r.maxRetries = n
	}
}

// WithBackoffUnit sets the base delay. The delay after the n-th failed attempt is unit * 2^(n-1).
func WithBackoffUnit(d time.Duration) Option {
	return func(r *Runner) {
		r.backoffUnit = d
	}
}

// New registers the tools and tool sets and compiles their input schemas. Tool names must be unique.
func New(ctx context.Context, opts ...Option) (*Runner, error) {
	r := &Runner{
		entries:     map[string]*entry{},
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
		backoffUnit: DefaultBackoffUnit,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxRetries < 1 {
		r.maxRetries = 1
	}

	for _, tool := range r.tools {
		if err := r.register(tool.Spec(), tool.Run); err != nil {
			return nil, err
		}
	}

	for _, set := range r.toolSets {
		specs, err := set.Specs(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list tools of tool set")
		}
		for _, spec := range specs {
			name := spec.Name
			run := func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return set.Run(ctx, name, args)
			}
			if err := r.register(spec, run); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

func (r *Runner) register(spec *taskcore.ToolSpec, run func(context.Context, map[string]any) (map[string]any, error)) error {
	if spec == nil {
		return goerr.Wrap(taskcore.ErrInvalidTool, "tool spec is nil")
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, exists := r.entries[spec.Name]; exists {
		return goerr.Wrap(taskcore.ErrToolNameConflict, "tool name is already registered", goerr.V("name", spec.Name))
	}

	schema := taskcore.NewSchema(spec.Name, spec.JSONSchema())
	if err := schema.Compile(); err != nil {
		return goerr.Wrap(err, "failed to compile tool input schema", goerr.V("name", spec.Name))
	}

	r.entries[spec.Name] = &entry{spec: spec, schema: schema, run: run}
	return nil
}

// Specs returns the registered tool specs sorted by name.
func (r *Runner) Specs() []*taskcore.ToolSpec {
	specs := make([]*taskcore.ToolSpec, 0, len(r.entries))
	for _, e := range r.entries {
		specs = append(specs, e.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// ExecuteSafe runs the named tool. Invalid input and unknown tools fail immediately without calling the
// tool. Execution failures and timeouts are retried up to the retry limit. ExecuteSafe never panics and
// never returns nil.
func (r *Runner) ExecuteSafe(ctx context.Context, name string, input map[string]any) *taskcore.ToolResult {
	logger := ctxlog.From(ctx).With("tool", name)
	started := time.Now()

	finish := func(result *taskcore.ToolResult, attempts int) *taskcore.ToolResult {
		result.Tool = name
		result.AttemptCount = attempts
		result.Duration = time.Since(started)
		return result
	}

	e, ok := r.entries[name]
	if !ok {
		err := goerr.Wrap(taskcore.ErrValidation, "tool not found", goerr.V("name", name))
		logger.Warn("unknown tool requested")
		return finish(taskcore.NormalizeResult(nil, err), 0)
	}

	if input == nil {
		input = map[string]any{}
	}
	if err := e.schema.ValidateValue(input); err != nil {
		logger.Warn("tool input rejected", "error", err)
		return finish(taskcore.NormalizeResult(nil, goerr.Wrap(taskcore.ErrValidation, err.Error())), 0)
	}

	var result *taskcore.ToolResult
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		out, err := r.invoke(ctx, e, input)
		result = taskcore.NormalizeResult(out, err)
		if result.Success {
			logger.Debug("tool succeeded", "attempt", attempt)
			return finish(result, attempt)
		}

		logger.Warn("tool attempt failed",
			"attempt", attempt,
			"error_type", result.ErrorType,
			"error", result.Error,
		)
		if !result.ErrorType.Retryable() || attempt == r.maxRetries {
			return finish(result, attempt)
		}

		delay := r.backoffUnit << (attempt - 1)
		if err := sleep(ctx, delay); err != nil {
			logger.Warn("retry aborted by context", "error", err)
			return finish(result, attempt)
		}
	}

	return finish(result, r.maxRetries)
}

// invoke runs one attempt under the deadline and converts panics into errors.
func (r *Runner) invoke(ctx context.Context, e *entry, input map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		out map[string]any
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: goerr.Wrap(taskcore.ErrExecution, "tool panicked",
					goerr.V("panic", fmt.Sprint(p)),
					goerr.V("stack", string(debug.Stack())),
					goerr.T(taskcore.TagRetryable),
				)}
			}
		}()
		out, err := e.run(ctx, maps.Clone(input))
		ch <- outcome{out: out, err: err}
	}()

	var res outcome
	select {
	case res = <-ch:
	case <-ctx.Done():
	}

	if err := ctx.Err(); err != nil && (res.err != nil || res.out == nil) {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, goerr.Wrap(taskcore.ErrTimeout, "tool exceeded deadline",
				goerr.V("timeout", r.timeout.String()),
				goerr.T(taskcore.TagRetryable),
			)
		}
		return nil, goerr.Wrap(taskcore.ErrExecution, "tool execution canceled", goerr.V("cause", err.Error()))
	}

	if res.err != nil && !errors.Is(res.err, taskcore.ErrValidation) && !errors.Is(res.err, taskcore.ErrExecution) {
		return nil, goerr.Wrap(taskcore.ErrExecution, res.err.Error(), goerr.T(taskcore.TagRetryable))
	}
	return res.out, res.err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
