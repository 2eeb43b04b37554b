// Package replan recovers tasks that exhausted their attempts by asking the oracle for a strategy and
// applying it through the planner.
package replan

import (
	"context"
	"fmt"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/planner"
)

// DefaultConfidenceThreshold is the minimum confidence of an accepted strategy.
const DefaultConfidenceThreshold = 0.6

// Outcome is the result of handling a failed task.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeRejected  Outcome = "rejected"
	OutcomeExhausted Outcome = "exhausted"
)

// Decision describes what Handle did.
type Decision struct {
	Outcome  Outcome
	Strategy *taskcore.Strategy
	Reason   string

	// Positions lists the steps created or reset by an applied strategy.
	Positions []int
}

// Engine generates and applies recovery strategies.
type Engine struct {
	oracle     taskcore.Oracle
	threshold  float64
	maxReplans int
	tools      []*taskcore.ToolSpec
}

type Option func(*Engine)

func WithConfidenceThreshold(v float64) Option {
	return func(e *Engine) {
		e.threshold = v
	}
}

func WithMaxReplans(n int) Option {
	return func(e *Engine) {
		e.maxReplans = n
	}
}

// WithTools sets the tools a SWAP_TOOL strategy may choose from.
func WithTools(specs []*taskcore.ToolSpec) Option {
	return func(e *Engine) {
		e.tools = specs
	}
}

func New(oracle taskcore.Oracle, opts ...Option) *Engine {
	e := &Engine{
		oracle:     oracle,
		threshold:  DefaultConfidenceThreshold,
		maxReplans: taskcore.DefaultMaxReplans,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateStrategy asks the oracle how to recover task from failure.
func (e *Engine) GenerateStrategy(ctx context.Context, list *taskcore.TodoList, task *taskcore.TodoItem, failure string, history []taskcore.Message) (*taskcore.Strategy, error) {
	req := &taskcore.StructuredRequest{
		SystemPrompt: strategySystemPrompt,
		Messages:     append(append([]taskcore.Message{}, history...), taskcore.UserMessage(renderStrategyRequest(list, task, failure, e.tools))),
		Schema:       taskcore.StrategySchema,
	}

	raw, err := e.oracle.GenerateStructured(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "oracle failed to generate strategy", goerr.V("position", task.Position))
	}
	return taskcore.ParseStrategy(raw)
}

// Handle recovers the task at position. An applied strategy resets the affected steps to PENDING and
// increments their replan count. A rejected strategy or an exhausted replan budget marks the task FAILED;
// exhaustion also returns an error wrapping ErrReplanExhausted. Every decision is appended to history as
// a note when history is not nil.
func (e *Engine) Handle(ctx context.Context, list *taskcore.TodoList, position int, failure string, history *taskcore.History) (*Decision, error) {
	logger := ctxlog.From(ctx).With("position", position)

	task := list.Item(position)
	if task == nil {
		return nil, goerr.Wrap(taskcore.ErrTaskNotFound, "no step to replan", goerr.V("position", position))
	}

	decision, err := e.decide(ctx, list, task, failure, history)
	if err != nil {
		return nil, err
	}
	if decision.Outcome != OutcomeApplied {
		if err := planner.Transition(task, taskcore.TaskStatusFailed); err != nil {
			return nil, err
		}
	}

	// An applied strategy replaces the items of list, so task may be stale here.
	current := list.Item(position)
	logger.Info("replan decision",
		"outcome", decision.Outcome,
		"reason", decision.Reason,
		"replan_count", current.ReplanCount,
	)
	if history != nil {
		history.Append(ctx, taskcore.Message{
			Role:    taskcore.RoleSystem,
			Name:    taskcore.MessageNameReplanNote,
			Content: renderNote(position, decision),
		})
	}

	if decision.Outcome == OutcomeExhausted {
		return decision, goerr.Wrap(taskcore.ErrReplanExhausted, "task failed permanently",
			goerr.V("position", position),
			goerr.V("replan_count", current.ReplanCount),
		)
	}
	return decision, nil
}

// decide returns an error only when ctx is done while the oracle is asked. The task is left untouched
// then.
func (e *Engine) decide(ctx context.Context, list *taskcore.TodoList, task *taskcore.TodoItem, failure string, history *taskcore.History) (*Decision, error) {
	if task.ReplanCount >= e.maxReplans {
		return &Decision{Outcome: OutcomeExhausted, Reason: "replan limit reached"}, nil
	}

	var msgs []taskcore.Message
	if history != nil {
		msgs = history.Messages()
	}
	strategy, err := e.GenerateStrategy(ctx, list, task, failure, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, goerr.Wrap(ctx.Err(), "replan interrupted", goerr.V("position", task.Position), goerr.V("cause", err.Error()))
		}
		return &Decision{Outcome: OutcomeRejected, Reason: err.Error()}, nil
	}
	if strategy.Confidence < e.threshold {
		return &Decision{
			Outcome:  OutcomeRejected,
			Strategy: strategy,
			Reason:   fmt.Sprintf("confidence %.2f is below %.2f", strategy.Confidence, e.threshold),
		}, nil
	}

	positions, err := e.apply(list, task, strategy)
	if err != nil {
		return &Decision{Outcome: OutcomeRejected, Strategy: strategy, Reason: err.Error()}, nil
	}

	return &Decision{Outcome: OutcomeApplied, Strategy: strategy, Positions: positions}, nil
}

func (e *Engine) apply(list *taskcore.TodoList, task *taskcore.TodoItem, s *taskcore.Strategy) ([]int, error) {
	position := task.Position
	replans := task.ReplanCount + 1

	switch s.Type {
	case taskcore.StrategyRetryWithParams:
		if err := planner.ModifyStep(list, position, planner.Revision{
			ChosenTool: s.Modifications.ChosenTool,
			ToolInput:  s.Modifications.ToolInput,
		}); err != nil {
			return nil, err
		}

	case taskcore.StrategySwapTool:
		if !e.hasTool(s.Modifications.ChosenTool) {
			return nil, goerr.Wrap(taskcore.ErrInvalidStrategy, "strategy chose an unknown tool", goerr.V("tool", s.Modifications.ChosenTool))
		}
		input := s.Modifications.ToolInput
		if input == nil {
			input = task.ToolInput
		}
		if err := planner.ModifyStep(list, position, planner.Revision{
			ChosenTool: s.Modifications.ChosenTool,
			ToolInput:  input,
		}); err != nil {
			return nil, err
		}

	case taskcore.StrategyDecompose:
		if err := planner.DecomposeStep(list, position, s.Modifications.Steps); err != nil {
			return nil, err
		}
		positions := make([]int, len(s.Modifications.Steps))
		for i := range positions {
			positions[i] = position + i
			list.Item(position + i).ReplanCount = replans
		}
		return positions, nil

	default:
		return nil, goerr.Wrap(taskcore.ErrInvalidStrategy, "unknown strategy type", goerr.V("type", s.Type))
	}

	list.Item(position).ReplanCount = replans
	return []int{position}, nil
}

func (e *Engine) hasTool(name string) bool {
	if e.tools == nil {
		return true
	}
	for _, spec := range e.tools {
		if spec.Name == name {
			return true
		}
	}
	return false
}
