package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/planner"
	"github.com/m-mizutani/taskcore/replan"
)

// MessageNameMissionReset names the history note left when a session starts a new mission.
const MessageNameMissionReset = "mission_reset"

// session is the in-memory state of one Execute or Resume call. It is owned by a single goroutine.
type session struct {
	*Agent

	st      *taskcore.SessionState
	list    *taskcore.TodoList
	history *taskcore.History

	iteration   int
	stateErrors int

	// archived is the id of the plan replaced by a mission reset, noted in the next plan.
	archived string
}

func (s *session) run(ctx context.Context) (*Outcome, error) {
	for {
		if s.iteration >= s.iterationLimit {
			out := s.fail(ctx, goerr.Wrap(taskcore.ErrIterationLimit, "mission did not finish within the iteration limit",
				goerr.V("limit", s.iterationLimit)))
			s.persist(ctx)
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			s.persist(ctx)
			return nil, goerr.Wrap(err, "execution interrupted", goerr.V("iteration", s.iteration))
		}
		s.iteration++

		var (
			out *Outcome
			err error
		)
		if s.st.Phase == taskcore.PhasePlanning {
			out, err = s.plan(ctx)
		} else {
			out, err = s.execute(ctx)
		}

		s.persist(ctx)
		if err != nil || out != nil {
			return out, err
		}
	}
}

func (s *session) plan(ctx context.Context) (*Outcome, error) {
	list, ask, err := s.planner.CreatePlan(ctx, s.st.Mission, s.st.Answers, s.conversation())
	if err != nil {
		s.emit(ctx, taskcore.EventError, map[string]any{
			"phase": taskcore.PhasePlanning,
			"error": err.Error(),
			"fatal": false,
		})
		return nil, err
	}

	if list != nil {
		if s.archived != "" {
			list.Notes = append(list.Notes, "supersedes plan "+s.archived)
			s.archived = ""
		}
		s.list = list
		s.st.TodoListID = list.TodoListID
		s.st.Phase = taskcore.PhaseExecuting
		s.history.Append(ctx, taskcore.SystemMessage(fmt.Sprintf("Plan %s created with %d tasks.", list.TodoListID, len(list.Items))))
		s.emit(ctx, taskcore.EventPlanCreated, map[string]any{
			"todolist_id":    list.TodoListID,
			"items":          len(list.Items),
			"open_questions": list.OpenQuestions,
			"plan":           list.Clone(),
		})
		ctxlog.From(ctx).Info("plan created", "todolist_id", list.TodoListID, "items", len(list.Items))
	}

	if ask != nil {
		return s.suspend(ctx, ask, 0), nil
	}
	if list == nil {
		return s.fail(ctx, goerr.Wrap(taskcore.ErrPlanning, "planner returned neither a plan nor a question")), nil
	}
	return nil, nil
}

func (s *session) execute(ctx context.Context) (*Outcome, error) {
	s.st.Phase = taskcore.PhaseExecuting
	if s.list == nil {
		s.st.Phase = taskcore.PhasePlanning
		return nil, nil
	}

	if ask := planner.UnansweredQuestion(s.list, s.st.Answers); ask != nil {
		return s.suspend(ctx, ask, 0), nil
	}

	task := s.planner.Next(s.list)
	if task == nil {
		if planner.IsComplete(s.list) {
			return s.complete(ctx, nil, ""), nil
		}
		return s.fail(ctx, goerr.Wrap(taskcore.ErrDependencyDeadlock, "no task can run",
			goerr.V("todolist_id", s.list.TodoListID))), nil
	}

	return s.step(ctx, task)
}

// step runs one Thought -> Action -> Observation cycle on task.
func (s *session) step(ctx context.Context, task *taskcore.TodoItem) (*Outcome, error) {
	logger := ctxlog.From(ctx).With("position", task.Position, "iteration", s.iteration)

	if err := planner.Transition(task, taskcore.TaskStatusInProgress); err != nil {
		return nil, err
	}

	thought, err := s.think(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.interrupt(ctx, task, err)
		}
		logger.Warn("no usable thought", "error", err)
		s.emit(ctx, taskcore.EventError, map[string]any{
			"position": task.Position,
			"error":    err.Error(),
			"fatal":    false,
		})
		return nil, s.failAttempt(ctx, task, err.Error(), 1)
	}

	s.emit(ctx, taskcore.EventThought, map[string]any{
		"step_ref":         thought.StepRef,
		"rationale":        thought.Rationale,
		"action":           thought.Action.Type(),
		"expected_outcome": thought.ExpectedOutcome,
		"confidence":       thought.Confidence,
	})
	// The scheduler owns task selection. A thought about another step is fed back and retried.
	if thought.StepRef != task.Position {
		err := goerr.Wrap(taskcore.ErrInvalidThought, "thought refers to another step",
			goerr.V("step_ref", thought.StepRef),
			goerr.V("position", task.Position),
		)
		logger.Warn("thought rejected", "error", err)
		s.history.Append(ctx, taskcore.UserMessage(fmt.Sprintf(
			"Your previous response referred to step %d, but the current step is %d. Decide the action for step %d.",
			thought.StepRef, task.Position, task.Position)))
		s.emit(ctx, taskcore.EventError, map[string]any{
			"position": task.Position,
			"error":    err.Error(),
			"fatal":    false,
		})
		return nil, s.failAttempt(ctx, task, err.Error(), 1)
	}

	switch action := thought.Action.(type) {
	case taskcore.ToolCall:
		return nil, s.callTool(ctx, task, action)

	case taskcore.AskUser:
		if err := planner.Transition(task, taskcore.TaskStatusPending); err != nil {
			return nil, err
		}
		return s.suspend(ctx, &action, task.Position), nil

	case taskcore.Complete:
		return s.complete(ctx, task, action.Summary), nil

	case taskcore.Replan:
		return nil, s.replan(ctx, task, "replan requested: "+thought.Rationale)
	}

	return nil, goerr.Wrap(taskcore.ErrInvalidThought, "unhandled action", goerr.V("action", thought.Action))
}

func (s *session) think(ctx context.Context, task *taskcore.TodoItem) (*taskcore.Thought, error) {
	req := &taskcore.StructuredRequest{
		SystemPrompt: s.history.SystemPrompt().Content + "\n\n" + renderToolCatalogue(s.executor.Specs()),
		Messages:     append(s.conversation(), taskcore.UserMessage(renderTaskContext(s.list, task, s.st.Answers))),
		Schema:       taskcore.ThoughtSchema,
	}

	raw, err := s.oracle.GenerateStructured(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "oracle failed to decide next action", goerr.V("position", task.Position))
	}

	thought, err := taskcore.ParseThought(raw)
	if err != nil {
		s.history.Append(ctx,
			taskcore.AssistantMessage(string(raw)),
			taskcore.UserMessage("Your previous response could not be used: "+err.Error()),
		)
		return nil, err
	}

	s.history.Append(ctx, taskcore.AssistantMessage(string(raw)))
	return thought, nil
}

func (s *session) callTool(ctx context.Context, task *taskcore.TodoItem, call taskcore.ToolCall) error {
	name := call.Tool
	if name == "" {
		name = task.ChosenTool
	}
	input := call.Input
	if input == nil {
		input = task.ToolInput
	}

	s.emit(ctx, taskcore.EventToolStarted, map[string]any{
		"position": task.Position,
		"tool":     name,
		"input":    input,
	})

	res := s.executor.ExecuteSafe(ctx, name, input)
	if !res.Success && ctx.Err() != nil {
		return s.interrupt(ctx, task, goerr.New(res.Error, goerr.V("tool", name)))
	}
	task.ExecutionResult = res
	s.history.Append(ctx, taskcore.ToolMessage(name, renderObservation(res)))

	s.emit(ctx, taskcore.EventToolResult, map[string]any{
		"position":      task.Position,
		"tool":          name,
		"success":       res.Success,
		"error":         res.Error,
		"error_type":    res.ErrorType,
		"attempt_count": res.AttemptCount,
	})

	if res.Success {
		task.Attempts = min(s.maxAttempts, task.Attempts+max(1, res.AttemptCount))
		return planner.Transition(task, taskcore.TaskStatusCompleted)
	}
	return s.failAttempt(ctx, task, fmt.Sprintf("%s error: %s", res.ErrorType, res.Error), res.AttemptCount)
}

// failAttempt charges attempts to task. The task is retried in place while it has attempts left and is
// replanned otherwise.
func (s *session) failAttempt(ctx context.Context, task *taskcore.TodoItem, failure string, attempts int) error {
	task.Attempts = min(s.maxAttempts, task.Attempts+max(1, attempts))
	if task.Attempts < s.maxAttempts {
		return planner.Transition(task, taskcore.TaskStatusPending)
	}
	return s.replan(ctx, task, failure)
}

// interrupt puts task back to PENDING without charging an attempt. The caller's context is done, so
// the failure says nothing about the task itself.
func (s *session) interrupt(ctx context.Context, task *taskcore.TodoItem, cause error) error {
	if err := planner.Transition(task, taskcore.TaskStatusPending); err != nil {
		return err
	}
	ctxlog.From(ctx).Info("task interrupted", "position", task.Position, "attempts", task.Attempts, "cause", cause)
	return goerr.Wrap(ctx.Err(), "execution interrupted",
		goerr.V("position", task.Position),
		goerr.V("iteration", s.iteration),
		goerr.V("cause", cause.Error()),
	)
}

func (s *session) replan(ctx context.Context, task *taskcore.TodoItem, failure string) error {
	position := task.Position

	s.st.Phase = taskcore.PhaseReplanning
	s.persist(ctx)

	decision, err := s.replanner.Handle(ctx, s.list, position, failure, s.history)
	s.st.Phase = taskcore.PhaseExecuting
	if err != nil && ctx.Err() != nil && decision == nil {
		return s.interrupt(ctx, task, err)
	}

	// A task that was not replanned is FAILED for good, however the replan was triggered.
	if decision != nil && decision.Outcome != replan.OutcomeApplied {
		if current := s.list.Item(position); current != nil && current.Status == taskcore.TaskStatusFailed {
			current.Attempts = s.maxAttempts
		}
	}

	if decision != nil {
		payload := map[string]any{
			"position":  position,
			"outcome":   decision.Outcome,
			"reason":    decision.Reason,
			"positions": decision.Positions,
		}
		if decision.Strategy != nil {
			payload["strategy"] = decision.Strategy.Type
			payload["confidence"] = decision.Strategy.Confidence
		}
		s.emit(ctx, taskcore.EventReplan, payload)
	}

	if errors.Is(err, taskcore.ErrReplanExhausted) {
		ctxlog.From(ctx).Warn("task failed permanently", "position", position, "error", err)
		return nil
	}
	return err
}

func (s *session) suspend(ctx context.Context, ask *taskcore.AskUser, position int) *Outcome {
	key := ask.AnswerKey
	if key == "" {
		key = taskcore.AnswerKeyFor(ask.Question)
	}
	s.st.PendingQuestion = &taskcore.PendingQuestion{
		AnswerKey:       key,
		Question:        ask.Question,
		ForTaskPosition: position,
	}
	s.st.Phase = taskcore.PhaseAwaitingUser

	s.emit(ctx, taskcore.EventAskUser, map[string]any{
		"question":   ask.Question,
		"answer_key": key,
		"position":   position,
	})
	ctxlog.From(ctx).Info("session suspended on question", "answer_key", key, "position", position)
	return s.outcome(StatusAwaitingUser, "", nil)
}

// complete ends the mission. current is marked COMPLETED and the tasks that did not run are SKIPPED.
func (s *session) complete(ctx context.Context, current *taskcore.TodoItem, summary string) *Outcome {
	if current != nil {
		current.Status = taskcore.TaskStatusCompleted
	}

	var completed, skipped int
	for _, item := range s.list.Items {
		switch item.Status {
		case taskcore.TaskStatusPending, taskcore.TaskStatusInProgress:
			item.Status = taskcore.TaskStatusSkipped
			skipped++
		case taskcore.TaskStatusCompleted:
			completed++
		}
	}
	if summary == "" {
		summary = fmt.Sprintf("%d of %d tasks completed", completed, len(s.list.Items))
	}

	s.st.Phase = taskcore.PhaseComplete
	s.st.PendingQuestion = nil
	s.history.Append(ctx, taskcore.AssistantMessage(summary))

	s.emit(ctx, taskcore.EventComplete, map[string]any{
		"summary": summary,
		"skipped": skipped,
		"plan":    s.list.Clone(),
	})
	ctxlog.From(ctx).Info("mission complete", "completed", completed, "skipped", skipped)
	return s.outcome(StatusComplete, summary, nil)
}

func (s *session) fail(ctx context.Context, err error) *Outcome {
	s.st.Phase = taskcore.PhaseFailed
	s.st.PendingQuestion = nil

	payload := map[string]any{
		"error": err.Error(),
		"fatal": true,
	}
	if s.list != nil {
		payload["plan"] = s.list.Clone()
	}
	s.emit(ctx, taskcore.EventError, payload)
	ctxlog.From(ctx).Warn("mission failed", "error", err)
	return s.outcome(StatusFailed, "", err)
}

// resetMission starts mission over. The history is compressed and the old plan is left in the store.
func (s *session) resetMission(ctx context.Context, mission string) {
	prev := s.st.TodoListID
	ctxlog.From(ctx).Info("starting new mission", "previous_todolist_id", prev, "previous_phase", s.st.Phase)

	s.st.Mission = mission
	s.st.TodoListID = ""
	s.st.PendingQuestion = nil
	s.st.Answers = map[string]string{}
	s.st.Phase = taskcore.PhasePlanning
	s.list = nil
	s.archived = prev

	s.history.Compress(ctx)
	if prev != "" {
		s.history.Append(ctx, taskcore.Message{
			Role:    taskcore.RoleSystem,
			Name:    MessageNameMissionReset,
			Content: "The previous mission ended. Its plan " + prev + " is archived.",
		})
	}
}

// persist saves the plan and the session. Failures are logged and counted; the next iteration saves
// again.
func (s *session) persist(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	logger := ctxlog.From(ctx)

	if s.list != nil {
		if err := s.store.SaveTodoList(ctx, s.list); err != nil {
			s.stateErrors++
			logger.Warn("failed to save plan", "error", err, "todolist_id", s.list.TodoListID)
		}
	}

	s.st.Messages = s.history.Messages()
	if err := s.store.SaveState(ctx, s.st); err != nil {
		s.stateErrors++
		logger.Warn("failed to save session", "error", err)
	}
}

// conversation is the history without its system prompt, which every request carries separately.
func (s *session) conversation() []taskcore.Message {
	msgs := s.history.Messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[1:]
}

func (s *session) emit(ctx context.Context, kind taskcore.EventKind, payload map[string]any) {
	s.emitter.Emit(ctx, &taskcore.Event{
		Kind:      kind,
		SessionID: s.st.SessionID,
		Iteration: s.iteration,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	})
}

func (s *session) outcome(status Status, summary string, err error) *Outcome {
	return &Outcome{
		SessionID:   s.st.SessionID,
		Status:      status,
		Question:    s.st.PendingQuestion,
		Plan:        s.list.Clone(),
		Summary:     summary,
		Iterations:  s.iteration,
		Err:         err,
		StateErrors: s.stateErrors,
	}
}
