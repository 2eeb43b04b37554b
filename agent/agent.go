// Package agent drives a mission through the PLANNING, EXECUTING, AWAITING_USER, REPLANNING, COMPLETE and
// FAILED phases. Each call of Execute or Resume runs the loop until the mission ends, the session
// suspends on a question, or the iteration limit is hit.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/planner"
	"github.com/m-mizutani/taskcore/replan"
	"github.com/m-mizutani/taskcore/state"
)

// DefaultIterationLimit is the number of loop iterations allowed per Execute or Resume call.
const DefaultIterationLimit = 50

// Status is the result of one Execute or Resume call.
type Status string

const (
	StatusComplete     Status = "COMPLETE"
	StatusFailed       Status = "FAILED"
	StatusAwaitingUser Status = "AWAITING_USER"
)

// Outcome is returned by Execute and Resume.
type Outcome struct {
	SessionID string
	Status    Status

	// Question is set when Status is AWAITING_USER. Pass its AnswerKey to Resume.
	Question *taskcore.PendingQuestion

	// Plan is a snapshot of the plan with per-task outcomes. It is nil if no plan was built yet.
	Plan *taskcore.TodoList

	Summary    string
	Iterations int

	// Err is the reason of a FAILED mission.
	Err error

	// StateErrors counts save failures tolerated during the call.
	StateErrors int
}

// Executor runs tools on behalf of the agent. *toolrunner.Runner implements it.
type Executor interface {
	Specs() []*taskcore.ToolSpec
	ExecuteSafe(ctx context.Context, name string, input map[string]any) *taskcore.ToolResult
}

// Agent executes missions. It is safe for concurrent use with distinct session ids.
type Agent struct {
	oracle   taskcore.Oracle
	store    *state.Store
	executor Executor

	planner   *planner.Planner
	replanner *replan.Engine
	guards    *state.LockRegistry

	emitter        taskcore.Emitter
	logger         *slog.Logger
	now            func() time.Time
	newID          func() string
	systemPrompt   string
	maxAttempts    int
	maxReplans     int
	iterationLimit int
	threshold      float64
	historyOptions []taskcore.HistoryOption
}

type Option func(*Agent)

// WithLogger sets the logger. Default is discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithEmitter sets the event destination. An emitter also implementing taskcore.RunObserver is notified
// of the start and end of each call.
func WithEmitter(e taskcore.Emitter) Option {
	return func(a *Agent) {
		a.emitter = e
	}
}

// WithMaxAttempts sets the number of attempts a task gets before it is replanned.
func WithMaxAttempts(n int) Option {
	return func(a *Agent) {
		a.maxAttempts = n
	}
}

// WithMaxReplans sets the number of replans a task gets before it fails permanently.
func WithMaxReplans(n int) Option {
	return func(a *Agent) {
		a.maxReplans = n
	}
}

// WithIterationLimit sets the loop iteration cap of one call.
func WithIterationLimit(n int) Option {
	return func(a *Agent) {
		a.iterationLimit = n
	}
}

// WithConfidenceThreshold sets the minimum confidence of an accepted replan strategy.
func WithConfidenceThreshold(v float64) Option {
	return func(a *Agent) {
		a.threshold = v
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithHistoryOptions configures the conversation window. The oracle is the summarizer unless
// taskcore.WithSummarizer is given.
func WithHistoryOptions(opts ...taskcore.HistoryOption) Option {
	return func(a *Agent) {
		a.historyOptions = append(a.historyOptions, opts...)
	}
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

// WithIDGenerator replaces the TodoList ID generator.
func WithIDGenerator(f func() string) Option {
	return func(a *Agent) {
		a.newID = f
	}
}

func New(oracle taskcore.Oracle, store *state.Store, executor Executor, opts ...Option) *Agent {
	a := &Agent{
		oracle:         oracle,
		store:          store,
		executor:       executor,
		guards:         state.NewLockRegistry(),
		emitter:        taskcore.NopEmitter(),
		logger:         slog.New(slog.DiscardHandler),
		now:            time.Now,
		newID:          uuid.NewString,
		systemPrompt:   DefaultSystemPrompt,
		maxAttempts:    taskcore.DefaultMaxAttempts,
		maxReplans:     taskcore.DefaultMaxReplans,
		iterationLimit: DefaultIterationLimit,
		threshold:      replan.DefaultConfidenceThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.historyOptions = append([]taskcore.HistoryOption{taskcore.WithSummarizer(oracle)}, a.historyOptions...)

	specs := executor.Specs()
	a.planner = planner.New(oracle,
		planner.WithTools(specs),
		planner.WithMaxAttempts(a.maxAttempts),
		planner.WithIDGenerator(a.newID),
	)
	a.replanner = replan.New(oracle,
		replan.WithTools(specs),
		replan.WithMaxReplans(a.maxReplans),
		replan.WithConfidenceThreshold(a.threshold),
	)
	return a
}

// Execute runs mission in session sessionID. A new session starts with planning. A persisted session
// continues where it stopped; a session suspended on a question returns the question again. A different
// mission, or a session that already finished, starts over with a new plan.
//
// The returned error reports conditions that prevent running at all (busy session, unreadable state,
// oracle failure while planning, canceled context). Mission failures are reported by Outcome.
func (a *Agent) Execute(ctx context.Context, sessionID, mission string) (*Outcome, error) {
	if mission == "" {
		return nil, goerr.New("mission is required", goerr.V("session_id", sessionID))
	}

	return a.withSession(ctx, sessionID, mission, func(ctx context.Context, s *session) (*Outcome, error) {
		switch {
		case s.st.Mission != mission || s.st.Phase.Terminal():
			s.resetMission(ctx, mission)
		case s.st.Phase == taskcore.PhaseAwaitingUser && s.st.PendingQuestion != nil:
			return s.outcome(StatusAwaitingUser, "", nil), nil
		}
		return s.run(ctx)
	})
}

// Resume answers the pending question of sessionID and continues the mission.
func (a *Agent) Resume(ctx context.Context, sessionID, answerKey, answer string) (*Outcome, error) {
	return a.withSession(ctx, sessionID, "", func(ctx context.Context, s *session) (*Outcome, error) {
		q := s.st.PendingQuestion
		if s.st.Phase != taskcore.PhaseAwaitingUser || q == nil {
			return nil, goerr.Wrap(taskcore.ErrNoPendingQuestion, "nothing to resume", goerr.V("session_id", sessionID))
		}
		if q.AnswerKey != answerKey {
			return nil, goerr.Wrap(taskcore.ErrAnswerKeyMismatch, "answer is for another question",
				goerr.V("session_id", sessionID),
				goerr.V("want", q.AnswerKey),
				goerr.V("got", answerKey),
			)
		}

		s.st.Answers[answerKey] = answer
		s.st.PendingQuestion = nil
		s.history.Append(ctx, taskcore.UserMessage(renderAnswer(q, answer)))
		if s.list == nil {
			s.st.Phase = taskcore.PhasePlanning
		} else {
			s.st.Phase = taskcore.PhaseExecuting
		}
		ctxlog.From(ctx).Info("session resumed", "answer_key", answerKey)
		return s.run(ctx)
	})
}

func (a *Agent) withSession(ctx context.Context, sessionID, mission string, fn func(context.Context, *session) (*Outcome, error)) (out *Outcome, err error) {
	guard := a.guards.Get(sessionID)
	if !guard.TryLock() {
		return nil, goerr.Wrap(taskcore.ErrSessionBusy, "another call is running the session", goerr.V("session_id", sessionID))
	}
	defer guard.Unlock()

	logger := a.logger.With("session_id", sessionID, "request_id", uuid.NewString())
	ctx = ctxlog.With(ctx, logger)

	if obs, ok := a.emitter.(taskcore.RunObserver); ok {
		ctx = obs.StartRun(ctx, sessionID)
		defer func() {
			runErr := err
			if runErr == nil && out != nil {
				runErr = out.Err
			}
			obs.EndRun(ctx, runErr)
		}()
	}

	s, err := a.open(ctx, sessionID, mission)
	if err != nil {
		return nil, err
	}

	out, err = fn(ctx, s)
	if err != nil {
		logger.Warn("session call failed", "error", err)
	} else {
		logger.Info("session call finished", "status", out.Status, "iterations", out.Iterations)
	}
	return out, err
}

func (a *Agent) open(ctx context.Context, sessionID, mission string) (*session, error) {
	logger := ctxlog.From(ctx)

	st, err := a.store.LoadState(ctx, sessionID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load session", goerr.V("session_id", sessionID))
	}
	if st == nil {
		st = taskcore.NewSessionState(sessionID, mission)
		logger.Debug("new session")
	}

	history := taskcore.NewHistory(a.systemPrompt, a.historyOptions...)
	history.Restore(st.Messages)

	s := &session{Agent: a, st: st, history: history}

	if st.TodoListID != "" {
		list, err := a.store.LoadTodoList(ctx, st.TodoListID)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load plan", goerr.V("todolist_id", st.TodoListID))
		}
		if list == nil {
			logger.Warn("referenced plan is missing, planning again", "todolist_id", st.TodoListID)
			st.TodoListID = ""
			if !st.Phase.Terminal() {
				st.Phase = taskcore.PhasePlanning
				st.PendingQuestion = nil
			}
		}
		s.list = list
	}

	return s, nil
}
