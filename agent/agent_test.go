package agent_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/agent"
	"github.com/m-mizutani/taskcore/event"
	"github.com/m-mizutani/taskcore/internal"
	"github.com/m-mizutani/taskcore/mock"
	"github.com/m-mizutani/taskcore/state"
	"github.com/m-mizutani/taskcore/toolrunner"
)

// script feeds canned oracle responses per schema in order.
type script struct {
	mu         sync.Mutex
	plans      []string
	thoughts   []string
	strategies []string
}

func (x *script) oracle() *mock.OracleMock {
	return &mock.OracleMock{
		GenerateStructuredFunc: func(ctx context.Context, req *taskcore.StructuredRequest) ([]byte, error) {
			x.mu.Lock()
			defer x.mu.Unlock()

			var q *[]string
			switch req.Schema {
			case taskcore.PlanSchema:
				q = &x.plans
			case taskcore.ThoughtSchema:
				q = &x.thoughts
			case taskcore.StrategySchema:
				q = &x.strategies
			default:
				return nil, errors.New("unexpected schema")
			}
			if len(*q) == 0 {
				return nil, fmt.Errorf("no more %s responses", req.Schema.Name())
			}
			out := (*q)[0]
			*q = (*q)[1:]
			return []byte(out), nil
		},
		GenerateTextFunc: func(ctx context.Context, prompt string) (string, error) {
			return "the user asked for several unrelated things earlier", nil
		},
	}
}

func callsWith(o *mock.OracleMock, schema *taskcore.Schema) int {
	var n int
	for _, c := range o.GenerateStructuredCalls() {
		if c.Req.Schema == schema {
			n++
		}
	}
	return n
}

func toolCall(pos int, tool, input string) string {
	return fmt.Sprintf(`{"step_ref":%d,"rationale":"run the tool","action":{"type":"tool_call","tool":%q,"input":%s},"expected_outcome":"done","confidence":0.9}`, pos, tool, input)
}

func askUser(pos int, question string) string {
	return fmt.Sprintf(`{"step_ref":%d,"rationale":"need input","action":{"type":"ask_user","question":%q},"confidence":0.7}`, pos, question)
}

func completeMission(pos int, summary string) string {
	return fmt.Sprintf(`{"step_ref":%d,"rationale":"all done","action":{"type":"complete","summary":%q},"confidence":0.95}`, pos, summary)
}

const twoFilePlan = `{"items":[
	{"position":1,"description":"write file A","acceptance_criteria":"a.txt exists","chosen_tool":"write_file","tool_input":{"path":"a.txt","content":"A"}},
	{"position":2,"description":"write file B","acceptance_criteria":"b.txt exists","dependencies":[1],"chosen_tool":"write_file","tool_input":{"path":"b.txt","content":"B"}}
]}`

const singlePlan = `{"items":[
	{"position":1,"description":"write file A","acceptance_criteria":"a.txt exists","chosen_tool":"write_file","tool_input":{"path":"a.txt","content":"A"}}
]}`

func newTool(name string, run func(ctx context.Context, args map[string]any) (map[string]any, error)) *mock.ToolMock {
	return &mock.ToolMock{
		SpecFunc: func() *taskcore.ToolSpec {
			return &taskcore.ToolSpec{
				Name:        name,
				Description: name + " tool",
				Parameters: map[string]*taskcore.Parameter{
					"path":    {Type: taskcore.TypeString},
					"content": {Type: taskcore.TypeString},
				},
				Required: []string{"path"},
			}
		},
		RunFunc: run,
	}
}

func succeed(ctx context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"success": true, "path": args["path"]}, nil
}

type fixture struct {
	agent    *agent.Agent
	oracle   *mock.OracleMock
	store    *state.Store
	recorder *event.Recorder
}

func setup(t *testing.T, s *script, tools []taskcore.Tool, opts ...agent.Option) *fixture {
	t.Helper()
	return setupWithBackend(t, s, state.NewMemory(), tools, opts...)
}

func setupWithBackend(t *testing.T, s *script, backend state.Backend, tools []taskcore.Tool, opts ...agent.Option) *fixture {
	t.Helper()
	runner, err := toolrunner.New(context.Background(),
		toolrunner.WithTools(tools...),
		toolrunner.WithBackoffUnit(time.Millisecond),
	)
	gt.NoError(t, err).Required()

	f := &fixture{
		oracle:   s.oracle(),
		store:    state.New(backend),
		recorder: event.NewRecorder(),
	}
	opts = append([]agent.Option{
		agent.WithEmitter(f.recorder),
		agent.WithLogger(internal.TestLogger()),
	}, opts...)
	f.agent = agent.New(f.oracle, f.store, runner, opts...)
	return f
}

func TestDependentTasksRunInOrder(t *testing.T) {
	var (
		mu     sync.Mutex
		writes []string
	)
	writeFile := newTool("write_file", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		writes = append(writes, args["path"].(string))
		return map[string]any{"success": true}, nil
	})

	s := &script{
		plans: []string{twoFilePlan},
		thoughts: []string{
			toolCall(1, "write_file", `{"path":"a.txt","content":"A"}`),
			toolCall(2, "write_file", `{"path":"b.txt","content":"B"}`),
		},
	}
	f := setup(t, s, []taskcore.Tool{writeFile})

	ctx := context.Background()
	out, err := f.agent.Execute(ctx, "s1", "write file A, then write file B that depends on A")
	gt.NoError(t, err).Required()

	gt.Equal(t, out.Status, agent.StatusComplete)
	gt.NoError(t, out.Err)
	gt.Equal(t, writes, []string{"a.txt", "b.txt"})
	gt.Equal(t, out.Iterations, 4)
	gt.A(t, out.Plan.Items).Length(2)
	for _, item := range out.Plan.Items {
		gt.Equal(t, item.Status, taskcore.TaskStatusCompleted)
		gt.Equal(t, item.Attempts, 1)
	}

	gt.Equal(t, f.recorder.Kinds(), []taskcore.EventKind{
		taskcore.EventPlanCreated,
		taskcore.EventThought, taskcore.EventToolStarted, taskcore.EventToolResult,
		taskcore.EventThought, taskcore.EventToolStarted, taskcore.EventToolResult,
		taskcore.EventComplete,
	})
	last := f.recorder.Events()[len(f.recorder.Events())-1]
	plan, ok := last.Payload["plan"].(*taskcore.TodoList)
	gt.True(t, ok)
	gt.True(t, plan.IsComplete())

	st, err := f.store.LoadState(ctx, "s1")
	gt.NoError(t, err).Required()
	gt.Equal(t, st.Phase, taskcore.PhaseComplete)
	gt.Equal(t, st.Version, 4)
	gt.Equal(t, st.TodoListID, out.Plan.TodoListID)
	gt.Equal(t, st.Messages[0].Content, agent.DefaultSystemPrompt)

	list, err := f.store.LoadTodoList(ctx, st.TodoListID)
	gt.NoError(t, err).Required()
	gt.Equal(t, list.Version, 4)
	gt.True(t, list.IsComplete())
}

func TestRetriesInsideToolRunner(t *testing.T) {
	var calls int
	flaky := newTool("write_file", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("disk busy")
		}
		return map[string]any{"success": true}, nil
	})

	s := &script{
		plans:    []string{singlePlan},
		thoughts: []string{toolCall(1, "write_file", `{"path":"a.txt"}`)},
	}
	f := setup(t, s, []taskcore.Tool{flaky})

	out, err := f.agent.Execute(context.Background(), "s1", "write a file")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)

	item := out.Plan.Item(1)
	gt.Equal(t, item.Status, taskcore.TaskStatusCompleted)
	gt.Equal(t, item.Attempts, 3)
	gt.Equal(t, item.ExecutionResult.AttemptCount, 3)
	gt.Equal(t, calls, 3)
}

func TestReplanSwapsTool(t *testing.T) {
	broken := newTool("write_file", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, errors.New("permission denied")
	})
	var copied []string
	alternative := newTool("copy_file", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		copied = append(copied, args["path"].(string))
		return map[string]any{"success": true}, nil
	})

	s := &script{
		plans: []string{singlePlan},
		thoughts: []string{
			toolCall(1, "write_file", `{"path":"a.txt"}`),
			toolCall(1, "copy_file", `{"path":"a.txt"}`),
		},
		strategies: []string{
			`{"type":"SWAP_TOOL","rationale":"write_file is not permitted","confidence":0.8,"modifications":{"chosen_tool":"copy_file","tool_input":{"path":"a.txt"}}}`,
		},
	}
	f := setup(t, s, []taskcore.Tool{broken, alternative})

	ctx := context.Background()
	out, err := f.agent.Execute(ctx, "s1", "write a file")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)

	item := out.Plan.Item(1)
	gt.Equal(t, item.ChosenTool, "copy_file")
	gt.Equal(t, item.ReplanCount, 1)
	gt.Equal(t, item.Status, taskcore.TaskStatusCompleted)
	gt.Equal(t, item.Attempts, 1)
	gt.A(t, broken.RunCalls()).Length(3)
	gt.Equal(t, copied, []string{"a.txt"})

	var replan *taskcore.Event
	for _, ev := range f.recorder.Events() {
		if ev.Kind == taskcore.EventReplan {
			replan = ev
		}
	}
	gt.NotNil(t, replan)
	gt.Equal(t, replan.Payload["strategy"], any(taskcore.StrategySwapTool))

	st, err := f.store.LoadState(ctx, "s1")
	gt.NoError(t, err).Required()
	var noted bool
	for _, msg := range st.Messages {
		if msg.Name == taskcore.MessageNameReplanNote {
			noted = true
		}
	}
	gt.True(t, noted)
}

func TestAskUserAndResume(t *testing.T) {
	writeFile := newTool("write_file", succeed)
	s := &script{
		plans: []string{singlePlan},
		thoughts: []string{
			askUser(1, "Which directory should a.txt go to?"),
			toolCall(1, "write_file", `{"path":"/tmp/a.txt"}`),
		},
	}
	f := setup(t, s, []taskcore.Tool{writeFile})
	ctx := context.Background()

	out, err := f.agent.Execute(ctx, "s1", "write a file")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusAwaitingUser)
	gt.NotNil(t, out.Question)
	gt.Equal(t, out.Question.Question, "Which directory should a.txt go to?")
	gt.Equal(t, out.Question.AnswerKey, taskcore.AnswerKeyFor("Which directory should a.txt go to?"))
	gt.Equal(t, out.Question.ForTaskPosition, 1)
	gt.Equal(t, out.Plan.Item(1).Status, taskcore.TaskStatusPending)

	t.Run("execute again returns the same question", func(t *testing.T) {
		before := len(f.oracle.GenerateStructuredCalls())
		again, err := f.agent.Execute(ctx, "s1", "write a file")
		gt.NoError(t, err).Required()
		gt.Equal(t, again.Status, agent.StatusAwaitingUser)
		gt.Equal(t, again.Question.AnswerKey, out.Question.AnswerKey)
		gt.Equal(t, len(f.oracle.GenerateStructuredCalls()), before)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := f.agent.Resume(ctx, "s1", "q_other", "/tmp")
		gt.True(t, errors.Is(err, taskcore.ErrAnswerKeyMismatch))
	})

	resumed, err := f.agent.Resume(ctx, "s1", out.Question.AnswerKey, "/tmp")
	gt.NoError(t, err).Required()
	gt.Equal(t, resumed.Status, agent.StatusComplete)
	gt.Nil(t, resumed.Question)

	calls := f.oracle.GenerateStructuredCalls()
	lastReq := calls[len(calls)-1].Req
	var answered bool
	for _, msg := range lastReq.Messages {
		if strings.Contains(msg.Content, "Answer: /tmp") {
			answered = true
		}
	}
	gt.True(t, answered)

	st, err := f.store.LoadState(ctx, "s1")
	gt.NoError(t, err).Required()
	gt.Equal(t, st.Answers[out.Question.AnswerKey], "/tmp")
	gt.Nil(t, st.PendingQuestion)

	t.Run("nothing to resume", func(t *testing.T) {
		_, err := f.agent.Resume(ctx, "s1", out.Question.AnswerKey, "/tmp")
		gt.True(t, errors.Is(err, taskcore.ErrNoPendingQuestion))

		_, err = f.agent.Resume(ctx, "unknown", "k", "v")
		gt.True(t, errors.Is(err, taskcore.ErrNoPendingQuestion))
	})
}

func TestOpenQuestionsAskedBeforeExecution(t *testing.T) {
	writeFile := newTool("write_file", succeed)
	s := &script{
		plans: []string{`{"items":[{"position":1,"description":"write file","acceptance_criteria":"exists","chosen_tool":"write_file"}],
			"open_questions":["What should the file be called?"]}`},
		thoughts: []string{toolCall(1, "write_file", `{"path":"notes.txt"}`)},
	}
	f := setup(t, s, []taskcore.Tool{writeFile})
	ctx := context.Background()

	out, err := f.agent.Execute(ctx, "s1", "write a file")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusAwaitingUser)
	gt.Equal(t, out.Question.AnswerKey, taskcore.AnswerKeyFor("What should the file be called?"))
	gt.Equal(t, out.Question.ForTaskPosition, 0)
	gt.A(t, writeFile.RunCalls()).Length(0)

	out, err = f.agent.Resume(ctx, "s1", out.Question.AnswerKey, "notes.txt")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)
	gt.A(t, writeFile.RunCalls()).Length(1)
	gt.Equal(t, callsWith(f.oracle, taskcore.PlanSchema), 1)
}

func TestPlanningFallbackAsksForClarification(t *testing.T) {
	writeFile := newTool("write_file", succeed)
	s := &script{
		plans:    []string{`not json`, `{"items":[]}`, singlePlan},
		thoughts: []string{completeMission(1, "wrote a.txt")},
	}
	f := setup(t, s, []taskcore.Tool{writeFile})
	ctx := context.Background()

	out, err := f.agent.Execute(ctx, "s1", "do the thing")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusAwaitingUser)
	gt.Nil(t, out.Plan)
	gt.Equal(t, out.Question.AnswerKey, "plan_clarification")

	out, err = f.agent.Resume(ctx, "s1", "plan_clarification", "write a.txt containing A")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)
	gt.Equal(t, out.Summary, "wrote a.txt")
	gt.Equal(t, callsWith(f.oracle, taskcore.PlanSchema), 3)
}

func TestCompleteSkipsRemainingTasks(t *testing.T) {
	writeFile := newTool("write_file", succeed)
	s := &script{
		plans:    []string{twoFilePlan},
		thoughts: []string{completeMission(1, "nothing left to do")},
	}
	f := setup(t, s, []taskcore.Tool{writeFile})

	out, err := f.agent.Execute(context.Background(), "s1", "write files")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)
	gt.Equal(t, out.Plan.Item(1).Status, taskcore.TaskStatusCompleted)
	gt.Equal(t, out.Plan.Item(2).Status, taskcore.TaskStatusSkipped)
	gt.A(t, writeFile.RunCalls()).Length(0)
}

func TestDependencyDeadlock(t *testing.T) {
	writeFile := newTool("write_file", succeed)
	invalid := toolCall(1, "write_file", `{"content":"no path"}`)
	s := &script{
		plans:      []string{twoFilePlan},
		thoughts:   []string{invalid, invalid, invalid},
		strategies: []string{`{"type":"RETRY_WITH_PARAMS","rationale":"guess","confidence":0.3,"modifications":{"tool_input":{"path":"x"}}}`},
	}
	f := setup(t, s, []taskcore.Tool{writeFile})

	out, err := f.agent.Execute(context.Background(), "s1", "write files")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusFailed)
	gt.True(t, errors.Is(out.Err, taskcore.ErrDependencyDeadlock))

	first := out.Plan.Item(1)
	gt.Equal(t, first.Status, taskcore.TaskStatusFailed)
	gt.Equal(t, first.Attempts, taskcore.DefaultMaxAttempts)
	gt.Equal(t, first.ReplanCount, 0)
	gt.Equal(t, first.ExecutionResult.ErrorType, taskcore.ErrorTypeValidation)
	gt.Equal(t, out.Plan.Item(2).Status, taskcore.TaskStatusPending)
	gt.A(t, writeFile.RunCalls()).Length(0)

	events := f.recorder.Events()
	last := events[len(events)-1]
	gt.Equal(t, last.Kind, taskcore.EventError)
	gt.Equal(t, last.Payload["fatal"], any(true))
	gt.NotNil(t, last.Payload["plan"])
}

func TestReplanCountNeverExceedsLimit(t *testing.T) {
	broken := newTool("write_file", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, errors.New("always broken")
	})
	call := toolCall(1, "write_file", `{"path":"a.txt"}`)
	retry := `{"type":"RETRY_WITH_PARAMS","rationale":"try again","confidence":0.9,"modifications":{"tool_input":{"path":"a.txt"}}}`
	s := &script{
		plans:      []string{singlePlan},
		thoughts:   []string{call, call, call},
		strategies: []string{retry, retry, retry},
	}
	f := setup(t, s, []taskcore.Tool{broken})

	out, err := f.agent.Execute(context.Background(), "s1", "write a file")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusFailed)

	item := out.Plan.Item(1)
	gt.Equal(t, item.ReplanCount, taskcore.DefaultMaxReplans)
	gt.Equal(t, item.Status, taskcore.TaskStatusFailed)
	gt.Equal(t, callsWith(f.oracle, taskcore.StrategySchema), taskcore.DefaultMaxReplans)
	gt.A(t, broken.RunCalls()).Length(9)
}

func TestIterationLimit(t *testing.T) {
	writeFile := newTool("write_file", succeed)
	s := &script{
		plans: []string{`{"items":[
			{"position":1,"description":"one","acceptance_criteria":"done"},
			{"position":2,"description":"two","acceptance_criteria":"done"},
			{"position":3,"description":"three","acceptance_criteria":"done"}
		]}`},
		thoughts: []string{
			toolCall(1, "write_file", `{"path":"1"}`),
			toolCall(2, "write_file", `{"path":"2"}`),
		},
	}
	f := setup(t, s, []taskcore.Tool{writeFile}, agent.WithIterationLimit(3))
	ctx := context.Background()

	out, err := f.agent.Execute(ctx, "s1", "three steps")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusFailed)
	gt.True(t, errors.Is(out.Err, taskcore.ErrIterationLimit))
	gt.Equal(t, out.Iterations, 3)
	gt.Equal(t, out.Plan.Item(3).Status, taskcore.TaskStatusPending)

	st, err := f.store.LoadState(ctx, "s1")
	gt.NoError(t, err).Required()
	gt.Equal(t, st.Phase, taskcore.PhaseFailed)
}

func TestSessionBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := newTool("write_file", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		close(started)
		<-release
		return map[string]any{"success": true}, nil
	})
	s := &script{
		plans:    []string{singlePlan},
		thoughts: []string{toolCall(1, "write_file", `{"path":"a.txt"}`)},
	}
	f := setup(t, s, []taskcore.Tool{slow})
	ctx := context.Background()

	type result struct {
		out *agent.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := f.agent.Execute(ctx, "s1", "write a file")
		done <- result{out, err}
	}()

	<-started
	_, err := f.agent.Execute(ctx, "s1", "write a file")
	gt.True(t, errors.Is(err, taskcore.ErrSessionBusy))
	_, err = f.agent.Resume(ctx, "s1", "k", "v")
	gt.True(t, errors.Is(err, taskcore.ErrSessionBusy))

	close(release)
	r := <-done
	gt.NoError(t, r.err).Required()
	gt.Equal(t, r.out.Status, agent.StatusComplete)
}

func TestResumeAfterCrash(t *testing.T) {
	ctx := context.Background()
	writeFile := newTool("write_file", succeed)
	s := &script{
		thoughts: []string{
			toolCall(1, "write_file", `{"path":"a.txt"}`),
			toolCall(2, "write_file", `{"path":"b.txt"}`),
		},
	}
	f := setup(t, s, []taskcore.Tool{writeFile})

	list := &taskcore.TodoList{
		TodoListID: "t1",
		Mission:    "write two files",
		Items: []*taskcore.TodoItem{
			{Position: 1, Description: "write A", AcceptanceCriteria: "exists", Status: taskcore.TaskStatusInProgress},
			{Position: 2, Description: "write B", AcceptanceCriteria: "exists", Dependencies: []int{1}, Status: taskcore.TaskStatusPending},
		},
	}
	gt.NoError(t, f.store.SaveTodoList(ctx, list)).Required()
	st := taskcore.NewSessionState("s1", "write two files")
	st.TodoListID = "t1"
	st.Phase = taskcore.PhaseExecuting
	gt.NoError(t, f.store.SaveState(ctx, st)).Required()

	out, err := f.agent.Execute(ctx, "s1", "write two files")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)
	gt.Equal(t, out.Plan.TodoListID, "t1")
	gt.Equal(t, callsWith(f.oracle, taskcore.PlanSchema), 0)
	gt.A(t, writeFile.RunCalls()).Length(2)
}

func TestMissionResetCompressesHistory(t *testing.T) {
	ctx := context.Background()
	writeFile := newTool("write_file", succeed)
	s := &script{
		plans:    []string{singlePlan},
		thoughts: []string{completeMission(1, "done")},
	}
	f := setup(t, s, []taskcore.Tool{writeFile})

	old := taskcore.NewSessionState("s1", "old mission")
	old.Phase = taskcore.PhaseComplete
	old.TodoListID = "old-plan"
	old.Messages = []taskcore.Message{taskcore.SystemMessage(agent.DefaultSystemPrompt)}
	for i := 1; i < 45; i++ {
		old.Messages = append(old.Messages, taskcore.UserMessage(fmt.Sprintf("message %d", i)))
	}
	gt.NoError(t, f.store.SaveTodoList(ctx, &taskcore.TodoList{TodoListID: "old-plan", Mission: "old mission"})).Required()
	gt.NoError(t, f.store.SaveState(ctx, old)).Required()

	out, err := f.agent.Execute(ctx, "s1", "new mission")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)
	gt.A(t, f.oracle.GenerateTextCalls()).Length(1)
	gt.S(t, strings.Join(out.Plan.Notes, "\n")).Contains("old-plan")
	gt.NotEqual(t, out.Plan.TodoListID, "old-plan")

	st, err := f.store.LoadState(ctx, "s1")
	gt.NoError(t, err).Required()
	gt.Equal(t, st.Mission, "new mission")
	gt.True(t, len(st.Messages) < 45)
	gt.Equal(t, st.Messages[0].Role, taskcore.RoleSystem)
	gt.Equal(t, st.Messages[0].Content, agent.DefaultSystemPrompt)
	gt.Equal(t, st.Messages[1].Name, taskcore.MessageNameSummary)
}

func TestPlanningOracleFailure(t *testing.T) {
	ctx := context.Background()
	writeFile := newTool("write_file", succeed)
	s := &script{}
	f := setup(t, s, []taskcore.Tool{writeFile})

	_, err := f.agent.Execute(ctx, "s1", "write a file")
	gt.True(t, errors.Is(err, taskcore.ErrPlanning))

	st, err := f.store.LoadState(ctx, "s1")
	gt.NoError(t, err).Required()
	gt.Equal(t, st.Phase, taskcore.PhasePlanning)

	s.mu.Lock()
	s.plans = []string{singlePlan}
	s.thoughts = []string{completeMission(1, "done")}
	s.mu.Unlock()

	out, err := f.agent.Execute(ctx, "s1", "write a file")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)
}

type brokenBackend struct {
	*state.Memory
}

func (x *brokenBackend) Write(context.Context, state.Kind, string, []byte) error {
	return errors.New("read-only file system")
}

func TestStateErrorsAreNotFatal(t *testing.T) {
	writeFile := newTool("write_file", succeed)
	s := &script{
		plans:    []string{singlePlan},
		thoughts: []string{toolCall(1, "write_file", `{"path":"a.txt"}`)},
	}
	f := setupWithBackend(t, s, &brokenBackend{Memory: state.NewMemory()}, []taskcore.Tool{writeFile})

	out, err := f.agent.Execute(context.Background(), "s1", "write a file")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)
	gt.True(t, out.StateErrors > 0)
}

func TestEmptyMission(t *testing.T) {
	f := setup(t, &script{}, nil)
	_, err := f.agent.Execute(context.Background(), "s1", "")
	gt.Error(t, err)
}

func TestConcurrentSessions(t *testing.T) {
	writeFile := newTool("write_file", succeed)
	oracle := &mock.OracleMock{
		GenerateStructuredFunc: func(ctx context.Context, req *taskcore.StructuredRequest) ([]byte, error) {
			switch req.Schema {
			case taskcore.PlanSchema:
				return []byte(singlePlan), nil
			default:
				return []byte(toolCall(1, "write_file", `{"path":"a.txt"}`)), nil
			}
		},
		GenerateTextFunc: func(ctx context.Context, prompt string) (string, error) { return "summary", nil },
	}
	runner, err := toolrunner.New(context.Background(), toolrunner.WithTools(writeFile))
	gt.NoError(t, err).Required()
	store := state.New(state.NewMemory())
	a := agent.New(oracle, store, runner)

	const n = 8
	var wg sync.WaitGroup
	outs := make([]*agent.Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i], errs[i] = a.Execute(context.Background(), fmt.Sprintf("s%d", i), "write a file")
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		gt.NoError(t, errs[i])
		gt.Equal(t, outs[i].Status, agent.StatusComplete)
	}
	ids, err := store.Sessions(context.Background())
	gt.NoError(t, err).Required()
	gt.A(t, ids).Length(n)
}

func requestReplan(pos int) string {
	return fmt.Sprintf(`{"step_ref":%d,"rationale":"the step cannot work as planned","action":{"type":"replan"},"confidence":0.6}`, pos)
}

const independentPlan = `{"items":[
	{"position":1,"description":"write file A","acceptance_criteria":"a.txt exists","chosen_tool":"write_file","tool_input":{"path":"a.txt"}},
	{"position":2,"description":"write file B","acceptance_criteria":"b.txt exists","chosen_tool":"write_file","tool_input":{"path":"b.txt"}}
]}`

func TestRequestedReplanFailsTaskPermanently(t *testing.T) {
	retry := `{"type":"RETRY_WITH_PARAMS","rationale":"try again","confidence":0.9,"modifications":{"tool_input":{"path":"a.txt"}}}`

	testCases := map[string]struct {
		thoughts    []string
		strategies  []string
		replanCount int
	}{
		"rejected": {
			thoughts:   []string{requestReplan(1), toolCall(2, "write_file", `{"path":"b.txt"}`)},
			strategies: []string{`{"type":"RETRY_WITH_PARAMS","rationale":"guess","confidence":0.3,"modifications":{"tool_input":{"path":"x"}}}`},
		},
		"exhausted": {
			thoughts: []string{
				requestReplan(1), requestReplan(1), requestReplan(1),
				toolCall(2, "write_file", `{"path":"b.txt"}`),
			},
			strategies:  []string{retry, retry},
			replanCount: taskcore.DefaultMaxReplans,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			writeFile := newTool("write_file", succeed)
			s := &script{
				plans:      []string{independentPlan},
				thoughts:   tc.thoughts,
				strategies: tc.strategies,
			}
			f := setup(t, s, []taskcore.Tool{writeFile})

			out, err := f.agent.Execute(context.Background(), "s1", "write two files")
			gt.NoError(t, err).Required()
			gt.Equal(t, out.Status, agent.StatusFailed)
			gt.False(t, errors.Is(out.Err, taskcore.ErrIterationLimit))
			gt.True(t, errors.Is(out.Err, taskcore.ErrDependencyDeadlock))

			first := out.Plan.Item(1)
			gt.Equal(t, first.Status, taskcore.TaskStatusFailed)
			gt.Equal(t, first.Attempts, taskcore.DefaultMaxAttempts)
			gt.Equal(t, first.ReplanCount, tc.replanCount)
			gt.Equal(t, out.Plan.Item(2).Status, taskcore.TaskStatusCompleted)
			gt.Equal(t, callsWith(f.oracle, taskcore.StrategySchema), len(tc.strategies))
			gt.A(t, writeFile.RunCalls()).Length(1)
		})
	}
}

func TestCancelDuringToolCallKeepsAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	writeFile := newTool("write_file", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		calls++
		switch calls {
		case 1:
			return nil, errors.New("disk busy")
		case 2:
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return map[string]any{"success": true}, nil
	})

	call := toolCall(1, "write_file", `{"path":"a.txt"}`)
	s := &script{
		plans:    []string{singlePlan},
		thoughts: []string{call, call},
	}
	f := setup(t, s, []taskcore.Tool{writeFile})

	_, err := f.agent.Execute(ctx, "s1", "write a file")
	gt.True(t, errors.Is(err, context.Canceled))
	gt.Equal(t, callsWith(f.oracle, taskcore.StrategySchema), 0)

	st, err := f.store.LoadState(context.Background(), "s1")
	gt.NoError(t, err).Required()
	gt.Equal(t, st.Phase, taskcore.PhaseExecuting)
	list, err := f.store.LoadTodoList(context.Background(), st.TodoListID)
	gt.NoError(t, err).Required()
	item := list.Item(1)
	gt.Equal(t, item.Status, taskcore.TaskStatusPending)
	gt.Equal(t, item.Attempts, 0)
	gt.Equal(t, item.ReplanCount, 0)

	out, err := f.agent.Execute(context.Background(), "s1", "write a file")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)
	gt.Equal(t, out.Plan.Item(1).Attempts, 1)
	gt.Equal(t, calls, 3)
}

func TestThoughtForAnotherStepIsRejected(t *testing.T) {
	writeFile := newTool("write_file", succeed)
	s := &script{
		plans: []string{twoFilePlan},
		thoughts: []string{
			toolCall(2, "write_file", `{"path":"b.txt"}`),
			toolCall(1, "write_file", `{"path":"a.txt"}`),
			toolCall(2, "write_file", `{"path":"b.txt"}`),
		},
	}
	f := setup(t, s, []taskcore.Tool{writeFile})

	out, err := f.agent.Execute(context.Background(), "s1", "write file A, then B")
	gt.NoError(t, err).Required()
	gt.Equal(t, out.Status, agent.StatusComplete)
	gt.Equal(t, out.Plan.Item(1).Attempts, 2)
	gt.Equal(t, out.Plan.Item(2).Attempts, 1)
	gt.A(t, writeFile.RunCalls()).Length(2)
	gt.Equal(t, writeFile.RunCalls()[0].Args["path"], any("a.txt"))
}
