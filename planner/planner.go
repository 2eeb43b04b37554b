package planner

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
)

// ClarificationAnswerKey is the answer key of the question asked when no valid plan could be built.
const ClarificationAnswerKey = "plan_clarification"

// ClarificationQuestion is asked when the oracle does not return a valid plan after one repair attempt.
const ClarificationQuestion = "I could not build a valid plan for this mission. Could you describe the expected result in more detail?"

// Planner builds TodoLists through the oracle.
type Planner struct {
	oracle      taskcore.Oracle
	tools       []*taskcore.ToolSpec
	maxAttempts int
	newID       func() string
}

type Option func(*Planner)

// WithTools sets the tool catalogue shown to the oracle. A plan naming a tool outside the catalogue
// is rejected.
func WithTools(specs []*taskcore.ToolSpec) Option {
	return func(p *Planner) {
		p.tools = specs
	}
}

// WithMaxAttempts sets the attempt budget used by the scheduler for retry in place.
func WithMaxAttempts(n int) Option {
	return func(p *Planner) {
		p.maxAttempts = n
	}
}

// WithIDGenerator replaces the TodoList ID generator.
func WithIDGenerator(f func() string) Option {
	return func(p *Planner) {
		p.newID = f
	}
}

func New(oracle taskcore.Oracle, opts ...Option) *Planner {
	p := &Planner{
		oracle:      oracle,
		maxAttempts: taskcore.DefaultMaxAttempts,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts returns the attempt budget of a task.
func (p *Planner) MaxAttempts() int { return p.maxAttempts }

// Next returns the next actionable task of list using the planner's attempt budget.
func (p *Planner) Next(list *taskcore.TodoList) *taskcore.TodoItem {
	return NextActionableTask(list, p.maxAttempts)
}

type planDoc struct {
	Items []struct {
		Position           int            `json:"position"`
		Description        string         `json:"description"`
		AcceptanceCriteria string         `json:"acceptance_criteria"`
		Dependencies       []int          `json:"dependencies"`
		ChosenTool         string         `json:"chosen_tool"`
		ToolInput          map[string]any `json:"tool_input"`
	} `json:"items"`
	OpenQuestions []string `json:"open_questions"`
	Notes         []string `json:"notes"`
}

// CreatePlan asks the oracle for a plan of mission. Malformed output gets one repair round-trip with
// the parse error fed back. If that also fails, CreatePlan returns no list and a clarification question.
//
// A valid plan with open questions not yet covered by answers is returned together with the first
// unanswered question. An error is returned only when the oracle itself fails.
func (p *Planner) CreatePlan(ctx context.Context, mission string, answers map[string]string, history []taskcore.Message) (*taskcore.TodoList, *taskcore.AskUser, error) {
	logger := ctxlog.From(ctx)

	req := &taskcore.StructuredRequest{
		SystemPrompt: planSystemPrompt + "\n\n" + renderToolCatalogue(p.tools),
		Messages:     append(append([]taskcore.Message{}, history...), taskcore.UserMessage(renderPlanRequest(mission, answers))),
		Schema:       taskcore.PlanSchema,
	}

	var lastErr error
	for round := 0; round < 2; round++ {
		raw, err := p.oracle.GenerateStructured(ctx, req)
		if err != nil {
			return nil, nil, goerr.Wrap(taskcore.ErrPlanning, "oracle failed to generate plan", goerr.V("cause", err.Error()), goerr.V("round", round))
		}

		list, err := p.parsePlan(mission, raw)
		if err == nil {
			logger.Debug("plan created", "todolist_id", list.TodoListID, "items", len(list.Items), "round", round)
			return list, UnansweredQuestion(list, answers), nil
		}

		lastErr = err
		logger.Warn("oracle returned an unusable plan", "error", err, "round", round)
		req.Messages = append(req.Messages,
			taskcore.AssistantMessage(string(raw)),
			taskcore.UserMessage(renderRepairRequest(err)),
		)
	}

	logger.Warn("giving up planning, asking user for clarification", "error", lastErr)
	return nil, &taskcore.AskUser{Question: ClarificationQuestion, AnswerKey: ClarificationAnswerKey}, nil
}

func (p *Planner) parsePlan(mission string, raw []byte) (*taskcore.TodoList, error) {
	if err := taskcore.PlanSchema.Validate(raw); err != nil {
		return nil, goerr.Wrap(taskcore.ErrPlanning, "plan does not match schema", goerr.V("cause", err.Error()))
	}

	var doc planDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, goerr.Wrap(taskcore.ErrPlanning, "failed to decode plan", goerr.V("cause", err.Error()))
	}

	list := &taskcore.TodoList{
		TodoListID:    p.newID(),
		Mission:       mission,
		OpenQuestions: doc.OpenQuestions,
		Notes:         doc.Notes,
	}
	for _, it := range doc.Items {
		if it.ChosenTool != "" && !p.hasTool(it.ChosenTool) {
			return nil, goerr.Wrap(taskcore.ErrPlanning, "plan refers to unknown tool",
				goerr.V("position", it.Position), goerr.V("tool", it.ChosenTool))
		}
		list.Items = append(list.Items, &taskcore.TodoItem{
			Position:           it.Position,
			Description:        it.Description,
			AcceptanceCriteria: it.AcceptanceCriteria,
			Dependencies:       it.Dependencies,
			Status:             taskcore.TaskStatusPending,
			ChosenTool:         it.ChosenTool,
			ToolInput:          it.ToolInput,
		})
	}

	if err := list.Validate(); err != nil {
		return nil, goerr.Wrap(taskcore.ErrPlanning, "plan is structurally invalid", goerr.V("cause", err.Error()))
	}
	return list, nil
}

func (p *Planner) hasTool(name string) bool {
	if p.tools == nil {
		return true
	}
	for _, spec := range p.tools {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// UnansweredQuestion returns the first open question of list without an answer, or nil.
func UnansweredQuestion(list *taskcore.TodoList, answers map[string]string) *taskcore.AskUser {
	for _, q := range list.OpenQuestions {
		key := taskcore.AnswerKeyFor(q)
		if _, ok := answers[key]; !ok {
			return &taskcore.AskUser{Question: q, AnswerKey: key}
		}
	}
	return nil
}
