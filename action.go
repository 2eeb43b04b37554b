package taskcore

import (
	"encoding/json"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
)

// ActionType is the discriminator of an Action.
type ActionType string

const (
	ActionTypeToolCall ActionType = "tool_call"
	ActionTypeAskUser  ActionType = "ask_user"
	ActionTypeComplete ActionType = "complete"
	ActionTypeReplan   ActionType = "replan"
)

// Action is what the oracle decided to do next. It is one of ToolCall, AskUser, Complete or Replan.
type Action interface {
	Type() ActionType
	LogValue() slog.Value
	isAction() restrictedValue
}

type restrictedValue struct{}

// ToolCall invokes a tool with the given input.
type ToolCall struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

func (ToolCall) Type() ActionType          { return ActionTypeToolCall }
func (ToolCall) isAction() restrictedValue { return restrictedValue{} }
func (x ToolCall) LogValue() slog.Value {
	return slog.GroupValue(slog.String("type", string(x.Type())), slog.String("tool", x.Tool), slog.Any("input", x.Input))
}

// AskUser suspends the session until the user answers the question.
type AskUser struct {
	Question  string `json:"question"`
	AnswerKey string `json:"answer_key"`
}

func (AskUser) Type() ActionType          { return ActionTypeAskUser }
func (AskUser) isAction() restrictedValue { return restrictedValue{} }
func (x AskUser) LogValue() slog.Value {
	return slog.GroupValue(slog.String("type", string(x.Type())), slog.String("question", x.Question), slog.String("answer_key", x.AnswerKey))
}

// Complete finishes the mission.
type Complete struct {
	Summary string `json:"summary"`
}

func (Complete) Type() ActionType          { return ActionTypeComplete }
func (Complete) isAction() restrictedValue { return restrictedValue{} }
func (x Complete) LogValue() slog.Value {
	return slog.GroupValue(slog.String("type", string(x.Type())), slog.String("summary", x.Summary))
}

// Replan asks for the current task to be restructured.
type Replan struct{}

func (Replan) Type() ActionType          { return ActionTypeReplan }
func (Replan) isAction() restrictedValue { return restrictedValue{} }
func (x Replan) LogValue() slog.Value {
	return slog.GroupValue(slog.String("type", string(x.Type())))
}

// Thought is one reasoning step of the ReAct loop.
type Thought struct {
	StepRef         int     `json:"step_ref"`
	Rationale       string  `json:"rationale"`
	Action          Action  `json:"-"`
	ExpectedOutcome string  `json:"expected_outcome"`
	Confidence      float64 `json:"confidence"`
}

type actionDoc struct {
	Type      ActionType     `json:"type"`
	Tool      string         `json:"tool,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Question  string         `json:"question,omitempty"`
	AnswerKey string         `json:"answer_key,omitempty"`
	Summary   string         `json:"summary,omitempty"`
}

type thoughtDoc struct {
	StepRef         int       `json:"step_ref"`
	Rationale       string    `json:"rationale"`
	Action          actionDoc `json:"action"`
	ExpectedOutcome string    `json:"expected_outcome"`
	Confidence      float64   `json:"confidence"`
}

// MarshalJSON implements json.Marshaler.
func (x Thought) MarshalJSON() ([]byte, error) {
	doc := thoughtDoc{
		StepRef:         x.StepRef,
		Rationale:       x.Rationale,
		ExpectedOutcome: x.ExpectedOutcome,
		Confidence:      x.Confidence,
	}
	switch v := x.Action.(type) {
	case ToolCall:
		doc.Action = actionDoc{Type: v.Type(), Tool: v.Tool, Input: v.Input}
	case AskUser:
		doc.Action = actionDoc{Type: v.Type(), Question: v.Question, AnswerKey: v.AnswerKey}
	case Complete:
		doc.Action = actionDoc{Type: v.Type(), Summary: v.Summary}
	case Replan:
		doc.Action = actionDoc{Type: v.Type()}
	case nil:
		return nil, goerr.Wrap(ErrInvalidThought, "action is not set")
	default:
		return nil, goerr.Wrap(ErrInvalidThought, "unknown action", goerr.V("action", x.Action))
	}
	return json.Marshal(doc)
}

// UnmarshalJSON implements json.Unmarshaler. It does not range-check values; use ParseThought for that.
func (x *Thought) UnmarshalJSON(data []byte) error {
	var doc thoughtDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	var action Action
	switch doc.Action.Type {
	case ActionTypeToolCall:
		action = ToolCall{Tool: doc.Action.Tool, Input: doc.Action.Input}
	case ActionTypeAskUser:
		action = AskUser{Question: doc.Action.Question, AnswerKey: doc.Action.AnswerKey}
	case ActionTypeComplete:
		action = Complete{Summary: doc.Action.Summary}
	case ActionTypeReplan:
		action = Replan{}
	default:
		return goerr.Wrap(ErrInvalidThought, "unknown action type", goerr.V("type", doc.Action.Type))
	}

	*x = Thought{
		StepRef:         doc.StepRef,
		Rationale:       doc.Rationale,
		Action:          action,
		ExpectedOutcome: doc.ExpectedOutcome,
		Confidence:      doc.Confidence,
	}
	return nil
}

// ParseThought validates raw oracle output against ThoughtSchema and decodes it.
func ParseThought(data []byte) (*Thought, error) {
	if err := ThoughtSchema.Validate(data); err != nil {
		return nil, goerr.Wrap(ErrInvalidThought, "thought does not match schema", goerr.V("cause", err.Error()))
	}

	var thought Thought
	if err := json.Unmarshal(data, &thought); err != nil {
		return nil, goerr.Wrap(ErrInvalidThought, "failed to decode thought", goerr.V("cause", err.Error()))
	}

	if thought.Confidence < 0 || thought.Confidence > 1 {
		return nil, goerr.Wrap(ErrInvalidThought, "confidence out of range", goerr.V("confidence", thought.Confidence))
	}

	if ask, ok := thought.Action.(AskUser); ok {
		if ask.Question == "" {
			return nil, goerr.Wrap(ErrInvalidThought, "ask_user requires a question")
		}
		if ask.AnswerKey == "" {
			ask.AnswerKey = AnswerKeyFor(ask.Question)
			thought.Action = ask
		}
	}

	return &thought, nil
}
