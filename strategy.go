package taskcore

import (
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
)

// StrategyType is the kind of recovery proposed for a failed task.
type StrategyType string

const (
	StrategyRetryWithParams StrategyType = "RETRY_WITH_PARAMS"
	StrategySwapTool        StrategyType = "SWAP_TOOL"
	StrategyDecompose       StrategyType = "DECOMPOSE"
)

// Strategy is a recovery plan for a task that exhausted its attempts.
type Strategy struct {
	Type          StrategyType  `json:"type"`
	Rationale     string        `json:"rationale"`
	Confidence    float64       `json:"confidence"`
	Modifications Modifications `json:"modifications"`
}

// Modifications carries the strategy-specific changes. RETRY_WITH_PARAMS uses ToolInput, SWAP_TOOL uses
// ChosenTool and optionally ToolInput, DECOMPOSE uses Steps.
type Modifications struct {
	ChosenTool string         `json:"chosen_tool,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	Steps      []StepDraft    `json:"steps,omitempty"`
}

// ParseStrategy validates raw oracle output against StrategySchema and checks that the modifications
// required by the strategy type are present.
func ParseStrategy(data []byte) (*Strategy, error) {
	if err := StrategySchema.Validate(data); err != nil {
		return nil, goerr.Wrap(ErrInvalidStrategy, "strategy does not match schema", goerr.V("cause", err.Error()))
	}

	var s Strategy
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, goerr.Wrap(ErrInvalidStrategy, "failed to decode strategy", goerr.V("cause", err.Error()))
	}

	eb := goerr.NewBuilder(goerr.V("type", s.Type))
	switch s.Type {
	case StrategyRetryWithParams:
		if s.Modifications.ToolInput == nil {
			return nil, eb.Wrap(ErrInvalidStrategy, "tool_input is required")
		}
	case StrategySwapTool:
		if s.Modifications.ChosenTool == "" {
			return nil, eb.Wrap(ErrInvalidStrategy, "chosen_tool is required")
		}
	case StrategyDecompose:
		if len(s.Modifications.Steps) == 0 {
			return nil, eb.Wrap(ErrInvalidStrategy, "steps are required")
		}
	}

	return &s, nil
}
