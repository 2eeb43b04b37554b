package taskcore_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/taskcore"
)

func TestParseStrategy(t *testing.T) {
	t.Run("valid strategies", func(t *testing.T) {
		testCases := map[string]struct {
			input string
			want  taskcore.StrategyType
		}{
			"retry with params": {
				input: `{"type":"RETRY_WITH_PARAMS","rationale":"path was wrong","confidence":0.8,"modifications":{"tool_input":{"path":"b.txt"}}}`,
				want:  taskcore.StrategyRetryWithParams,
			},
			"swap tool": {
				input: `{"type":"SWAP_TOOL","rationale":"use shell","confidence":0.7,"modifications":{"chosen_tool":"shell"}}`,
				want:  taskcore.StrategySwapTool,
			},
			"decompose": {
				input: `{"type":"DECOMPOSE","rationale":"too big","confidence":0.9,"modifications":{"steps":[{"description":"mkdir","acceptance_criteria":"dir exists"},{"description":"write","acceptance_criteria":"file exists"}]}}`,
				want:  taskcore.StrategyDecompose,
			},
		}
		for name, tc := range testCases {
			t.Run(name, func(t *testing.T) {
				s, err := taskcore.ParseStrategy([]byte(tc.input))
				gt.NoError(t, err).Required()
				gt.Equal(t, s.Type, tc.want)
			})
		}
	})

	t.Run("invalid strategies", func(t *testing.T) {
		testCases := map[string]string{
			"not json":             `retry please`,
			"unknown type":         `{"type":"GIVE_UP","rationale":"x","confidence":0.9}`,
			"confidence above one": `{"type":"SWAP_TOOL","rationale":"x","confidence":1.5,"modifications":{"chosen_tool":"shell"}}`,
			"swap without tool":    `{"type":"SWAP_TOOL","rationale":"x","confidence":0.9}`,
			"retry without input":  `{"type":"RETRY_WITH_PARAMS","rationale":"x","confidence":0.9,"modifications":{}}`,
			"decompose no steps":   `{"type":"DECOMPOSE","rationale":"x","confidence":0.9,"modifications":{"steps":[]}}`,
		}
		for name, input := range testCases {
			t.Run(name, func(t *testing.T) {
				_, err := taskcore.ParseStrategy([]byte(input))
				gt.True(t, errors.Is(err, taskcore.ErrInvalidStrategy))
			})
		}
	})
}
