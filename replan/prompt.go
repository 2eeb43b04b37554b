package replan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/taskcore"
)

const strategySystemPrompt = `You are the recovery planner of an autonomous task-execution agent. A task has failed repeatedly.
Choose exactly one recovery strategy:
- RETRY_WITH_PARAMS: the tool is right but its input was wrong. Provide the corrected "tool_input".
- SWAP_TOOL: a different available tool should perform the task. Provide "chosen_tool" and its "tool_input".
- DECOMPOSE: the task is too large. Provide smaller "steps" that together satisfy its acceptance criteria.
Report your confidence honestly. Low-confidence strategies are discarded.`

func renderStrategyRequest(list *taskcore.TodoList, task *taskcore.TodoItem, failure string, tools []*taskcore.ToolSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mission: %s\n\n", list.Mission)
	fmt.Fprintf(&b, "Failed task #%d: %s\n", task.Position, task.Description)
	fmt.Fprintf(&b, "Acceptance criteria: %s\n", task.AcceptanceCriteria)
	if task.ChosenTool != "" {
		fmt.Fprintf(&b, "Tool: %s\n", task.ChosenTool)
	}
	if task.ToolInput != nil {
		if raw, err := json.Marshal(task.ToolInput); err == nil {
			fmt.Fprintf(&b, "Tool input: %s\n", raw)
		}
	}
	fmt.Fprintf(&b, "Attempts: %d, previous replans: %d\n", task.Attempts, task.ReplanCount)
	fmt.Fprintf(&b, "Failure: %s\n", failure)

	b.WriteString("\nPlan:\n")
	for _, item := range list.Sorted() {
		fmt.Fprintf(&b, "- #%d [%s] %s\n", item.Position, item.Status, item.Description)
	}

	if len(tools) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, spec := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
		}
	}
	return b.String()
}

func renderNote(position int, d *Decision) string {
	switch d.Outcome {
	case OutcomeApplied:
		return fmt.Sprintf("Replan of task #%d: applied %s (confidence %.2f). %s",
			position, d.Strategy.Type, d.Strategy.Confidence, d.Strategy.Rationale)
	case OutcomeRejected:
		return fmt.Sprintf("Replan of task #%d: rejected, task marked FAILED. %s", position, d.Reason)
	default:
		return fmt.Sprintf("Replan of task #%d: replan limit reached, task marked FAILED.", position)
	}
}
