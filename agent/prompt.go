package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/m-mizutani/taskcore"
)

// DefaultSystemPrompt is the system prompt of the conversation window.
const DefaultSystemPrompt = `You are an autonomous task-execution agent working through a plan one task at a time.

For the current task decide exactly one action:
- tool_call: run one of the available tools with an input that satisfies its parameters.
- ask_user: ask the user a question when the task cannot proceed without their input.
- complete: the whole mission is done. Remaining tasks will be skipped.
- replan: the task as written cannot succeed and must be restructured.

Prefer the tool and input chosen by the plan unless earlier results show they are wrong.
Keep "rationale" short and set "step_ref" to the position of the current task.`

func renderToolCatalogue(specs []*taskcore.ToolSpec) string {
	if len(specs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, spec := range specs {
		params, err := json.Marshal(spec.JSONSchema())
		if err != nil {
			params = []byte("{}")
		}
		fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", spec.Name, spec.Description, params)
	}
	return b.String()
}

// renderTaskContext describes the plan state, the current task and the user's answers.
func renderTaskContext(list *taskcore.TodoList, task *taskcore.TodoItem, answers map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mission: %s\n\nPlan:\n", list.Mission)
	for _, item := range list.Sorted() {
		fmt.Fprintf(&b, "%d. [%s] %s\n", item.Position, item.Status, item.Description)
		if item.Status == taskcore.TaskStatusCompleted && item.ExecutionResult != nil && item.ExecutionResult.Data != nil {
			if data, err := json.Marshal(item.ExecutionResult.Data); err == nil {
				fmt.Fprintf(&b, "   result: %s\n", data)
			}
		}
	}

	fmt.Fprintf(&b, "\nCurrent task: %d. %s\nAcceptance criteria: %s\n", task.Position, task.Description, task.AcceptanceCriteria)
	if task.ChosenTool != "" {
		input, _ := json.Marshal(task.ToolInput)
		fmt.Fprintf(&b, "Planned tool: %s with input %s\n", task.ChosenTool, input)
	}
	if task.Attempts > 0 && task.ExecutionResult != nil && !task.ExecutionResult.Success {
		fmt.Fprintf(&b, "Previous attempt %d failed (%s): %s\n", task.Attempts, task.ExecutionResult.ErrorType, task.ExecutionResult.Error)
	}

	if len(answers) > 0 {
		b.WriteString("\nAnswers from the user:\n")
		keys := make([]string, 0, len(answers))
		for k := range answers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, answers[k])
		}
	}
	return b.String()
}

func renderObservation(res *taskcore.ToolResult) string {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}

func renderAnswer(q *taskcore.PendingQuestion, answer string) string {
	return fmt.Sprintf("Question: %s\nAnswer: %s", q.Question, answer)
}
