package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/m-mizutani/taskcore"
)

const planSystemPrompt = `You are the planner of an autonomous task-execution agent.

Break the user's mission into an ordered list of concrete tasks.

Rules:
- Number tasks with "position" starting at 1, in creation order.
- "dependencies" may only reference positions of earlier tasks. Omit it for tasks that depend on nothing.
- "acceptance_criteria" states the observable outcome of the task, not how to achieve it.
- Set "chosen_tool" and "tool_input" when a single available tool obviously performs the task.
- If the mission cannot be planned without information only the user has, list the questions in "open_questions".
- Keep the plan minimal. Do not add tasks that verify or summarize unless the mission asks for it.`

func renderPlanRequest(mission string, answers map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mission: %s\n", mission)
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

func renderToolCatalogue(specs []*taskcore.ToolSpec) string {
	if len(specs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, spec := range specs {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
	}
	return b.String()
}

func renderRepairRequest(cause error) string {
	return fmt.Sprintf("Your previous response could not be used: %s\nReturn a corrected JSON document that follows the schema.", cause.Error())
}
