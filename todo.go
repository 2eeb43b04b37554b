package taskcore

import (
	"encoding/json"
	"slices"

	"github.com/m-mizutani/goerr/v2"
)

// TaskStatus is the lifecycle status of a TodoItem.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusSkipped    TaskStatus = "SKIPPED"
)

// Valid reports whether the status is one of the known values.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	}
	return false
}

// Resolved reports whether the status counts toward plan completion.
func (s TaskStatus) Resolved() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

const (
	// DefaultMaxAttempts is the number of attempts a task gets before replanning.
	DefaultMaxAttempts = 3

	// DefaultMaxReplans is the number of replans a task gets before it is permanently failed.
	DefaultMaxReplans = 2

	// TodoListFormatVersion is the format version of persisted TodoList documents.
	TodoListFormatVersion = 1
)

// TodoItem is a single task of the plan.
type TodoItem struct {
	Position           int            `json:"position"`
	Description        string         `json:"description"`
	AcceptanceCriteria string         `json:"acceptance_criteria"`
	Dependencies       []int          `json:"dependencies"`
	Status             TaskStatus     `json:"status"`
	ChosenTool         string         `json:"chosen_tool,omitempty"`
	ToolInput          map[string]any `json:"tool_input,omitempty"`
	ExecutionResult    *ToolResult    `json:"execution_result,omitempty"`
	Attempts           int            `json:"attempts"`
	ReplanCount        int            `json:"replan_count"`
}

// DependsOn reports whether the item lists position as a dependency.
func (x *TodoItem) DependsOn(position int) bool {
	return slices.Contains(x.Dependencies, position)
}

// TodoList is the dependency-aware execution plan of a mission.
type TodoList struct {
	TodoListID    string      `json:"todolist_id"`
	Mission       string      `json:"mission"`
	Items         []*TodoItem `json:"items"`
	OpenQuestions []string    `json:"open_questions"`
	Notes         []string    `json:"notes"`
	Version       int         `json:"version"`
}

// UnmarshalJSON implements json.Unmarshaler with format version validation.
func (x *TodoList) UnmarshalJSON(data []byte) error {
	type alias TodoList
	var doc struct {
		FormatVersion int `json:"format_version"`
		alias
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.FormatVersion != TodoListFormatVersion {
		return goerr.Wrap(ErrFormatVersionMismatch, "unsupported todolist format",
			goerr.V("got", doc.FormatVersion),
			goerr.V("want", TodoListFormatVersion),
		)
	}
	*x = TodoList(doc.alias)
	return nil
}

// MarshalJSON implements json.Marshaler and stamps the format version.
func (x TodoList) MarshalJSON() ([]byte, error) {
	type alias TodoList
	return json.Marshal(struct {
		FormatVersion int `json:"format_version"`
		alias
	}{
		FormatVersion: TodoListFormatVersion,
		alias:         alias(x),
	})
}

// Item returns the item at position, or nil.
func (x *TodoList) Item(position int) *TodoItem {
	if x == nil {
		return nil
	}
	for _, item := range x.Items {
		if item.Position == position {
			return item
		}
	}
	return nil
}

// Sorted returns the items ordered by ascending position.
func (x *TodoList) Sorted() []*TodoItem {
	items := slices.Clone(x.Items)
	slices.SortFunc(items, func(a, b *TodoItem) int { return a.Position - b.Position })
	return items
}

// IsComplete is true iff every item is COMPLETED or SKIPPED.
func (x *TodoList) IsComplete() bool {
	for _, item := range x.Items {
		if !item.Status.Resolved() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the list.
func (x *TodoList) Clone() *TodoList {
	if x == nil {
		return nil
	}
	data, err := json.Marshal(x)
	if err != nil {
		return nil
	}
	var clone TodoList
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil
	}
	return &clone
}

// Validate checks position uniqueness, that every dependency names an existing and strictly
// earlier position, and that the dependency graph is acyclic.
func (x *TodoList) Validate() error {
	eb := goerr.NewBuilder(goerr.V("todolist_id", x.TodoListID))

	positions := make(map[int]*TodoItem, len(x.Items))
	for _, item := range x.Items {
		if item == nil {
			return eb.Wrap(ErrInvalidPlan, "nil item")
		}
		if _, dup := positions[item.Position]; dup {
			return eb.Wrap(ErrInvalidPlan, "duplicated position", goerr.V("position", item.Position))
		}
		if item.Description == "" {
			return eb.Wrap(ErrInvalidPlan, "description is required", goerr.V("position", item.Position))
		}
		if !item.Status.Valid() {
			return eb.Wrap(ErrInvalidPlan, "unknown status", goerr.V("position", item.Position), goerr.V("status", item.Status))
		}
		positions[item.Position] = item
	}

	for _, item := range x.Items {
		seen := map[int]bool{}
		for _, dep := range item.Dependencies {
			if _, ok := positions[dep]; !ok {
				return eb.Wrap(ErrInvalidPlan, "dependency references unknown position",
					goerr.V("position", item.Position), goerr.V("dependency", dep))
			}
			if dep >= item.Position {
				return eb.Wrap(ErrInvalidPlan, "dependency must reference an earlier position",
					goerr.V("position", item.Position), goerr.V("dependency", dep))
			}
			if seen[dep] {
				return eb.Wrap(ErrInvalidPlan, "duplicated dependency",
					goerr.V("position", item.Position), goerr.V("dependency", dep))
			}
			seen[dep] = true
		}
	}

	if cycle := findCycle(positions); cycle != nil {
		return eb.Wrap(ErrInvalidPlan, "dependency cycle", goerr.V("cycle", cycle))
	}

	return nil
}

// findCycle returns the positions of a dependency cycle, or nil.
func findCycle(items map[int]*TodoItem) []int {
	const (
		white = iota
		grey
		black
	)
	color := make(map[int]int, len(items))
	var stack []int

	var visit func(p int) []int
	visit = func(p int) []int {
		color[p] = grey
		stack = append(stack, p)
		for _, dep := range items[p].Dependencies {
			switch color[dep] {
			case grey:
				idx := slices.Index(stack, dep)
				return slices.Clone(stack[idx:])
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[p] = black
		return nil
	}

	keys := make([]int, 0, len(items))
	for p := range items {
		keys = append(keys, p)
	}
	slices.Sort(keys)
	for _, p := range keys {
		if color[p] == white {
			if c := visit(p); c != nil {
				return c
			}
		}
	}
	return nil
}

// StepDraft is a task proposed by the oracle, before it is placed into a TodoList.
type StepDraft struct {
	Description        string         `json:"description"`
	AcceptanceCriteria string         `json:"acceptance_criteria"`
	Dependencies       []int          `json:"dependencies,omitempty"`
	ChosenTool         string         `json:"chosen_tool,omitempty"`
	ToolInput          map[string]any `json:"tool_input,omitempty"`
}
