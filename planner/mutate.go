package planner

import (
	"maps"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
)

// Revision is a partial update applied by ModifyStep. Zero values keep the current field.
type Revision struct {
	Description        string
	AcceptanceCriteria string
	ChosenTool         string
	ToolInput          map[string]any
	Dependencies       []int
}

// ModifyStep applies rev to the step at position and resets it to PENDING with a fresh attempt budget.
// The change is committed only if the resulting list is valid. Resolved steps cannot be modified.
func ModifyStep(list *taskcore.TodoList, position int, rev Revision) error {
	return mutate(list, position, func(items []*taskcore.TodoItem, idx int) ([]*taskcore.TodoItem, error) {
		item := items[idx]
		if rev.Description != "" {
			item.Description = rev.Description
		}
		if rev.AcceptanceCriteria != "" {
			item.AcceptanceCriteria = rev.AcceptanceCriteria
		}
		if rev.ChosenTool != "" {
			item.ChosenTool = rev.ChosenTool
		}
		if rev.ToolInput != nil {
			item.ToolInput = maps.Clone(rev.ToolInput)
		}
		if rev.Dependencies != nil {
			item.Dependencies = slices.Clone(rev.Dependencies)
		}
		reset(item)
		return items, nil
	})
}

// ReplaceStep replaces the step at position with draft, keeping its position. Dependencies of the old
// step are kept unless draft sets them.
func ReplaceStep(list *taskcore.TodoList, position int, draft taskcore.StepDraft) error {
	return mutate(list, position, func(items []*taskcore.TodoItem, idx int) ([]*taskcore.TodoItem, error) {
		old := items[idx]
		if draft.Description == "" {
			return nil, goerr.Wrap(taskcore.ErrInvalidPlan, "replacement requires a description")
		}
		deps := old.Dependencies
		if draft.Dependencies != nil {
			deps = slices.Clone(draft.Dependencies)
		}
		items[idx] = &taskcore.TodoItem{
			Position:           old.Position,
			Description:        draft.Description,
			AcceptanceCriteria: draft.AcceptanceCriteria,
			Dependencies:       deps,
			Status:             taskcore.TaskStatusPending,
			ChosenTool:         draft.ChosenTool,
			ToolInput:          maps.Clone(draft.ToolInput),
			ReplanCount:        old.ReplanCount,
		}
		return items, nil
	})
}

// DecomposeStep replaces the step at position p with k sub-steps at positions p..p+k-1. The first
// sub-step inherits the dependencies of the original step and each later sub-step depends on the one
// before it. Steps after p shift by k-1, and dependencies on p are rewritten to the last sub-step.
// Dependencies declared in the drafts are ignored.
func DecomposeStep(list *taskcore.TodoList, position int, drafts []taskcore.StepDraft) error {
	if len(drafts) == 0 {
		return goerr.Wrap(taskcore.ErrInvalidPlan, "decomposition requires at least one step", goerr.V("position", position))
	}

	return mutate(list, position, func(items []*taskcore.TodoItem, idx int) ([]*taskcore.TodoItem, error) {
		parent := items[idx]
		shift := len(drafts) - 1
		last := position + shift

		for _, item := range items {
			if item == parent {
				continue
			}
			if item.Position > position {
				item.Position += shift
			}
			for i, dep := range item.Dependencies {
				switch {
				case dep == position:
					item.Dependencies[i] = last
				case dep > position:
					item.Dependencies[i] = dep + shift
				}
			}
		}

		subs := make([]*taskcore.TodoItem, len(drafts))
		for i, d := range drafts {
			if d.Description == "" {
				return nil, goerr.Wrap(taskcore.ErrInvalidPlan, "sub-step requires a description", goerr.V("index", i))
			}
			deps := slices.Clone(parent.Dependencies)
			if i > 0 {
				deps = []int{position + i - 1}
			}
			subs[i] = &taskcore.TodoItem{
				Position:           position + i,
				Description:        d.Description,
				AcceptanceCriteria: d.AcceptanceCriteria,
				Dependencies:       deps,
				Status:             taskcore.TaskStatusPending,
				ChosenTool:         d.ChosenTool,
				ToolInput:          maps.Clone(d.ToolInput),
				ReplanCount:        parent.ReplanCount,
			}
		}

		return slices.Concat(items[:idx], subs, items[idx+1:]), nil
	})
}

// mutate applies fn to a deep copy of the items and commits it only if the result validates.
func mutate(list *taskcore.TodoList, position int, fn func(items []*taskcore.TodoItem, idx int) ([]*taskcore.TodoItem, error)) error {
	eb := goerr.NewBuilder(goerr.V("todolist_id", list.TodoListID), goerr.V("position", position))

	draft := list.Clone()
	if draft == nil {
		return eb.Wrap(taskcore.ErrInvalidPlan, "failed to copy todolist")
	}
	idx := slices.IndexFunc(draft.Items, func(item *taskcore.TodoItem) bool { return item.Position == position })
	if idx < 0 {
		return eb.Wrap(taskcore.ErrTaskNotFound, "no step at position")
	}
	if draft.Items[idx].Status.Resolved() {
		return eb.Wrap(taskcore.ErrInvalidTransition, "resolved step cannot be changed", goerr.V("status", draft.Items[idx].Status))
	}

	items, err := fn(draft.Items, idx)
	if err != nil {
		return eb.Wrap(err, "failed to apply step mutation")
	}
	draft.Items = items
	if err := draft.Validate(); err != nil {
		return eb.Wrap(err, "mutation produces an invalid plan")
	}

	list.Items = draft.Items
	return nil
}

func reset(item *taskcore.TodoItem) {
	item.Status = taskcore.TaskStatusPending
	item.Attempts = 0
}
