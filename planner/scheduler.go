package planner

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
)

// NextActionableTask scans items by ascending position and returns the first task that can run now:
// a PENDING or interrupted IN_PROGRESS task whose dependencies are all COMPLETED, or a FAILED task with
// attempts left. It returns nil when nothing can run; use IsComplete to tell completion from deadlock.
func NextActionableTask(list *taskcore.TodoList, maxAttempts int) *taskcore.TodoItem {
	if list == nil {
		return nil
	}

	for _, item := range list.Sorted() {
		switch item.Status {
		case taskcore.TaskStatusPending, taskcore.TaskStatusInProgress:
		case taskcore.TaskStatusFailed:
			if item.Attempts >= maxAttempts {
				continue
			}
		default:
			continue
		}

		if dependenciesCompleted(list, item) {
			return item
		}
	}
	return nil
}

func dependenciesCompleted(list *taskcore.TodoList, item *taskcore.TodoItem) bool {
	for _, dep := range item.Dependencies {
		d := list.Item(dep)
		if d == nil || d.Status != taskcore.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// IsComplete is true iff every item is COMPLETED or SKIPPED.
func IsComplete(list *taskcore.TodoList) bool {
	return list.IsComplete()
}

// IsDeadlocked reports whether the plan is incomplete but no task is actionable.
func IsDeadlocked(list *taskcore.TodoList, maxAttempts int) bool {
	return !IsComplete(list) && NextActionableTask(list, maxAttempts) == nil
}

var transitions = map[taskcore.TaskStatus][]taskcore.TaskStatus{
	taskcore.TaskStatusPending: {
		taskcore.TaskStatusInProgress,
		taskcore.TaskStatusCompleted,
		taskcore.TaskStatusFailed,
		taskcore.TaskStatusSkipped,
	},
	taskcore.TaskStatusInProgress: {
		taskcore.TaskStatusPending,
		taskcore.TaskStatusCompleted,
		taskcore.TaskStatusFailed,
		taskcore.TaskStatusSkipped,
	},
	// FAILED goes back to PENDING only through replanning (ModifyStep, ReplaceStep, DecomposeStep).
	taskcore.TaskStatusFailed: {
		taskcore.TaskStatusInProgress,
		taskcore.TaskStatusSkipped,
	},
}

// Transition moves item to status to. Staying in the same non-terminal status is allowed.
func Transition(item *taskcore.TodoItem, to taskcore.TaskStatus) error {
	from := item.Status
	if from == to && !from.Resolved() {
		return nil
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			item.Status = to
			return nil
		}
	}
	return goerr.Wrap(taskcore.ErrInvalidTransition, "status transition is not allowed",
		goerr.V("position", item.Position),
		goerr.V("from", from),
		goerr.V("to", to),
	)
}
