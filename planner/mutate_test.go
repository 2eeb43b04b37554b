package planner_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/planner"
)

func chain() *taskcore.TodoList {
	return &taskcore.TodoList{
		TodoListID: "l",
		Items: []*taskcore.TodoItem{
			item(1, taskcore.TaskStatusCompleted),
			{Position: 2, Description: "fetch", Status: taskcore.TaskStatusFailed, Dependencies: []int{1}, Attempts: 3, ChosenTool: "http_get", ReplanCount: 1},
			item(3, taskcore.TaskStatusPending, 2),
			item(4, taskcore.TaskStatusPending, 1, 3),
		},
	}
}

func TestModifyStep(t *testing.T) {
	list := chain()
	gt.NoError(t, planner.ModifyStep(list, 2, planner.Revision{
		ChosenTool: "curl",
		ToolInput:  map[string]any{"url": "https://example.com"},
	})).Required()

	it := list.Item(2)
	gt.Equal(t, it.ChosenTool, "curl")
	gt.Equal(t, it.Status, taskcore.TaskStatusPending)
	gt.Equal(t, it.Attempts, 0)
	gt.Equal(t, it.ReplanCount, 1)
	gt.Equal(t, it.Description, "fetch")

	t.Run("cycle is rejected and list is untouched", func(t *testing.T) {
		list := chain()
		err := planner.ModifyStep(list, 2, planner.Revision{Dependencies: []int{3}})
		gt.True(t, errors.Is(err, taskcore.ErrInvalidPlan))
		gt.Equal(t, list.Item(2).Dependencies, []int{1})
		gt.Equal(t, list.Item(2).Status, taskcore.TaskStatusFailed)
	})

	t.Run("completed step cannot be modified", func(t *testing.T) {
		err := planner.ModifyStep(chain(), 1, planner.Revision{ChosenTool: "x"})
		gt.True(t, errors.Is(err, taskcore.ErrInvalidTransition))
	})

	t.Run("unknown position", func(t *testing.T) {
		err := planner.ModifyStep(chain(), 9, planner.Revision{})
		gt.True(t, errors.Is(err, taskcore.ErrTaskNotFound))
	})
}

func TestReplaceStep(t *testing.T) {
	list := chain()
	gt.NoError(t, planner.ReplaceStep(list, 2, taskcore.StepDraft{
		Description:        "read from cache",
		AcceptanceCriteria: "data loaded",
		ChosenTool:         "read_file",
	})).Required()

	it := list.Item(2)
	gt.Equal(t, it.Description, "read from cache")
	gt.Equal(t, it.Dependencies, []int{1})
	gt.Equal(t, it.Status, taskcore.TaskStatusPending)
	gt.Equal(t, it.Attempts, 0)
	gt.A(t, list.Items).Length(4)
}

func TestDecomposeStep(t *testing.T) {
	list := chain()
	gt.NoError(t, planner.DecomposeStep(list, 2, []taskcore.StepDraft{
		{Description: "resolve host", AcceptanceCriteria: "ip known"},
		{Description: "download", AcceptanceCriteria: "bytes saved"},
		{Description: "verify checksum", AcceptanceCriteria: "checksum ok"},
	})).Required()

	gt.NoError(t, list.Validate())
	gt.A(t, list.Items).Length(6)

	gt.Equal(t, list.Item(2).Description, "resolve host")
	gt.Equal(t, list.Item(2).Dependencies, []int{1})
	gt.Equal(t, list.Item(3).Dependencies, []int{2})
	gt.Equal(t, list.Item(4).Description, "verify checksum")
	gt.Equal(t, list.Item(4).Dependencies, []int{3})
	gt.Equal(t, list.Item(4).ReplanCount, 1)

	// old 3 depended on old 2, now depends on the last sub-step
	gt.Equal(t, list.Item(5).Dependencies, []int{4})
	// old 4 depended on 1 and old 3
	gt.Equal(t, list.Item(6).Dependencies, []int{1, 5})

	t.Run("empty decomposition is rejected", func(t *testing.T) {
		gt.True(t, errors.Is(planner.DecomposeStep(chain(), 2, nil), taskcore.ErrInvalidPlan))
	})

	t.Run("single sub-step keeps positions", func(t *testing.T) {
		list := chain()
		gt.NoError(t, planner.DecomposeStep(list, 2, []taskcore.StepDraft{{Description: "only"}})).Required()
		gt.A(t, list.Items).Length(4)
		gt.Equal(t, list.Item(3).Dependencies, []int{2})
	})
}
