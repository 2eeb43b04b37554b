package taskcore_test

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/taskcore"
)

func newItem(pos int, deps ...int) *taskcore.TodoItem {
	return &taskcore.TodoItem{
		Position:     pos,
		Description:  "task",
		Dependencies: deps,
		Status:       taskcore.TaskStatusPending,
	}
}

func TestTodoListValidate(t *testing.T) {
	testCases := map[string]struct {
		items []*taskcore.TodoItem
		valid bool
	}{
		"linear chain": {
			items: []*taskcore.TodoItem{newItem(1), newItem(2, 1), newItem(3, 2)},
			valid: true,
		},
		"diamond": {
			items: []*taskcore.TodoItem{newItem(1), newItem(2, 1), newItem(3, 1), newItem(4, 2, 3)},
			valid: true,
		},
		"duplicated position": {
			items: []*taskcore.TodoItem{newItem(1), newItem(1)},
		},
		"unknown dependency": {
			items: []*taskcore.TodoItem{newItem(1), newItem(2, 5)},
		},
		"forward dependency": {
			items: []*taskcore.TodoItem{newItem(1, 2), newItem(2)},
		},
		"self dependency": {
			items: []*taskcore.TodoItem{newItem(1, 1)},
		},
		"duplicated dependency": {
			items: []*taskcore.TodoItem{newItem(1), newItem(2, 1, 1)},
		},
		"empty description": {
			items: []*taskcore.TodoItem{{Position: 1, Status: taskcore.TaskStatusPending}},
		},
		"unknown status": {
			items: []*taskcore.TodoItem{{Position: 1, Description: "x", Status: "DONE"}},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			list := &taskcore.TodoList{TodoListID: "t", Items: tc.items}
			err := list.Validate()
			if tc.valid {
				gt.NoError(t, err)
			} else {
				gt.True(t, errors.Is(err, taskcore.ErrInvalidPlan))
			}
		})
	}
}

// randomDAG builds a list where each item depends on a random subset of earlier positions.
func randomDAG(rng *rand.Rand, n int) *taskcore.TodoList {
	list := &taskcore.TodoList{TodoListID: "random"}
	for pos := 1; pos <= n; pos++ {
		item := newItem(pos)
		for dep := 1; dep < pos; dep++ {
			if rng.IntN(3) == 0 {
				item.Dependencies = append(item.Dependencies, dep)
			}
		}
		list.Items = append(list.Items, item)
	}
	rng.Shuffle(len(list.Items), func(i, j int) {
		list.Items[i], list.Items[j] = list.Items[j], list.Items[i]
	})
	return list
}

func TestTodoListValidateRandomDAG(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		list := randomDAG(rng, 1+rng.IntN(20))
		gt.NoError(t, list.Validate()).Required()

		for _, item := range list.Items {
			for _, dep := range item.Dependencies {
				gt.NotNil(t, list.Item(dep))
				gt.True(t, dep < item.Position)
			}
		}

		// Any edge pointing forward must be rejected.
		if len(list.Items) > 1 {
			sorted := list.Sorted()
			first := sorted[0]
			first.Dependencies = append(first.Dependencies, sorted[len(sorted)-1].Position)
			gt.True(t, errors.Is(list.Validate(), taskcore.ErrInvalidPlan))
		}
	}
}

func TestTodoListIsComplete(t *testing.T) {
	list := &taskcore.TodoList{Items: []*taskcore.TodoItem{newItem(1), newItem(2)}}
	gt.False(t, list.IsComplete())

	list.Items[0].Status = taskcore.TaskStatusCompleted
	list.Items[1].Status = taskcore.TaskStatusFailed
	gt.False(t, list.IsComplete())

	list.Items[1].Status = taskcore.TaskStatusSkipped
	gt.True(t, list.IsComplete())
}

func TestTodoListFormatVersion(t *testing.T) {
	list := &taskcore.TodoList{
		TodoListID: "abc",
		Mission:    "m",
		Items:      []*taskcore.TodoItem{newItem(1)},
		Version:    4,
	}
	raw, err := json.Marshal(list)
	gt.NoError(t, err).Required()

	var doc map[string]any
	gt.NoError(t, json.Unmarshal(raw, &doc))
	gt.Equal(t, doc["format_version"], any(float64(taskcore.TodoListFormatVersion)))

	var restored taskcore.TodoList
	gt.NoError(t, json.Unmarshal(raw, &restored)).Required()
	gt.Equal(t, restored.TodoListID, "abc")
	gt.Equal(t, restored.Version, 4)
	gt.A(t, restored.Items).Length(1)

	t.Run("mismatched version is rejected", func(t *testing.T) {
		var x taskcore.TodoList
		err := json.Unmarshal([]byte(`{"format_version":99,"todolist_id":"abc"}`), &x)
		gt.True(t, errors.Is(err, taskcore.ErrFormatVersionMismatch))
	})
}

func TestTodoListClone(t *testing.T) {
	list := &taskcore.TodoList{Items: []*taskcore.TodoItem{newItem(1)}}
	clone := list.Clone()
	clone.Items[0].Status = taskcore.TaskStatusCompleted
	gt.Equal(t, list.Items[0].Status, taskcore.TaskStatusPending)
}
