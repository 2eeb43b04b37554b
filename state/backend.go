package state

import (
	"context"
	"slices"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
)

// Kind is the type of a persisted document.
type Kind string

const (
	KindSession  Kind = "session"
	KindTodoList Kind = "todolist"
)

// Backend stores raw JSON documents keyed by kind and id. Read returns an error wrapping
// taskcore.ErrNotFound for a missing document. Write must replace the document atomically.
type Backend interface {
	Read(ctx context.Context, kind Kind, id string) ([]byte, error)
	Write(ctx context.Context, kind Kind, id string, data []byte) error
	Delete(ctx context.Context, kind Kind, id string) error
	List(ctx context.Context, kind Kind) ([]string, error)
}

// Memory is an in-process Backend.
type Memory struct {
	mu   sync.RWMutex
	docs map[Kind]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: map[Kind]map[string][]byte{}}
}

func (x *Memory) Read(_ context.Context, kind Kind, id string) ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	data, ok := x.docs[kind][id]
	if !ok {
		return nil, goerr.Wrap(taskcore.ErrNotFound, "document not found", goerr.V("kind", kind), goerr.V("id", id))
	}
	return slices.Clone(data), nil
}

func (x *Memory) Write(_ context.Context, kind Kind, id string, data []byte) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.docs[kind] == nil {
		x.docs[kind] = map[string][]byte{}
	}
	x.docs[kind][id] = slices.Clone(data)
	return nil
}

func (x *Memory) Delete(_ context.Context, kind Kind, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.docs[kind], id)
	return nil
}

func (x *Memory) List(_ context.Context, kind Kind) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]string, 0, len(x.docs[kind]))
	for id := range x.docs[kind] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
