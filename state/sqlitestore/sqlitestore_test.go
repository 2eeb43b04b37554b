package sqlitestore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/state"
	"github.com/m-mizutani/taskcore/state/sqlitestore"
	"golang.org/x/sync/errgroup"
)

func newBackend(t *testing.T) (*sqlitestore.Backend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskcore.db")
	b, err := sqlitestore.Open(context.Background(), path)
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = b.Close() })
	return b, path
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	b, _ := newBackend(t)

	_, err := b.Read(ctx, state.KindSession, "s1")
	gt.True(t, errors.Is(err, taskcore.ErrNotFound))

	gt.NoError(t, b.Write(ctx, state.KindSession, "s1", []byte(`{"version":1}`))).Required()
	gt.NoError(t, b.Write(ctx, state.KindSession, "s1", []byte(`{"version":2}`))).Required()
	gt.NoError(t, b.Write(ctx, state.KindTodoList, "s1", []byte(`{"version":7}`))).Required()

	data, err := b.Read(ctx, state.KindSession, "s1")
	gt.NoError(t, err).Required()
	gt.Equal(t, string(data), `{"version":2}`)

	ids, err := b.List(ctx, state.KindSession)
	gt.NoError(t, err).Required()
	gt.Equal(t, ids, []string{"s1"})

	gt.NoError(t, b.Delete(ctx, state.KindSession, "s1")).Required()
	_, err = b.Read(ctx, state.KindSession, "s1")
	gt.True(t, errors.Is(err, taskcore.ErrNotFound))

	data, err = b.Read(ctx, state.KindTodoList, "s1")
	gt.NoError(t, err).Required()
	gt.Equal(t, string(data), `{"version":7}`)
}

func TestStoreOverSQLite(t *testing.T) {
	ctx := context.Background()
	b, path := newBackend(t)
	store := state.New(b)

	var eg errgroup.Group
	for i := 0; i < 8; i++ {
		list := &taskcore.TodoList{TodoListID: "t1", Mission: "m"}
		eg.Go(func() error { return store.SaveTodoList(ctx, list) })
	}
	gt.NoError(t, eg.Wait()).Required()
	gt.NoError(t, b.Close()).Required()

	reopened, err := sqlitestore.Open(ctx, path)
	gt.NoError(t, err).Required()
	defer reopened.Close()

	loaded, err := state.New(reopened).LoadTodoList(ctx, "t1")
	gt.NoError(t, err).Required()
	gt.Equal(t, loaded.Version, 8)
}
