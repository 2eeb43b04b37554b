// Package state persists SessionState and TodoList documents with per-id locking and monotonic
// versions.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
)

// Store is the versioned, lock-protected persistence of sessions and their plans.
type Store struct {
	backend Backend
	locks   *LockRegistry
	now     func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLockRegistry shares a lock registry between stores over the same backend.
func WithLockRegistry(r *LockRegistry) Option {
	return func(s *Store) {
		s.locks = r
	}
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		locks:   NewLockRegistry(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lockKey(kind Kind, id string) string {
	return string(kind) + "/" + id
}

// save writes doc under the lock of (kind, id). The version written is the persisted version plus one,
// regardless of the version held by doc. setVersion is called with the new version before encoding and
// again with the old one if the write fails.
func save(ctx context.Context, s *Store, kind Kind, id string, doc any, version func() int, setVersion func(int)) error {
	eb := goerr.NewBuilder(goerr.V("kind", kind), goerr.V("id", id))

	mu := s.locks.Get(lockKey(kind, id))
	mu.Lock()
	defer mu.Unlock()

	current, err := readVersion(ctx, s.backend, kind, id)
	if err != nil {
		return eb.Wrap(taskcore.ErrStateIO, "failed to read persisted version", goerr.V("cause", err.Error()))
	}

	prev := version()
	setVersion(current + 1)
	data, err := json.Marshal(doc)
	if err != nil {
		setVersion(prev)
		return eb.Wrap(taskcore.ErrStateIO, "failed to encode document", goerr.V("cause", err.Error()))
	}
	if err := s.backend.Write(ctx, kind, id, data); err != nil {
		setVersion(prev)
		return eb.Wrap(taskcore.ErrStateIO, "failed to write document", goerr.V("cause", err.Error()))
	}

	ctxlog.From(ctx).Debug("document saved", "kind", kind, "id", id, "version", current+1)
	return nil
}

func readVersion(ctx context.Context, b Backend, kind Kind, id string) (int, error) {
	data, err := b.Read(ctx, kind, id)
	if errors.Is(err, taskcore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var doc struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, goerr.Wrap(err, "persisted document is not valid JSON")
	}
	return doc.Version, nil
}

// SaveState persists st. On success st.Version is the new persisted version and st.UpdatedAt is set.
// Failures wrap taskcore.ErrStateIO and leave st unchanged.
func (s *Store) SaveState(ctx context.Context, st *taskcore.SessionState) error {
	if st == nil || st.SessionID == "" {
		return goerr.Wrap(taskcore.ErrStateIO, "session id is required")
	}

	prevUpdated := st.UpdatedAt
	st.UpdatedAt = s.now().UTC()
	err := save(ctx, s, KindSession, st.SessionID, st,
		func() int { return st.Version },
		func(v int) { st.Version = v },
	)
	if err != nil {
		st.UpdatedAt = prevUpdated
	}
	return err
}

// LoadState returns the latest persisted state of sessionID, or nil if there is none.
func (s *Store) LoadState(ctx context.Context, sessionID string) (*taskcore.SessionState, error) {
	var st taskcore.SessionState
	found, err := s.load(ctx, KindSession, sessionID, &st)
	if err != nil || !found {
		return nil, err
	}
	return &st, nil
}

// SaveTodoList persists list. On success list.Version is the new persisted version.
func (s *Store) SaveTodoList(ctx context.Context, list *taskcore.TodoList) error {
	if list == nil || list.TodoListID == "" {
		return goerr.Wrap(taskcore.ErrStateIO, "todolist id is required")
	}
	return save(ctx, s, KindTodoList, list.TodoListID, list,
		func() int { return list.Version },
		func(v int) { list.Version = v },
	)
}

// LoadTodoList returns the latest persisted list, or nil if there is none.
func (s *Store) LoadTodoList(ctx context.Context, todoListID string) (*taskcore.TodoList, error) {
	var list taskcore.TodoList
	found, err := s.load(ctx, KindTodoList, todoListID, &list)
	if err != nil || !found {
		return nil, err
	}
	return &list, nil
}

func (s *Store) load(ctx context.Context, kind Kind, id string, v any) (bool, error) {
	eb := goerr.NewBuilder(goerr.V("kind", kind), goerr.V("id", id))

	data, err := s.backend.Read(ctx, kind, id)
	if errors.Is(err, taskcore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, eb.Wrap(taskcore.ErrStateIO, "failed to read document", goerr.V("cause", err.Error()))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, eb.Wrap(err, "failed to decode document")
	}
	return true, nil
}

// Delete removes a session and the plan it references.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	mu := s.locks.Get(lockKey(KindSession, sessionID))
	mu.Lock()
	defer mu.Unlock()

	st, err := s.LoadState(ctx, sessionID)
	if err != nil && !errors.Is(err, taskcore.ErrFormatVersionMismatch) {
		return err
	}
	if st != nil && st.TodoListID != "" {
		if err := s.backend.Delete(ctx, KindTodoList, st.TodoListID); err != nil {
			return goerr.Wrap(taskcore.ErrStateIO, "failed to delete todolist", goerr.V("id", st.TodoListID), goerr.V("cause", err.Error()))
		}
	}
	if err := s.backend.Delete(ctx, KindSession, sessionID); err != nil {
		return goerr.Wrap(taskcore.ErrStateIO, "failed to delete session", goerr.V("id", sessionID), goerr.V("cause", err.Error()))
	}
	return nil
}

// Prune deletes sessions whose updated_at is older than olderThan, together with their plans. It returns
// the deleted session ids.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) ([]string, error) {
	ids, err := s.backend.List(ctx, KindSession)
	if err != nil {
		return nil, goerr.Wrap(taskcore.ErrStateIO, "failed to list sessions", goerr.V("cause", err.Error()))
	}

	cutoff := s.now().Add(-olderThan)
	var pruned []string
	for _, id := range ids {
		st, err := s.LoadState(ctx, id)
		if err != nil {
			ctxlog.From(ctx).Warn("skip unreadable session while pruning", "session_id", id, "error", err)
			continue
		}
		if st == nil || !st.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			return pruned, err
		}
		pruned = append(pruned, id)
	}
	return pruned, nil
}

// Sessions lists the ids of persisted sessions.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	ids, err := s.backend.List(ctx, KindSession)
	if err != nil {
		return nil, goerr.Wrap(taskcore.ErrStateIO, "failed to list sessions", goerr.V("cause", err.Error()))
	}
	return ids, nil
}
