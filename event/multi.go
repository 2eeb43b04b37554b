package event

import (
	"context"

	"github.com/m-mizutani/taskcore"
)

// multi fans out events to several emitters. Each RunObserver keeps its own context so that two
// observers storing values under the same key do not interfere.
type multi struct {
	emitters []taskcore.Emitter
}

var (
	_ taskcore.Emitter     = (*multi)(nil)
	_ taskcore.RunObserver = (*multi)(nil)
)

// Multi returns an Emitter forwarding every event to all emitters. Nil emitters are ignored.
func Multi(emitters ...taskcore.Emitter) taskcore.Emitter {
	m := &multi{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

type multiCtxKey struct{}

func (m *multi) contexts(ctx context.Context) []context.Context {
	if v, ok := ctx.Value(multiCtxKey{}).([]context.Context); ok && len(v) == len(m.emitters) {
		return v
	}
	ctxs := make([]context.Context, len(m.emitters))
	for i := range ctxs {
		ctxs[i] = ctx
	}
	return ctxs
}

func (m *multi) Emit(ctx context.Context, ev *taskcore.Event) {
	ctxs := m.contexts(ctx)
	for i, e := range m.emitters {
		e.Emit(ctxs[i], ev)
	}
}

func (m *multi) StartRun(ctx context.Context, sessionID string) context.Context {
	ctxs := make([]context.Context, len(m.emitters))
	for i, e := range m.emitters {
		ctxs[i] = ctx
		if obs, ok := e.(taskcore.RunObserver); ok {
			ctxs[i] = obs.StartRun(ctx, sessionID)
		}
	}
	return context.WithValue(ctx, multiCtxKey{}, ctxs)
}

func (m *multi) EndRun(ctx context.Context, err error) {
	ctxs := m.contexts(ctx)
	for i, e := range m.emitters {
		if obs, ok := e.(taskcore.RunObserver); ok {
			obs.EndRun(ctxs[i], err)
		}
	}
}
