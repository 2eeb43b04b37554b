package taskcore

import (
	"context"
	"time"
)

// EventKind is the kind of an emitted Event.
type EventKind string

const (
	EventPlanCreated EventKind = "PLAN_CREATED"
	EventThought     EventKind = "THOUGHT"
	EventToolStarted EventKind = "TOOL_STARTED"
	EventToolResult  EventKind = "TOOL_RESULT"
	EventAskUser     EventKind = "ASK_USER"
	EventReplan      EventKind = "REPLAN"
	EventComplete    EventKind = "COMPLETE"
	EventError       EventKind = "ERROR"
)

// Event is a structured notification of execution progress, intended for streaming to a presentation
// layer.
type Event struct {
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"session_id"`
	Iteration int            `json:"iteration,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Emitter receives events. Emit must not block the execution loop for long.
type Emitter interface {
	Emit(ctx context.Context, ev *Event)
}

// RunObserver is optionally implemented by an Emitter that wants to bracket each Execute or Resume call,
// e.g. to open a trace span.
type RunObserver interface {
	StartRun(ctx context.Context, sessionID string) context.Context
	EndRun(ctx context.Context, err error)
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, *Event) {}

// NopEmitter discards all events.
func NopEmitter() Emitter { return nopEmitter{} }
