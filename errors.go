package taskcore

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrValidation is returned when tool input does not satisfy the tool's parameter schema. Never retried.
	ErrValidation = goerr.New("tool input validation failed")

	// ErrExecution is a runtime failure reported or raised by a tool.
	ErrExecution = goerr.New("tool execution failed")

	// ErrTimeout is returned when a tool exceeds its deadline.
	ErrTimeout = goerr.New("tool execution timed out")

	// ErrPlanning is returned when the oracle does not produce a usable plan.
	ErrPlanning = goerr.New("planning failed")

	// ErrStateIO is a persistence failure. It is reported but does not abort the execution loop.
	ErrStateIO = goerr.New("state I/O failed")

	// ErrReplanExhausted is returned when a task has used all of its replans.
	ErrReplanExhausted = goerr.New("replan limit exhausted")

	// ErrIterationLimit is returned when the execution loop hits its iteration cap.
	ErrIterationLimit = goerr.New("iteration limit exceeded")

	// ErrDependencyDeadlock means no task is actionable but the plan is not complete.
	ErrDependencyDeadlock = goerr.New("dependency deadlock")

	ErrInvalidPlan       = goerr.New("invalid plan")
	ErrInvalidTransition = goerr.New("invalid task status transition")
	ErrTaskNotFound      = goerr.New("task not found")
	ErrToolNotFound      = goerr.New("tool not found")
	ErrInvalidThought    = goerr.New("invalid thought")
	ErrInvalidStrategy   = goerr.New("invalid replan strategy")
	ErrInvalidSchema     = goerr.New("invalid schema")

	ErrNoPendingQuestion = goerr.New("session has no pending question")
	ErrAnswerKeyMismatch = goerr.New("answer key does not match pending question")
	ErrSessionBusy       = goerr.New("session is already running")
	ErrNotFound          = goerr.New("not found")

	ErrFormatVersionMismatch = goerr.New("unsupported document format version")

	ErrInvalidTool      = goerr.New("invalid tool specification")
	ErrInvalidParameter = goerr.New("invalid parameter")
	ErrToolNameConflict = goerr.New("tool name conflict")
)

// TagRetryable marks errors that may succeed when attempted again.
var TagRetryable = goerr.NewTag("retryable")
