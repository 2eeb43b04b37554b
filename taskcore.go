// Package taskcore is an autonomous task-execution core. Given a mission, it builds a dependency-aware
// TodoList through an Oracle, executes it step by step by alternating reasoning and tool invocation,
// recovers from tool failures by retrying or replanning, and persists session state so that a session
// can be resumed after interruption or after asking the user a question.
//
// The root package holds the data model and the contracts shared by the subpackages: planner,
// toolrunner, replan, state and agent.
package taskcore

//go:generate go run github.com/matryer/moq@v0.5.3 -out mock/mock.go -pkg mock . Oracle Tool ToolSet Emitter
