package taskcore

import (
	"errors"
	"time"
)

// ErrorType classifies a failed ToolResult.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExecution  ErrorType = "execution"
	ErrorTypeTimeout    ErrorType = "timeout"
)

// Retryable reports whether a failure of this type may be attempted again.
func (x ErrorType) Retryable() bool {
	return x == ErrorTypeExecution || x == ErrorTypeTimeout
}

// ToolResult is the normalized outcome of a tool invocation.
type ToolResult struct {
	Success      bool           `json:"success"`
	Data         map[string]any `json:"data,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorType    ErrorType      `json:"error_type,omitempty"`
	AttemptCount int            `json:"attempt_count"`
	Tool         string         `json:"tool,omitempty"`
	Duration     time.Duration  `json:"duration,omitempty"`
}

// NormalizeResult converts the raw output of a tool into a ToolResult. A response without a boolean
// "success" field is treated as a failure. AttemptCount is left for the caller to fill.
func NormalizeResult(raw map[string]any, err error) *ToolResult {
	if err != nil {
		return &ToolResult{
			Error:     err.Error(),
			ErrorType: classifyError(err),
		}
	}

	if raw == nil {
		return &ToolResult{
			Error:     "tool returned no result",
			ErrorType: ErrorTypeExecution,
		}
	}

	success, _ := raw["success"].(bool)
	result := &ToolResult{
		Success: success,
		Data:    raw,
	}
	if !success {
		result.ErrorType = ErrorTypeExecution
		if msg, ok := raw["error"].(string); ok && msg != "" {
			result.Error = msg
		} else if _, ok := raw["success"]; !ok {
			result.Error = "tool response does not contain success field"
		} else {
			result.Error = "tool reported failure"
		}
	}

	return result
}

func classifyError(err error) ErrorType {
	switch {
	case errors.Is(err, ErrValidation):
		return ErrorTypeValidation
	case errors.Is(err, ErrTimeout):
		return ErrorTypeTimeout
	default:
		return ErrorTypeExecution
	}
}
