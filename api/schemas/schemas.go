package schemas

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned by memory stores when no record matches a session id.
var ErrSessionNotFound = errors.New("session not found")

// ActionStatus tags the outcome of a single tool invocation.
type ActionStatus string

const (
	StatusSuccess ActionStatus = "success"
	StatusError   ActionStatus = "error"
)

// ErrorKind classifies a failed tool invocation.
type ErrorKind string

const (
	ErrorKindToolNotFound     ErrorKind = "TOOL_NOT_FOUND"
	ErrorKindInvalidArguments ErrorKind = "INVALID_ARGUMENTS"
	ErrorKindExecutionFailure ErrorKind = "EXECUTION_FAILURE"
	ErrorKindCancelled        ErrorKind = "CANCELLED"
)

// -- Run Schemas --

// Decision is the structured reply the model gives on every decide step.
type Decision struct {
	Thought     string                 `json:"thought"`
	ToolName    string                 `json:"tool_name"`
	ToolArgs    map[string]interface{} `json:"tool_args"`
	Observation string                 `json:"observation,omitempty"`
}

// Action is one recorded step of a run. It is never mutated once appended to history.
type Action struct {
	Thought      string                 `json:"thought"`
	ToolName     string                 `json:"tool_name"`
	ToolArgs     map[string]interface{} `json:"tool_args"`
	ToolResponse interface{}            `json:"tool_response"`
	Status       ActionStatus           `json:"status"`
	ErrorKind    ErrorKind              `json:"error_kind,omitempty"`
}

// Succeeded reports whether the step completed without a tool error.
func (a Action) Succeeded() bool {
	return a.Status == StatusSuccess
}

// MemoryRecord is one entry of the append-only memory log.
type MemoryRecord struct {
	Session   string    `json:"session"`
	Input     string    `json:"input"`
	Steps     []Action  `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMemoryRecord builds a record from a run history, keeping only error-free steps.
// Non-text responses are replaced by a short marker so the log stays small.
func NewMemoryRecord(session, input string, history []Action, now time.Time) MemoryRecord {
	steps := make([]Action, 0, len(history))
	for _, a := range history {
		if !a.Succeeded() {
			continue
		}
		if _, ok := a.ToolResponse.(string); !ok {
			a.ToolResponse = "Scraped data"
		}
		steps = append(steps, a)
	}
	return MemoryRecord{
		Session:   session,
		Input:     input,
		Steps:     steps,
		CreatedAt: now,
	}
}
