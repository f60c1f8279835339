// internal/tools/result.go
package tools

import "github.com/xkilldash9x/webpilot/api/schemas"

// Result is the tagged outcome of a dispatch. Callers switch on Status and Kind.
type Result struct {
	Status  schemas.ActionStatus
	Output  interface{}
	Kind    schemas.ErrorKind
	Message string
}

func success(out interface{}) Result {
	return Result{Status: schemas.StatusSuccess, Output: out}
}

func failure(kind schemas.ErrorKind, msg string) Result {
	return Result{Status: schemas.StatusError, Kind: kind, Message: msg}
}

// Failed reports whether the dispatch ended in an error.
func (r Result) Failed() bool { return r.Status == schemas.StatusError }

// Response is the value recorded as an action's tool_response.
func (r Result) Response() interface{} {
	if r.Failed() {
		return "Error: " + r.Message
	}
	return r.Output
}

// Action builds the history entry for this result.
func (r Result) Action(thought, name string, args map[string]interface{}) schemas.Action {
	return schemas.Action{
		Thought:      thought,
		ToolName:     name,
		ToolArgs:     args,
		ToolResponse: r.Response(),
		Status:       r.Status,
		ErrorKind:    r.Kind,
	}
}
