package schemas

import "context"

// EventType names a signal on the run event stream.
type EventType string

const (
	EventIteration    EventType = "iteration"
	EventURL          EventType = "url"
	EventThought      EventType = "thought"
	EventToolCall     EventType = "tool_call"
	EventToolResponse EventType = "tool_response"
	EventScreenshot   EventType = "screenshot"

	// Terminal kinds. Exactly one of these ends a run.
	EventTextOutput   EventType = "text_output"
	EventJSONOutput   EventType = "json_output"
	EventResultOutput EventType = "result_output"
	EventErrorOutput  EventType = "error_output"
	EventCancelled    EventType = "cancelled"

	// Service framing around a run.
	EventBrowserInit     EventType = "browser_init"
	EventBrowserInitDone EventType = "browser_init_done"
	EventAgentStart      EventType = "agent_start"
	EventDone            EventType = "done"
	EventError           EventType = "error"
)

// IsTerminal reports whether the event type ends a run.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventTextOutput, EventJSONOutput, EventResultOutput, EventErrorOutput, EventCancelled:
		return true
	}
	return false
}

// Event is one signal on the stream.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// ToolCall is the payload of a tool_call event.
type ToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// EventSink receives run events in order. A returned error means the consumer is gone.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// DiscardSink drops every event.
var DiscardSink EventSink = EventSinkFunc(func(context.Context, Event) error { return nil })
