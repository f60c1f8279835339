package schemas

import (
	"context"
	"time"
)

// -- Browser Driver Interface --

// BrowserDriver is the contract the agent core uses to operate a single browser tab.
// Every method may fail; callers capture failures instead of propagating them raw.
type BrowserDriver interface {
	// Navigate loads the URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// ClickXPath clicks the first element matching the xpath.
	ClickXPath(ctx context.Context, xpath string, timeout time.Duration) error
	// ClickAt dispatches a mouse click at viewport coordinates.
	ClickAt(ctx context.Context, x, y float64) error
	// TypeXPath clears the matched input and types text into it.
	TypeXPath(ctx context.Context, xpath, text string) error
	// PressKey sends a single key or chord such as "Enter" or "Control+A".
	PressKey(ctx context.Context, key string) error
	// Scroll moves the viewport by the given pixel deltas.
	Scroll(ctx context.Context, dx, dy float64) error
	// Evaluate runs a script in the page and decodes its result into res (may be nil).
	Evaluate(ctx context.Context, script string, res interface{}) error
	// Screenshot captures the visible viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Perceive captures the categorized element snapshot of the page.
	Perceive(ctx context.Context) (*PageState, error)
	// BodyHTML returns the inner HTML of the document body.
	BodyHTML(ctx context.Context) (string, error)
	// CurrentURL returns the URL of the active document.
	CurrentURL(ctx context.Context) (string, error)
	// WaitNetworkIdle blocks until no requests are in flight for a short quiet period or the timeout elapses.
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error
	// Close releases the tab and any connection held for it.
	Close(ctx context.Context) error
}

// -- LLM Interfaces --

// Role identifies the author of a message in a generation request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation sent to a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is a single model invocation.
type GenerationRequest struct {
	Messages []Message `json:"messages"`
	// ForceJSONFormat asks the provider for a JSON object response.
	ForceJSONFormat bool `json:"force_json_format"`
}

// SystemMessage, UserMessage build messages without spelling out the struct.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage builds a user-authored message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// -- Memory Store Interface --

// MemoryStore persists successful runs so they can be replayed later.
type MemoryStore interface {
	// Append adds a record to the log.
	Append(ctx context.Context, record MemoryRecord) error
	// Get returns the record for a session id, or ErrSessionNotFound.
	Get(ctx context.Context, session string) (*MemoryRecord, error)
	// List returns every record in insertion order.
	List(ctx context.Context) ([]MemoryRecord, error)
}
