// File: cmd/output.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxResultPreview bounds how much of a tool response is echoed to the terminal.
const maxResultPreview = 500

// consoleSink prints run events for a human, or as NDJSON when raw is set.
type consoleSink struct {
	mu  sync.Mutex
	w   io.Writer
	raw bool
	enc *jsoniter.Encoder
}

func newConsoleSink(w io.Writer, raw bool) *consoleSink {
	return &consoleSink{w: w, raw: raw, enc: json.NewEncoder(w)}
}

// Emit implements schemas.EventSink.
func (s *consoleSink) Emit(_ context.Context, ev schemas.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw {
		return s.enc.Encode(ev)
	}
	line := formatEvent(ev)
	if line == "" {
		return nil
	}
	_, err := fmt.Fprintln(s.w, line)
	return err
}

// formatEvent renders one event as a console line. Framing events with nothing
// to show return "".
func formatEvent(ev schemas.Event) string {
	switch ev.Type {
	case schemas.EventIteration:
		return fmt.Sprintf("\n--- Step %v ---", ev.Data)
	case schemas.EventURL:
		return fmt.Sprintf("URL: %v", ev.Data)
	case schemas.EventThought:
		return fmt.Sprintf("Thought: %v", ev.Data)
	case schemas.EventToolCall:
		if call, ok := ev.Data.(schemas.ToolCall); ok {
			return fmt.Sprintf("Tool: %s %s", call.Name, compact(call.Args))
		}
		return fmt.Sprintf("Tool: %s", compact(ev.Data))
	case schemas.EventToolResponse:
		return "Result: " + truncate(render(ev.Data), maxResultPreview)
	case schemas.EventScreenshot:
		if shot, ok := ev.Data.(string); ok {
			return fmt.Sprintf("[screenshot captured, %d bytes base64]", len(shot))
		}
		return "[screenshot captured]"
	case schemas.EventTextOutput, schemas.EventResultOutput:
		return "\n=== Output ===\n" + render(ev.Data)
	case schemas.EventJSONOutput:
		out, err := json.MarshalIndent(ev.Data, "", "  ")
		if err != nil {
			return "\n=== Output ===\n" + render(ev.Data)
		}
		return "\n=== Output ===\n" + string(out)
	case schemas.EventErrorOutput, schemas.EventError:
		return "Error: " + message(ev.Data)
	case schemas.EventCancelled:
		return "Cancelled: " + message(ev.Data)
	case schemas.EventBrowserInit:
		return "Starting browser..."
	}
	return ""
}

func message(data interface{}) string {
	if m, ok := data.(map[string]string); ok {
		if msg, ok := m["message"]; ok {
			return msg
		}
	}
	return render(data)
}

func render(data interface{}) string {
	if s, ok := data.(string); ok {
		return s
	}
	return compact(data)
}

func compact(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
