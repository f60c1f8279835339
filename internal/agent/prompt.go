// internal/agent/prompt.go
package agent

import (
	_ "embed"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
	"github.com/xkilldash9x/webpilot/internal/perception"
)

//go:embed prompts/system.md
var systemTemplate string

//go:embed prompts/output.md
var outputPrompt string

const (
	catalogPlaceholder = "TOOL_REGISTRY"
	// lastResponseLimit bounds the response of the most recent action in the decide prompt.
	lastResponseLimit = 500
)

// argsJSON renders tool arguments with sorted keys so prompts are stable across runs.
var argsJSON = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

// BuildSystemPrompt fills the system template with the registry's tool catalog.
func BuildSystemPrompt(catalog string) string {
	return strings.Replace(systemTemplate, catalogPlaceholder, catalog, 1)
}

// buildDecideMessages assembles the conversation for one decide step.
func buildDecideMessages(system string, st *RunState) []schemas.Message {
	msgs := []schemas.Message{
		schemas.SystemMessage(system),
		schemas.UserMessage("User Query: " + st.Input),
	}
	if len(st.History) > 0 {
		msgs = append(msgs, schemas.UserMessage("Previous Actions Summary:\n"+summarizeHistory(st.History)))
	}
	if st.Page != nil {
		msgs = append(msgs, schemas.UserMessage("Current interactive elements on the page:\n"+perception.FormatInteractive(st.Page.Interactive)))
	}
	return msgs
}

// summarizeHistory shows the last action in full and earlier ones as one-line steps.
// web_search steps keep their response so discovered URLs stay visible.
func summarizeHistory(history []schemas.Action) string {
	lines := make([]string, 0, len(history))
	for i, a := range history {
		if i == len(history)-1 {
			lines = append(lines, fmt.Sprintf("LAST ACTION:\nThought: %s\nTool Call: %s\nTool Args: %s\nResponse: %s",
				a.Thought, a.ToolName, renderArgs(a.ToolArgs), responseSummary(a.ToolResponse)))
			continue
		}
		if a.ToolName == "web_search" {
			lines = append(lines, fmt.Sprintf("Step %d: Called tool: `%s`\nArgs: %s\nResponse: %s",
				i+1, a.ToolName, renderArgs(a.ToolArgs), renderValue(a.ToolResponse)))
			continue
		}
		lines = append(lines, fmt.Sprintf("Step %d: Called tool: `%s`\nArgs: %s", i+1, a.ToolName, renderArgs(a.ToolArgs)))
	}
	return strings.Join(lines, "\n")
}

func responseSummary(resp interface{}) string {
	if items, ok := resp.([]interface{}); ok {
		return fmt.Sprintf("Successfully scraped %d items.", len(items))
	}
	return llmutil.Truncate(renderValue(resp), lastResponseLimit)
}

func renderArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	return renderValue(args)
}

func renderValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	b, err := argsJSON.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// buildSummaryMessages assembles the single summary call made when a run collected no data.
func buildSummaryMessages(st *RunState) []schemas.Message {
	steps := make([]string, 0, len(st.History))
	for i, a := range st.History {
		steps = append(steps, fmt.Sprintf("Step %d: %s", i+1, a.Thought))
	}
	return []schemas.Message{
		schemas.SystemMessage(outputPrompt),
		schemas.UserMessage("User Query: " + st.Input),
		schemas.UserMessage("Summary of Actions Taken:\n" + strings.Join(steps, "\n")),
	}
}
