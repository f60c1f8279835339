// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fencedRegex captures the body of a ```json (or bare ```) block. \x60 is a backtick.
var fencedRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*\\n?(.*?)\\s*\x60\x60\x60")

// ExtractJSON isolates the JSON payload of a model reply: the body of the first
// fenced block if there is one, otherwise the outermost object or array found in the text.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)
	if m := fencedRegex.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	if fb, lb := strings.Index(response, "{"), strings.LastIndex(response, "}"); fb != -1 && lb > fb {
		return response[fb : lb+1]
	}
	if fb, lb := strings.Index(response, "["), strings.LastIndex(response, "]"); fb != -1 && lb > fb {
		return response[fb : lb+1]
	}
	return response
}

// ParseJSONResponse parses a model reply into T, tolerating markdown fences and surrounding prose.
func ParseJSONResponse[T any](response string) (*T, error) {
	payload := ExtractJSON(response)
	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(payload, 500))
	}
	return &result, nil
}

// ParseJSONValue parses a model reply into a generic JSON value (map, slice, string, number, bool).
func ParseJSONValue(response string) (interface{}, error) {
	v, err := ParseJSONResponse[interface{}](response)
	if err != nil {
		return nil, err
	}
	return *v, nil
}

// Truncate cuts s to at most maxLen bytes without splitting a rune.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
