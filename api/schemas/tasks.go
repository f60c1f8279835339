package schemas

import (
	"encoding/json"
	"errors"
	"strings"
)

// -- Request Schemas --

// Default request values used when a field is left empty.
const (
	DefaultWaitBetweenActions = 1.0
	DefaultMaxTokens          = 19334
	DefaultTemperature        = 0.4
	DefaultTopP               = 1.0
	DefaultReasoningEffort    = "disable"
	DefaultModel              = "gemini-2.5-flash"
)

// AgentRequest is the body of a run request.
type AgentRequest struct {
	Prompt string `json:"prompt"`
	// ScraperSchema is an optional JSON schema the scrape tools extract against.
	ScraperSchema json.RawMessage `json:"scraper_schema,omitempty"`
	APIKey        string          `json:"api_key,omitempty"`

	WaitBetweenActions *float64 `json:"wait_between_actions,omitempty"` // seconds
	MaxTokens          int      `json:"max_tokens,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	TopP               *float64 `json:"top_p,omitempty"`
	ReasoningEffort    string   `json:"reasoning_effort,omitempty"`
	Model              string   `json:"model,omitempty"`

	Memorize           bool `json:"memorize,omitempty"`
	ScreenshotEachStep bool `json:"screenshot_each_step,omitempty"`
}

// ApplyDefaults fills zero-valued fields.
func (r *AgentRequest) ApplyDefaults() {
	if r.WaitBetweenActions == nil {
		v := DefaultWaitBetweenActions
		r.WaitBetweenActions = &v
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.Temperature == nil {
		v := DefaultTemperature
		r.Temperature = &v
	}
	if r.TopP == nil {
		v := DefaultTopP
		r.TopP = &v
	}
	if r.ReasoningEffort == "" {
		r.ReasoningEffort = DefaultReasoningEffort
	}
	if r.Model == "" {
		r.Model = DefaultModel
	}
}

// Validate checks the request after defaults have been applied.
func (r *AgentRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if r.WaitBetweenActions != nil && *r.WaitBetweenActions < 0 {
		return errors.New("wait_between_actions must not be negative")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP <= 0 || *r.TopP > 1) {
		return errors.New("top_p must be in (0, 1]")
	}
	if len(r.ScraperSchema) > 0 && !json.Valid(r.ScraperSchema) {
		return errors.New("scraper_schema is not valid JSON")
	}
	return nil
}
