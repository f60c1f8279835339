// internal/tools/prompts.go
package tools

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strings"
)

//go:embed prompts/scraper.md
var scraperPrompt string

//go:embed prompts/scraper_schema.md
var scraperSchemaFormat string

//go:embed prompts/scraper_non_schema.md
var scraperFreeFormat string

// BuildScraperPrompt assembles the extraction system prompt for an optional item schema.
func BuildScraperPrompt(schema json.RawMessage) string {
	format := scraperFreeFormat
	if len(bytes.TrimSpace(schema)) > 0 {
		var indented bytes.Buffer
		if err := json.Indent(&indented, schema, "", "  "); err != nil {
			indented.Reset()
			indented.Write(schema)
		}
		format = strings.Replace(scraperSchemaFormat, "[JSON_SCHEMA_HERE]", indented.String(), 1)
	}
	return strings.Replace(scraperPrompt, "[OUTPUT_FORMAT_INSTRUCTIONS]", strings.TrimSpace(format), 1)
}
