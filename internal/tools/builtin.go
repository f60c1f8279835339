// internal/tools/builtin.go
package tools

import "go.uber.org/zap"

// All returns every built-in tool in catalog order.
func All() []Tool {
	tools := BrowserTools()
	return append(tools, WebSearch(), Scraper(), ScrollAndScrape())
}

// NewDefaultRegistry registers every built-in tool. Names matching hiddenPatterns
// stay out of the catalog and cannot be dispatched.
func NewDefaultRegistry(logger *zap.Logger, hiddenPatterns ...string) (*Registry, error) {
	r, err := NewRegistry(logger, hiddenPatterns...)
	if err != nil {
		return nil, err
	}
	if err := r.Register(All()...); err != nil {
		return nil, err
	}
	return r, nil
}
