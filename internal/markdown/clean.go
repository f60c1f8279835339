// internal/markdown/clean.go
package markdown

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// keptAttributes are the only attributes that survive cleaning.
var keptAttributes = []string{
	"href", "src", "alt", "id", "title", "aria-label", "name", "for", "type", "placeholder", "value",
}

// skippedContent elements are removed with everything inside them.
// Void elements (meta, link, embed) must not be listed here; they are dropped
// by not being allowed.
var skippedContent = []string{
	"script", "style", "noscript", "iframe", "svg", "canvas",
}

// structuralElements are kept as tags; anything else is unwrapped to its text.
var structuralElements = []string{
	"a", "abbr", "address", "article", "aside", "b", "blockquote", "br", "button", "caption",
	"cite", "code", "dd", "del", "details", "dfn", "div", "dl", "dt", "em", "fieldset",
	"figcaption", "figure", "footer", "form", "h1", "h2", "h3", "h4", "h5", "h6", "header",
	"hr", "i", "img", "input", "ins", "kbd", "label", "legend", "li", "main", "mark", "nav",
	"ol", "optgroup", "option", "p", "pre", "q", "s", "section", "select", "small", "span",
	"strong", "sub", "summary", "sup", "table", "tbody", "td", "textarea", "tfoot", "th",
	"thead", "time", "tr", "u", "ul",
}

// selfClosing elements are kept even when they have no content.
var selfClosing = map[string]bool{"img": true, "br": true, "hr": true, "input": true}

// cleanPolicy is safe for concurrent use once built.
var cleanPolicy = newCleanPolicy()

func newCleanPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(structuralElements...)
	p.AllowAttrs(keptAttributes...).Globally()
	p.SkipElementsContent(skippedContent...)
	return p
}

// CleanHTML reduces body HTML to a compact form for a model: noisy elements,
// comments and non-essential attributes are removed, then empty elements are pruned.
func CleanHTML(src string) (string, error) {
	sanitized := cleanPolicy.Sanitize(src)

	nodes, err := parseBody(sanitized)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, n := range nodes {
		if n.Type == html.ElementNode && pruneEmpty(n) {
			continue
		}
		if err := html.Render(&sb, n); err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// pruneEmpty removes empty descendants of n and reports whether n itself is now empty.
func pruneEmpty(n *html.Node) bool {
	for ch := n.FirstChild; ch != nil; {
		next := ch.NextSibling
		switch ch.Type {
		case html.ElementNode:
			if pruneEmpty(ch) {
				n.RemoveChild(ch)
			}
		case html.CommentNode:
			n.RemoveChild(ch)
		}
		ch = next
	}
	if selfClosing[n.Data] {
		return false
	}
	return n.FirstChild == nil
}
