// internal/markdown/markdown.go
package markdown

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// strippedTags are dropped together with their content.
var strippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true, "object": true,
	"embed": true, "link": true, "meta": true, "svg": true, "canvas": true, "template": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "header": true, "footer": true,
	"main": true, "nav": true, "aside": true, "form": true, "figure": true, "figcaption": true,
	"dl": true, "dt": true, "dd": true, "address": true, "details": true, "summary": true,
	"fieldset": true, "body": true, "html": true,
}

var (
	wsRun      = regexp.MustCompile(`[ \t\r\n\f]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
	listItem   = regexp.MustCompile(`^\s*(?:[-*+]|\d+\.) `)
)

// Convert renders the inner HTML of a page body as Markdown. The output is
// deterministic for a given input, so two extractions of an unchanged page compare equal.
func Convert(src string) (string, error) {
	nodes, err := parseBody(src)
	if err != nil {
		return "", err
	}
	c := &converter{}
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(c.render(n))
	}
	return tidy(sb.String()), nil
}

func parseBody(src string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return nodes, nil
}

type converter struct {
	preDepth int
}

func (c *converter) children(n *html.Node) string {
	var sb strings.Builder
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		sb.WriteString(c.render(ch))
	}
	return sb.String()
}

func (c *converter) render(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		if c.preDepth > 0 {
			return n.Data
		}
		return escapeText(wsRun.ReplaceAllString(n.Data, " "))
	case html.DocumentNode:
		return c.children(n)
	case html.ElementNode:
	default:
		return ""
	}

	tag := n.Data
	if strippedTags[tag] {
		return ""
	}

	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level, _ := strconv.Atoi(tag[1:])
		text := strings.TrimSpace(c.children(n))
		if text == "" {
			return ""
		}
		return "\n\n" + strings.Repeat("#", level) + " " + text + "\n\n"
	case "br":
		return "\n"
	case "hr":
		return "\n\n---\n\n"
	case "strong", "b":
		return wrapInline(c.children(n), "**")
	case "em", "i":
		return wrapInline(c.children(n), "*")
	case "del", "s", "strike":
		return wrapInline(c.children(n), "~~")
	case "code":
		if c.preDepth > 0 {
			return c.children(n)
		}
		return wrapInline(c.children(n), "`")
	case "pre":
		c.preDepth++
		body := c.children(n)
		c.preDepth--
		return "\n\n```\n" + strings.Trim(body, "\n") + "\n```\n\n"
	case "a":
		text := strings.TrimSpace(c.children(n))
		href := attr(n, "href")
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return text
		}
		if text == "" {
			text = href
		}
		return "[" + text + "](" + href + ")"
	case "img":
		src := attr(n, "src")
		if src == "" {
			return ""
		}
		return "![" + attr(n, "alt") + "](" + src + ")"
	case "ul", "ol":
		return "\n\n" + c.list(n, tag == "ol") + "\n\n"
	case "li":
		// A stray li outside a list.
		return "\n- " + strings.TrimSpace(c.children(n)) + "\n"
	case "blockquote":
		inner := tidy(c.children(n))
		lines := strings.Split(inner, "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight("> "+l, " ")
		}
		return "\n\n" + strings.Join(lines, "\n") + "\n\n"
	case "table":
		return "\n\n" + c.table(n) + "\n\n"
	}

	if blockTags[tag] {
		return "\n\n" + c.children(n) + "\n\n"
	}
	return c.children(n)
}

func (c *converter) list(n *html.Node, ordered bool) string {
	var items []string
	idx := 1
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type != html.ElementNode || ch.Data != "li" {
			continue
		}
		marker := "- "
		if ordered {
			marker = strconv.Itoa(idx) + ". "
		}
		idx++
		body := tidy(c.children(ch))
		indent := strings.Repeat(" ", len(marker))
		lines := strings.Split(body, "\n")
		out := make([]string, 0, len(lines))
		for i, l := range lines {
			if l == "" {
				continue
			}
			if i == 0 {
				out = append(out, marker+l)
				continue
			}
			out = append(out, indent+l)
		}
		if len(out) == 0 {
			out = append(out, strings.TrimSpace(marker))
		}
		items = append(items, strings.Join(out, "\n"))
	}
	return strings.Join(items, "\n")
}

func (c *converter) table(n *html.Node) string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		for ch := x.FirstChild; ch != nil; ch = ch.NextSibling {
			if ch.Type != html.ElementNode {
				continue
			}
			if ch.Data == "tr" {
				var cells []string
				for cell := ch.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
						text := strings.TrimSpace(strings.ReplaceAll(tidy(c.children(cell)), "\n", " "))
						cells = append(cells, strings.ReplaceAll(text, "|", `\|`))
					}
				}
				rows = append(rows, cells)
				continue
			}
			walk(ch)
		}
	}
	walk(n)
	if len(rows) == 0 {
		return ""
	}

	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	var sb strings.Builder
	for i, r := range rows {
		for len(r) < width {
			r = append(r, "")
		}
		sb.WriteString("| " + strings.Join(r, " | ") + " |\n")
		if i == 0 {
			sb.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func wrapInline(inner, mark string) string {
	trimmed := strings.TrimSpace(inner)
	if trimmed == "" {
		return inner
	}
	lead := inner[:len(inner)-len(strings.TrimLeft(inner, " "))]
	trail := inner[len(strings.TrimRight(inner, " ")):]
	return lead + mark + trimmed + mark + trail
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// escapeText guards characters that would otherwise start Markdown syntax mid-text.
func escapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`")
	return r.Replace(s)
}

// tidy normalizes whitespace: trailing spaces go, leading spaces go except for
// list indentation and fenced code, and runs of blank lines collapse to one.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	inFence := false
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			inFence = !inFence
			lines[i] = strings.TrimSpace(l)
			continue
		}
		if inFence {
			continue
		}
		l = strings.TrimRight(l, " \t")
		if !listItem.MatchString(l) {
			l = strings.TrimLeft(l, " \t")
		}
		lines[i] = l
	}
	out := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}
