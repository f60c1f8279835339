// internal/perception/formatter.go
package perception

import (
	"sort"
	"strconv"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// FormatInteractive renders one line per interactive element, indexed from 0.
func FormatInteractive(elements []schemas.InteractiveElement) string {
	lines := make([]string, 0, len(elements))
	for i, el := range elements {
		var sb strings.Builder
		writeHead(&sb, i, el.Tag, el.Role)
		sb.WriteString(" Name:" + el.Name)
		sb.WriteString(" Attributes:" + formatAttributes(el.Attributes))
		sb.WriteString(" Box:" + formatBox(el.Box))
		sb.WriteString(" Center:" + formatCenter(el.Center))
		sb.WriteString(" Xpath:" + el.XPath)
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n")
}

// FormatInformative renders one line per text-bearing element.
func FormatInformative(elements []schemas.InformativeElement) string {
	lines := make([]string, 0, len(elements))
	for i, el := range elements {
		var sb strings.Builder
		writeHead(&sb, i, el.Tag, el.Role)
		sb.WriteString(" Content:" + el.Content)
		sb.WriteString(" Center:" + formatCenter(el.Center))
		sb.WriteString(" Xpath:" + el.XPath)
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n")
}

// FormatScrollable renders one line per scroll container.
func FormatScrollable(elements []schemas.ScrollableElement) string {
	lines := make([]string, 0, len(elements))
	for i, el := range elements {
		var sb strings.Builder
		writeHead(&sb, i, el.Tag, el.Role)
		sb.WriteString(" Name:" + el.Name)
		sb.WriteString(" Attributes:" + formatAttributes(el.Attributes))
		sb.WriteString(" Xpath:" + el.XPath)
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n")
}

// Format renders all three categories under headed sections. A nil state renders as "".
func Format(state *schemas.PageState) string {
	if state == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Interactive elements:\n")
	sb.WriteString(FormatInteractive(state.Interactive))
	sb.WriteString("\n\nInformative elements:\n")
	sb.WriteString(FormatInformative(state.Informative))
	sb.WriteString("\n\nScrollable elements:\n")
	sb.WriteString(FormatScrollable(state.Scrollable))
	return sb.String()
}

func writeHead(sb *strings.Builder, index int, tag, role string) {
	sb.WriteString(strconv.Itoa(index))
	sb.WriteString(" Tag:" + tag)
	sb.WriteString(" Role:" + role)
}

// formatAttributes prints attributes in key order so the output is stable between captures.
func formatAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(strconv.Quote(attrs[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

func formatBox(b schemas.BoundingBox) string {
	return "{left: " + num(b.Left) + ", top: " + num(b.Top) +
		", width: " + num(b.Width) + ", height: " + num(b.Height) + "}"
}

func formatCenter(c schemas.CenterPoint) string {
	return "{x: " + num(c.X) + ", y: " + num(c.Y) + "}"
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
