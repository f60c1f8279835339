// internal/perception/formatter_test.go
package perception

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xkilldash9x/webpilot/api/schemas"
)

func TestFormatInteractive(t *testing.T) {
	els := []schemas.InteractiveElement{
		{
			Tag:        "button",
			Role:       "button",
			Name:       "Load more",
			Attributes: map[string]string{"id": "more", "class": "btn"},
			Box:        schemas.BoundingBox{Left: 10, Top: 20, Width: 100, Height: 30.5},
			Center:     schemas.CenterPoint{X: 60, Y: 35.25},
			XPath:      "/html/body/button[1]",
		},
		{Tag: "a", Role: "link", Name: "Home", XPath: "/html/body/a"},
	}

	out := FormatInteractive(els)
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t,
		`0 Tag:button Role:button Name:Load more Attributes:{class: "btn", id: "more"} Box:{left: 10, top: 20, width: 100, height: 30.5} Center:{x: 60, y: 35.25} Xpath:/html/body/button[1]`,
		lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1 Tag:a Role:link Name:Home Attributes:{} "))
}

func TestFormatInteractive_StableAcrossCalls(t *testing.T) {
	attrs := map[string]string{"z": "1", "a": "2", "m": "3", "b": "4"}
	els := []schemas.InteractiveElement{{Tag: "div", Attributes: attrs}}
	first := FormatInteractive(els)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, FormatInteractive(els))
	}
}

func TestFormatInformative(t *testing.T) {
	out := FormatInformative([]schemas.InformativeElement{
		{Tag: "h2", Role: "heading", Content: "Title one", Center: schemas.CenterPoint{X: 1, Y: 2}, XPath: "/h2[1]"},
	})
	assert.Equal(t, "0 Tag:h2 Role:heading Content:Title one Center:{x: 1, y: 2} Xpath:/h2[1]", out)
}

func TestFormatScrollable(t *testing.T) {
	out := FormatScrollable([]schemas.ScrollableElement{
		{Tag: "div", Role: "region", Name: "feed", Attributes: map[string]string{"id": "feed"}, XPath: "/div"},
	})
	assert.Equal(t, `0 Tag:div Role:region Name:feed Attributes:{id: "feed"} Xpath:/div`, out)
}

func TestFormat(t *testing.T) {
	assert.Empty(t, Format(nil))
	assert.Empty(t, FormatInteractive(nil))

	out := Format(&schemas.PageState{
		Informative: []schemas.InformativeElement{{Tag: "p", Content: "hi"}},
	})
	assert.Contains(t, out, "Interactive elements:\n")
	assert.Contains(t, out, "Informative elements:\n0 Tag:p Role: Content:hi")
	assert.Contains(t, out, "Scrollable elements:\n")
}
