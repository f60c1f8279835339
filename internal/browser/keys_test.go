// internal/browser/keys_test.go
package browser

import (
	"testing"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChord(t *testing.T) {
	tests := []struct {
		in   string
		want keyChord
	}{
		{"Enter", keyChord{key: kb.Enter}},
		{"escape", keyChord{key: kb.Escape}},
		{"a", keyChord{key: "a"}},
		{"+", keyChord{key: "+"}},
		{"Control+A", keyChord{key: "a", modifiers: []input.Modifier{input.ModifierCtrl}}},
		{"Ctrl+Shift+ArrowDown", keyChord{key: kb.ArrowDown, modifiers: []input.Modifier{input.ModifierCtrl, input.ModifierShift}}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseChord(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseChord_Errors(t *testing.T) {
	for _, in := range []string{"", "Hyper+A", "NotAKey"} {
		_, err := parseChord(in)
		assert.Error(t, err, in)
	}
}
