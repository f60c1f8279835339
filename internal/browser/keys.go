// internal/browser/keys.go
package browser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
)

// namedKeys maps the key names the model uses to their kb runes.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"space":      " ",
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
}

var modifierKeys = map[string]input.Modifier{
	"control": input.ModifierCtrl,
	"ctrl":    input.ModifierCtrl,
	"shift":   input.ModifierShift,
	"alt":     input.ModifierAlt,
	"meta":    input.ModifierMeta,
	"cmd":     input.ModifierMeta,
}

// keyChord is a parsed key press such as "Control+A".
type keyChord struct {
	key       string
	modifiers []input.Modifier
}

// parseChord splits "Mod+Mod+Key" into its modifiers and the final key.
func parseChord(s string) (keyChord, error) {
	if s == "" {
		return keyChord{}, fmt.Errorf("empty key")
	}
	// A lone "+" is a key, not a separator.
	if s == "+" {
		return keyChord{key: "+"}, nil
	}
	parts := strings.Split(s, "+")
	var chord keyChord
	for _, mod := range parts[:len(parts)-1] {
		m, ok := modifierKeys[strings.ToLower(strings.TrimSpace(mod))]
		if !ok {
			return keyChord{}, fmt.Errorf("unknown modifier %q in %q", mod, s)
		}
		chord.modifiers = append(chord.modifiers, m)
	}

	last := parts[len(parts)-1]
	if k, ok := namedKeys[strings.ToLower(last)]; ok {
		chord.key = k
		return chord, nil
	}
	if utf8.RuneCountInString(last) != 1 {
		return keyChord{}, fmt.Errorf("unknown key %q", last)
	}
	// Modifier chords address the physical key, which kb knows by its lower-case rune.
	if len(chord.modifiers) > 0 {
		last = strings.ToLower(last)
	}
	chord.key = last
	return chord, nil
}
