// internal/tools/accumulator.go
package tools

import (
	"hash"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
)

// canonicalJSON sorts map keys so equal records always encode identically.
var canonicalJSON = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

// hasherPool keeps FNV hashers around; every captured record gets fingerprinted.
var hasherPool = sync.Pool{
	New: func() interface{} {
		return fnv.New64a()
	},
}

// Accumulator collects the data scraped over a run. Records are deduplicated by
// a fingerprint of their sorted-key JSON, text entries by exact match.
type Accumulator struct {
	mu         sync.Mutex
	structured bool
	items      []interface{}
	records    map[string]struct{}
	texts      map[string]struct{}
}

// NewAccumulator creates an empty accumulator. When structured is set, string
// output is parsed as JSON before being captured.
func NewAccumulator(structured bool) *Accumulator {
	return &Accumulator{
		structured: structured,
		records:    make(map[string]struct{}),
		texts:      make(map[string]struct{}),
	}
}

// Capture adds the new entries found in a tool output and returns how many were added.
func (a *Accumulator) Capture(out interface{}) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var data interface{}
	switch v := out.(type) {
	case nil:
		return 0
	case string:
		if !a.structured {
			return a.addText(v)
		}
		parsed, err := llmutil.ParseJSONValue(v)
		if err != nil {
			return a.addText(v)
		}
		data = parsed
	case map[string]interface{}, []interface{}:
		data = v
	default:
		// Typed values are normalized to their generic JSON form first.
		raw, err := canonicalJSON.Marshal(v)
		if err != nil {
			return 0
		}
		if err := canonicalJSON.Unmarshal(raw, &data); err != nil {
			return 0
		}
	}

	list, ok := data.([]interface{})
	if !ok {
		list = []interface{}{data}
	}
	added := 0
	for _, item := range list {
		switch v := item.(type) {
		case map[string]interface{}:
			added += a.addRecord(v)
		case string:
			added += a.addText(v)
		case nil:
		default:
			// Numbers, booleans and nested lists are kept as their JSON text.
			if text, err := canonicalJSON.MarshalToString(v); err == nil {
				added += a.addText(text)
			}
		}
	}
	return added
}

func (a *Accumulator) addRecord(rec map[string]interface{}) int {
	fp, err := Fingerprint(rec)
	if err != nil {
		return 0
	}
	if _, seen := a.records[fp]; seen {
		return 0
	}
	a.records[fp] = struct{}{}
	a.items = append(a.items, rec)
	return 1
}

func (a *Accumulator) addText(s string) int {
	if _, seen := a.texts[s]; seen {
		return 0
	}
	a.texts[s] = struct{}{}
	a.items = append(a.items, s)
	return 1
}

// Len returns the number of captured entries.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// Items returns a copy of the captured entries in capture order.
func (a *Accumulator) Items() []interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]interface{}, len(a.items))
	copy(out, a.items)
	return out
}

// IsStructured reports whether the first captured entry is a record.
func (a *Accumulator) IsStructured() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.items) == 0 {
		return false
	}
	_, ok := a.items[0].(map[string]interface{})
	return ok
}

// Output renders the captured data as a terminal event: records as one json_output,
// anything else as a text_output joined by newlines. ok is false when nothing was captured.
func (a *Accumulator) Output() (ev schemas.Event, ok bool) {
	items := a.Items()
	if len(items) == 0 {
		return schemas.Event{}, false
	}
	if _, structured := items[0].(map[string]interface{}); structured {
		return schemas.Event{Type: schemas.EventJSONOutput, Data: items}, true
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		if s, isText := it.(string); isText {
			lines = append(lines, s)
			continue
		}
		s, err := canonicalJSON.MarshalToString(it)
		if err != nil {
			continue
		}
		lines = append(lines, s)
	}
	return schemas.Event{Type: schemas.EventTextOutput, Data: strings.Join(lines, "\n")}, true
}

// Fingerprint hashes the sorted-key JSON encoding of v.
func Fingerprint(v interface{}) (string, error) {
	raw, err := canonicalJSON.Marshal(v)
	if err != nil {
		return "", err
	}
	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()
	_, _ = hasher.Write(raw)
	return strconv.FormatUint(hasher.Sum64(), 16), nil
}
