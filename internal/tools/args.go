// internal/tools/args.go
package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ArgType is the declared type of a tool argument, as shown in the catalog.
type ArgType string

const (
	ArgString ArgType = "str"
	ArgInt    ArgType = "int"
	ArgFloat  ArgType = "float"
	ArgBool   ArgType = "bool"
)

// ArgSpec describes one argument a tool accepts.
type ArgSpec struct {
	Name        string
	Type        ArgType
	Required    bool
	Default     interface{}
	Description string
}

// Args holds validated arguments, coerced to their declared types with defaults applied.
type Args map[string]interface{}

// String returns the named string argument, or "" when absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns the named integer argument, or 0 when absent.
func (a Args) Int(name string) int {
	i, _ := a[name].(int)
	return i
}

// Float returns the named float argument and whether it was supplied.
func (a Args) Float(name string) (float64, bool) {
	f, ok := a[name].(float64)
	return f, ok
}

// Bool returns the named boolean argument.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Has reports whether the argument was supplied or defaulted.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// DecodeArgs validates raw model-supplied arguments against specs. Unknown keys are ignored.
func DecodeArgs(specs []ArgSpec, raw map[string]interface{}) (Args, error) {
	out := make(Args, len(specs))
	var problems []string
	for _, spec := range specs {
		v, ok := raw[spec.Name]
		if !ok || v == nil {
			if spec.Required {
				problems = append(problems, fmt.Sprintf("missing required argument '%s'", spec.Name))
				continue
			}
			if spec.Default == nil {
				continue
			}
			v = spec.Default
		}
		coerced, err := coerce(spec.Type, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("argument '%s': %v", spec.Name, err))
			continue
		}
		out[spec.Name] = coerced
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

func coerce(t ArgType, v interface{}) (interface{}, error) {
	var target interface{}
	switch t {
	case ArgString:
		target = new(string)
	case ArgInt:
		target = new(int)
	case ArgFloat:
		target = new(float64)
	case ArgBool:
		target = new(bool)
	default:
		return nil, fmt.Errorf("unsupported argument type %q", t)
	}
	if err := weakDecode(v, target); err != nil {
		return nil, err
	}
	return deref(target), nil
}

func weakDecode(in, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("expected %s: %w", typeName(out), err)
	}
	return nil
}

func typeName(p interface{}) string {
	switch p.(type) {
	case *string:
		return "str"
	case *int:
		return "int"
	case *float64:
		return "float"
	case *bool:
		return "bool"
	}
	return "value"
}

func deref(p interface{}) interface{} {
	switch v := p.(type) {
	case *string:
		return *v
	case *int:
		return *v
	case *float64:
		return *v
	case *bool:
		return *v
	}
	return p
}
