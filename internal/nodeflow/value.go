package nodeflow

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind tags a variable binding.
type ValueKind string

const (
	ValueNull   ValueKind = "null"
	ValueString ValueKind = "string"
	ValueNumber ValueKind = "number"
	ValueBool   ValueKind = "bool"
	ValueObject ValueKind = "object"
)

// Value is a tagged variable binding. Objects and arrays are held in their
// JSON-decoded form (map[string]any, []any) so a value reads back the same
// after a round-trip through any store.
type Value struct {
	Kind ValueKind `json:"kind"`
	Data any       `json:"value,omitempty"`
}

// NewValue tags v, normalizing numeric types to float64 and composite types
// to their JSON-decoded form.
func NewValue(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{Kind: ValueNull}
	case Value:
		return x
	case string:
		return Value{Kind: ValueString, Data: x}
	case bool:
		return Value{Kind: ValueBool, Data: x}
	case float64:
		return Value{Kind: ValueNumber, Data: x}
	case float32:
		return Value{Kind: ValueNumber, Data: float64(x)}
	case int:
		return Value{Kind: ValueNumber, Data: float64(x)}
	case int32:
		return Value{Kind: ValueNumber, Data: float64(x)}
	case int64:
		return Value{Kind: ValueNumber, Data: float64(x)}
	case uint:
		return Value{Kind: ValueNumber, Data: float64(x)}
	case uint64:
		return Value{Kind: ValueNumber, Data: float64(x)}
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{Kind: ValueString, Data: x.String()}
		}
		return Value{Kind: ValueNumber, Data: f}
	case map[string]any, []any:
		return Value{Kind: ValueObject, Data: x}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Value{Kind: ValueString, Data: fmt.Sprint(v)}
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return Value{Kind: ValueString, Data: string(b)}
	}
	return NewValue(decoded)
}

// Text renders the value for prompt templating: strings as-is, everything
// else as compact JSON.
func (v Value) Text() string {
	switch v.Kind {
	case ValueNull:
		return ""
	case ValueString:
		s, _ := v.Data.(string)
		return s
	case ValueNumber:
		f, _ := v.Data.(float64)
		return strconv.FormatFloat(f, 'f', -1, 64)
	case ValueBool:
		b, _ := v.Data.(bool)
		return strconv.FormatBool(b)
	}
	b, err := json.Marshal(v.Data)
	if err != nil {
		return fmt.Sprint(v.Data)
	}
	return string(b)
}

// UnmarshalJSON re-normalizes the payload so numbers decode as float64.
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw struct {
		Kind ValueKind `json:"kind"`
		Data any       `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	nv := NewValue(raw.Data)
	if raw.Kind != "" && raw.Kind != nv.Kind {
		return fmt.Errorf("value kind %q does not match payload kind %q", raw.Kind, nv.Kind)
	}
	*v = nv
	return nil
}

// Variables is the flat binding map of a run.
type Variables map[string]Value

// Clone returns a shallow copy. Values are never mutated in place, so this
// is enough for a read-only snapshot.
func (vs Variables) Clone() Variables {
	out := make(Variables, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

// Env exposes the untagged values for expression evaluation and templating.
func (vs Variables) Env() map[string]any {
	env := make(map[string]any, len(vs))
	for k, v := range vs {
		env[k] = v.Data
	}
	return env
}

// Check verifies that every declared input is bound and, when a kind is
// declared, that the binding carries that kind.
func (vs Variables) Check(decls []InputDecl) error {
	for _, d := range decls {
		v, ok := vs[d.Name]
		if !ok {
			return fmt.Errorf("input %q is not bound", d.Name)
		}
		if d.Kind != "" && v.Kind != d.Kind {
			return fmt.Errorf("input %q: expected %s, got %s", d.Name, d.Kind, v.Kind)
		}
	}
	return nil
}
