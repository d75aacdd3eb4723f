package recipe

import (
	"encoding/json"
	"fmt"

	"github.com/imdario/mergo"
)

// Variable is a named scalar: either a JSON number or a JSON string. No
// objects or arrays are permitted (spec §3).
type Variable struct {
	str      string
	num      float64
	isString bool
}

// StringVariable constructs a string-valued Variable.
func StringVariable(s string) Variable { return Variable{str: s, isString: true} }

// NumberVariable constructs a number-valued Variable.
func NumberVariable(n float64) Variable { return Variable{num: n} }

// IsString reports whether the variable holds a string.
func (v Variable) IsString() bool { return v.isString }

// String returns the string value, or "" if this is a number variable.
func (v Variable) String() string { return v.str }

// Number returns the numeric value, or 0 if this is a string variable.
func (v Variable) Number() float64 { return v.num }

// Equal reports value equality between two variables.
func (v Variable) Equal(other Variable) bool {
	if v.isString != other.isString {
		return false
	}
	if v.isString {
		return v.str == other.str
	}
	return v.num == other.num
}

// MarshalJSON renders the variable as a bare JSON scalar.
func (v Variable) MarshalJSON() ([]byte, error) {
	if v.isString {
		return json.Marshal(v.str)
	}
	return json.Marshal(v.num)
}

// UnmarshalJSON parses a bare JSON scalar into a Variable, rejecting
// objects, arrays, booleans, and null.
func (v *Variable) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case string:
		*v = StringVariable(val)
	case float64:
		*v = NumberVariable(val)
	default:
		return fmt.Errorf("variable must be a number or string, got %T", raw)
	}
	return nil
}

// Variables is the store's name -> Variable binding table.
type Variables map[string]Variable

// VariableConflict describes a name bound to unequal values by two sources
// (e.g. the store and an import, or a patch and the store).
type VariableConflict struct {
	Name     string
	Existing Variable
	Imported Variable
}

// Patch returns a new Variables with patch's entries overlaid on top of v.
// v is never mutated. The overlay uses mergo.WithOverride, the same merge
// idiom the config loader uses to unify multiple on-disk config fragments.
func (v Variables) Patch(patch Variables) Variables {
	out := make(Variables, len(v)+len(patch))
	for k, val := range v {
		out[k] = val
	}
	if err := mergo.Merge(&out, patch, mergo.WithOverride); err != nil {
		// mergo.Merge only fails on mismatched destination types, which
		// cannot happen between two Variables maps; fall back to a plain
		// overlay defensively.
		for k, val := range patch {
			out[k] = val
		}
	}
	return out
}

// Add merges other into a copy of v, returning any conflicts for keys that
// exist in both with unequal values. Conflicting keys are reported but are
// NOT inserted; non-conflicting keys from other are inserted into the
// returned map.
func (v Variables) Add(other Variables) (Variables, []VariableConflict) {
	out := make(Variables, len(v)+len(other))
	for k, val := range v {
		out[k] = val
	}

	var conflicts []VariableConflict
	for k, incoming := range other {
		existing, exists := out[k]
		if !exists {
			out[k] = incoming
			continue
		}
		if !existing.Equal(incoming) {
			conflicts = append(conflicts, VariableConflict{Name: k, Existing: existing, Imported: incoming})
			continue
		}
		// equal values: no-op, already present.
	}
	return out, conflicts
}
