package recipe

import (
	"encoding/json"
	"fmt"
)

// ParamsWithVariables is the JSON-shaped parameter tree a device config
// carries on disk: an arbitrary JSON document in which any object node
// shaped exactly {"__var": "<name>"} is a reference into the store's
// Variables table.
type ParamsWithVariables json.RawMessage

// ParamsWithoutVariables is a fully-resolved parameter tree: every __var
// reference has been replaced by its bound scalar value.
type ParamsWithoutVariables json.RawMessage

// pathSegment is either a string (object key) or an int (array index).
type pathSegment interface{}

// Substitution records where, within a resolved tree, a variable reference
// used to live, so unresolve can put it back.
type Substitution struct {
	Path []pathSegment
	Var  string
}

// VarKeyword is the reserved object key that marks a variable reference.
const VarKeyword = "__var"

// Resolve replaces every {"__var": "X"} node in p with the scalar value of
// X from vars, producing a ParamsWithoutVariables plus the list of
// substitutions performed (consumed by Unresolve for the round trip).
func Resolve(p ParamsWithVariables, vars Variables) (ParamsWithoutVariables, []Substitution, error) {
	var tree interface{}
	if err := json.Unmarshal(p, &tree); err != nil {
		return nil, nil, fmt.Errorf("invalid params document: %w", err)
	}

	var subs []Substitution
	resolved, err := resolveNode(tree, vars, nil, &subs)
	if err != nil {
		return nil, nil, err
	}

	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, nil, err
	}
	return ParamsWithoutVariables(out), subs, nil
}

func resolveNode(node interface{}, vars Variables, path []pathSegment, subs *[]Substitution) (interface{}, error) {
	switch n := node.(type) {
	case map[string]interface{}:
		if ref, ok := n[VarKeyword]; ok {
			if len(n) != 1 {
				return nil, &VariableError{Reason: fmt.Sprintf("__var object at %s has extra keys", formatPath(path))}
			}
			name, ok := ref.(string)
			if !ok {
				return nil, &VariableError{Reason: fmt.Sprintf("__var value at %s is not a string", formatPath(path))}
			}
			val, ok := vars[name]
			if !ok {
				return nil, &VariableError{Variable: name, Reason: fmt.Sprintf("unknown variable %q referenced at %s", name, formatPath(path))}
			}
			*subs = append(*subs, Substitution{Path: append([]pathSegment{}, path...), Var: name})
			return variableJSONValue(val), nil
		}

		out := make(map[string]interface{}, len(n))
		for k, v := range n {
			resolved, err := resolveNode(v, vars, append(path, k), subs)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(n))
		for i, v := range n {
			resolved, err := resolveNode(v, vars, append(path, i), subs)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return n, nil
	}
}

func variableJSONValue(v Variable) interface{} {
	if v.IsString() {
		return v.String()
	}
	return v.Number()
}

// Unresolve reconstructs a ParamsWithVariables from a resolved tree and the
// substitutions that were performed when it was resolved, putting each
// {"__var": name} node back at its recorded path. It also compares the
// resolved tree's value at each substitution path against vars' current
// binding for that name: if they differ, the differing binding is recorded
// in the returned VariablesPatch (the caller is presumed to be re-deriving
// params from a value the user just edited in its resolved form).
func Unresolve(p ParamsWithoutVariables, subs []Substitution, vars Variables) (ParamsWithVariables, Variables, error) {
	var tree interface{}
	if err := json.Unmarshal(p, &tree); err != nil {
		return nil, nil, fmt.Errorf("invalid resolved params document: %w", err)
	}

	patch := make(Variables)
	for _, sub := range subs {
		valueAtPath, err := getAtPath(tree, sub.Path)
		if err != nil {
			return nil, nil, err
		}
		newVar, err := jsonValueToVariable(valueAtPath)
		if err != nil {
			return nil, nil, fmt.Errorf("value at %s for variable %q: %w", formatPath(sub.Path), sub.Var, err)
		}
		if existing, ok := vars[sub.Var]; !ok || !existing.Equal(newVar) {
			patch[sub.Var] = newVar
		}
		if err := setAtPath(&tree, sub.Path, map[string]interface{}{VarKeyword: sub.Var}); err != nil {
			return nil, nil, err
		}
	}

	out, err := json.Marshal(tree)
	if err != nil {
		return nil, nil, err
	}
	return ParamsWithVariables(out), patch, nil
}

func jsonValueToVariable(v interface{}) (Variable, error) {
	switch val := v.(type) {
	case string:
		return StringVariable(val), nil
	case float64:
		return NumberVariable(val), nil
	default:
		return Variable{}, fmt.Errorf("variable value must be a number or string, got %T", v)
	}
}

func getAtPath(tree interface{}, path []pathSegment) (interface{}, error) {
	cur := tree
	for _, seg := range path {
		switch key := seg.(type) {
		case string:
			m, ok := cur.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("path %s does not resolve: expected object", formatPath(path))
			}
			cur = m[key]
		case int:
			s, ok := cur.([]interface{})
			if !ok || key >= len(s) {
				return nil, fmt.Errorf("path %s does not resolve: expected array", formatPath(path))
			}
			cur = s[key]
		}
	}
	return cur, nil
}

func setAtPath(tree *interface{}, path []pathSegment, value interface{}) error {
	if len(path) == 0 {
		*tree = value
		return nil
	}
	cur := tree
	for i, seg := range path {
		last := i == len(path)-1
		switch key := seg.(type) {
		case string:
			m, ok := (*cur).(map[string]interface{})
			if !ok {
				return fmt.Errorf("path %s does not resolve: expected object", formatPath(path))
			}
			if last {
				m[key] = value
				return nil
			}
			next := m[key]
			cur = &next
			m[key] = next
		case int:
			s, ok := (*cur).([]interface{})
			if !ok || key >= len(s) {
				return fmt.Errorf("path %s does not resolve: expected array", formatPath(path))
			}
			if last {
				s[key] = value
				return nil
			}
			next := s[key]
			cur = &next
			s[key] = next
		}
	}
	return nil
}

func formatPath(path []pathSegment) string {
	if len(path) == 0 {
		return "$"
	}
	out := "$"
	for _, seg := range path {
		switch v := seg.(type) {
		case string:
			out += "." + v
		case int:
			out += fmt.Sprintf("[%d]", v)
		}
	}
	return out
}
