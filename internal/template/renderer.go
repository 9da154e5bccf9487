package template

import (
	"regexp"
	"strconv"
	"strings"
)

// placeholderPattern matches {{ identifier ( . identifier )* }} tokens.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\s*\}\}`)

// Render substitutes every {{dotted.path}} placeholder in tmpl using the
// normalized variable map, supporting arbitrary nesting depth. A path that
// resolves to nothing fails with VariableNotFoundError; a path that
// resolves to a non-scalar fails with VariableTypeMismatchError. Rendering
// is pure and produces a complete string.
func Render(tmpl string, vars map[string]map[string]any) (string, error) {
	var b strings.Builder
	last := 0
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(tmpl, -1) {
		b.WriteString(tmpl[last:loc[0]])
		path := tmpl[loc[2]:loc[3]]

		value, ok := resolvePath(vars, path)
		if !ok || value == nil {
			return "", &VariableNotFoundError{Path: path}
		}
		text, ok := formatScalar(value)
		if !ok {
			return "", &VariableTypeMismatchError{
				Path:     path,
				Expected: "primitive",
				Actual:   typeName(value),
			}
		}
		b.WriteString(text)
		last = loc[1]
	}
	b.WriteString(tmpl[last:])
	return b.String(), nil
}

// ExtractPlaceholders returns the de-duplicated, ordered list of dotted
// paths referenced by a template. Callers use it to validate a template
// against its own variable definition before saving.
func ExtractPlaceholders(tmpl string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		path := m[1]
		if seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}

// resolvePath walks a dotted path through the variable map. It returns
// ok=false as soon as an intermediate node is not an object or a key is
// missing.
func resolvePath(vars map[string]map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")

	category, ok := vars[segments[0]]
	if !ok {
		return nil, false
	}
	var current any = category

	for _, seg := range segments[1:] {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// formatScalar renders a scalar value as template text. Non-scalars
// (objects, arrays, functions) are rejected by the caller.
func formatScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	default:
		return "", false
	}
}
