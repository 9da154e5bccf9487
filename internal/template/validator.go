package template

import "fmt"

// ValidateVariables checks a raw variables map (category → arbitrary
// object) against the declared schema and returns a normalized
// category → fieldMap structure with all defaults resolved. The normalized
// map is what the renderer consumes.
//
// Per category: required fields that are missing or nil take their declared
// default if present, otherwise validation fails; declared fields present
// with a non-nil value are type-checked (date is compared as string);
// fields that are absent but carry a default are filled even when not
// required. Undeclared input is passed through untouched so templates can
// reference nested structures.
func ValidateVariables(def VariableDefinition, raw map[string]any) (map[string]map[string]any, error) {
	normalized := make(map[string]map[string]any, len(raw))

	// Pass undeclared categories through as-is when they are objects.
	for name, v := range raw {
		if _, declared := def[name]; declared {
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			normalized[name] = cloneFields(obj)
		}
	}

	for category, catDef := range def {
		input, err := categoryObject(raw, category)
		if err != nil {
			return nil, err
		}
		fields := cloneFields(input)

		// Required fields: default substitution or hard failure.
		for _, name := range catDef.Required {
			if v, ok := fields[name]; ok && v != nil {
				continue
			}
			fieldDef, declared := catDef.Fields[name]
			if declared && fieldDef.Default != nil {
				fields[name] = fieldDef.Default
				continue
			}
			return nil, &RequiredVariableMissingError{Category: category, Field: name}
		}

		for name, fieldDef := range catDef.Fields {
			v, ok := fields[name]
			if !ok || v == nil {
				// Absent non-required fields with a default are filled too.
				if fieldDef.Default != nil {
					fields[name] = fieldDef.Default
				}
				continue
			}
			if err := checkType(category+"."+name, fieldDef.Type, v); err != nil {
				return nil, err
			}
		}

		normalized[category] = fields
	}

	return normalized, nil
}

// categoryObject extracts the raw input object for a category. A missing
// category yields an empty map (defaults may still satisfy it); a present
// non-object value is a type mismatch.
func categoryObject(raw map[string]any, category string) (map[string]any, error) {
	v, ok := raw[category]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &VariableTypeMismatchError{
			Path:     category,
			Expected: "object",
			Actual:   typeName(v),
		}
	}
	return obj, nil
}

// checkType compares a value's runtime type against the declared field
// type. Date fields are strings at validation time.
func checkType(path string, declared FieldType, v any) error {
	expected := declared
	if expected == TypeDate {
		expected = TypeString
	}

	actual := typeName(v)
	var want string
	switch expected {
	case TypeString:
		want = "string"
	case TypeNumber:
		want = "number"
	case TypeBoolean:
		want = "boolean"
	default:
		return &VariableTypeMismatchError{Path: path, Expected: string(declared), Actual: actual}
	}

	if actual != want {
		return &VariableTypeMismatchError{Path: path, Expected: string(declared), Actual: actual}
	}
	return nil
}

// typeName maps a Go runtime value to the schema's type vocabulary.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func cloneFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
