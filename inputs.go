package flowgraph

import (
	"fmt"
	"maps"
	"reflect"
	"sort"
)

// ResolveInputs validates an initial payload against the start node's
// declared inputs and returns the variables it seeds: the payload plus
// defaults for absent optional inputs. Missing required inputs fail with
// MISSING_REQUIRED_INPUT; type mismatches and, in strict mode, undeclared
// fields fail with INVALID_INPUT.
func ResolveInputs(cfg *StartConfig, payload map[string]any) (map[string]any, error) {
	resolved := maps.Clone(payload)
	if resolved == nil {
		resolved = map[string]any{}
	}
	if cfg == nil {
		return resolved, nil
	}

	var missing, invalid []string
	declared := make(map[string]bool, len(cfg.Inputs))
	for _, input := range cfg.Inputs {
		declared[input.Name] = true
		value, ok := resolved[input.Name]
		if !ok || value == nil {
			if input.Default != nil {
				resolved[input.Name] = input.Default
				continue
			}
			if input.Required {
				missing = append(missing, input.Name)
			}
			continue
		}
		if !matchesType(input.Type, value) {
			invalid = append(invalid, fmt.Sprintf("input %q must be of type %s", input.Name, input.Type))
		}
	}
	if cfg.Strict {
		var extra []string
		for name := range resolved {
			if !declared[name] {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		for _, name := range extra {
			invalid = append(invalid, fmt.Sprintf("input %q is not declared", name))
		}
	}

	if len(missing) > 0 {
		return nil, &Error{
			Kind:    KindValidation,
			Code:    CodeMissingRequiredInput,
			Message: fmt.Sprintf("missing required inputs: %v", missing),
			Details: missing,
		}
	}
	if len(invalid) > 0 {
		return nil, &Error{
			Kind:    KindValidation,
			Code:    CodeInvalidInput,
			Message: fmt.Sprintf("invalid inputs: %v", invalid),
			Details: invalid,
		}
	}
	return resolved, nil
}

func matchesType(typ string, value any) bool {
	switch typ {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	}
	rv := reflect.ValueOf(value)
	switch typ {
	case "number":
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
	case "integer":
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		case reflect.Float32, reflect.Float64:
			f := rv.Float()
			return f == float64(int64(f))
		}
	case "object":
		return rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct
	case "array":
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	}
	return false
}
