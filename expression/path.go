package expression

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// SplitPath splits a dotted path such as "user.tags[0].name" into segments
// ("user", "tags", "0", "name").
func SplitPath(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	var segments []string
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("invalid path %q", path)
		}
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				segments = append(segments, part)
				break
			}
			if open > 0 {
				segments = append(segments, part[:open])
			}
			end := strings.IndexByte(part[open:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed index in path %q", path)
			}
			index := part[open+1 : open+end]
			if _, err := strconv.Atoi(index); err != nil {
				return nil, fmt.Errorf("invalid index %q in path %q", index, path)
			}
			segments = append(segments, index)
			part = part[open+end+1:]
		}
	}
	return segments, nil
}

// Lookup resolves a dotted path against a value. The second return value is
// false when any segment is missing.
func Lookup(root any, path string) (any, bool) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, false
	}
	return LookupSegments(root, segments)
}

// LookupSegments resolves pre-split path segments against a value.
func LookupSegments(root any, segments []string) (any, bool) {
	current := root
	for _, segment := range segments {
		next, ok := child(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func child(value any, segment string) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case map[string]any:
		item, ok := v[segment]
		return item, ok
	case []any:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= len(v) {
			return nil, false
		}
		return v[index], true
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		item := rv.MapIndex(reflect.ValueOf(segment).Convert(rv.Type().Key()))
		if !item.IsValid() {
			return nil, false
		}
		return item.Interface(), true
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= rv.Len() {
			return nil, false
		}
		return rv.Index(index).Interface(), true
	case reflect.Struct:
		field := rv.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, segment)
		})
		if !field.IsValid() || !field.CanInterface() {
			return nil, false
		}
		return field.Interface(), true
	}
	return nil, false
}
