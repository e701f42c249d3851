package expression

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
)

// ExprValue wraps a Go value produced by an expression.
type ExprValue struct {
	value any
}

// NewValue wraps a Go value.
func NewValue(v any) *ExprValue {
	return &ExprValue{value: v}
}

func (v *ExprValue) Value() any {
	return v.value
}

func (v *ExprValue) IsTruthy() bool {
	return Truthy(v.value)
}

func (v *ExprValue) String() string {
	return Format(v.value)
}

// Truthy reports whether a value should be treated as true in a condition.
// Strings are truthy unless empty or "false"; numbers unless zero; lists and
// maps unless empty.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && strings.ToLower(v) != "false"
	}
	if f, ok := ToFloat(value); ok {
		return f != 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Format renders a value as text. Whole floats are printed without a
// fractional part so that numbers decoded from JSON render naturally.
func Format(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		data, err := xjson.Marshal(value)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", value)
}

// ToFloat converts numeric values, including numeric strings, to float64.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case xjson.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// toNumber is like ToFloat but also accepts numeric strings.
func toNumber(value any) (float64, bool) {
	if f, ok := ToFloat(value); ok {
		return f, true
	}
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}
