package expression

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Operator is a switch-style comparison operator used by decision conditions.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpGreaterThan        Operator = "greaterThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThan           Operator = "lessThan"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "notContains"
	OpMatches            Operator = "matches"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "notIn"
	OpExists             Operator = "exists"
	OpNotExists          Operator = "notExists"
)

var operatorAliases = map[string]Operator{
	"equals": OpEquals, "eq": OpEquals, "==": OpEquals,
	"notequals": OpNotEquals, "ne": OpNotEquals, "!=": OpNotEquals,
	"greaterthan": OpGreaterThan, "gt": OpGreaterThan, ">": OpGreaterThan,
	"greaterthanorequal": OpGreaterThanOrEqual, "gte": OpGreaterThanOrEqual, ">=": OpGreaterThanOrEqual,
	"lessthan": OpLessThan, "lt": OpLessThan, "<": OpLessThan,
	"lessthanorequal": OpLessThanOrEqual, "lte": OpLessThanOrEqual, "<=": OpLessThanOrEqual,
	"contains": OpContains, "notcontains": OpNotContains,
	"matches": OpMatches,
	"in": OpIn, "notin": OpNotIn,
	"exists": OpExists, "notexists": OpNotExists,
}

// ParseOperator resolves an operator name or alias.
func ParseOperator(name string) (Operator, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
	if op, ok := operatorAliases[key]; ok {
		return op, nil
	}
	return "", fmt.Errorf("unknown operator %q", name)
}

// Compare applies the operator to the left (state) and right (declared)
// values. Numeric comparisons accept numbers and numeric strings.
func Compare(op Operator, left, right any) (bool, error) {
	switch op {
	case OpEquals:
		return Equal(left, right), nil
	case OpNotEquals:
		return !Equal(left, right), nil
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return compareOrdered(op, left, right)
	case OpContains:
		return contains(left, right), nil
	case OpNotContains:
		return !contains(left, right), nil
	case OpMatches:
		pattern, ok := right.(string)
		if !ok {
			return false, fmt.Errorf("matches requires a string pattern, got %T", right)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		return re.MatchString(Format(left)), nil
	case OpIn:
		return contains(right, left), nil
	case OpNotIn:
		return !contains(right, left), nil
	case OpExists:
		return left != nil, nil
	case OpNotExists:
		return left == nil, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// Equal compares two values, treating numbers of different Go types as equal
// when they hold the same value.
func Equal(left, right any) bool {
	if lf, ok := ToFloat(left); ok {
		if rf, ok := toNumber(right); ok {
			return lf == rf
		}
	}
	if rf, ok := ToFloat(right); ok {
		if lf, ok := toNumber(left); ok {
			return lf == rf
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls == rs
		}
		if rb, ok := right.(bool); ok {
			return strings.EqualFold(ls, fmt.Sprint(rb))
		}
	}
	if lb, ok := left.(bool); ok {
		if rs, ok := right.(string); ok {
			return strings.EqualFold(rs, fmt.Sprint(lb))
		}
	}
	return reflect.DeepEqual(left, right)
}

func compareOrdered(op Operator, left, right any) (bool, error) {
	lf, lok := toNumber(left)
	rf, rok := toNumber(right)
	if lok && rok {
		switch op {
		case OpGreaterThan:
			return lf > rf, nil
		case OpGreaterThanOrEqual:
			return lf >= rf, nil
		case OpLessThan:
			return lf < rf, nil
		default:
			return lf <= rf, nil
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		c := strings.Compare(ls, rs)
		switch op {
		case OpGreaterThan:
			return c > 0, nil
		case OpGreaterThanOrEqual:
			return c >= 0, nil
		case OpLessThan:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}
	return false, fmt.Errorf("cannot compare %T with %T using %s", left, right, op)
}

// contains reports whether container holds item. Strings are searched for a
// substring, lists for an equal element and maps for a key.
func contains(container, item any) bool {
	switch c := container.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(c, Format(item))
	case []any:
		for _, element := range c {
			if Equal(element, item) {
				return true
			}
		}
		return false
	case []string:
		for _, element := range c {
			if Equal(element, item) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := c[Format(item)]
		return ok
	}
	rv := reflect.ValueOf(container)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if Equal(rv.Index(i).Interface(), item) {
				return true
			}
		}
	case reflect.Map:
		for _, key := range rv.MapKeys() {
			if Equal(key.Interface(), item) {
				return true
			}
		}
	}
	return false
}
