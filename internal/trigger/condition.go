package trigger

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/opsdesk/opsdesk/internal/models"
	"golang.org/x/text/cases"
)

const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpContains = "contains"
	OpPrefix   = "prefix"
	OpIn       = "in"
	OpExists   = "exists"
)

// Ops lists the supported condition operators.
var Ops = []string{OpEq, OpNeq, OpContains, OpPrefix, OpIn, OpExists}

// ValidateCondition rejects conditions the matcher could never evaluate.
func ValidateCondition(c models.Condition) error {
	if strings.TrimSpace(c.Field) == "" {
		return errors.New("condition field is required")
	}

	switch c.Op {
	case OpEq, OpNeq, OpContains, OpPrefix:
		if c.Value == nil {
			return fmt.Errorf("condition %s %s requires a value", c.Field, c.Op)
		}
	case OpIn:
		if _, ok := list(c.Value); !ok {
			return fmt.Errorf("condition %s in requires a list value", c.Field)
		}
	case OpExists:
		if c.Value != nil {
			if _, ok := c.Value.(bool); !ok {
				return fmt.Errorf("condition %s exists takes a boolean value", c.Field)
			}
		}
	default:
		return fmt.Errorf("unknown condition operator %q", c.Op)
	}
	return nil
}

// Matches reports whether every condition holds for attrs.
func Matches(conds []models.Condition, attrs map[string]any) bool {
	for _, c := range conds {
		if !holds(c, attrs) {
			return false
		}
	}
	return true
}

func holds(c models.Condition, attrs map[string]any) bool {
	actual, present := attrs[c.Field]

	switch c.Op {
	case OpExists:
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return want == (present && !empty(actual))
	case OpEq:
		return present && anyValue(actual, func(s string) bool { return fold(s) == fold(str(c.Value)) })
	case OpNeq:
		return !present || !anyValue(actual, func(s string) bool { return fold(s) == fold(str(c.Value)) })
	case OpContains:
		want := fold(str(c.Value))
		if values, ok := list(actual); ok {
			for _, v := range values {
				if fold(str(v)) == want {
					return true
				}
			}
			return false
		}
		return present && strings.Contains(fold(str(actual)), want)
	case OpPrefix:
		return present && anyValue(actual, func(s string) bool { return strings.HasPrefix(fold(s), fold(str(c.Value))) })
	case OpIn:
		options, ok := list(c.Value)
		if !ok || !present {
			return false
		}
		return anyValue(actual, func(s string) bool {
			for _, o := range options {
				if fold(s) == fold(str(o)) {
					return true
				}
			}
			return false
		})
	}
	return false
}

// anyValue applies fn to a scalar or to each element of a list.
func anyValue(v any, fn func(string) bool) bool {
	if values, ok := list(v); ok {
		for _, e := range values {
			if fn(str(e)) {
				return true
			}
		}
		return false
	}
	return fn(str(v))
}

func list(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func empty(v any) bool {
	if v == nil {
		return true
	}
	if values, ok := list(v); ok {
		return len(values) == 0
	}
	return str(v) == ""
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
