package evaluator

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/tidwall/gjson"
)

// expr is a compiled predicate node. Every node's eval reports a match
// result or an error; per the error-containment policy, a predicate error
// anywhere in the conjunction causes the whole event to be dropped rather
// than partially matched.
type expr interface {
	eval(props map[string]any) (bool, error)
}

type comparison struct {
	path    string
	op      string
	literal any
}

func (c comparison) eval(props map[string]any) (bool, error) {
	v, ok := extractProperty(props, c.path)
	if !ok {
		return false, fmt.Errorf("property %q not found", c.path)
	}
	switch c.op {
	case "=":
		return valuesEqual(v, c.literal), nil
	case "!=":
		return !valuesEqual(v, c.literal), nil
	case "<", "<=", ">", ">=":
		vf, vok := toFloat64(v)
		lf, lok := toFloat64(c.literal)
		if !vok || !lok {
			return false, fmt.Errorf("cannot order-compare property %q (value %v, literal %v)", c.path, v, c.literal)
		}
		switch c.op {
		case "<":
			return vf < lf, nil
		case "<=":
			return vf <= lf, nil
		case ">":
			return vf > lf, nil
		case ">=":
			return vf >= lf, nil
		}
	}
	return false, fmt.Errorf("unsupported operator %q", c.op)
}

// notExists implements the "NOT EXISTS(var.property)" idiom: a property is
// considered absent if the key is missing OR its value is the boolean
// false. This is a deliberate, idiosyncratic carry-over from the source
// behavior, not a bug.
type notExists struct {
	path string
}

func (n notExists) eval(props map[string]any) (bool, error) {
	v, ok := extractProperty(props, n.path)
	if !ok {
		return true, nil
	}
	if b, isBool := v.(bool); isBool && !b {
		return true, nil
	}
	return false, nil
}

type conjunction struct {
	terms []expr
}

func (c conjunction) eval(props map[string]any) (bool, error) {
	for _, t := range c.terms {
		ok, err := t.eval(props)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// extractProperty reads path out of props. A path with no "." is a direct
// key lookup; a dotted path (an extension beyond the single var.property
// grammar, for nested scalar mappings) is resolved with gjson against the
// properties marshaled as JSON.
func extractProperty(props map[string]any, path string) (any, bool) {
	if !strings.Contains(path, ".") {
		v, ok := props[path]
		return v, ok
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func valuesEqual(a, b any) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}
