package policy

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"
)

// evalCondition applies one condition to a resolved field value. An
// unresolved field only satisfies negative operators.
func evalCondition(fieldValue interface{}, defined bool, cond Condition) bool {
	if !defined {
		fieldValue = nil
	}

	switch cond.Operator {
	case OpEq:
		return equalValues(fieldValue, cond.Value)
	case OpNeq:
		return !equalValues(fieldValue, cond.Value)
	case OpGt:
		c, ok := compareValues(fieldValue, cond.Value)
		return ok && c > 0
	case OpGte:
		c, ok := compareValues(fieldValue, cond.Value)
		return ok && c >= 0
	case OpLt:
		c, ok := compareValues(fieldValue, cond.Value)
		return ok && c < 0
	case OpLte:
		c, ok := compareValues(fieldValue, cond.Value)
		return ok && c <= 0
	case OpIn:
		return memberOf(cond.Value, fieldValue)
	case OpNotIn:
		return !memberOf(cond.Value, fieldValue)
	case OpContains:
		return containsValue(fieldValue, cond.Value)
	case OpMatches:
		s, ok := fieldValue.(string)
		if !ok {
			return false
		}
		pattern, ok := cond.Value.(string)
		if !ok {
			return false
		}
		return matchPattern(pattern, s)
	default:
		return false
	}
}

// equalValues compares two values for equality: exact for numerics,
// case-insensitive for strings.
func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return a == b
}

// compareValues orders two values. Numeric values compare as magnitudes with
// exact big-integer arithmetic when both sides are integral, so monetary
// base-unit strings never lose precision. Strings compare case-insensitively.
// Null sorts below any non-null value.
func compareValues(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, true
		case a == nil:
			return -1, true
		default:
			return 1, true
		}
	}

	if ai, aok := toBigInt(a); aok {
		if bi, bok := toBigInt(b); bok {
			return ai.Cmp(bi), true
		}
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(strings.ToLower(as), strings.ToLower(bs)), true
	}
	return 0, false
}

// toBigInt converts integral values (including integer strings and whole
// floats) to big.Int.
func toBigInt(v interface{}) (*big.Int, bool) {
	switch n := v.(type) {
	case int:
		return big.NewInt(int64(n)), true
	case int64:
		return big.NewInt(n), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return big.NewInt(int64(n)), true
		}
		return nil, false
	case json.Number:
		return new(big.Int).SetString(n.String(), 10)
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil, false
		}
		return new(big.Int).SetString(s, 10)
	case *big.Int:
		return n, true
	default:
		return nil, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// memberOf reports whether needle equals any element of set. The set side is
// the condition value, typically a JSON array.
func memberOf(set, needle interface{}) bool {
	switch s := set.(type) {
	case []interface{}:
		for _, item := range s {
			if equalValues(needle, item) {
				return true
			}
		}
	case []string:
		for _, item := range s {
			if equalValues(needle, item) {
				return true
			}
		}
	}
	return false
}

// containsValue handles the contains operator: substring match for strings,
// membership for slices.
func containsValue(field, needle interface{}) bool {
	switch f := field.(type) {
	case string:
		n, ok := needle.(string)
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(f), strings.ToLower(n))
	case []interface{}:
		for _, item := range f {
			if equalValues(item, needle) {
				return true
			}
		}
	case []string:
		for _, item := range f {
			if equalValues(item, needle) {
				return true
			}
		}
	}
	return false
}
