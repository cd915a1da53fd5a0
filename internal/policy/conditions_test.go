package policy

import (
	"testing"
	"time"
)

func TestCompareBigIntegerExact(t *testing.T) {
	// These differ only in the last digit and exceed float64 precision;
	// approximate comparison would call them equal.
	a := "100000000000000000000000001"
	b := "100000000000000000000000002"

	c, ok := compareValues(a, b)
	if !ok || c != -1 {
		t.Errorf("compare(%s, %s) = %d, %v", a, b, c, ok)
	}
	c, ok = compareValues(b, a)
	if !ok || c != 1 {
		t.Errorf("compare(%s, %s) = %d, %v", b, a, c, ok)
	}
	c, ok = compareValues(a, a)
	if !ok || c != 0 {
		t.Errorf("compare(%s, %s) = %d, %v", a, a, c, ok)
	}
}

func TestCompareMixedNumericTypes(t *testing.T) {
	// JSON decodes numbers to float64; strings carry big amounts.
	if c, ok := compareValues("1000", float64(999)); !ok || c != 1 {
		t.Errorf("string vs float: %d, %v", c, ok)
	}
	if c, ok := compareValues(5, int64(5)); !ok || c != 0 {
		t.Errorf("int vs int64: %d, %v", c, ok)
	}
}

func TestCompareStringsCaseInsensitive(t *testing.T) {
	if c, ok := compareValues("ABC", "abc"); !ok || c != 0 {
		t.Errorf("case-insensitive equality: %d, %v", c, ok)
	}
	if c, ok := compareValues("apple", "Banana"); !ok || c != -1 {
		t.Errorf("ordered strings: %d, %v", c, ok)
	}
}

func TestCompareNullSortsLow(t *testing.T) {
	if c, ok := compareValues(nil, "anything"); !ok || c != -1 {
		t.Errorf("nil vs value: %d, %v", c, ok)
	}
	if c, ok := compareValues("anything", nil); !ok || c != 1 {
		t.Errorf("value vs nil: %d, %v", c, ok)
	}
	if c, ok := compareValues(nil, nil); !ok || c != 0 {
		t.Errorf("nil vs nil: %d, %v", c, ok)
	}
}

func TestEvalConditionOperators(t *testing.T) {
	cases := []struct {
		name  string
		value interface{}
		cond  Condition
		want  bool
	}{
		{"eq match", "transfer", Condition{Operator: OpEq, Value: "transfer"}, true},
		{"eq case-insensitive", "Transfer", Condition{Operator: OpEq, Value: "transfer"}, true},
		{"neq", "swap", Condition{Operator: OpNeq, Value: "transfer"}, true},
		{"gt", "200", Condition{Operator: OpGt, Value: "100"}, true},
		{"gt equal", "100", Condition{Operator: OpGt, Value: "100"}, false},
		{"gte equal", "100", Condition{Operator: OpGte, Value: "100"}, true},
		{"lt", "50", Condition{Operator: OpLt, Value: "100"}, true},
		{"lte above", "150", Condition{Operator: OpLte, Value: "100"}, false},
		{"in", "b", Condition{Operator: OpIn, Value: []interface{}{"a", "b"}}, true},
		{"in miss", "c", Condition{Operator: OpIn, Value: []interface{}{"a", "b"}}, false},
		{"notIn", "c", Condition{Operator: OpNotIn, Value: []interface{}{"a", "b"}}, true},
		{"contains substring", "hello world", Condition{Operator: OpContains, Value: "WORLD"}, true},
		{"contains miss", "hello", Condition{Operator: OpContains, Value: "xyz"}, false},
		{"matches", "agent-007", Condition{Operator: OpMatches, Value: `^agent-\d+$`}, true},
		{"matches miss", "agent-x", Condition{Operator: OpMatches, Value: `^agent-\d+$`}, false},
		{"unknown operator", "x", Condition{Operator: "like", Value: "x"}, false},
	}
	for _, tc := range cases {
		if got := evalCondition(tc.value, true, tc.cond); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestEvalConditionUndefinedField(t *testing.T) {
	// Undefined resolves as null: positive operators fail, negative pass.
	if evalCondition(nil, false, Condition{Operator: OpEq, Value: "x"}) {
		t.Error("eq on undefined must fail")
	}
	if !evalCondition(nil, false, Condition{Operator: OpNeq, Value: "x"}) {
		t.Error("neq on undefined must pass")
	}
	if !evalCondition(nil, false, Condition{Operator: OpNotIn, Value: []interface{}{"x"}}) {
		t.Error("notIn on undefined must pass")
	}
}

func TestResolveField(t *testing.T) {
	pc := &Context{
		Action:    "transfer",
		Actor:     "0xabc",
		Amount:    "100",
		ChainID:   84532,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"memo": "rent",
			"meta": map[string]interface{}{"source": "scheduler"},
		},
	}

	if v, ok := resolveField(pc, "action"); !ok || v != "transfer" {
		t.Errorf("action = %v, %v", v, ok)
	}
	if v, ok := resolveField(pc, "chainId"); !ok || v != int64(84532) {
		t.Errorf("chainId = %v, %v", v, ok)
	}
	if v, ok := resolveField(pc, "data.memo"); !ok || v != "rent" {
		t.Errorf("data.memo = %v, %v", v, ok)
	}
	if v, ok := resolveField(pc, "data.meta.source"); !ok || v != "scheduler" {
		t.Errorf("data.meta.source = %v, %v", v, ok)
	}
	if _, ok := resolveField(pc, "data.absent"); ok {
		t.Error("missing data key must be undefined")
	}
	if _, ok := resolveField(pc, "data.memo.deeper"); ok {
		t.Error("path through a scalar must be undefined")
	}
	if _, ok := resolveField(pc, "unknown"); ok {
		t.Error("unknown top-level field must be undefined")
	}
}
