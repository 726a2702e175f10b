package docstore

import (
	"fmt"
	"reflect"
	"strings"
)

// Op is a filter operator applied to a single document field.
type Op string

const (
	OpEq  Op = "=="
	OpNeq Op = "!="
	OpIn  Op = "in"
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Operand maps operators to their comparison values. Multiple operators on
// one field combine with AND.
type Operand map[Op]any

// Where maps field names to operands. Multiple fields combine with AND.
type Where map[string]Operand

// Condition is a sequence of Where groups combined with OR. A nil or empty
// condition matches every document. The common single-group case is written
// Condition{Where{...}}.
type Condition []Where

// Match evaluates the condition against a decoded document. Values are
// compared on their text projection, which is exact for the string-typed
// fields (keys, statuses, RFC3339 dates) this system filters on.
func (c Condition) Match(doc Doc) bool {
	if len(c) == 0 {
		return true
	}
	for _, w := range c {
		if w.match(doc) {
			return true
		}
	}
	return false
}

func (w Where) match(doc Doc) bool {
	for field, operand := range w {
		val, ok := doc[field]
		if !ok {
			return false
		}
		for op, want := range operand {
			if !matchOp(op, val, want) {
				return false
			}
		}
	}
	return true
}

func matchOp(op Op, val, want any) bool {
	switch op {
	case OpEq:
		return asText(val) == asText(want)
	case OpNeq:
		return asText(val) != asText(want)
	case OpLt:
		return asText(val) < asText(want)
	case OpLte:
		return asText(val) <= asText(want)
	case OpGt:
		return asText(val) > asText(want)
	case OpGte:
		return asText(val) >= asText(want)
	case OpIn:
		rv := reflect.ValueOf(want)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if asText(val) == asText(rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}
	return false
}

// asText normalizes scalar values for comparison so that JSON-decoded
// float64s compare equal to the ints they round-tripped from.
func asText(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
	case float32:
		return asText(float64(n))
	}
	return fmt.Sprintf("%v", v)
}

// validField guards field names interpolated into SQL json accessors. Fields
// come from the closed collection registry, so anything else is a bug.
func validField(name string) error {
	if name == "" {
		return fmt.Errorf("empty field name in condition")
	}
	if strings.ContainsAny(name, "'\"\\ \t\n;") {
		return fmt.Errorf("invalid field name in condition: %q", name)
	}
	return nil
}
