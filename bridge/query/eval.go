package query

import (
	"cmp"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Match evaluates expr against a decoded document. It backs stores that
// cannot run rendered statements. Values of different types never compare
// equal, and a missing field only satisfies $ne.
func Match(expr Expr, doc map[string]any) (bool, error) {
	switch e := expr.(type) {
	case nil:
		return true, nil

	case *Logical:
		switch e.Op {
		case And:
			for _, c := range e.Children {
				ok, err := Match(c, doc)
				if err != nil || !ok {
					return false, err
				}
			}

			return true, nil
		case Or:
			for _, c := range e.Children {
				ok, err := Match(c, doc)
				if err != nil || ok {
					return ok, err
				}
			}

			return false, nil
		}

		return false, newError(UnsupportedOperator, "", string(e.Op), "")

	case *Membership:
		return matchIn(e.Field, e.Values, doc)

	case *Comparison:
		if e.Op == OpIn {
			values, ok := asArray(e.Value)
			if !ok {
				return false, newError(InvalidOperatorValue, e.Field, "$in", "expected an array")
			}

			return matchIn(e.Field, values, doc)
		}

		return matchComparison(e, doc)
	}

	return false, newError(UnsupportedOperator, "", "", "unknown expression")
}

func matchComparison(e *Comparison, doc map[string]any) (bool, error) {
	op := "$" + string(e.Op)

	if e.Op == OpRegex {
		pattern, ok := e.Value.(string)
		if !ok {
			return false, newError(InvalidOperatorValue, e.Field, op, "the pattern must be a string")
		}

		v, _ := Lookup(doc, e.Field)
		s, ok := v.(string)

		return ok && strings.Contains(s, pattern), nil
	}

	if _, known := symbols[e.Op]; !known {
		return false, newError(UnsupportedOperator, e.Field, op, "")
	}

	want, err := toLiteral(e.Field, op, e.Value)
	if err != nil {
		return false, err
	}

	v, found := Lookup(doc, e.Field)

	got, err := toLiteral(e.Field, op, v)
	if !found || err != nil || got.kind != want.kind {
		return e.Op == OpNe, nil //nolint:nilerr
	}

	c := compareLiterals(got, want)

	switch e.Op {
	case OpEq:
		return c == 0, nil
	case OpNe:
		return c != 0, nil
	case OpGt:
		return c > 0, nil
	case OpGte:
		return c >= 0, nil
	case OpLt:
		return c < 0, nil
	case OpLte:
		return c <= 0, nil
	case OpIn, OpRegex:
	}

	return false, nil
}

func matchIn(field string, values []any, doc map[string]any) (bool, error) {
	v, found := Lookup(doc, field)
	got, gerr := toLiteral(field, "$in", v)

	for _, item := range values {
		want, err := toLiteral(field, "$in", item)
		if err != nil {
			return false, err
		}

		if found && gerr == nil && got.kind == want.kind && compareLiterals(got, want) == 0 {
			return true, nil
		}
	}

	return false, nil
}

func compareLiterals(a, b Literal) int {
	if a.kind == litNumber {
		x, _ := strconv.ParseFloat(a.raw, 64)
		y, _ := strconv.ParseFloat(b.raw, 64)

		return cmp.Compare(x, y)
	}

	return strings.Compare(a.raw, b.raw)
}

// Compare orders two field values: missing or unsupported values first, then
// strings, numbers and booleans.
func Compare(a, b any) int {
	la, erra := toLiteral("", "", a)
	lb, errb := toLiteral("", "", b)

	rank := func(l Literal, err error) int {
		if err != nil {
			return 0
		}

		return int(l.kind) + 1
	}

	ra, rb := rank(la, erra), rank(lb, errb)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}

	if ra == 0 {
		return 0
	}

	return compareLiterals(la, lb)
}

// Lookup walks a dotted path through nested documents.
func Lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc

	for seg := range strings.SplitSeq(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}

			cur = v
		case bson.M:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}

			cur = v
		case bson.D:
			found := false

			for _, e := range m {
				if e.Key == seg {
					cur, found = e.Value, true

					break
				}
			}

			if !found {
				return nil, false
			}
		default:
			return nil, false
		}
	}

	return cur, true
}
