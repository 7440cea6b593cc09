package query

import (
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEq    Operator = "eq"
	OpNe    Operator = "ne"
	OpGt    Operator = "gt"
	OpGte   Operator = "gte"
	OpLt    Operator = "lt"
	OpLte   Operator = "lte"
	OpIn    Operator = "in"
	OpRegex Operator = "regex"
)

//nolint:gochecknoglobals
var symbols = map[Operator]string{
	OpEq:  "=",
	OpNe:  "!=",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// LogicalOp combines child expressions.
type LogicalOp string

const (
	And LogicalOp = "AND"
	Or  LogicalOp = "OR"
)

// Expr is a node of a filter expression tree.
type Expr interface {
	expr()
}

// Comparison compares a field with a literal.
type Comparison struct {
	Field string
	Op    Operator
	Value any
}

// Logical joins its children with AND or OR in order.
type Logical struct {
	Op       LogicalOp
	Children []Expr
}

// Membership tests a field against a set of literals.
type Membership struct {
	Field  string
	Values []any
}

func (*Comparison) expr() {}
func (*Logical) expr()    {}
func (*Membership) expr() {}

// ParseFilter converts a raw filter document into an expression tree.
// Several top-level keys form an implicit AND. An empty filter is an empty AND.
func ParseFilter(filter bson.D) (Expr, error) {
	children := make([]Expr, 0, len(filter))

	for _, e := range filter {
		var (
			child Expr
			err   error
		)

		if strings.HasPrefix(e.Key, "$") {
			child, err = parseLogical(e.Key, e.Value)
		} else {
			child, err = parseField(e.Key, e.Value)
		}

		if err != nil {
			return nil, err
		}

		children = append(children, child)
	}

	if len(children) == 1 {
		return children[0], nil
	}

	return &Logical{Op: And, Children: children}, nil
}

func parseLogical(key string, val any) (Expr, error) {
	var op LogicalOp

	switch key {
	case "$and":
		op = And
	case "$or":
		op = Or
	default:
		return nil, newError(UnsupportedOperator, "", key, "")
	}

	items, ok := asArray(val)
	if !ok {
		return nil, newError(InvalidOperatorValue, "", key, "expected an array of filters")
	}

	children := make([]Expr, 0, len(items))

	for _, item := range items {
		doc, ok := asDoc(item)
		if !ok {
			return nil, newError(InvalidOperatorValue, "", key, "expected an array of filters")
		}

		child, err := ParseFilter(doc)
		if err != nil {
			return nil, err
		}

		children = append(children, child)
	}

	return &Logical{Op: op, Children: children}, nil
}

func parseField(field string, val any) (Expr, error) {
	if re, ok := val.(bson.Regex); ok {
		return &Comparison{Field: field, Op: OpRegex, Value: re.Pattern}, nil
	}

	doc, ok := asDoc(val)
	if !ok || !isOperatorDoc(doc) {
		return &Comparison{Field: field, Op: OpEq, Value: val}, nil
	}

	preds := make([]Expr, 0, len(doc))

	for _, e := range doc {
		if !strings.HasPrefix(e.Key, "$") {
			return nil, newError(InvalidOperatorValue, field, e.Key,
				"operator document mixes operators and fields")
		}

		switch e.Key {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
			preds = append(preds, &Comparison{Field: field, Op: Operator(e.Key[1:]), Value: e.Value})
		case "$in":
			items, ok := asArray(e.Value)
			if !ok {
				return nil, newError(InvalidOperatorValue, field, e.Key, "expected an array")
			}

			preds = append(preds, &Membership{Field: field, Values: items})
		case "$regex":
			v := e.Value
			if re, ok := v.(bson.Regex); ok {
				v = re.Pattern
			}

			preds = append(preds, &Comparison{Field: field, Op: OpRegex, Value: v})
		default:
			return nil, newError(UnsupportedOperator, field, e.Key, "")
		}
	}

	if len(preds) == 1 {
		return preds[0], nil
	}

	return &Logical{Op: And, Children: preds}, nil
}

func isOperatorDoc(doc bson.D) bool {
	return len(doc) != 0 && strings.HasPrefix(doc[0].Key, "$")
}

func asDoc(v any) (bson.D, bool) {
	switch d := v.(type) {
	case bson.D:
		return d, true
	case bson.M:
		return sortedDoc(d), true
	case map[string]any:
		return sortedDoc(d), true
	}

	return nil, false
}

func asArray(v any) ([]any, bool) {
	switch a := v.(type) {
	case bson.A:
		return []any(a), true
	case []any:
		return a, true
	}

	return nil, false
}

// sortedDoc orders map keys so that translation stays deterministic.
func sortedDoc(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	doc := make(bson.D, 0, len(keys))
	for _, k := range keys {
		doc = append(doc, bson.E{Key: k, Value: m[k]})
	}

	return doc
}
