package query

import (
	"math"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Stage is one step of an aggregation pipeline.
type Stage interface {
	stage()
}

type MatchStage struct {
	Filter Expr
}

// GroupStage groups by Keys and computes one output column per accumulator.
// No keys means a single group over all documents.
type GroupStage struct {
	Keys         []GroupKey
	Accumulators []Accumulator
}

// GroupKey names a grouping field. Name is "_id" for a scalar group key.
type GroupKey struct {
	Name  string
	Field string
}

// Accumulator is an (output, function, source) triple. Field is empty for COUNT.
type Accumulator struct {
	Output string
	Func   AggFunc
	Field  string
}

type SortStage struct {
	Fields []SortField
}

// SortField orders by Field. Direction is 1 (ascending) or -1 (descending).
type SortField struct {
	Field     string
	Direction int
}

type LimitStage struct {
	Count int64
}

type SkipStage struct {
	Count int64
}

func (*MatchStage) stage() {}
func (*GroupStage) stage() {}
func (*SortStage) stage()  {}
func (*LimitStage) stage() {}
func (*SkipStage) stage()  {}

// ParsePipeline converts raw stage documents into stages keeping their order.
func ParsePipeline(pipeline []bson.D) ([]Stage, error) {
	stages := make([]Stage, 0, len(pipeline))

	for _, doc := range pipeline {
		if len(doc) != 1 {
			return nil, newError(InvalidOperatorValue, "", "", "a pipeline stage must have exactly one key")
		}

		st, err := parseStage(doc[0].Key, doc[0].Value)
		if err != nil {
			return nil, err
		}

		stages = append(stages, st)
	}

	return stages, nil
}

func parseStage(name string, val any) (Stage, error) {
	switch name {
	case "$match":
		doc, ok := asDoc(val)
		if !ok {
			return nil, newError(InvalidOperatorValue, "", name, "expected a filter document")
		}

		expr, err := ParseFilter(doc)
		if err != nil {
			return nil, err
		}

		return &MatchStage{Filter: expr}, nil

	case "$group":
		doc, ok := asDoc(val)
		if !ok {
			return nil, newError(InvalidOperatorValue, "", name, "expected a document")
		}

		return parseGroup(doc)

	case "$sort":
		doc, ok := asDoc(val)
		if !ok {
			return nil, newError(InvalidOperatorValue, "", name, "expected a document")
		}

		return ParseSort(doc)

	case "$limit":
		n, err := parseCount(name, val)
		if err != nil {
			return nil, err
		}

		if n == 0 {
			return nil, newError(InvalidOperatorValue, "", name, "limit must be positive")
		}

		return &LimitStage{Count: n}, nil

	case "$skip":
		n, err := parseCount(name, val)
		if err != nil {
			return nil, err
		}

		return &SkipStage{Count: n}, nil
	}

	return nil, newError(UnsupportedOperator, "", name, "")
}

func parseGroup(doc bson.D) (*GroupStage, error) {
	g := &GroupStage{}
	seenID := false

	for _, e := range doc {
		if e.Key == "_id" {
			seenID = true

			keys, err := parseGroupID(e.Value)
			if err != nil {
				return nil, err
			}

			g.Keys = keys

			continue
		}

		acc, err := parseAccumulator(e.Key, e.Value)
		if err != nil {
			return nil, err
		}

		g.Accumulators = append(g.Accumulators, acc)
	}

	if !seenID {
		return nil, newError(InvalidOperatorValue, "_id", "$group", "a group specification must include an _id")
	}

	return g, nil
}

func parseGroupID(val any) ([]GroupKey, error) {
	if val == nil {
		return nil, nil
	}

	if s, ok := val.(string); ok {
		field, err := fieldRef("_id", "$group", s)
		if err != nil {
			return nil, err
		}

		return []GroupKey{{Name: "_id", Field: field}}, nil
	}

	doc, ok := asDoc(val)
	if !ok {
		return nil, newError(InvalidOperatorValue, "_id", "$group", "expected a field reference or a document")
	}

	keys := make([]GroupKey, 0, len(doc))

	for _, e := range doc {
		s, ok := e.Value.(string)
		if !ok {
			return nil, newError(InvalidOperatorValue, "_id."+e.Key, "$group", "expected a field reference")
		}

		field, err := fieldRef("_id."+e.Key, "$group", s)
		if err != nil {
			return nil, err
		}

		keys = append(keys, GroupKey{Name: e.Key, Field: field})
	}

	return keys, nil
}

func parseAccumulator(output string, val any) (Accumulator, error) {
	doc, ok := asDoc(val)
	if !ok || len(doc) != 1 {
		return Accumulator{}, newError(InvalidOperatorValue, output, "$group",
			"an accumulator must be a document with exactly one operator")
	}

	op, arg := doc[0].Key, doc[0].Value

	var fn AggFunc

	switch op {
	case "$sum":
		fn = Sum
	case "$avg":
		fn = Avg
	case "$min":
		fn = Min
	case "$max":
		fn = Max
	case "$count":
		return Accumulator{Output: output, Func: Count}, nil
	default:
		return Accumulator{}, newError(UnsupportedOperator, output, op, "")
	}

	if fn == Sum {
		if n, ok := toInt(arg); ok {
			if n != 1 {
				return Accumulator{}, newError(InvalidOperatorValue, output, op, "only a constant of 1 is supported")
			}

			return Accumulator{Output: output, Func: Count}, nil
		}
	}

	s, ok := arg.(string)
	if !ok {
		return Accumulator{}, newError(InvalidOperatorValue, output, op, "expected a field reference")
	}

	field, err := fieldRef(output, op, s)
	if err != nil {
		return Accumulator{}, err
	}

	return Accumulator{Output: output, Func: fn, Field: field}, nil
}

// ParseSort converts a sort document. Directions other than 1 and -1 fail
// with InvalidSortDirection.
func ParseSort(doc bson.D) (*SortStage, error) {
	st := &SortStage{Fields: make([]SortField, 0, len(doc))}

	for _, e := range doc {
		dir, ok := toInt(e.Value)
		if !ok || (dir != 1 && dir != -1) {
			return nil, newError(InvalidSortDirection, e.Key, "$sort", "direction must be 1 or -1")
		}

		st.Fields = append(st.Fields, SortField{Field: e.Key, Direction: int(dir)})
	}

	return st, nil
}

func fieldRef(field, op, s string) (string, error) {
	name, ok := strings.CutPrefix(s, "$")
	if !ok || name == "" {
		return "", newError(InvalidOperatorValue, field, op, "expected a field reference like \"$name\"")
	}

	return name, nil
}

func parseCount(op string, val any) (int64, error) {
	n, ok := toInt(val)
	if !ok || n < 0 {
		return 0, newError(InvalidOperatorValue, "", op, "expected a non-negative integer")
	}

	return n, nil
}

// toInt accepts integers and integral floats.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > math.MaxInt64 {
			return 0, false
		}

		return int64(n), true
	}

	return 0, false
}
