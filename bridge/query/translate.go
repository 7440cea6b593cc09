package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Translator converts filter expressions and pipeline stages into dialect
// fragments. It holds no state besides the dialect and is safe for concurrent use.
type Translator struct {
	dialect Dialect
}

func NewTranslator(d Dialect) *Translator {
	return &Translator{dialect: d}
}

func (t *Translator) Dialect() Dialect {
	return t.dialect
}

type resolver func(field string) (Ref, error)

// Translate renders expr as a predicate.
func (t *Translator) Translate(expr Expr) (string, error) {
	return t.translate(expr, t.fieldRef)
}

func (t *Translator) fieldRef(field string) (Ref, error) {
	path, err := splitPath(field)
	if err != nil {
		return Ref{}, err
	}

	return t.dialect.Field(path), nil
}

func (t *Translator) translate(expr Expr, resolve resolver) (string, error) {
	switch e := expr.(type) {
	case nil:
		return AlwaysTrue, nil

	case *Logical:
		return t.translateLogical(e, resolve)

	case *Comparison:
		if e.Op == OpIn {
			values, ok := asArray(e.Value)
			if !ok {
				return "", newError(InvalidOperatorValue, e.Field, "$in", "expected an array")
			}

			return t.translateIn(e.Field, values, resolve)
		}

		return t.translateComparison(e, resolve)

	case *Membership:
		return t.translateIn(e.Field, e.Values, resolve)
	}

	return "", newError(UnsupportedOperator, "", fmt.Sprintf("%T", expr), "")
}

func (t *Translator) translateLogical(e *Logical, resolve resolver) (string, error) {
	var sep string

	switch e.Op {
	case And:
		if len(e.Children) == 0 {
			return AlwaysTrue, nil
		}

		sep = ") AND ("
	case Or:
		if len(e.Children) == 0 {
			return AlwaysFalse, nil
		}

		sep = ") OR ("
	default:
		return "", newError(UnsupportedOperator, "", string(e.Op), "")
	}

	parts := make([]string, len(e.Children))

	for i, child := range e.Children {
		s, err := t.translate(child, resolve)
		if err != nil {
			return "", err
		}

		parts[i] = s
	}

	return "(" + strings.Join(parts, sep) + ")", nil
}

func (t *Translator) translateComparison(e *Comparison, resolve resolver) (string, error) {
	op := "$" + string(e.Op)

	sym, known := symbols[e.Op]
	if !known && e.Op != OpRegex {
		return "", newError(UnsupportedOperator, e.Field, op, "")
	}

	ref, err := resolve(e.Field)
	if err != nil {
		return "", err
	}

	if e.Op == OpRegex {
		pattern, ok := e.Value.(string)
		if !ok {
			return "", newError(InvalidOperatorValue, e.Field, op, "the pattern must be a string")
		}

		return t.dialect.Contains(ref, pattern), nil
	}

	lit, err := toLiteral(e.Field, op, e.Value)
	if err != nil {
		return "", err
	}

	return t.dialect.Operand(ref, lit) + " " + sym + " " + t.dialect.Literal(ref, lit), nil
}

func (t *Translator) translateIn(field string, values []any, resolve resolver) (string, error) {
	ref, err := resolve(field)
	if err != nil {
		return "", err
	}

	if len(values) == 0 {
		return AlwaysFalse, nil
	}

	// Literals are grouped by their operand. Dialects compare text through a
	// different operand than numbers, so a mixed array becomes one IN per
	// operand joined with OR.
	var (
		operands []string
		groups   = make(map[string][]string)
	)

	for _, v := range values {
		lit, err := toLiteral(field, "$in", v)
		if err != nil {
			return "", err
		}

		op := t.dialect.Operand(ref, lit)
		if _, ok := groups[op]; !ok {
			operands = append(operands, op)
		}

		groups[op] = append(groups[op], t.dialect.Literal(ref, lit))
	}

	parts := make([]string, len(operands))
	for i, op := range operands {
		parts[i] = op + " IN (" + strings.Join(groups[op], ", ") + ")"
	}

	if len(parts) == 1 {
		return parts[0], nil
	}

	return "(" + strings.Join(parts, " OR ") + ")", nil
}

// toLiteral converts a scalar. Object ids become their hex string.
func toLiteral(field, op string, v any) (Literal, error) {
	switch x := v.(type) {
	case string:
		return Literal{kind: litText, raw: x}, nil
	case bson.ObjectID:
		return Literal{kind: litText, raw: x.Hex()}, nil
	case bool:
		return Literal{kind: litBool, raw: strconv.FormatBool(x)}, nil
	case int:
		return Literal{kind: litNumber, raw: strconv.FormatInt(int64(x), 10)}, nil
	case int8:
		return Literal{kind: litNumber, raw: strconv.FormatInt(int64(x), 10)}, nil
	case int16:
		return Literal{kind: litNumber, raw: strconv.FormatInt(int64(x), 10)}, nil
	case int32:
		return Literal{kind: litNumber, raw: strconv.FormatInt(int64(x), 10)}, nil
	case int64:
		return Literal{kind: litNumber, raw: strconv.FormatInt(x, 10)}, nil
	case uint:
		return Literal{kind: litNumber, raw: strconv.FormatUint(uint64(x), 10)}, nil
	case uint8:
		return Literal{kind: litNumber, raw: strconv.FormatUint(uint64(x), 10)}, nil
	case uint16:
		return Literal{kind: litNumber, raw: strconv.FormatUint(uint64(x), 10)}, nil
	case uint32:
		return Literal{kind: litNumber, raw: strconv.FormatUint(uint64(x), 10)}, nil
	case uint64:
		return Literal{kind: litNumber, raw: strconv.FormatUint(x, 10)}, nil
	case float32:
		return floatLiteral(field, op, float64(x), 32)
	case float64:
		return floatLiteral(field, op, x, 64)
	case bson.Decimal128:
		s := x.String()
		if strings.Contains(s, "NaN") || strings.Contains(s, "Inf") {
			return Literal{}, newError(UnsupportedLiteralType, field, op, "non-finite number "+s)
		}

		return Literal{kind: litNumber, raw: s}, nil
	case nil:
		return Literal{}, newError(UnsupportedLiteralType, field, op, "null")
	}

	return Literal{}, newError(UnsupportedLiteralType, field, op, literalTypeName(v))
}

func floatLiteral(field, op string, f float64, bits int) (Literal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Literal{}, newError(UnsupportedLiteralType, field, op, "non-finite number")
	}

	return Literal{kind: litNumber, raw: strconv.FormatFloat(f, 'g', -1, bits)}, nil
}

func literalTypeName(v any) string {
	switch v.(type) {
	case bson.D, bson.M, map[string]any:
		return "document"
	case bson.A, []any:
		return "array"
	}

	return fmt.Sprintf("%T", v)
}

// TranslateStage translates one pipeline stage into b. A match after a group
// becomes a having fragment. Fields after a group resolve to group outputs.
func (t *Translator) TranslateStage(stage Stage, b *PlanBuilder) error {
	switch st := stage.(type) {
	case *MatchStage:
		if b.paged {
			return newError(UnsupportedOperator, "", "$match", "a match cannot follow $skip or $limit")
		}

		if b.grouped {
			s, err := t.translate(st.Filter, b.groupRef)
			if err != nil {
				return err
			}

			b.having = append(b.having, s)

			return nil
		}

		s, err := t.Translate(st.Filter)
		if err != nil {
			return err
		}

		b.where = append(b.where, s)
		if st.Filter != nil {
			b.filters = append(b.filters, st.Filter)
		}

		return nil

	case *GroupStage:
		return t.translateGroup(st, b)

	case *SortStage:
		return t.translateSort(st, b)

	case *LimitStage:
		return b.SetLimit(st.Count)

	case *SkipStage:
		return b.SetOffset(st.Count)
	}

	return newError(UnsupportedOperator, "", fmt.Sprintf("%T", stage), "")
}

func (t *Translator) translateGroup(st *GroupStage, b *PlanBuilder) error {
	switch {
	case b.grouped:
		return newError(UnsupportedOperator, "", "$group", "only one $group stage is supported")
	case len(b.sort) != 0 || b.paged:
		return newError(UnsupportedOperator, "", "$group", "$group must precede sort and pagination stages")
	case b.projected:
		return newError(InvalidOperatorValue, "", "$group", "a projection cannot be combined with $group")
	case len(st.Keys) == 0 && len(st.Accumulators) == 0:
		return newError(InvalidOperatorValue, "", "$group", "nothing to compute")
	}

	names := make(map[string]struct{}, len(st.Keys)+len(st.Accumulators))

	keyRefs := make([]Ref, len(st.Keys))

	for i, k := range st.Keys {
		if k.Name != "_id" && !isOutputName(k.Name) {
			return newError(InvalidFieldName, k.Name, "$group", "invalid group key name")
		}

		if _, dup := names[k.Name]; dup {
			return newError(InvalidFieldName, k.Name, "$group", "duplicate output name")
		}

		names[k.Name] = struct{}{}

		ref, err := t.fieldRef(k.Field)
		if err != nil {
			return err
		}

		keyRefs[i] = ref
	}

	aggRefs := make([]Ref, len(st.Accumulators))

	for i, a := range st.Accumulators {
		if !isOutputName(a.Output) {
			return newError(InvalidFieldName, a.Output, "$group", "invalid output name")
		}

		if _, dup := names[a.Output]; dup {
			return newError(InvalidFieldName, a.Output, "$group", "duplicate output name")
		}

		names[a.Output] = struct{}{}

		switch a.Func {
		case Count:
			aggRefs[i] = t.dialect.Aggregate(Count, nil)

			continue
		case Sum, Avg, Min, Max:
		default:
			return newError(UnsupportedOperator, a.Output, string(a.Func), "")
		}

		path, err := splitPath(a.Field)
		if err != nil {
			return err
		}

		aggRefs[i] = t.dialect.Aggregate(a.Func, path)
	}

	b.grouped = true
	b.groupKeys = append(b.groupKeys, st.Keys...)
	b.keyRefs = keyRefs
	b.aggs = append(b.aggs, st.Accumulators...)
	b.aggRefs = aggRefs

	return nil
}

func (t *Translator) translateSort(st *SortStage, b *PlanBuilder) error {
	if b.paged {
		return newError(UnsupportedOperator, "", "$sort", "a sort cannot follow $skip or $limit")
	}

	resolve := resolver(t.fieldRef)
	if b.grouped {
		resolve = b.groupRef
	}

	for _, f := range st.Fields {
		var dir string

		switch f.Direction {
		case 1:
			dir = " ASC"
		case -1:
			dir = " DESC"
		default:
			return newError(InvalidSortDirection, f.Field, "$sort",
				"direction must be 1 or -1, got "+strconv.Itoa(f.Direction))
		}

		ref, err := resolve(f.Field)
		if err != nil {
			return err
		}

		b.sort = append(b.sort, f)
		b.orderBy = append(b.orderBy, ref.Expr+dir)
	}

	return nil
}

// groupRef resolves a post-group field: "_id" or a compound key name
// ("_id.k" or "k") to the grouping expression, an output to its aggregate.
func (b *PlanBuilder) groupRef(field string) (Ref, error) {
	for i, k := range b.groupKeys {
		if field == k.Name || (k.Name != "_id" && field == "_id."+k.Name) {
			return b.keyRefs[i], nil
		}
	}

	for i, a := range b.aggs {
		if field == a.Output {
			return b.aggRefs[i], nil
		}
	}

	return Ref{}, newError(InvalidFieldName, field, "", "not an output of $group")
}

func isOutputName(name string) bool {
	return validSegment(name) && !strings.ContainsAny(name, " -")
}
