package query

import (
	"slices"
	"strconv"
	"strings"
)

// Plan is an immutable, fully rendered query. Accessors return copies.
type Plan struct {
	dialect   Dialect
	container string

	projection []string
	exclusion  []string

	filter    Expr
	predicate string

	groupKeys    []GroupKey
	accumulators []Accumulator
	groupBy      []string
	having       []string

	sort    []SortField
	orderBy string

	offset int64
	limit  int64

	columns   []string
	statement string
}

func (p *Plan) Dialect() Dialect {
	return p.dialect
}

func (p *Plan) Container() string {
	return p.container
}

// Projection lists the included fields. Nil means all fields.
func (p *Plan) Projection() []string {
	return slices.Clone(p.projection)
}

func (p *Plan) Wildcard() bool {
	return len(p.projection) == 0 && !p.Grouped()
}

// Exclusion lists fields to drop from every result document.
func (p *Plan) Exclusion() []string {
	return slices.Clone(p.exclusion)
}

// Filter is the expression behind the where-clause, nil if there is none.
// Expression trees are shared and must not be modified.
func (p *Plan) Filter() Expr {
	return p.filter
}

// Predicate is the rendered where-clause condition.
func (p *Plan) Predicate() string {
	return p.predicate
}

func (p *Plan) Grouped() bool {
	return len(p.groupKeys) != 0 || len(p.accumulators) != 0
}

// GroupBy lists the grouping field names.
func (p *Plan) GroupBy() []string {
	return slices.Clone(p.groupBy)
}

func (p *Plan) GroupKeys() []GroupKey {
	return slices.Clone(p.groupKeys)
}

func (p *Plan) Accumulators() []Accumulator {
	return slices.Clone(p.accumulators)
}

func (p *Plan) Having() []string {
	return slices.Clone(p.having)
}

func (p *Plan) Sort() []SortField {
	return slices.Clone(p.sort)
}

// OrderBy is the rendered order-by list without the keyword.
func (p *Plan) OrderBy() string {
	return p.orderBy
}

// Offset is the rendered offset, empty if unset.
func (p *Plan) Offset() string {
	if p.offset == 0 {
		return ""
	}

	return strconv.FormatInt(p.offset, 10)
}

// Limit is the rendered limit, empty if unset.
func (p *Plan) Limit() string {
	if p.limit == 0 {
		return ""
	}

	return strconv.FormatInt(p.limit, 10)
}

func (p *Plan) SkipCount() int64 {
	return p.offset
}

func (p *Plan) LimitCount() int64 {
	return p.limit
}

// Columns names the result columns in select order.
func (p *Plan) Columns() []string {
	return slices.Clone(p.columns)
}

func (p *Plan) Statement() string {
	return p.statement
}

func (p *Plan) String() string {
	return p.statement
}

// PlanBuilder accumulates translated stages.
type PlanBuilder struct {
	dialect   Dialect
	container string

	include   []string
	exclude   []string
	projected bool

	filters []Expr
	where   []string

	grouped   bool
	groupKeys []GroupKey
	keyRefs   []Ref
	aggs      []Accumulator
	aggRefs   []Ref
	having    []string

	sort    []SortField
	orderBy []string

	paged     bool
	offset    int64
	offsetSet bool
	limit     int64
	limitSet  bool
}

func NewPlanBuilder(d Dialect, container string) *PlanBuilder {
	return &PlanBuilder{dialect: d, container: container}
}

// SetLimit sets the limit. A second, different limit fails with DuplicateLimitClause.
func (b *PlanBuilder) SetLimit(n int64) error {
	if n <= 0 {
		return newError(InvalidOperatorValue, "", "$limit", "limit must be positive")
	}

	if b.limitSet && b.limit != n {
		return newError(DuplicateLimitClause, "", "$limit",
			"limit already set to "+strconv.FormatInt(b.limit, 10))
	}

	b.limit, b.limitSet, b.paged = n, true, true

	return nil
}

// SetOffset sets the offset. A second offset fails with DuplicateSkipClause
// since skips add up. An offset after a limit cannot be expressed by a single
// OFFSET/LIMIT pair and fails with UnsupportedOperator.
func (b *PlanBuilder) SetOffset(n int64) error {
	if n < 0 {
		return newError(InvalidOperatorValue, "", "$skip", "skip must not be negative")
	}

	if b.offsetSet {
		return newError(DuplicateSkipClause, "", "$skip",
			"skip already set to "+strconv.FormatInt(b.offset, 10))
	}

	if b.limitSet {
		return newError(UnsupportedOperator, "", "$skip", "a skip cannot follow $limit")
	}

	b.offset, b.offsetSet, b.paged = n, true, true

	return nil
}

// SetProjection sets included or excluded fields. Paths must be validated.
func (b *PlanBuilder) SetProjection(include, exclude []string) error {
	if b.grouped {
		return newError(InvalidOperatorValue, "", "$project", "a projection cannot be combined with $group")
	}

	b.include = slices.Clone(include)
	b.exclude = slices.Clone(exclude)
	b.projected = len(include) != 0 || len(exclude) != 0

	return nil
}

// Plan renders the accumulated fragments into a plan.
func (b *PlanBuilder) Plan() *Plan {
	p := &Plan{
		dialect:      b.dialect,
		container:    b.container,
		projection:   slices.Clone(b.include),
		exclusion:    slices.Clone(b.exclude),
		groupKeys:    slices.Clone(b.groupKeys),
		accumulators: slices.Clone(b.aggs),
		having:       slices.Clone(b.having),
		sort:         slices.Clone(b.sort),
		orderBy:      strings.Join(b.orderBy, ", "),
		offset:       b.offset,
		limit:        b.limit,
	}

	switch len(b.filters) {
	case 0:
	case 1:
		p.filter = b.filters[0]
	default:
		p.filter = &Logical{Op: And, Children: slices.Clone(b.filters)}
	}

	p.predicate = conjunction(b.where, AlwaysTrue)

	for _, k := range b.groupKeys {
		p.groupBy = append(p.groupBy, k.Field)
	}

	d := b.dialect

	var sel []string

	switch {
	case b.grouped:
		for i, k := range b.groupKeys {
			sel = append(sel, b.keyRefs[i].Expr+" AS "+d.Ident(k.Name))
			p.columns = append(p.columns, k.Name)
		}

		for i, a := range b.aggs {
			sel = append(sel, b.aggRefs[i].Expr+" AS "+d.Ident(a.Output))
			p.columns = append(p.columns, a.Output)
		}
	case len(b.include) != 0:
		for _, f := range b.include {
			sel = append(sel, d.Project(strings.Split(f, ".")))
			p.columns = append(p.columns, f)
		}
	default:
		sel = append(sel, d.All())
		p.columns = append(p.columns, "doc")
	}

	var sb strings.Builder

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(sel, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(d.From(b.container))

	if p.predicate != AlwaysTrue {
		sb.WriteString(" WHERE ")
		sb.WriteString(p.predicate)
	}

	if len(b.keyRefs) != 0 {
		refs := make([]string, len(b.keyRefs))
		for i, r := range b.keyRefs {
			refs[i] = r.Expr
		}

		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(refs, ", "))
	}

	if len(b.having) != 0 {
		sb.WriteString(" HAVING ")
		sb.WriteString(conjunction(b.having, AlwaysTrue))
	}

	if p.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(p.orderBy)
	}

	if page := d.Page(b.offset, b.limit); page != "" {
		sb.WriteString(" ")
		sb.WriteString(page)
	}

	p.statement = sb.String()

	return p
}

// conjunction ANDs fragments, wrapping each in parentheses when there are several.
// Always-true fragments are dropped.
func conjunction(parts []string, empty string) string {
	kept := make([]string, 0, len(parts))

	for _, s := range parts {
		if s != AlwaysTrue {
			kept = append(kept, s)
		}
	}

	switch len(kept) {
	case 0:
		return empty
	case 1:
		return kept[0]
	}

	return "(" + strings.Join(kept, ") AND (") + ")"
}
