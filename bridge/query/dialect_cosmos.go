package query

import (
	"math"
	"strconv"
	"strings"
)

// Cosmos renders the Cosmos DB SQL API: fields hang off the "c" alias.
//
//nolint:gochecknoglobals
var Cosmos Dialect = cosmosDialect{}

//nolint:gochecknoglobals
var cosmosKeywords = map[string]struct{}{
	"and": {}, "as": {}, "asc": {}, "between": {}, "by": {}, "desc": {},
	"distinct": {}, "exists": {}, "false": {}, "from": {}, "group": {},
	"in": {}, "join": {}, "like": {}, "limit": {}, "not": {}, "null": {},
	"offset": {}, "or": {}, "order": {}, "select": {}, "top": {},
	"true": {}, "udf": {}, "undefined": {}, "value": {}, "where": {},
}

type cosmosDialect struct{}

func (cosmosDialect) Name() string {
	return "cosmos"
}

func (cosmosDialect) Field(path []string) Ref {
	var sb strings.Builder

	sb.WriteString("c")

	for _, seg := range path {
		_, reserved := cosmosKeywords[strings.ToLower(seg)]
		if isIdentifier(seg) && !reserved {
			sb.WriteString(".")
			sb.WriteString(seg)
		} else {
			sb.WriteString(`["`)
			sb.WriteString(seg)
			sb.WriteString(`"]`)
		}
	}

	return Ref{Expr: sb.String(), Text: sb.String()}
}

func (cosmosDialect) Operand(ref Ref, _ Literal) string {
	return ref.Expr
}

func (cosmosDialect) Literal(_ Ref, lit Literal) string {
	if lit.kind == litText {
		return quoteBackslash(lit.raw)
	}

	return lit.raw
}

func (cosmosDialect) Contains(ref Ref, pattern string) string {
	return "CONTAINS(" + ref.Text + ", " + quoteBackslash(pattern) + ")"
}

func (d cosmosDialect) Aggregate(fn AggFunc, path []string) Ref {
	arg := "1"
	if fn != Count {
		arg = d.Field(path).Expr
	}

	expr := string(fn) + "(" + arg + ")"

	return Ref{Expr: expr, Text: expr}
}

func (cosmosDialect) Ident(name string) string {
	return name
}

func (cosmosDialect) From(string) string {
	return "c"
}

func (d cosmosDialect) Project(path []string) string {
	return d.Field(path).Expr
}

func (cosmosDialect) All() string {
	return "*"
}

// Page always renders both clauses since the engine requires them together.
func (cosmosDialect) Page(offset, limit int64) string {
	if offset == 0 && limit == 0 {
		return ""
	}

	if limit == 0 {
		limit = math.MaxInt32
	}

	return "OFFSET " + strconv.FormatInt(offset, 10) + " LIMIT " + strconv.FormatInt(limit, 10)
}

func (cosmosDialect) JSONValues() bool {
	return false
}
