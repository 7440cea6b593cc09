package query

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Documents live in a JSON column named "doc" of a table named after the
// container, aliased as "c".
//
//nolint:gochecknoglobals
var (
	SQLite   Dialect = sqliteDialect{}
	MySQL    Dialect = mysqlDialect{}
	Postgres Dialect = postgresDialect{}
)

// jsonPath renders a quoted JSON path such as $."a"."b".
func jsonPath(path []string) string {
	var sb strings.Builder

	sb.WriteString("$")

	for _, seg := range path {
		sb.WriteString(`."`)
		sb.WriteString(seg)
		sb.WriteString(`"`)
	}

	return sb.String()
}

func limitOffset(offset, limit int64, noLimit string) string {
	switch {
	case offset == 0 && limit == 0:
		return ""
	case offset == 0:
		return "LIMIT " + strconv.FormatInt(limit, 10)
	case limit == 0:
		return "LIMIT " + noLimit + " OFFSET " + strconv.FormatInt(offset, 10)
	default:
		return "LIMIT " + strconv.FormatInt(limit, 10) + " OFFSET " + strconv.FormatInt(offset, 10)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string {
	return "sqlite"
}

func (sqliteDialect) Field(path []string) Ref {
	expr := "json_extract(c.doc, '" + jsonPath(path) + "')"

	return Ref{Expr: expr, Text: expr}
}

func (sqliteDialect) Operand(ref Ref, _ Literal) string {
	return ref.Expr
}

func (sqliteDialect) Literal(_ Ref, lit Literal) string {
	if lit.kind == litText {
		return quoteDoubling(lit.raw)
	}

	return lit.raw
}

func (sqliteDialect) Contains(ref Ref, pattern string) string {
	return "instr(" + ref.Text + ", " + quoteDoubling(pattern) + ") > 0"
}

func (d sqliteDialect) Aggregate(fn AggFunc, path []string) Ref {
	arg := "1"
	if fn != Count {
		arg = d.Field(path).Expr
	}

	expr := string(fn) + "(" + arg + ")"

	return Ref{Expr: expr, Text: expr}
}

func (sqliteDialect) Ident(name string) string {
	return `"` + name + `"`
}

func (d sqliteDialect) From(container string) string {
	return d.Ident(container) + " c"
}

func (d sqliteDialect) Project(path []string) string {
	return d.Field(path).Expr + " AS " + d.Ident(strings.Join(path, "."))
}

func (sqliteDialect) All() string {
	return "c.doc"
}

func (sqliteDialect) Page(offset, limit int64) string {
	return limitOffset(offset, limit, "-1")
}

func (sqliteDialect) JSONValues() bool {
	return false
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string {
	return "mysql"
}

func (mysqlDialect) Field(path []string) Ref {
	expr := "JSON_EXTRACT(c.doc, '" + jsonPath(path) + "')"

	return Ref{Expr: expr, Text: "JSON_UNQUOTE(" + expr + ")", JSON: true}
}

// Operand unquotes JSON strings so they compare with SQL strings.
func (mysqlDialect) Operand(ref Ref, lit Literal) string {
	if ref.JSON && lit.kind == litText {
		return ref.Text
	}

	return ref.Expr
}

func (mysqlDialect) Literal(ref Ref, lit Literal) string {
	switch lit.kind {
	case litText:
		return quoteBackslash(lit.raw)
	case litBool:
		if ref.JSON {
			return "CAST('" + lit.raw + "' AS JSON)"
		}
	case litNumber:
	}

	return lit.raw
}

func (mysqlDialect) Contains(ref Ref, pattern string) string {
	return "LOCATE(" + quoteBackslash(pattern) + ", " + ref.Text + ") > 0"
}

func (d mysqlDialect) Aggregate(fn AggFunc, path []string) Ref {
	arg := "1"
	if fn != Count {
		arg = d.Field(path).Expr
	}

	expr := string(fn) + "(" + arg + ")"

	return Ref{Expr: expr, Text: expr}
}

func (mysqlDialect) Ident(name string) string {
	return "`" + name + "`"
}

func (d mysqlDialect) From(container string) string {
	return d.Ident(container) + " c"
}

func (d mysqlDialect) Project(path []string) string {
	return d.Field(path).Expr + " AS " + d.Ident(strings.Join(path, "."))
}

func (mysqlDialect) All() string {
	return "c.doc"
}

func (mysqlDialect) Page(offset, limit int64) string {
	return limitOffset(offset, limit, "18446744073709551615")
}

func (mysqlDialect) JSONValues() bool {
	return true
}

type postgresDialect struct{}

func (postgresDialect) Name() string {
	return "postgres"
}

func (postgresDialect) Field(path []string) Ref {
	var sb strings.Builder

	sb.WriteString("c.doc")

	for _, seg := range path[:len(path)-1] {
		sb.WriteString("->'")
		sb.WriteString(seg)
		sb.WriteString("'")
	}

	last := "'" + path[len(path)-1] + "'"
	prefix := sb.String()

	return Ref{Expr: prefix + "->" + last, Text: prefix + "->>" + last, JSON: true}
}

func (postgresDialect) Operand(ref Ref, _ Literal) string {
	return ref.Expr
}

// Literal renders jsonb literals for jsonb references so that values of
// different JSON types compare without cast errors.
func (postgresDialect) Literal(ref Ref, lit Literal) string {
	if !ref.JSON {
		if lit.kind == litText {
			return quoteDoubling(lit.raw)
		}

		return lit.raw
	}

	raw := lit.raw
	if lit.kind == litText {
		b, _ := json.Marshal(lit.raw)
		raw = string(b)
	}

	return quoteDoubling(raw) + "::jsonb"
}

func (postgresDialect) Contains(ref Ref, pattern string) string {
	return "strpos(" + ref.Text + ", " + quoteDoubling(pattern) + ") > 0"
}

func (d postgresDialect) Aggregate(fn AggFunc, path []string) Ref {
	arg := "1"
	if fn != Count {
		arg = "(" + d.Field(path).Text + ")::numeric"
	}

	expr := string(fn) + "(" + arg + ")"

	return Ref{Expr: expr, Text: expr + "::text"}
}

func (postgresDialect) Ident(name string) string {
	return `"` + name + `"`
}

func (d postgresDialect) From(container string) string {
	return d.Ident(container) + " c"
}

func (d postgresDialect) Project(path []string) string {
	return d.Field(path).Expr + " AS " + d.Ident(strings.Join(path, "."))
}

func (postgresDialect) All() string {
	return "c.doc"
}

func (postgresDialect) Page(offset, limit int64) string {
	if limit == 0 && offset != 0 {
		return "OFFSET " + strconv.FormatInt(offset, 10)
	}

	return limitOffset(offset, limit, "")
}

func (postgresDialect) JSONValues() bool {
	return true
}
