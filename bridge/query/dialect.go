package query

import (
	"strconv"
	"strings"

	"github.com/percona/percona-docbridge/errors"
)

// Ref is a rendered reference to a document field or an aggregate.
type Ref struct {
	// Expr is the value expression used in comparisons, grouping and ordering.
	Expr string
	// Text extracts the value as text for contains predicates.
	Text string
	// JSON marks Expr as a JSON-typed value rather than a plain SQL value.
	JSON bool
}

type litKind int

const (
	litText litKind = iota
	litNumber
	litBool
)

// Literal is a converted scalar literal. raw holds the unquoted text,
// the numeric digits or "true"/"false".
type Literal struct {
	kind litKind
	raw  string
}

// AggFunc is an aggregate function keyword.
type AggFunc string

const (
	Sum   AggFunc = "SUM"
	Avg   AggFunc = "AVG"
	Min   AggFunc = "MIN"
	Max   AggFunc = "MAX"
	Count AggFunc = "COUNT"
)

// Predicates with a fixed truth value.
const (
	AlwaysTrue  = "1 = 1"
	AlwaysFalse = "1 = 0"
)

// Dialect renders plan fragments for one target query language.
type Dialect interface {
	Name() string
	// Field references a validated field path.
	Field(path []string) Ref
	// Operand is the left side of a comparison with lit.
	Operand(ref Ref, lit Literal) string
	// Literal renders lit for comparison with ref.
	Literal(ref Ref, lit Literal) string
	Contains(ref Ref, pattern string) string
	// Aggregate renders fn over path. path is nil for COUNT.
	Aggregate(fn AggFunc, path []string) Ref
	// Ident quotes an output column name.
	Ident(name string) string
	// From renders the source of the SELECT for a container.
	From(container string) string
	// Project selects a field path as an output column named after the path.
	Project(path []string) string
	All() string
	// Page renders pagination. Zero means unset.
	Page(offset, limit int64) string
	// JSONValues reports whether result columns hold JSON text.
	JSONValues() bool
}

//nolint:gochecknoglobals
var dialects = map[string]Dialect{
	"cosmos":   Cosmos,
	"sqlite":   SQLite,
	"mysql":    MySQL,
	"postgres": Postgres,
}

// DialectByName returns a registered dialect.
func DialectByName(name string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("unknown dialect %q", name)
	}

	return d, nil
}

// splitPath validates a dotted field path. Every segment must start with a
// letter, a digit or an underscore and may contain letters, digits,
// underscores, dashes and spaces.
func splitPath(field string) ([]string, error) {
	if field == "" {
		return nil, newError(InvalidFieldName, field, "", "empty field name")
	}

	path := strings.Split(field, ".")
	for _, seg := range path {
		if !validSegment(seg) {
			return nil, newError(InvalidFieldName, field, "", "invalid path segment "+strconv.Quote(seg))
		}
	}

	return path, nil
}

func validSegment(seg string) bool {
	if seg == "" {
		return false
	}

	for i, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		case i > 0 && (r == '-' || r == ' '):
		default:
			return false
		}
	}

	return true
}

func isIdentifier(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}

	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}

	return true
}

// quoteDoubling quotes s doubling embedded single quotes.
func quoteDoubling(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// quoteBackslash quotes s escaping backslashes and single quotes.
func quoteBackslash(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)

	return "'" + r.Replace(s) + "'"
}
