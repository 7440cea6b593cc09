package query

import (
	"fmt"
	"strings"

	"github.com/percona/percona-docbridge/errors"
)

// Translation error codes.
const (
	UnsupportedOperator    errors.Code = "UnsupportedOperator"
	InvalidOperatorValue   errors.Code = "InvalidOperatorValue"
	UnsupportedLiteralType errors.Code = "UnsupportedLiteralType"
	InvalidSortDirection   errors.Code = "InvalidSortDirection"
	DuplicateLimitClause   errors.Code = "DuplicateLimitClause"
	DuplicateSkipClause    errors.Code = "DuplicateSkipClause"
	MixedProjectionMode    errors.Code = "MixedProjectionMode"
	InvalidFieldName       errors.Code = "InvalidFieldName"
)

// Error is a client-facing translation failure. It names the offending field
// and operator when they are known.
type Error struct {
	code     errors.Code
	Field    string
	Operator string
	Reason   string
}

func newError(code errors.Code, field, op, reason string) *Error {
	return &Error{code: code, Field: field, Operator: op, Reason: reason}
}

func (e *Error) Code() errors.Code {
	return e.code
}

func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(string(e.code))

	if e.Operator != "" {
		fmt.Fprintf(&sb, ": operator %q", e.Operator)
	}

	if e.Field != "" {
		if e.Operator != "" {
			fmt.Fprintf(&sb, " on field %q", e.Field)
		} else {
			fmt.Fprintf(&sb, ": field %q", e.Field)
		}
	}

	if e.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}

	return sb.String()
}

// IsTranslationError reports whether err is a translation failure.
func IsTranslationError(err error) bool {
	var qe *Error

	return errors.As(err, &qe)
}
