// Package errors wraps the standard errors package and adds coded errors.
//
// A [Code] classifies a failure (translation, transaction, synchronization) so
// the HTTP layer and the monitoring hooks can react without string matching.
package errors

import (
	"errors"
	"fmt"
)

var ErrUnsupported = errors.ErrUnsupported

// Sentinels shared by the store connectors.
var (
	ErrNotFound     = errors.New("document not found")
	ErrDuplicateKey = errors.New("duplicate document id")
)

// Code classifies a failure for callers that map errors to client responses.
// The zero value means the error is not classified.
type Code string

// Coder is implemented by errors that carry a [Code].
type Coder interface {
	error
	Code() Code
}

type wrappedError struct {
	cause error
	msg   string
}

func (w *wrappedError) Error() string {
	return w.msg + ": " + w.cause.Error()
}

func (w *wrappedError) Unwrap() error {
	return w.cause
}

type codedError struct {
	code  Code
	cause error
}

func (c *codedError) Error() string {
	return string(c.code) + ": " + c.cause.Error()
}

func (c *codedError) Unwrap() error {
	return c.cause
}

func (c *codedError) Code() Code {
	return c.code
}

// New calls [errors.New].
//
//go:inline
func New(text string) error {
	return errors.New(text) //nolint:err113
}

// Errorf calls [fmt.Errorf].
//
//go:inline
func Errorf(format string, vals ...any) error {
	return fmt.Errorf(format, vals...) //nolint:err113
}

func Wrap(cause error, text string) error {
	if cause == nil {
		return nil
	}

	if text == "" {
		return cause
	}

	return &wrappedError{cause: cause, msg: text}
}

func Wrapf(cause error, format string, vals ...any) error {
	if cause == nil {
		return nil
	}

	msg := fmt.Sprintf(format, vals...)
	if msg == "" {
		return cause
	}

	return &wrappedError{cause: cause, msg: msg}
}

// WithCode attaches code to err. It returns nil if err is nil.
func WithCode(err error, code Code) error {
	if err == nil {
		return nil
	}

	return &codedError{code: code, cause: err}
}

// CodeOf returns the outermost code found in the err chain.
func CodeOf(err error) Code {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}

	return ""
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		c, ok := err.(Coder) //nolint:errorlint
		if ok && c.Code() == code {
			return true
		}

		switch u := err.(type) { //nolint:errorlint
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				if HasCode(e, code) {
					return true
				}
			}

			return false
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return false
		}
	}

	return false
}

// Unwrap calls [errors.Unwrap].
//
//go:inline
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Join calls [errors.Join].
//
//go:inline
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is calls [errors.Is].
//
//go:inline
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As calls [errors.As].
//
//go:inline
func As(err error, target any) bool {
	return errors.As(err, target)
}
