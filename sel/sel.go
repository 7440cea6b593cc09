// Package sel selects the namespaces the synchronization engine may watch.
//
// Patterns have the form "<db>.<coll>" where both parts are doublestar globs
// ("shop.*", "logs_??.events", "*.audit"). Only the first dot separates the
// database from the collection, so collection names may contain dots.
package sel

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// NSFilter returns true if a namespace is allowed.
type NSFilter func(db, coll string) bool

func AllowAllFilter(string, string) bool {
	return true
}

// SplitNS splits "db.coll" at the first dot.
func SplitNS(ns string) (string, string) {
	db, coll, _ := strings.Cut(ns, ".")

	return db, coll
}

// MakeFilter builds a filter where exclusion takes precedence and a non-empty
// include list denies everything it does not match.
func MakeFilter(include, exclude []string) NSFilter {
	if len(include) == 0 && len(exclude) == 0 {
		return AllowAllFilter
	}

	includeFilter := makePatterns(include)
	excludeFilter := makePatterns(exclude)

	return func(db, coll string) bool {
		if excludeFilter.Has(db, coll) {
			return false
		}

		if len(includeFilter) > 0 {
			return includeFilter.Has(db, coll)
		}

		return true
	}
}

// Validate reports the first malformed pattern.
func Validate(patterns []string) (string, bool) {
	for _, p := range patterns {
		db, coll := SplitNS(p)
		if !doublestar.ValidatePattern(db) || !doublestar.ValidatePattern(coll) {
			return p, false
		}
	}

	return "", true
}

type pattern struct {
	db   string
	coll string
}

type patterns []pattern

func (ps patterns) Has(db, coll string) bool {
	for _, p := range ps {
		if match(p.db, db) && match(p.coll, coll) {
			return true
		}
	}

	return false
}

func match(pattern, name string) bool {
	if pattern == name {
		return true
	}

	ok, err := doublestar.Match(pattern, name)

	return err == nil && ok
}

func makePatterns(list []string) patterns {
	rv := make(patterns, 0, len(list))

	for _, s := range list {
		db, coll := SplitNS(s)
		rv = append(rv, pattern{db: db, coll: coll})
	}

	return rv
}
