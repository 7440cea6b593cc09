package validate

import (
	"reflect"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
)

// validateNamespace checks a "db.collection" name.
// Tag usage: namespace
func validateNamespace(fl validator.FieldLevel) bool {
	db, coll, ok := strings.Cut(getStringValue(fl.Field()), ".")
	if !ok || db == "" || coll == "" {
		return false
	}

	if strings.ContainsAny(db, `/\. "$`+"\x00") {
		return false
	}

	return !strings.ContainsAny(coll, "$\x00")
}

// validateGlob checks a namespace selection pattern.
// Tag usage: glob
func validateGlob(fl validator.FieldLevel) bool {
	s := getStringValue(fl.Field())
	if s == "" {
		return false
	}

	return doublestar.ValidatePattern(s)
}

func getStringValue(field reflect.Value) string {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return ""
		}

		return field.Elem().String()
	}

	return field.String()
}
