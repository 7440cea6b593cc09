package query

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Options are the raw inputs of a find or aggregate request. The filter acts
// as the first match stage. Sort, Skip and Limit apply after the pipeline.
// Zero Skip and Limit mean unset.
type Options struct {
	Filter     bson.D
	Projection bson.D
	Sort       bson.D
	Skip       int64
	Limit      int64
	Pipeline   []bson.D
}

// Builder assembles plans. Identical inputs always yield identical plans.
type Builder struct {
	t *Translator
}

func NewBuilder(d Dialect) *Builder {
	return &Builder{t: NewTranslator(d)}
}

func (b *Builder) Dialect() Dialect {
	return b.t.dialect
}

// Build translates opts into a plan over container.
func (b *Builder) Build(container string, opts Options) (*Plan, error) {
	if container == "" || strings.ContainsAny(container, "\"`'\x00") {
		return nil, newError(InvalidFieldName, container, "", "invalid container name")
	}

	pb := NewPlanBuilder(b.t.dialect, container)

	if len(opts.Filter) != 0 {
		expr, err := ParseFilter(opts.Filter)
		if err != nil {
			return nil, err
		}

		err = b.t.TranslateStage(&MatchStage{Filter: expr}, pb)
		if err != nil {
			return nil, err
		}
	}

	stages, err := ParsePipeline(opts.Pipeline)
	if err != nil {
		return nil, err
	}

	for _, st := range stages {
		err = b.t.TranslateStage(st, pb)
		if err != nil {
			return nil, err
		}
	}

	if len(opts.Projection) != 0 {
		include, exclude, err := ParseProjection(opts.Projection)
		if err != nil {
			return nil, err
		}

		err = pb.SetProjection(include, exclude)
		if err != nil {
			return nil, err
		}
	}

	if len(opts.Sort) != 0 {
		st, err := ParseSort(opts.Sort)
		if err != nil {
			return nil, err
		}

		err = b.t.TranslateStage(st, pb)
		if err != nil {
			return nil, err
		}
	}

	if opts.Skip < 0 {
		return nil, newError(InvalidOperatorValue, "", "skip", "skip must not be negative")
	}

	if opts.Limit < 0 {
		return nil, newError(InvalidOperatorValue, "", "limit", "limit must not be negative")
	}

	if opts.Skip != 0 {
		err = pb.SetOffset(opts.Skip)
		if err != nil {
			return nil, err
		}
	}

	if opts.Limit != 0 {
		err = pb.SetLimit(opts.Limit)
		if err != nil {
			return nil, err
		}
	}

	return pb.Plan(), nil
}

// ParseProjection splits a projection into included and excluded paths.
// Values are 1/0 or true/false. "_id": 0 is allowed next to inclusions and
// is dropped then, since only listed fields are selected anyway.
func ParseProjection(proj bson.D) ([]string, []string, error) {
	var include, exclude []string

	for _, e := range proj {
		if _, err := splitPath(e.Key); err != nil {
			return nil, nil, err
		}

		on, ok := projectionFlag(e.Value)
		if !ok {
			return nil, nil, newError(InvalidOperatorValue, e.Key, "$project", "expected 1, 0, true or false")
		}

		if on {
			include = append(include, e.Key)
		} else {
			exclude = append(exclude, e.Key)
		}
	}

	if len(include) != 0 {
		exclude = removeString(exclude, "_id")
	}

	if len(include) != 0 && len(exclude) != 0 {
		return nil, nil, newError(MixedProjectionMode, exclude[0], "$project",
			"cannot mix inclusion and exclusion")
	}

	return include, exclude, nil
}

func projectionFlag(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}

	n, ok := toInt(v)
	if !ok || (n != 0 && n != 1) {
		return false, false
	}

	return n == 1, true
}

func removeString(list []string, s string) []string {
	rv := list[:0]

	for _, v := range list {
		if v != s {
			rv = append(rv, v)
		}
	}

	return rv
}
