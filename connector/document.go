package connector

import (
	"encoding/json"
	"maps"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/errors"
)

// Clone deep-copies nested documents and arrays.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}

	rv := make(Document, len(doc))
	for k, v := range doc {
		rv[k] = cloneValue(v)
	}

	return rv
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Clone(x)
	case []any:
		rv := make([]any, len(x))
		for i, item := range x {
			rv[i] = cloneValue(item)
		}

		return rv
	}

	return v
}

// Merge sets the top-level fields of patch on a copy of doc.
func Merge(doc, patch Document) Document {
	rv := Clone(doc)
	if rv == nil {
		rv = make(Document, len(patch))
	}

	maps.Copy(rv, Clone(patch))

	return rv
}

// WithID returns a copy of doc whose identifier field is id.
func WithID(doc Document, id string) Document {
	rv := Clone(doc)
	if rv == nil {
		rv = make(Document, 1)
	}

	rv[IDField] = id

	return rv
}

// SetPath sets a dotted path, creating intermediate documents.
func SetPath(doc Document, path string, v any) {
	segs := strings.Split(path, ".")
	cur := doc

	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}

		cur = next
	}

	cur[segs[len(segs)-1]] = v
}

// DeletePath removes a dotted path if present.
func DeletePath(doc Document, path string) {
	segs := strings.Split(path, ".")
	cur := doc

	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}

		cur = next
	}

	delete(cur, segs[len(segs)-1])
}

// Project keeps only the included paths.
func Project(doc Document, include []string) Document {
	rv := make(Document, len(include))

	for _, path := range include {
		v, ok := query.Lookup(doc, path)
		if ok {
			SetPath(rv, path, cloneValue(v))
		}
	}

	return rv
}

// Shape applies the plan's projection and exclusion to a full document.
func Shape(plan *query.Plan, doc Document) Document {
	if include := plan.Projection(); len(include) != 0 {
		return Project(doc, include)
	}

	exclude := plan.Exclusion()
	if len(exclude) == 0 {
		return doc
	}

	rv := Clone(doc)
	for _, path := range exclude {
		DeletePath(rv, path)
	}

	return rv
}

// DecodeRow builds a result document from one row of a rendered plan.
// Values of the wildcard column are whole JSON documents. Other values are
// JSON when the dialect returns JSON values, else plain SQL scalars.
func DecodeRow(plan *query.Plan, values []any) (Document, error) {
	cols := plan.Columns()
	if len(cols) != len(values) {
		return nil, errors.Errorf("expected %d columns, got %d", len(cols), len(values))
	}

	if plan.Wildcard() {
		doc, err := DecodeJSON(values[0])
		if err != nil {
			return nil, err
		}

		return Shape(plan, doc), nil
	}

	jsonValues := plan.Dialect().JSONValues()

	doc := make(Document, len(cols))

	for i, col := range cols {
		v := values[i]
		if jsonValues {
			v = decodeJSONValue(v)
		} else if b, ok := v.([]byte); ok {
			v = string(b)
		}

		if v == nil && !plan.Grouped() {
			continue
		}

		SetPath(doc, col, v)
	}

	return doc, nil
}

// DecodeJSON decodes a JSON document column.
func DecodeJSON(v any) (Document, error) {
	var data []byte

	switch x := v.(type) {
	case []byte:
		data = x
	case string:
		data = []byte(x)
	case nil:
		return nil, errors.New("null document")
	default:
		return nil, errors.Errorf("unexpected document column type %T", v)
	}

	var doc Document

	err := json.Unmarshal(data, &doc)
	if err != nil {
		return nil, errors.Wrap(err, "decode document")
	}

	return doc, nil
}

func decodeJSONValue(v any) any {
	var data []byte

	switch x := v.(type) {
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		return v
	}

	var rv any

	err := json.Unmarshal(data, &rv)
	if err != nil {
		return string(data)
	}

	return rv
}

// EncodeJSON encodes a document for a JSON column.
func EncodeJSON(doc Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}

	return data, nil
}

// FromBSON converts a BSON document into a Document. Object ids become hex strings.
func FromBSON(d bson.D) Document {
	rv := make(Document, len(d))
	for _, e := range d {
		rv[e.Key] = fromBSONValue(e.Value)
	}

	return rv
}

func fromBSONValue(v any) any {
	switch x := v.(type) {
	case bson.D:
		return FromBSON(x)
	case bson.M:
		rv := make(Document, len(x))
		for k, item := range x {
			rv[k] = fromBSONValue(item)
		}

		return rv
	case bson.A:
		rv := make([]any, len(x))
		for i, item := range x {
			rv[i] = fromBSONValue(item)
		}

		return rv
	case bson.ObjectID:
		return x.Hex()
	}

	return v
}

// IDString renders a document identifier as the string key used by stores.
func IDString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case bson.ObjectID:
		return x.Hex(), true
	case int32, int64, int, float64:
		b, _ := json.Marshal(x)

		return string(b), true
	}

	return "", false
}
