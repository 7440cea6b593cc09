package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-docbridge/bridge/query"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"name":   "John",
		"age":    int32(30),
		"score":  12.5,
		"active": true,
		"address": map[string]any{
			"city": "Oslo",
		},
	}

	tests := []struct {
		name   string
		filter bson.D
		want   bool
	}{
		{"empty filter", bson.D{}, true},
		{"equal", bson.D{{Key: "name", Value: "John"}}, true},
		{"not equal", bson.D{{Key: "name", Value: bson.D{{Key: "$ne", Value: "Jane"}}}}, true},
		{"number across widths", bson.D{{Key: "age", Value: int64(30)}}, true},
		{"greater", bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: 21}}}}, true},
		{"range miss", bson.D{{Key: "age", Value: bson.D{{Key: "$gte", Value: 18}, {Key: "$lt", Value: 30}}}}, false},
		{"float", bson.D{{Key: "score", Value: bson.D{{Key: "$lte", Value: 12.5}}}}, true},
		{"bool", bson.D{{Key: "active", Value: true}}, true},
		{"nested path", bson.D{{Key: "address.city", Value: "Oslo"}}, true},
		{"in", bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: bson.A{"Jane", "John"}}}}}, true},
		{"in miss", bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: bson.A{"Jane"}}}}}, false},
		{"regex substring", bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "oh"}}}}, true},
		{"missing field equal", bson.D{{Key: "email", Value: "x"}}, false},
		{"missing field not equal", bson.D{{Key: "email", Value: bson.D{{Key: "$ne", Value: "x"}}}}, true},
		{"type mismatch", bson.D{{Key: "age", Value: "30"}}, false},
		{"or", bson.D{{Key: "$or", Value: bson.A{bson.D{{Key: "name", Value: "Jane"}}, bson.D{{Key: "age", Value: 30}}}}}, true},
		{"and", bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "name", Value: "John"}}, bson.D{{Key: "age", Value: 31}}}}}, false},
		{"empty or", bson.D{{Key: "$or", Value: bson.A{}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			expr, err := query.ParseFilter(tt.filter)
			require.NoError(t, err)

			got, err := query.Match(expr, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchUnsupportedLiteral(t *testing.T) {
	t.Parallel()

	expr, err := query.ParseFilter(bson.D{{Key: "address", Value: bson.D{{Key: "city", Value: "Oslo"}}}})
	require.NoError(t, err)

	_, err = query.Match(expr, map[string]any{})
	assert.True(t, query.IsTranslationError(err))
}

func TestCompare(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, query.Compare(int32(1), 1.0))
	assert.Equal(t, -1, query.Compare(1, 2))
	assert.Equal(t, 1, query.Compare("b", "a"))
	assert.Equal(t, -1, query.Compare(nil, "a"))
	assert.Equal(t, -1, query.Compare("z", 1))
	assert.Equal(t, -1, query.Compare(1, false))
	assert.Equal(t, 0, query.Compare(nil, nil))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"a": bson.M{"b": bson.D{{Key: "c", Value: 7}}},
		"s": "x",
	}

	v, ok := query.Lookup(doc, "a.b.c")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = query.Lookup(doc, "a.x")
	assert.False(t, ok)

	_, ok = query.Lookup(doc, "s.t")
	assert.False(t, ok)
}
