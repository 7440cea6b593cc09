package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-docbridge/bridge/query"
)

func TestDecodeDocumentKeepsOrder(t *testing.T) {
	t.Parallel()

	doc, err := query.DecodeDocument([]byte(`{"z": 1, "a": {"$gt": 2}, "m": "x"}`))
	require.NoError(t, err)
	require.Len(t, doc, 3)
	assert.Equal(t, "z", doc[0].Key)
	assert.Equal(t, "a", doc[1].Key)
	assert.Equal(t, "m", doc[2].Key)

	plan, err := query.NewBuilder(query.Cosmos).Build("c", query.Options{Filter: doc})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM c WHERE (c.z = 1) AND (c.a > 2) AND (c.m = 'x')", plan.Statement())
}

func TestDecodeDocumentEmpty(t *testing.T) {
	t.Parallel()

	doc, err := query.DecodeDocument(nil)
	require.NoError(t, err)
	assert.Empty(t, doc)

	_, err = query.DecodeDocument([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestDecodePipeline(t *testing.T) {
	t.Parallel()

	stages, err := query.DecodePipeline([]byte(`[{"$match": {"a": 1}}, {"$limit": 3}]`))
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "$match", stages[0][0].Key)
	assert.Equal(t, "$limit", stages[1][0].Key)

	stages, err = query.DecodePipeline(nil)
	require.NoError(t, err)
	assert.Nil(t, stages)

	_, err = query.DecodePipeline([]byte(`{"$limit": 3}`))
	assert.Error(t, err)
}
