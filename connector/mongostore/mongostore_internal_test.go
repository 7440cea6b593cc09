package mongostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-docbridge/connector"
)

func TestIDValue(t *testing.T) {
	t.Parallel()

	oid := bson.NewObjectID()

	assert.Equal(t, oid, idValue(oid.Hex()))
	assert.Equal(t, "abc", idValue("abc"))
	assert.Equal(t, "zzzzzzzzzzzzzzzzzzzzzzzz", idValue("zzzzzzzzzzzzzzzzzzzzzzzz"))
}

func TestToBSON(t *testing.T) {
	t.Parallel()

	d := toBSON(connector.Document{"_id": "ignored", "a": 1}, "k")

	assert.Equal(t, bson.D{{Key: "_id", Value: "k"}, {Key: "a", Value: 1}}, d)
}

func TestToEvent(t *testing.T) {
	t.Parallel()

	cs := &changeStream{name: "shop.orders"}
	oid := bson.NewObjectID()
	ts := bson.Timestamp{T: 10, I: 2}
	wall := time.Unix(10, 0).UTC()

	tests := []struct {
		name   string
		change changeDoc
		want   connector.ChangeEvent
		ok     bool
	}{
		{
			name: "insert",
			change: changeDoc{
				OperationType: "insert",
				ClusterTime:   ts,
				WallTime:      wall,
				DocumentKey:   bson.D{{Key: "_id", Value: oid}},
				FullDocument:  bson.D{{Key: "_id", Value: oid}, {Key: "a", Value: int32(1)}},
			},
			want: connector.ChangeEvent{
				Collection:  "shop.orders",
				Kind:        connector.Insert,
				DocumentID:  oid.Hex(),
				ClusterTime: ts,
				WallTime:    wall,
				Document:    connector.Document{"_id": oid.Hex(), "a": int32(1)},
			},
			ok: true,
		},
		{
			name: "replace is an update",
			change: changeDoc{
				OperationType: "replace",
				ClusterTime:   ts,
				DocumentKey:   bson.D{{Key: "_id", Value: "k"}},
				FullDocument:  bson.D{{Key: "_id", Value: "k"}},
			},
			want: connector.ChangeEvent{
				Collection:  "shop.orders",
				Kind:        connector.Update,
				DocumentID:  "k",
				ClusterTime: ts,
				Document:    connector.Document{"_id": "k"},
			},
			ok: true,
		},
		{
			name: "delete carries the key only",
			change: changeDoc{
				OperationType: "delete",
				ClusterTime:   ts,
				DocumentKey:   bson.D{{Key: "_id", Value: "k"}},
			},
			want: connector.ChangeEvent{
				Collection:  "shop.orders",
				Kind:        connector.Delete,
				DocumentID:  "k",
				ClusterTime: ts,
				Document:    connector.Document{"_id": "k"},
			},
			ok: true,
		},
		{
			name: "update without post-image",
			change: changeDoc{
				OperationType: "update",
				DocumentKey:   bson.D{{Key: "_id", Value: "k"}},
			},
		},
		{
			name: "unsupported id",
			change: changeDoc{
				OperationType: "insert",
				DocumentKey:   bson.D{{Key: "_id", Value: bson.D{{Key: "x", Value: 1}}}},
			},
		},
		{
			name: "other operation",
			change: changeDoc{
				OperationType: "drop",
				DocumentKey:   bson.D{{Key: "_id", Value: "k"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := cs.toEvent(&tt.change)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
