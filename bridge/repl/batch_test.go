package repl_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/bridge/repl"
	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/connector/memstore"
	"github.com/percona/percona-docbridge/connector/sqlstore"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/util"
)

// notFoundWriter reports every delete as missing and records the rest.
type notFoundWriter struct {
	applied []connector.Operation
}

func (w *notFoundWriter) Apply(_ context.Context, op connector.Operation) error {
	if op.Kind == connector.Delete {
		return errors.Wrap(errors.ErrNotFound, op.ID)
	}

	w.applied = append(w.applied, op)

	return nil
}

func (w *notFoundWriter) Fetch(context.Context, string, string) (connector.Document, bool, error) {
	return nil, false, nil
}

func TestOperation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   connector.ChangeEvent
		want connector.Operation
	}{
		{
			name: "insert becomes upsert",
			ev: connector.ChangeEvent{
				Kind: connector.Insert, DocumentID: "1", Document: connector.Document{"a": 1},
			},
			want: connector.Operation{
				Collection: "c", Kind: connector.Upsert, ID: "1",
				Document: connector.Document{"_id": "1", "a": 1},
			},
		},
		{
			name: "update becomes upsert of the post-image",
			ev: connector.ChangeEvent{
				Kind: connector.Update, DocumentID: "1", Document: connector.Document{"_id": "1", "a": 2},
			},
			want: connector.Operation{
				Collection: "c", Kind: connector.Upsert, ID: "1",
				Document: connector.Document{"_id": "1", "a": 2},
			},
		},
		{
			name: "delete keeps the key only",
			ev: connector.ChangeEvent{
				Kind: connector.Delete, DocumentID: "1", Document: connector.Document{"_id": "1"},
			},
			want: connector.Operation{Collection: "c", Kind: connector.Delete, ID: "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, repl.Operation("c", tt.ev))
		})
	}
}

func TestReplay(t *testing.T) {
	t.Parallel()

	w := &notFoundWriter{}
	b := &repl.Batch{
		Collection: "c",
		Events: []connector.ChangeEvent{
			{Kind: connector.Insert, DocumentID: "1", Document: connector.Document{}},
			{Kind: connector.Delete, DocumentID: "2"},
			{Kind: connector.Update, DocumentID: "3", Document: connector.Document{"x": 1}},
		},
	}

	require.NoError(t, repl.Replay(t.Context(), w, b), "a delete of a missing document is applied")
	require.Len(t, w.applied, 2)
	assert.Equal(t, "1", w.applied[0].ID)
	assert.Equal(t, "3", w.applied[1].ID)
}

func TestReplayTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dialect query.Dialect
		open    func(t *testing.T) connector.Store
	}{
		{
			name:    "memory",
			dialect: query.Cosmos,
			open: func(*testing.T) connector.Store {
				return memstore.New("dst")
			},
		},
		{
			name:    "sqlite",
			dialect: query.SQLite,
			open: func(t *testing.T) connector.Store {
				t.Helper()

				s, err := sqlstore.Open(t.Context(), "dst", "sqlite",
					"file:"+filepath.Join(t.TempDir(), "replay.db"))
				require.NoError(t, err)

				t.Cleanup(func() {
					_ = s.Close(context.Background())
				})

				return s
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := t.Context()
			store := tt.open(t)

			b := &repl.Batch{
				Collection: "orders",
				Events: []connector.ChangeEvent{
					{Kind: connector.Insert, DocumentID: "1", Document: connector.Document{"_id": "1", "v": 1}},
					{Kind: connector.Update, DocumentID: "1", Document: connector.Document{"_id": "1", "v": 2}},
					{Kind: connector.Delete, DocumentID: "9", Document: connector.Document{"_id": "9"}},
				},
			}

			require.NoError(t, repl.Replay(ctx, store, b))
			require.NoError(t, repl.Replay(ctx, store, b), "a replayed batch applies again")

			plan, err := query.NewBuilder(tt.dialect).Build("orders", query.Options{})
			require.NoError(t, err)

			docs, err := store.Execute(ctx, plan)
			require.NoError(t, err)
			require.Len(t, docs, 1)
			assert.Equal(t, "1", docs[0]["_id"])
			assert.EqualValues(t, 2, docs[0]["v"])
		})
	}
}

func TestReplayMalformedIsPermanent(t *testing.T) {
	t.Parallel()

	b := &repl.Batch{
		Collection: "c",
		Events:     []connector.ChangeEvent{{Kind: connector.Insert, Document: connector.Document{}}},
	}

	attempts, err := util.Retry(t.Context(),
		util.RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond},
		func(ctx context.Context, _ int) error {
			return repl.Replay(ctx, &notFoundWriter{}, b)
		}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBatchLastTime(t *testing.T) {
	t.Parallel()

	b := &repl.Batch{}
	assert.Zero(t, b.LastTime())

	b.Events = []connector.ChangeEvent{
		{ClusterTime: bson.Timestamp{T: 1, I: 1}},
		{ClusterTime: bson.Timestamp{T: 2, I: 7}},
	}
	assert.Equal(t, bson.Timestamp{T: 2, I: 7}, b.LastTime())
	assert.Equal(t, 2, b.Len())
}

func TestDeadLetters(t *testing.T) {
	t.Parallel()

	d := repl.NewDeadLetters(3)
	assert.Empty(t, d.List())

	for i := range 5 {
		d.Add(repl.DeadLetter{Collection: fmt.Sprint(i)})
	}

	assert.Equal(t, 3, d.Len())
	assert.Equal(t, int64(5), d.Total())

	list := d.List()
	require.Len(t, list, 3)
	assert.Equal(t, "2", list[0].Collection)
	assert.Equal(t, "4", list[2].Collection)
}

func TestHooks(t *testing.T) {
	t.Parallel()

	var got []string

	h := repl.Hooks(
		func(res repl.BatchResult) { got = append(got, "a:"+res.Collection) },
		nil,
		func(res repl.BatchResult) { got = append(got, "b:"+res.Collection) },
	)

	h(repl.BatchResult{Collection: "c"})
	assert.Equal(t, []string{"a:c", "b:c"}, got)

	assert.NotPanics(t, func() {
		repl.MetricsHook(repl.BatchResult{Collection: "c", Size: 2, LastTime: bson.Timestamp{T: 1}})
		repl.MetricsHook(repl.BatchResult{Collection: "c", Size: 2, Err: errors.New("x")})
	})
}
