//go:build integration

package mongostore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/connector/mongostore"
	"github.com/percona/percona-docbridge/errors"
)

// startReplicaSet runs a single-node replica set, needed for transactions
// and change streams.
func startReplicaSet(t *testing.T) string {
	t.Helper()

	ctx := t.Context()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:8.0",
			ExposedPorts: []string{"27017/tcp"},
			Cmd:          []string{"--replSet", "rs0", "--bind_ip_all"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	_, _, err = container.Exec(ctx, []string{
		"mongosh", "--quiet", "--eval",
		"rs.initiate({_id: 'rs0', members: [{_id: 0, host: 'localhost:27017'}]})",
	})
	require.NoError(t, err)

	deadline := time.After(time.Minute)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for ready := false; !ready; {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for primary")
		case <-ticker.C:
			code, _, err := container.Exec(ctx, []string{
				"mongosh", "--quiet", "--eval", "exit(db.hello().isWritablePrimary ? 0 : 1)",
			})
			ready = err == nil && code == 0
		}
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("mongodb://%s:%s/bridge_test?directConnection=true", host, port.Port())
}

func TestMongoStore(t *testing.T) {
	uri := startReplicaSet(t)
	ctx := t.Context()

	s, err := mongostore.Connect(ctx, "source", uri)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})

	cs, err := s.Watch(ctx, "orders")
	require.NoError(t, err)

	defer cs.Close(ctx)

	op := func(kind connector.Kind, id string, doc connector.Document) connector.Operation {
		return connector.Operation{Collection: "orders", Kind: kind, ID: id, Document: doc}
	}

	require.NoError(t, s.Apply(ctx, op(connector.Insert, "1", connector.Document{"v": 1})))
	require.ErrorIs(t, s.Apply(ctx, op(connector.Insert, "1", connector.Document{})), errors.ErrDuplicateKey)
	require.NoError(t, s.Apply(ctx, op(connector.Update, "1", connector.Document{"w": 2})))
	require.ErrorIs(t, s.Apply(ctx, op(connector.Update, "2", connector.Document{"w": 2})), errors.ErrNotFound)

	doc, ok, err := s.Fetch(ctx, "orders", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, connector.Document{"_id": "1", "v": int32(1), "w": int32(2)}, doc)

	h, err := s.PrepareStage(ctx, "tx1", op(connector.Upsert, "3", connector.Document{"v": 3}))
	require.NoError(t, err)

	_, ok, err = s.Fetch(ctx, "orders", "3")
	require.NoError(t, err)
	assert.False(t, ok, "staged write is not visible outside the transaction")

	require.NoError(t, s.CommitStage(ctx, h))
	require.NoError(t, s.Apply(ctx, op(connector.Delete, "1", nil)))

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	want := []connector.Kind{connector.Insert, connector.Update, connector.Insert, connector.Delete}
	for i, kind := range want {
		ev, err := cs.Next(waitCtx)
		require.NoError(t, err, i)
		assert.Equal(t, kind, ev.Kind, i)
	}
}
