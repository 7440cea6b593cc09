package repl_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-docbridge/bridge/repl"
	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/connector/memstore"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/sel"
)

func newController(t *testing.T) (*repl.Controller, *memstore.Store, *memstore.Store) {
	t.Helper()

	source, target := memstore.New("src"), memstore.New("dst")
	c := repl.NewController(source, target,
		sel.MakeFilter([]string{"shop.*"}, []string{"shop.secret"}),
		repl.Options{BatchSize: 10, MaxLatency: 10 * time.Millisecond})

	t.Cleanup(func() {
		_ = c.StopAll(context.Background())
	})

	return c, source, target
}

func TestControllerStartStop(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	c, source, target := newController(t)

	require.NoError(t, c.Start(ctx, coll))

	err := c.Start(ctx, coll)
	assert.True(t, errors.HasCode(err, repl.AlreadyRunning), "got %v", err)

	insert(t, source, "1", "2")

	require.Eventually(t, func() bool {
		return target.Len(coll) == 2
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop(ctx, coll))

	err = c.Stop(ctx, coll)
	assert.True(t, errors.HasCode(err, repl.NotRunning), "got %v", err)

	status := c.Status()
	require.Len(t, status, 1)
	assert.False(t, status[0].IsRunning())
	assert.Equal(t, int64(2), status[0].EventsApplied)

	// a stopped collection can be started again
	require.NoError(t, c.Start(ctx, coll))
	assert.True(t, c.Status()[0].IsRunning())
}

func TestControllerNamespaces(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t)

	for _, ns := range []string{"shop.secret", "logs.events", "orders", ".orders", "shop."} {
		err := c.Start(t.Context(), ns)
		assert.True(t, errors.HasCode(err, repl.NamespaceNotAllowed), "%s: got %v", ns, err)
	}

	err := c.Stop(t.Context(), "shop.unknown")
	assert.True(t, errors.HasCode(err, repl.NotRunning))

	assert.Empty(t, c.Status())
}

func TestControllerAutostart(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	c, _, _ := newController(t)

	err := c.Autostart(ctx, []string{"shop.b", "shop.a", "logs.events"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, repl.NamespaceNotAllowed))

	status := c.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "shop.a", status[0].Collection)
	assert.Equal(t, "shop.b", status[1].Collection)

	require.NoError(t, c.StopAll(ctx))

	for _, st := range c.Status() {
		assert.False(t, st.IsRunning(), st.Collection)
	}

	require.NoError(t, c.StopAll(ctx), "stopping stopped engines is a no-op")
}

func TestControllerSharedDeadLetters(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t)
	require.NotNil(t, c.DeadLetters())
	assert.Zero(t, c.DeadLetters().Len())
}

// slowWatcher holds Watch of one collection until release is closed.
type slowWatcher struct {
	connector.Watcher

	collection string
	entered    chan struct{}
	release    chan struct{}
}

func (w *slowWatcher) Watch(ctx context.Context, collection string) (connector.ChangeStream, error) {
	if collection == w.collection {
		close(w.entered)

		select {
		case <-w.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return w.Watcher.Watch(ctx, collection)
}

func TestControllerSlowWatchDoesNotBlock(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	source, target := memstore.New("src"), memstore.New("dst")
	w := &slowWatcher{
		Watcher:    source,
		collection: "shop.slow",
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}

	c := repl.NewController(w, target, nil, repl.Options{MaxLatency: 10 * time.Millisecond})
	t.Cleanup(func() {
		_ = c.StopAll(context.Background())
	})

	slowErr := make(chan error, 1)
	go func() {
		slowErr <- c.Start(ctx, "shop.slow")
	}()

	<-w.entered

	done := make(chan struct{})
	go func() {
		defer close(done)

		assert.NoError(t, c.Start(ctx, "shop.fast"))
		assert.Len(t, c.Status(), 1)
		assert.NoError(t, c.Stop(ctx, "shop.fast"))

		err := c.Start(ctx, "shop.slow")
		assert.True(t, errors.HasCode(err, repl.AlreadyRunning), "got %v", err)

		err = c.Stop(ctx, "shop.slow")
		assert.True(t, errors.HasCode(err, repl.NotRunning), "got %v", err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("controller blocked by a stream being opened")
	}

	close(w.release)
	require.NoError(t, <-slowErr)

	status := c.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "shop.slow", status[1].Collection)
	assert.True(t, status[1].IsRunning())
}
