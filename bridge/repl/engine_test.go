package repl_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percona/percona-docbridge/bridge/repl"
	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/connector/memstore"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/util"
)

const coll = "shop.orders"

var errBoom = errors.New("boom")

type recorder struct {
	mu      sync.Mutex
	results []repl.BatchResult
}

func (r *recorder) hook(res repl.BatchResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *recorder) sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rv := make([]int, len(r.results))
	for i, res := range r.results {
		rv[i] = res.Size
	}

	return rv
}

func (r *recorder) total() int {
	n := 0
	for _, s := range r.sizes() {
		n += s
	}

	return n
}

func insert(t *testing.T, s *memstore.Store, ids ...string) {
	t.Helper()

	for _, id := range ids {
		require.NoError(t, s.Apply(t.Context(), connector.Operation{
			Collection: coll,
			Kind:       connector.Insert,
			ID:         id,
			Document:   connector.Document{"n": id},
		}))
	}
}

func fastRetry(attempts int) util.RetryPolicy {
	return util.RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func startEngine(
	t *testing.T,
	source, target *memstore.Store,
	opts repl.Options,
) *repl.Engine {
	t.Helper()

	e := repl.NewEngine(coll, source, target, opts)
	require.NoError(t, e.Start(t.Context()))

	t.Cleanup(func() {
		_ = e.Stop(context.Background())
	})

	return e
}

func waitRead(t *testing.T, e *repl.Engine, n int64) {
	t.Helper()

	require.Eventually(t, func() bool {
		return e.Status().EventsRead == n
	}, 5*time.Second, 5*time.Millisecond)
}

func TestEngineBatchSize(t *testing.T) {
	t.Parallel()

	source, target := memstore.New("src"), memstore.New("dst")
	rec := &recorder{}

	e := startEngine(t, source, target, repl.Options{
		BatchSize:  3,
		MaxLatency: time.Hour,
		Hook:       rec.hook,
	})

	insert(t, source, "1", "2", "3", "4", "5", "6", "7")
	waitRead(t, e, 7)

	require.Eventually(t, func() bool {
		return len(rec.sizes()) == 2
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop(t.Context()))

	assert.Equal(t, []int{3, 3, 1}, rec.sizes())
	assert.Equal(t, 7, target.Len(coll))

	st := e.Status()
	assert.False(t, st.IsRunning())
	assert.Equal(t, int64(7), st.EventsRead)
	assert.Equal(t, int64(7), st.EventsApplied)
	assert.Equal(t, int64(3), st.BatchesOK)
	assert.Zero(t, st.BatchesFailed)
	assert.NoError(t, st.Err)
}

func TestEngineLatencyFlush(t *testing.T) {
	t.Parallel()

	source, target := memstore.New("src"), memstore.New("dst")
	rec := &recorder{}

	e := startEngine(t, source, target, repl.Options{
		BatchSize:  100,
		MaxLatency: 20 * time.Millisecond,
		Hook:       rec.hook,
	})

	insert(t, source, "1", "2")

	require.Eventually(t, func() bool {
		return target.Len(coll) == 2
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, rec.total())

	st := e.Status()
	assert.True(t, st.IsRunning(), "a latency flush does not stop the engine")
	assert.NotZero(t, st.LastClusterTime.T)
}

func TestEngineReplaysKinds(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	source, target := memstore.New("src"), memstore.New("dst")

	require.NoError(t, target.Apply(ctx, connector.Operation{
		Collection: coll, Kind: connector.Upsert, ID: "stale", Document: connector.Document{"n": 0},
	}))

	e := startEngine(t, source, target, repl.Options{BatchSize: 2, MaxLatency: 10 * time.Millisecond})

	insert(t, source, "a", "b")
	require.NoError(t, source.Apply(ctx, connector.Operation{
		Collection: coll, Kind: connector.Update, ID: "a", Document: connector.Document{"qty": 2},
	}))
	require.NoError(t, source.Apply(ctx, connector.Operation{
		Collection: coll, Kind: connector.Delete, ID: "b",
	}))
	waitRead(t, e, 4)
	require.NoError(t, e.Stop(ctx))

	doc, ok, err := target.Fetch(ctx, coll, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, connector.Document{"_id": "a", "n": "a", "qty": 2}, doc)

	_, ok, err = target.Fetch(ctx, coll, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = target.Fetch(ctx, coll, "stale")
	require.NoError(t, err)
	assert.True(t, ok, "documents unknown to the stream are left alone")

	assert.Equal(t, int64(4), e.Status().EventsApplied)
}

func TestEngineDeadLetter(t *testing.T) {
	t.Parallel()

	source, target := memstore.New("src"), memstore.New("dst")
	target.SetFault(func(point string, op connector.Operation) error {
		if point == memstore.FaultApply && op.ID == "bad" {
			return errBoom
		}

		return nil
	})

	rec := &recorder{}
	dead := repl.NewDeadLetters(10)

	e := startEngine(t, source, target, repl.Options{
		BatchSize:   3,
		MaxLatency:  time.Hour,
		Retry:       fastRetry(3),
		DeadLetters: dead,
		Hook:        rec.hook,
	})

	insert(t, source, "a", "bad", "c")

	require.Eventually(t, func() bool {
		return dead.Len() == 1
	}, 5*time.Second, 5*time.Millisecond)

	dl := dead.List()[0]
	assert.Equal(t, coll, dl.Collection)
	assert.Len(t, dl.Events, 3)
	assert.Equal(t, 3, dl.Attempts)
	assert.True(t, errors.HasCode(dl.Err, repl.BatchReplayFailed))
	require.ErrorIs(t, dl.Err, errBoom)
	assert.Zero(t, e.Status().LastClusterTime, "a dead-lettered batch is not applied")

	// the engine keeps going after a dead letter
	insert(t, source, "d", "e", "f")

	require.Eventually(t, func() bool {
		return len(rec.sizes()) == 2
	}, 5*time.Second, 5*time.Millisecond)

	_, ok, err := target.Fetch(t.Context(), coll, "f")
	require.NoError(t, err)
	assert.True(t, ok)

	st := e.Status()
	assert.Equal(t, int64(1), st.BatchesFailed)
	assert.Equal(t, int64(1), st.BatchesOK)
	assert.Equal(t, int64(3), st.DeadLettered)
	assert.Equal(t, int64(3), st.EventsApplied)
	assert.True(t, dl.Events[2].ClusterTime.Before(st.LastClusterTime),
		"the last applied time comes from the applied batch")
	// each failed attempt applies "a" and fails on "bad"
	assert.Equal(t, 3*2+3, target.Calls(memstore.FaultApply))

	rec.mu.Lock()
	first := rec.results[0]
	rec.mu.Unlock()

	assert.Equal(t, 3, first.Attempts)
	require.Error(t, first.Err)
}

func TestEngineRetrySucceeds(t *testing.T) {
	t.Parallel()

	source, target := memstore.New("src"), memstore.New("dst")

	var mu sync.Mutex
	failures := 2
	target.SetFault(func(point string, _ connector.Operation) error {
		mu.Lock()
		defer mu.Unlock()

		if point == memstore.FaultApply && failures > 0 {
			failures--

			return errBoom
		}

		return nil
	})

	rec := &recorder{}
	e := startEngine(t, source, target, repl.Options{
		BatchSize:  1,
		MaxLatency: time.Hour,
		Retry:      fastRetry(5),
		Hook:       rec.hook,
	})

	insert(t, source, "a")

	require.Eventually(t, func() bool {
		return len(rec.sizes()) == 1
	}, 5*time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	res := rec.results[0]
	rec.mu.Unlock()

	assert.Equal(t, 3, res.Attempts)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, target.Len(coll))
	assert.Zero(t, e.Status().DeadLettered)
}

func TestEngineStopFlushesPending(t *testing.T) {
	t.Parallel()

	source, target := memstore.New("src"), memstore.New("dst")
	rec := &recorder{}

	e := startEngine(t, source, target, repl.Options{
		BatchSize:  100,
		MaxLatency: time.Hour,
		Hook:       rec.hook,
	})

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}

	insert(t, source, ids...)
	waitRead(t, e, 5)

	assert.Zero(t, target.Len(coll), "nothing is flushed before the latency expires")

	require.NoError(t, e.Stop(t.Context()))

	assert.Equal(t, []int{5}, rec.sizes())
	assert.Equal(t, 5, target.Len(coll))

	select {
	case <-e.Done():
	default:
		t.Fatal("engine is not done after Stop")
	}
}

func TestEngineStopBetweenBatches(t *testing.T) {
	t.Parallel()

	source, target := memstore.New("src"), memstore.New("dst")

	inFlight := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once
	target.SetFault(func(point string, op connector.Operation) error {
		if point == memstore.FaultApply && op.ID == "slow" {
			once.Do(func() { close(inFlight) })
			<-release
		}

		return nil
	})

	e := startEngine(t, source, target, repl.Options{BatchSize: 1, MaxLatency: time.Hour})

	insert(t, source, "slow")
	<-inFlight

	stopped := make(chan error, 1)
	go func() {
		stopped <- e.Stop(context.Background())
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a batch was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.Equal(t, 1, target.Len(coll))
	assert.Equal(t, int64(1), e.Status().EventsApplied)
}

func TestEngineStopTimeout(t *testing.T) {
	t.Parallel()

	source, target := memstore.New("src"), memstore.New("dst")

	release := make(chan struct{})
	target.SetFault(func(string, connector.Operation) error {
		<-release

		return nil
	})

	e := startEngine(t, source, target, repl.Options{BatchSize: 1, MaxLatency: time.Hour})
	t.Cleanup(func() { close(release) })

	insert(t, source, "a")
	waitRead(t, e, 1)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, e.Stop(ctx), context.DeadlineExceeded)
}

func TestEngineStreamEnd(t *testing.T) {
	t.Parallel()

	source, target := memstore.New("src"), memstore.New("dst")
	e := startEngine(t, source, target, repl.Options{BatchSize: 100, MaxLatency: time.Hour})

	insert(t, source, "a", "b")
	require.NoError(t, source.Close(t.Context()))

	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop at the end of the stream")
	}

	assert.Equal(t, 2, target.Len(coll))

	st := e.Status()
	assert.False(t, st.IsRunning())
	assert.NoError(t, st.Err)
}

func TestEngineWatchError(t *testing.T) {
	t.Parallel()

	source, target := memstore.New("src"), memstore.New("dst")
	require.NoError(t, source.Close(t.Context()))

	e := repl.NewEngine(coll, source, target, repl.Options{})
	require.Error(t, e.Start(t.Context()))
}
