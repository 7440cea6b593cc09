package repl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
	"github.com/percona/percona-docbridge/metrics"
	"github.com/percona/percona-docbridge/util"
)

// Defaults used for zero [Options] values.
const (
	DefaultBatchSize  = 100
	DefaultMaxLatency = 500 * time.Millisecond
	DefaultQueueSize  = 1000
)

// Options configure an [Engine].
type Options struct {
	// BatchSize is the maximum number of events per batch.
	BatchSize int
	// MaxLatency bounds the time between the first event of a batch and its flush.
	MaxLatency time.Duration
	// Retry bounds the replay attempts of one batch.
	Retry util.RetryPolicy
	// QueueSize is the capacity of the channel between the reader and the batcher.
	QueueSize int

	DeadLetters *DeadLetters
	Hook        Hook
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}

	if o.MaxLatency <= 0 {
		o.MaxLatency = DefaultMaxLatency
	}

	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}

	if o.DeadLetters == nil {
		o.DeadLetters = NewDeadLetters(0)
	}
}

// Status is a snapshot of an engine.
type Status struct {
	Collection string

	StartTime time.Time
	StopTime  time.Time

	LastClusterTime bson.Timestamp // cluster time of the last applied event
	EventsRead      int64
	EventsApplied   int64
	DeadLettered    int64
	BatchesOK       int64
	BatchesFailed   int64

	Err error
}

//go:inline
func (s *Status) IsRunning() bool {
	return !s.StartTime.IsZero() && s.StopTime.IsZero()
}

// Engine replicates one source collection onto the target. A reader goroutine
// pulls the change stream into a bounded channel; the batch loop cuts the
// channel into batches and replays them one at a time.
type Engine struct {
	collection string
	source     connector.Watcher
	target     connector.Writer
	opts       Options

	lock sync.Mutex
	err  error

	startTime time.Time
	stopTime  time.Time
	lastTS    bson.Timestamp

	eventsRead    atomic.Int64
	eventsApplied int64
	deadLettered  int64
	batchesOK     int64
	batchesFailed int64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewEngine(collection string, source connector.Watcher, target connector.Writer, opts Options) *Engine {
	opts.applyDefaults()

	return &Engine{
		collection: collection,
		source:     source,
		target:     target,
		opts:       opts,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

func (e *Engine) Collection() string {
	return e.collection
}

// Start opens the change stream and starts the loop. Events committed after
// Start returns are replicated. The loop outlives ctx and ends on [Engine.Stop]
// or when the stream ends.
func (e *Engine) Start(ctx context.Context) error {
	stream, err := e.source.Watch(ctx, e.collection)
	if err != nil {
		return errors.Wrap(err, "watch")
	}

	e.lock.Lock()
	e.startTime = time.Now()
	e.lock.Unlock()

	lg := log.Ctx(ctx).With(log.Scope("repl:engine"), log.Coll(e.collection))
	runCtx := lg.WithContext(context.WithoutCancel(ctx))

	go e.run(runCtx, stream)

	lg.Info("Started")

	return nil
}

// Stop asks the loop to finish after the batch in flight and waits until the
// events already read are replayed or ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stopCh) })

	select {
	case <-e.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}
}

// Done is closed when the loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.doneCh
}

func (e *Engine) Status() Status {
	e.lock.Lock()
	defer e.lock.Unlock()

	return Status{
		Collection:      e.collection,
		StartTime:       e.startTime,
		StopTime:        e.stopTime,
		LastClusterTime: e.lastTS,
		EventsRead:      e.eventsRead.Load(),
		EventsApplied:   e.eventsApplied,
		DeadLettered:    e.deadLettered,
		BatchesOK:       e.batchesOK,
		BatchesFailed:   e.batchesFailed,
		Err:             e.err,
	}
}

func (e *Engine) run(ctx context.Context, stream connector.ChangeStream) {
	lg := log.Ctx(ctx)

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	eventC := make(chan connector.ChangeEvent, e.opts.QueueSize)
	readDone := make(chan struct{})

	go func() {
		defer close(readDone)
		e.read(readCtx, stream, eventC)
	}()

	defer func() {
		cancelRead()
		<-readDone

		err := stream.Close(context.WithoutCancel(ctx))
		if err != nil {
			lg.Error(err, "Close change stream")
		}

		e.lock.Lock()
		e.stopTime = time.Now()
		e.lock.Unlock()

		close(e.doneCh)

		lg.Info("Stopped")
	}()

	batch := &Batch{Collection: e.collection}

	var timer *time.Timer
	var timerC <-chan time.Time

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	defer stopTimer()

	flush := func() {
		stopTimer()

		if batch.Len() == 0 {
			return
		}

		e.replay(ctx, batch)
		batch = &Batch{Collection: e.collection}
	}

	for {
		select {
		case <-e.stopCh:
			cancelRead()

			// the reader closes eventC once it sees the cancellation
			for ev := range eventC {
				batch.Events = append(batch.Events, ev)
				if batch.Len() >= e.opts.BatchSize {
					flush()
				}
			}

			flush()

			return

		case ev, ok := <-eventC:
			if !ok {
				flush()

				return
			}

			if batch.Len() == 0 {
				timer = time.NewTimer(e.opts.MaxLatency)
				timerC = timer.C
			}

			batch.Events = append(batch.Events, ev)
			if batch.Len() >= e.opts.BatchSize {
				flush()
			}

		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// read pulls the stream into eventC until the stream ends or ctx is canceled.
func (e *Engine) read(ctx context.Context, stream connector.ChangeStream, eventC chan<- connector.ChangeEvent) {
	defer close(eventC)

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, connector.ErrStreamClosed) {
				log.Ctx(ctx).Error(err, "Read change stream")
				e.setError(errors.Wrap(err, "read change stream"))
			}

			return
		}

		e.eventsRead.Add(1)
		metrics.IncEventsRead(e.collection)

		// the batch loop drains eventC until it is closed, so every event
		// read is replayed
		eventC <- ev
	}
}

// replay applies the batch with retries. The replay is never interrupted:
// the batch is either applied or dead-lettered.
func (e *Engine) replay(ctx context.Context, batch *Batch) {
	lg := log.Ctx(ctx).With(log.Size(batch.Len()))
	start := time.Now()

	attempts, err := util.Retry(context.WithoutCancel(ctx), e.opts.Retry,
		func(ctx context.Context, _ int) error {
			return Replay(ctx, e.target, batch)
		},
		func(attempt int, err error, wait time.Duration) {
			lg.With(log.Attempt(attempt)).Warnf("Batch replay failed, retrying in %s: %v", wait, err)
		})

	res := BatchResult{
		Collection: e.collection,
		Size:       batch.Len(),
		Attempts:   attempts,
		Duration:   time.Since(start),
		LastTime:   batch.LastTime(),
	}

	e.lock.Lock()
	if err != nil {
		res.Err = errors.WithCode(errors.Wrapf(err, "replay %d events", res.Size), BatchReplayFailed)
		e.deadLettered += int64(res.Size)
		e.batchesFailed++
	} else {
		e.eventsApplied += int64(res.Size)
		e.batchesOK++
		e.lastTS = res.LastTime
	}
	e.lock.Unlock()

	if res.Err != nil {
		e.opts.DeadLetters.Add(DeadLetter{
			Collection: e.collection,
			Events:     batch.Events,
			Attempts:   attempts,
			Err:        res.Err,
			At:         time.Now(),
		})

		lg.With(log.Attempt(attempts), log.Elapsed(res.Duration)).
			Error(res.Err, "Batch dead-lettered")
	} else {
		lg.With(log.Attempt(attempts), log.Elapsed(res.Duration),
			log.OpTime(res.LastTime.T, res.LastTime.I)).
			Trace("Batch applied")
	}

	if e.opts.Hook != nil {
		e.opts.Hook(res)
	}
}

func (e *Engine) setError(err error) {
	e.lock.Lock()
	e.err = err
	e.lock.Unlock()
}
