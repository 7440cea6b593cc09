package repl

import (
	"context"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
	"github.com/percona/percona-docbridge/sel"
)

// Controller error codes.
const (
	AlreadyRunning      errors.Code = "SyncAlreadyRunning"
	NotRunning          errors.Code = "SyncNotRunning"
	NamespaceNotAllowed errors.Code = "NamespaceNotAllowed"
)

// Controller runs one [Engine] per watched collection.
type Controller struct {
	source   connector.Watcher
	target   connector.Writer
	nsFilter sel.NSFilter
	opts     Options

	lock    sync.Mutex
	engines map[string]*Engine
	// starting holds namespaces whose change stream is being opened
	starting map[string]struct{}
}

// NewController creates a controller. The engines share one dead-letter ring.
func NewController(
	source connector.Watcher,
	target connector.Writer,
	nsFilter sel.NSFilter,
	opts Options,
) *Controller {
	if nsFilter == nil {
		nsFilter = sel.AllowAllFilter
	}

	opts.applyDefaults()

	return &Controller{
		source:   source,
		target:   target,
		nsFilter: nsFilter,
		opts:     opts,
		engines:  make(map[string]*Engine),
		starting: make(map[string]struct{}),
	}
}

// Start starts replicating the "db.coll" namespace. A stopped collection can
// be started again; its counters start over.
func (c *Controller) Start(ctx context.Context, ns string) error {
	db, coll := sel.SplitNS(ns)
	if db == "" || coll == "" {
		return errors.WithCode(errors.Errorf("invalid namespace %q", ns), NamespaceNotAllowed)
	}

	if !c.nsFilter(db, coll) {
		return errors.WithCode(errors.Errorf("namespace %q is excluded", ns), NamespaceNotAllowed)
	}

	c.lock.Lock()
	_, starting := c.starting[ns]
	if e := c.engines[ns]; starting || (e != nil && !isDone(e)) {
		c.lock.Unlock()

		return errors.WithCode(errors.Errorf("%q is already synchronized", ns), AlreadyRunning)
	}

	c.starting[ns] = struct{}{}
	c.lock.Unlock()

	// the stream is opened without the lock; the reservation keeps a second
	// Start of ns out
	e := NewEngine(ns, c.source, c.target, c.opts)
	err := e.Start(ctx)

	c.lock.Lock()
	delete(c.starting, ns)

	if err == nil {
		c.engines[ns] = e
	}
	c.lock.Unlock()

	return errors.Wrapf(err, "start %q", ns)
}

// Stop stops the namespace after its batch in flight.
func (c *Controller) Stop(ctx context.Context, ns string) error {
	c.lock.Lock()
	e := c.engines[ns]
	c.lock.Unlock()

	if e == nil || isDone(e) {
		return errors.WithCode(errors.Errorf("%q is not synchronized", ns), NotRunning)
	}

	return e.Stop(ctx)
}

// StopAll stops every running engine concurrently.
func (c *Controller) StopAll(ctx context.Context) error {
	c.lock.Lock()
	engines := make([]*Engine, 0, len(c.engines))

	for _, e := range c.engines {
		engines = append(engines, e)
	}
	c.lock.Unlock()

	grp, grpCtx := errgroup.WithContext(ctx)

	for _, e := range engines {
		grp.Go(func() error {
			return errors.Wrap(e.Stop(grpCtx), e.Collection())
		})
	}

	return grp.Wait() //nolint:wrapcheck
}

// Autostart starts every listed namespace and joins the failures.
func (c *Controller) Autostart(ctx context.Context, namespaces []string) error {
	var errs []error

	for _, ns := range namespaces {
		err := c.Start(ctx, ns)
		if err != nil {
			log.Ctx(ctx).With(log.Coll(ns)).Error(err, "Autostart")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Status returns the status of every engine ever started, sorted by namespace.
func (c *Controller) Status() []Status {
	c.lock.Lock()
	defer c.lock.Unlock()

	rv := make([]Status, 0, len(c.engines))
	for _, e := range c.engines {
		rv = append(rv, e.Status())
	}

	slices.SortFunc(rv, func(a, b Status) int {
		return strings.Compare(a.Collection, b.Collection)
	})

	return rv
}

// DeadLetters returns the shared dead-letter ring.
func (c *Controller) DeadLetters() *DeadLetters {
	return c.opts.DeadLetters
}

func isDone(e *Engine) bool {
	select {
	case <-e.Done():
		return true
	default:
		return false
	}
}
