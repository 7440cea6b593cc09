package txn

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
	"github.com/percona/percona-docbridge/metrics"
	"github.com/percona/percona-docbridge/util"
)

// Options configure a [Coordinator].
type Options struct {
	// Log defaults to a [MemLog].
	Log Log
	// CallTimeout bounds every store call. Zero means no timeout.
	CallTimeout time.Duration
	// ArchiveSize is the number of terminal records kept after sweeping.
	ArchiveSize int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator owns the transaction records and drives the stores through
// prepare, apply and compensation. The lock is held for record lookups and
// transitions only, never across a store call.
type Coordinator struct {
	mu          sync.Mutex
	log         Log
	archive     *archive
	stores      map[string]connector.Participant
	callTimeout time.Duration
	now         func() time.Time
}

func NewCoordinator(stores map[string]connector.Participant, opts Options) *Coordinator {
	if opts.Log == nil {
		opts.Log = NewMemLog()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Coordinator{
		log:         opts.Log,
		archive:     newArchive(opts.ArchiveSize),
		stores:      stores,
		callTimeout: opts.CallTimeout,
		now:         opts.Now,
	}
}

// Stores lists the participant names.
func (c *Coordinator) Stores() []string {
	names := make([]string, 0, len(c.stores))
	for name := range c.stores {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Begin allocates a new transaction in the Started state.
func (c *Coordinator) Begin(ctx context.Context) (string, error) {
	rec := &Record{
		ID:        uuid.NewString(),
		Status:    Started,
		StartedAt: c.now(),
	}

	c.mu.Lock()
	c.log.Put(rec)
	active := c.activeLocked()
	c.mu.Unlock()

	metrics.SetTransactionsActive(active)
	log.Ctx(ctx).With(log.TxID(rec.ID)).Debug("Transaction started")

	return rec.ID, nil
}

// Enlist appends op to a Started transaction.
func (c *Coordinator) Enlist(ctx context.Context, id string, op connector.Operation) error {
	err := op.Validate()
	if err != nil {
		return errors.Wrap(err, "invalid operation")
	}

	if _, ok := c.stores[op.Store]; !ok {
		return errors.WithCode(errors.Errorf("unknown store %q", op.Store), StoreUnavailable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.lookupLocked(id)
	if err != nil {
		return err
	}

	if rec.Status != Started || rec.busy {
		return stateError(rec, "enlist")
	}

	rec.Operations = append(rec.Operations, op)
	rec.addParticipant(op.Store)

	log.Ctx(ctx).With(log.TxID(id), log.Op(string(op.Kind)), log.Coll(op.Collection)).
		Trace("Operation enlisted")

	return nil
}

// Get returns a snapshot of a live or archived transaction.
func (c *Coordinator) Get(id string) (Record, error) {
	c.mu.Lock()
	rec, ok := c.log.Get(id)

	var snap Record
	if ok {
		snap = rec.clone()
	}
	c.mu.Unlock()

	if ok {
		return snap, nil
	}

	snap, ok = c.archive.get(id)
	if !ok {
		return Record{}, notFound(id)
	}

	return snap, nil
}

// List returns snapshots of the live transactions.
func (c *Coordinator) List() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs := c.log.List()
	rv := make([]Record, len(recs))

	for i, rec := range recs {
		rv[i] = rec.clone()
	}

	return rv
}

// Prepare runs the prepare pass alone. On failure the transaction is rolled
// back and the error carries [PrepareFailed].
func (c *Coordinator) Prepare(ctx context.Context, id string) error {
	rec, err := c.acquire(id, "prepare", Started)
	if err != nil {
		return err
	}

	defer c.release(rec)

	return c.prepare(ctx, rec)
}

// Commit prepares a Started transaction and applies it. A Prepared
// transaction is only applied.
func (c *Coordinator) Commit(ctx context.Context, id string) error {
	rec, err := c.acquire(id, "commit", Started, Prepared)
	if err != nil {
		return err
	}

	defer c.release(rec)

	if c.status(rec) == Started {
		err = c.prepare(ctx, rec)
		if err != nil {
			return err
		}
	}

	return c.apply(ctx, rec)
}

// Rollback compensates applied operations in reverse enlistment order,
// aborts the prepared ones and moves the transaction to RolledBack.
func (c *Coordinator) Rollback(ctx context.Context, id string) error {
	rec, err := c.acquire(id, "rollback", Started, Prepared, Failed)
	if err != nil {
		return err
	}

	defer c.release(rec)

	return c.undo(ctx, rec, nil)
}

// acquire marks a record busy if its status is one of allowed.
func (c *Coordinator) acquire(id, action string, allowed ...Status) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	if rec.busy || !slices.Contains(allowed, rec.Status) {
		return nil, stateError(rec, action)
	}

	rec.busy = true

	return rec, nil
}

func (c *Coordinator) release(rec *Record) {
	c.mu.Lock()
	rec.busy = false
	c.mu.Unlock()
}

func (c *Coordinator) lookupLocked(id string) (*Record, error) {
	rec, ok := c.log.Get(id)
	if !ok {
		if _, archived := c.archive.get(id); archived {
			return nil, errors.WithCode(
				errors.Errorf("transaction %s is archived", id), InvalidTransactionState)
		}

		return nil, notFound(id)
	}

	return rec, nil
}

func (c *Coordinator) status(rec *Record) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return rec.Status
}

// transition moves rec to next under the lock.
func (c *Coordinator) transition(ctx context.Context, rec *Record, next Status, cause error) {
	c.mu.Lock()

	prev := rec.Status
	if !prev.canMoveTo(next) {
		c.mu.Unlock()
		log.Ctx(ctx).With(log.TxID(rec.ID)).Errorf(nil, "Invalid transition %s -> %s", prev, next)

		return
	}

	rec.Status = next
	if cause != nil && rec.Error == "" {
		rec.Error = cause.Error()
	}

	if next.Terminal() {
		rec.EndedAt = c.now()
	}

	active := c.activeLocked()
	c.mu.Unlock()

	metrics.SetTransactionsActive(active)

	if next.Terminal() {
		metrics.IncTransactions(string(next))
	}

	log.Ctx(ctx).With(log.TxID(rec.ID)).Debugf("Transaction %s -> %s", prev, next)
}

// call runs one store call under the call timeout.
func (c *Coordinator) call(ctx context.Context, fn func(context.Context) error) error {
	return util.WithTimeout(ctx, c.callTimeout, fn)
}

func (c *Coordinator) prepare(ctx context.Context, rec *Record) error {
	c.mu.Lock()
	ops := slices.Clone(rec.Operations)
	rec.Stages = make([]Stage, len(ops))
	c.mu.Unlock()

	lg := log.Ctx(ctx).With(log.TxID(rec.ID))

	for i, op := range ops {
		var h connector.StagingHandle

		err := c.call(ctx, func(ctx context.Context) error {
			var err error
			h, err = c.stores[op.Store].PrepareStage(ctx, rec.ID, op)

			return err //nolint:wrapcheck
		})
		if err != nil {
			err = errors.WithCode(
				errors.Wrapf(err, "prepare %s %s/%s on %s", op.Kind, op.Collection, op.ID, op.Store),
				PrepareFailed)
			lg.Error(err, "Prepare failed")

			c.transition(ctx, rec, Failed, err)

			undoErr := c.undo(context.WithoutCancel(ctx), rec, err)
			if undoErr != nil {
				return errors.Join(err, undoErr)
			}

			return err
		}

		c.mu.Lock()
		rec.Stages[i] = Stage{Handle: h, Prepared: true}
		c.mu.Unlock()
	}

	c.transition(ctx, rec, Prepared, nil)

	return nil
}

// apply commits every prepared stage. It runs to completion regardless of
// the caller's cancellation.
func (c *Coordinator) apply(ctx context.Context, rec *Record) error {
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	stages := slices.Clone(rec.Stages)
	c.mu.Unlock()

	for i, st := range stages {
		op := st.Handle.Op

		err := c.call(ctx, func(ctx context.Context) error {
			return c.stores[op.Store].CommitStage(ctx, st.Handle)
		})
		if err != nil {
			err = errors.WithCode(
				errors.Wrapf(err, "commit %s %s/%s on %s", op.Kind, op.Collection, op.ID, op.Store),
				StoreUnavailable)
			log.Ctx(ctx).With(log.TxID(rec.ID)).Error(err, "Apply failed")

			c.transition(ctx, rec, Failed, err)

			undoErr := c.undo(ctx, rec, err)
			if undoErr != nil {
				return errors.Join(err, undoErr)
			}

			return err
		}

		c.mu.Lock()
		rec.Stages[i].Applied = true
		c.mu.Unlock()
	}

	c.transition(ctx, rec, Committed, nil)

	return nil
}

// undo compensates applied stages and aborts prepared ones in reverse order.
// The transaction ends RolledBack unless a store call failed, in which case
// it stays Failed and is escalated.
func (c *Coordinator) undo(ctx context.Context, rec *Record, cause error) error {
	c.mu.Lock()
	stages := slices.Clone(rec.Stages)
	c.mu.Unlock()

	lg := log.Ctx(ctx).With(log.TxID(rec.ID))

	var errs []error

	for i := len(stages) - 1; i >= 0; i-- {
		st := stages[i]
		if !st.Prepared {
			continue
		}

		p := c.stores[st.Handle.Op.Store]

		switch {
		case st.Applied && !st.Compensated:
			undo := st.Handle.Undo()

			err := c.call(ctx, func(ctx context.Context) error {
				return p.Apply(ctx, undo)
			})
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "compensate %s/%s on %s",
					undo.Collection, undo.ID, undo.Store))

				continue
			}

			c.mu.Lock()
			rec.Stages[i].Compensated = true
			c.mu.Unlock()

		case !st.Applied && !st.Aborted:
			err := c.call(ctx, func(ctx context.Context) error {
				return p.AbortStage(ctx, st.Handle)
			})
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "abort %s/%s on %s",
					st.Handle.Op.Collection, st.Handle.Op.ID, st.Handle.Op.Store))

				continue
			}

			c.mu.Lock()
			rec.Stages[i].Aborted = true
			c.mu.Unlock()
		}
	}

	if len(errs) != 0 {
		err := errors.WithCode(errors.Join(errs...), StoreUnavailable)

		c.mu.Lock()
		rec.Escalated = true
		c.mu.Unlock()

		if c.status(rec) != Failed {
			c.transition(ctx, rec, Failed, err)
		}

		metrics.IncInconsistencies()
		lg.Error(err, "Compensation failed. The stores may be inconsistent")

		return err
	}

	c.mu.Lock()
	rec.Escalated = false
	c.mu.Unlock()

	c.transition(ctx, rec, RolledBack, cause)

	return nil
}

func (c *Coordinator) activeLocked() int {
	n := 0

	for _, r := range c.log.List() {
		if !r.Status.Terminal() {
			n++
		}
	}

	return n
}

// Sweep rolls back transactions left unresolved for longer than abandonAfter
// and moves terminal records to the archive. A non-positive abandonAfter only
// archives.
func (c *Coordinator) Sweep(ctx context.Context, abandonAfter time.Duration) (int, int) {
	lg := log.Ctx(ctx)

	var stale []string

	if abandonAfter > 0 {
		now := c.now()

		c.mu.Lock()
		for _, rec := range c.log.List() {
			if abandoned(rec, now, abandonAfter) {
				stale = append(stale, rec.ID)
			}
		}
		c.mu.Unlock()
	}

	rolledBack := 0

	for _, id := range stale {
		err := c.Rollback(ctx, id)
		if err != nil {
			lg.With(log.TxID(id)).Error(err, "Roll back abandoned transaction")

			continue
		}

		lg.With(log.TxID(id)).Warn("Rolled back abandoned transaction")

		rolledBack++
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	archived := 0

	for _, rec := range c.log.List() {
		if rec.Status.Terminal() && !rec.busy {
			c.archive.add(rec.clone())
			c.log.Delete(rec.ID)

			archived++
		}
	}

	return rolledBack, archived
}

func stateError(rec *Record, action string) error {
	if rec.busy {
		return errors.WithCode(
			errors.Errorf("cannot %s transaction %s: another phase is running", action, rec.ID),
			InvalidTransactionState)
	}

	return errors.WithCode(
		errors.Errorf("cannot %s transaction %s in state %s", action, rec.ID, rec.Status),
		InvalidTransactionState)
}

func notFound(id string) error {
	return errors.WithCode(errors.Errorf("transaction %s not found", id), TransactionNotFound)
}
