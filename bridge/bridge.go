/*
Package bridge ties the document stores to the three engines of the gateway.

  - Translation: filters and pipelines become query plans (package query) that
    the target store runs.

  - Transactions: cross-store writes go through the approximate two-phase
    commit coordinator (package txn).

  - Synchronization: source change streams are replayed onto the target
    (package repl).
*/
package bridge

import (
	"context"
	"time"

	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/bridge/repl"
	"github.com/percona/percona-docbridge/bridge/txn"
	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
	"github.com/percona/percona-docbridge/metrics"
	"github.com/percona/percona-docbridge/sel"
	"github.com/percona/percona-docbridge/util"
)

// UnknownStore is the code of a write addressed to a store the bridge does not know.
const UnknownStore errors.Code = "UnknownStore"

// Options configure a [Bridge].
type Options struct {
	Source connector.Store
	Target connector.Store

	// Dialect renders the plans run by the target.
	Dialect query.Dialect
	// TargetStaging is [connector.StagingNative] or [connector.StagingEmulated].
	TargetStaging string
	// CallTimeout bounds every single store call.
	CallTimeout time.Duration

	Txn      txn.Options
	Sync     repl.Options
	NSFilter sel.NSFilter
}

// Bridge is the gateway facade used by the HTTP server.
type Bridge struct {
	source connector.Store
	target connector.Store
	stores map[string]connector.Store

	builder     *query.Builder
	coord       *txn.Coordinator
	sync        *repl.Controller
	callTimeout time.Duration
}

// New wires the engines. The source and the target must have distinct names.
func New(opts Options) (*Bridge, error) {
	if opts.Source == nil || opts.Target == nil {
		return nil, errors.New("source and target stores are required")
	}

	if opts.Source.Name() == opts.Target.Name() {
		return nil, errors.Errorf("source and target share the name %q", opts.Source.Name())
	}

	if opts.Dialect == nil {
		return nil, errors.New("dialect is required")
	}

	participants := map[string]connector.Participant{
		// the source is always staged natively when it can; the emulated mode
		// is a target setting
		opts.Source.Name(): connector.Staged(opts.Source, connector.StagingNative),
		opts.Target.Name(): connector.Staged(opts.Target, opts.TargetStaging),
	}

	txnOpts := opts.Txn
	if txnOpts.CallTimeout == 0 {
		txnOpts.CallTimeout = opts.CallTimeout
	}

	return &Bridge{
		source: opts.Source,
		target: opts.Target,
		stores: map[string]connector.Store{
			opts.Source.Name(): opts.Source,
			opts.Target.Name(): opts.Target,
		},
		builder:     query.NewBuilder(opts.Dialect),
		coord:       txn.NewCoordinator(participants, txnOpts),
		sync:        repl.NewController(opts.Source, opts.Target, opts.NSFilter, opts.Sync),
		callTimeout: opts.CallTimeout,
	}, nil
}

func (b *Bridge) Coordinator() *txn.Coordinator {
	return b.coord
}

func (b *Bridge) Sync() *repl.Controller {
	return b.sync
}

func (b *Bridge) Dialect() query.Dialect {
	return b.builder.Dialect()
}

// Translate builds the plan for a request over container.
func (b *Bridge) Translate(container string, opts query.Options) (*query.Plan, error) {
	plan, err := b.builder.Build(container, opts)
	if err != nil {
		metrics.IncTranslationErrors(string(errors.CodeOf(err)))

		return nil, err //nolint:wrapcheck
	}

	metrics.IncTranslations(b.builder.Dialect().Name())

	return plan, nil
}

// Find translates the request and runs the plan on the target.
func (b *Bridge) Find(ctx context.Context, container string, opts query.Options) (*query.Plan, []connector.Document, error) {
	plan, err := b.Translate(container, opts)
	if err != nil {
		return nil, nil, err
	}

	if !b.target.Capabilities().Query {
		return plan, nil, errors.Wrapf(errors.ErrUnsupported, "store %q cannot run queries", b.target.Name())
	}

	var docs []connector.Document

	err = util.WithTimeout(ctx, b.callTimeout, func(ctx context.Context) error {
		var err error
		docs, err = b.target.Execute(ctx, plan)

		return err //nolint:wrapcheck
	})
	if err != nil {
		return plan, nil, errors.Wrap(err, "execute")
	}

	log.Ctx(ctx).With(log.Coll(container), log.Size(len(docs))).Trace("Find")

	return plan, docs, nil
}

// Write applies a single write outside of a transaction. An empty store
// name addresses the target.
func (b *Bridge) Write(ctx context.Context, op connector.Operation) error {
	if op.Store == "" {
		op.Store = b.target.Name()
	}

	s, ok := b.stores[op.Store]
	if !ok {
		return errors.WithCode(errors.Errorf("unknown store %q", op.Store), UnknownStore)
	}

	err := op.Validate()
	if err != nil {
		return errors.Wrap(err, "invalid operation")
	}

	return util.WithTimeout(ctx, b.callTimeout, func(ctx context.Context) error {
		return s.Apply(ctx, op)
	})
}

// Status is a snapshot of the gateway.
type Status struct {
	Source  string
	Target  string
	Dialect string

	ActiveTransactions int
	DeadLetters        int64
	Sync               []repl.Status
}

func (b *Bridge) Status() Status {
	active := 0

	for _, rec := range b.coord.List() {
		if !rec.Status.Terminal() {
			active++
		}
	}

	return Status{
		Source:             b.source.Name(),
		Target:             b.target.Name(),
		Dialect:            b.builder.Dialect().Name(),
		ActiveTransactions: active,
		DeadLetters:        b.sync.DeadLetters().Total(),
		Sync:               b.sync.Status(),
	}
}

// Close stops the synchronization and closes both stores.
func (b *Bridge) Close(ctx context.Context) error {
	errs := []error{errors.Wrap(b.sync.StopAll(ctx), "stop sync")}

	for _, s := range []connector.Store{b.source, b.target} {
		errs = append(errs, errors.Wrapf(s.Close(ctx), "close %s", s.Name()))
	}

	return errors.Join(errs...)
}
