// Package memstore is an in-memory document store with native staging and a
// change feed built from its own writes.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
)

// Fault points passed to a [FaultFunc].
const (
	FaultApply   = "apply"
	FaultFetch   = "fetch"
	FaultExecute = "execute"
	FaultPrepare = "prepare"
	FaultCommit  = "commit"
	FaultAbort   = "abort"
)

// FaultFunc is consulted before every store call. A non-nil error fails the call.
type FaultFunc func(point string, op connector.Operation) error

// Store keeps documents in maps guarded by one mutex.
type Store struct {
	name string

	mu     sync.Mutex
	colls  map[string]map[string]connector.Document
	staged map[string]connector.StagingHandle
	feeds  map[string]*feed
	calls  map[string]int
	fault  FaultFunc
	clock  uint32
	closed bool
}

var _ connector.Store = (*Store)(nil)

func New(name string) *Store {
	return &Store{
		name:   name,
		colls:  make(map[string]map[string]connector.Document),
		staged: make(map[string]connector.StagingHandle),
		feeds:  make(map[string]*feed),
		calls:  make(map[string]int),
	}
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Capabilities() connector.Capabilities {
	return connector.Capabilities{NativeStaging: true, Query: true, Watch: true}
}

// SetFault installs f. Nil removes the fault hook.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// Calls returns how many times the fault point was reached.
func (s *Store) Calls(point string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[point]
}

// Len returns the number of documents in the collection.
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.colls[collection])
}

// Staged returns the number of prepared, unresolved handles.
func (s *Store) Staged() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.staged)
}

// enter counts the call and runs the fault hook outside the lock.
func (s *Store) enter(point string, op connector.Operation) error {
	s.mu.Lock()
	s.calls[point]++
	f := s.fault
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return errors.New("store is closed")
	}

	if f != nil {
		return f(point, op)
	}

	return nil
}

func (s *Store) Apply(ctx context.Context, op connector.Operation) error {
	err := op.Validate()
	if err != nil {
		return err
	}

	err = s.enter(FaultApply, op)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyLocked(op)
}

func (s *Store) applyLocked(op connector.Operation) error {
	coll := s.colls[op.Collection]
	if coll == nil {
		coll = make(map[string]connector.Document)
		s.colls[op.Collection] = coll
	}

	prev, found := coll[op.ID]

	var next connector.Document

	switch op.Kind {
	case connector.Insert:
		if found {
			return errors.Wrapf(errors.ErrDuplicateKey, "%s/%s", op.Collection, op.ID)
		}

		next = connector.WithID(op.Document, op.ID)
	case connector.Update:
		if !found {
			return errors.Wrapf(errors.ErrNotFound, "%s/%s", op.Collection, op.ID)
		}

		next = connector.WithID(connector.Merge(prev, op.Document), op.ID)
	case connector.Upsert:
		next = connector.WithID(op.Document, op.ID)
	case connector.Delete:
		if !found {
			return nil
		}

		delete(coll, op.ID)
		s.publishLocked(op.Collection, connector.Delete, op.ID, connector.Document{connector.IDField: op.ID})

		return nil
	}

	coll[op.ID] = next

	kind := connector.Insert
	if found {
		kind = connector.Update
	}

	s.publishLocked(op.Collection, kind, op.ID, next)

	return nil
}

func (s *Store) Fetch(ctx context.Context, collection, id string) (connector.Document, bool, error) {
	err := s.enter(FaultFetch, connector.Operation{Collection: collection, ID: id})
	if err != nil {
		return nil, false, err
	}

	if err := ctx.Err(); err != nil {
		return nil, false, err //nolint:wrapcheck
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.colls[collection][id]

	return connector.Clone(doc), ok, nil
}

// Execute evaluates the plan's filter, sort and pagination over a snapshot of
// the collection. Grouped plans are not supported.
func (s *Store) Execute(ctx context.Context, plan *query.Plan) ([]connector.Document, error) {
	if plan.Grouped() {
		return nil, errors.Wrap(errors.ErrUnsupported, "memstore: grouped queries")
	}

	err := s.enter(FaultExecute, connector.Operation{Collection: plan.Container()})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}

	s.mu.Lock()
	docs := make([]connector.Document, 0, len(s.colls[plan.Container()]))
	for _, doc := range s.colls[plan.Container()] {
		docs = append(docs, connector.Clone(doc))
	}
	s.mu.Unlock()

	// map iteration order is random
	slices.SortFunc(docs, func(a, b connector.Document) int {
		return query.Compare(a[connector.IDField], b[connector.IDField])
	})

	filter := plan.Filter()
	matched := docs[:0]

	for _, doc := range docs {
		ok, err := query.Match(filter, doc)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		if ok {
			matched = append(matched, doc)
		}
	}

	if sort := plan.Sort(); len(sort) != 0 {
		slices.SortStableFunc(matched, func(a, b connector.Document) int {
			for _, f := range sort {
				va, _ := query.Lookup(a, f.Field)
				vb, _ := query.Lookup(b, f.Field)

				if c := query.Compare(va, vb); c != 0 {
					return c * f.Direction
				}
			}

			return 0
		})
	}

	offset := min(plan.SkipCount(), int64(len(matched)))
	matched = matched[offset:]

	if limit := plan.LimitCount(); limit > 0 && limit < int64(len(matched)) {
		matched = matched[:limit]
	}

	rv := make([]connector.Document, len(matched))
	for i, doc := range matched {
		rv[i] = connector.Shape(plan, doc)
	}

	return rv, nil
}

// PrepareStage captures the before-image and holds the write until commit.
func (s *Store) PrepareStage(
	ctx context.Context,
	txID string,
	op connector.Operation,
) (connector.StagingHandle, error) {
	err := op.Validate()
	if err != nil {
		return connector.StagingHandle{}, err
	}

	err = s.enter(FaultPrepare, op)
	if err != nil {
		return connector.StagingHandle{}, err
	}

	if err := ctx.Err(); err != nil {
		return connector.StagingHandle{}, err //nolint:wrapcheck
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before, found := s.colls[op.Collection][op.ID]

	switch {
	case op.Kind == connector.Insert && found:
		return connector.StagingHandle{}, errors.Wrapf(errors.ErrDuplicateKey, "%s/%s", op.Collection, op.ID)
	case op.Kind == connector.Update && !found:
		return connector.StagingHandle{}, errors.Wrapf(errors.ErrNotFound, "%s/%s", op.Collection, op.ID)
	}

	h := connector.StagingHandle{
		ID:      uuid.NewString(),
		TxID:    txID,
		Op:      op,
		Before:  connector.Clone(before),
		Existed: found,
	}

	s.staged[h.ID] = h

	return h, nil
}

func (s *Store) CommitStage(ctx context.Context, h connector.StagingHandle) error {
	err := s.enter(FaultCommit, h.Op)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged, ok := s.staged[h.ID]
	if !ok {
		return errors.Errorf("unknown staging handle %q", h.ID)
	}

	delete(s.staged, h.ID)

	return s.applyLocked(staged.Op)
}

// AbortStage discards the staged write. Unknown handles are ignored.
func (s *Store) AbortStage(ctx context.Context, h connector.StagingHandle) error {
	err := s.enter(FaultAbort, h.Op)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}

	s.mu.Lock()
	delete(s.staged, h.ID)
	s.mu.Unlock()

	return nil
}

func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	for _, f := range s.feeds {
		f.close()
	}

	log.New("memstore").With(log.Store(s.name)).Debug("Closed")

	return nil
}

// publishLocked appends an event to the collection feed.
func (s *Store) publishLocked(collection string, kind connector.Kind, id string, doc connector.Document) {
	s.clock++

	now := time.Now()
	s.feedLocked(collection).push(connector.ChangeEvent{
		Collection:  collection,
		Kind:        kind,
		DocumentID:  id,
		ClusterTime: bson.Timestamp{T: uint32(now.Unix()), I: s.clock}, //nolint:gosec
		WallTime:    now,
		Document:    connector.Clone(doc),
	})
}

func (s *Store) feedLocked(collection string) *feed {
	f := s.feeds[collection]
	if f == nil {
		f = newFeed()
		s.feeds[collection] = f
	}

	return f
}
