// Package connector defines the boundary between the bridge and the document
// stores it reads from, writes to and watches.
package connector

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/errors"
)

// Document is a decoded document. Nested documents are map[string]any.
type Document = map[string]any

// Kind is the kind of a write operation or change event.
type Kind string

const (
	Insert Kind = "insert"
	Update Kind = "update"
	Upsert Kind = "upsert"
	Delete Kind = "delete"
)

// IDField holds the document identifier inside stored documents.
const IDField = "_id"

// ErrStreamClosed is returned by [ChangeStream.Next] after the feed has ended.
var ErrStreamClosed = errors.New("change stream closed")

// Operation is a single-document write.
//
// Insert fails with [errors.ErrDuplicateKey] if the document exists. Update
// merges the document fields into the stored document and fails with
// [errors.ErrNotFound] if it is missing. Upsert replaces the document. Delete
// removes the document if present.
type Operation struct {
	Store      string   `json:"store"`
	Collection string   `json:"collection"`
	Kind       Kind     `json:"kind"`
	ID         string   `json:"id"`
	Document   Document `json:"document,omitempty"`
}

// Validate checks that the operation is complete.
func (op *Operation) Validate() error {
	switch op.Kind {
	case Insert, Update, Upsert:
		if op.Document == nil {
			return errors.Errorf("%s requires a document", op.Kind)
		}
	case Delete:
	default:
		return errors.Errorf("unknown operation kind %q", op.Kind)
	}

	if op.Collection == "" {
		return errors.New("collection is empty")
	}

	if op.ID == "" {
		return errors.New("document id is empty")
	}

	return nil
}

// ChangeEvent is an immutable record of a committed mutation on the source.
// The document is the full document for inserts, the post-image for updates
// and the key only for deletes.
type ChangeEvent struct {
	Collection  string
	Kind        Kind
	DocumentID  string
	ClusterTime bson.Timestamp
	WallTime    time.Time
	Document    Document
}

// ChangeStream is a pull-based, unbounded feed of change events.
type ChangeStream interface {
	// Next blocks until the next event arrives. It returns [ErrStreamClosed]
	// once the feed has ended and ctx.Err() when ctx is done.
	Next(ctx context.Context) (ChangeEvent, error)
	Close(ctx context.Context) error
}

// Capabilities describe what a store supports natively.
type Capabilities struct {
	NativeStaging bool
	Query         bool
	Watch         bool
}

// StagingHandle identifies a prepared write. Before is the image of the
// document prior to the write and is used for compensation.
type StagingHandle struct {
	ID      string
	TxID    string
	Op      Operation
	Before  Document
	Existed bool
}

// Undo returns the operation that reverts the staged write once applied.
func (h *StagingHandle) Undo() Operation {
	undo := Operation{
		Store:      h.Op.Store,
		Collection: h.Op.Collection,
		ID:         h.Op.ID,
	}

	if h.Existed {
		undo.Kind = Upsert
		undo.Document = h.Before
	} else {
		undo.Kind = Delete
	}

	return undo
}

// Reader runs query plans.
type Reader interface {
	Execute(ctx context.Context, plan *query.Plan) ([]Document, error)
}

// Writer applies single-document writes.
type Writer interface {
	Apply(ctx context.Context, op Operation) error
	// Fetch returns the stored document. The bool is false if it does not exist.
	Fetch(ctx context.Context, collection, id string) (Document, bool, error)
}

// Stager supports the two-phase write path of the transaction coordinator.
// Handles prepared under the same TxID may share one store transaction.
type Stager interface {
	PrepareStage(ctx context.Context, txID string, op Operation) (StagingHandle, error)
	CommitStage(ctx context.Context, h StagingHandle) error
	AbortStage(ctx context.Context, h StagingHandle) error
}

// Watcher opens change feeds.
type Watcher interface {
	Watch(ctx context.Context, collection string) (ChangeStream, error)
}

// Store is a complete connector. Unsupported primitives return an error
// matching [errors.ErrUnsupported].
type Store interface {
	Reader
	Writer
	Stager
	Watcher

	Name() string
	Capabilities() Capabilities
	Close(ctx context.Context) error
}

// Participant is what the transaction coordinator needs from a store.
type Participant interface {
	Writer
	Stager
}
