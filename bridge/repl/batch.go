// Package repl replays the change stream of a source collection onto a
// target store in ordered, bounded batches.
package repl

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/util"
)

// BatchReplayFailed is the code of a batch that ran out of attempts.
const BatchReplayFailed errors.Code = "BatchReplayFailed"

// Batch is an ordered run of change events of one collection.
type Batch struct {
	Collection string
	Events     []connector.ChangeEvent
}

func (b *Batch) Len() int {
	return len(b.Events)
}

// LastTime is the cluster time of the last event, zero for an empty batch.
func (b *Batch) LastTime() bson.Timestamp {
	if len(b.Events) == 0 {
		return bson.Timestamp{}
	}

	return b.Events[len(b.Events)-1].ClusterTime
}

// BatchResult describes one processed batch.
type BatchResult struct {
	Collection string
	Size       int
	Attempts   int
	Err        error
	Duration   time.Duration
	LastTime   bson.Timestamp
}

// Hook is called after every processed batch, successful or dead-lettered.
type Hook func(BatchResult)

// Operation maps a change event to the idempotent write that replays it:
// inserts and updates become upserts of the full document and deletes stay
// deletes.
func Operation(collection string, ev connector.ChangeEvent) connector.Operation {
	op := connector.Operation{
		Collection: collection,
		ID:         ev.DocumentID,
	}

	switch ev.Kind {
	case connector.Delete:
		op.Kind = connector.Delete
	default:
		op.Kind = connector.Upsert
		op.Document = connector.WithID(ev.Document, ev.DocumentID)
	}

	return op
}

// Replay applies the batch in order. A delete of a missing document counts as
// applied. Malformed events fail permanently.
func Replay(ctx context.Context, w connector.Writer, b *Batch) error {
	for i, ev := range b.Events {
		op := Operation(b.Collection, ev)

		err := op.Validate()
		if err != nil {
			return util.Permanent(errors.Wrapf(err, "event %d", i))
		}

		err = w.Apply(ctx, op)
		if err != nil {
			if op.Kind == connector.Delete && errors.Is(err, errors.ErrNotFound) {
				continue
			}

			return errors.Wrapf(err, "event %d: %s %s", i, ev.Kind, ev.DocumentID)
		}
	}

	return nil
}
