package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
	"github.com/percona/percona-docbridge/util"
)

const (
	changeStreamBatchSize = 500
	changeStreamAwaitTime = time.Second
	closeCursorTimeout    = 5 * time.Second
)

//nolint:gochecknoglobals
var reopenPolicy = util.RetryPolicy{
	MaxAttempts:     10,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

// changeDoc is the subset of a change event the bridge replicates.
type changeDoc struct {
	OperationType string         `bson:"operationType"`
	ClusterTime   bson.Timestamp `bson:"clusterTime"`
	WallTime      time.Time      `bson:"wallTime"`
	DocumentKey   bson.D         `bson:"documentKey"`
	FullDocument  bson.D         `bson:"fullDocument"`
}

// Watch opens a change stream of the collection. The cursor is reopened from
// the last resume token after transient errors.
func (s *Store) Watch(ctx context.Context, collection string) (connector.ChangeStream, error) {
	cs := &changeStream{
		coll: s.collection(collection),
		name: collection,
		lg:   log.New("mongostore:watch").With(log.Store(s.name), log.Coll(collection)),
	}

	err := cs.open(ctx)
	if err != nil {
		return nil, err
	}

	return cs, nil
}

type changeStream struct {
	coll *mongo.Collection
	name string
	lg   log.Logger

	cur         *mongo.ChangeStream
	resumeToken bson.Raw
	closed      bool
}

func (cs *changeStream) open(ctx context.Context) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}}}}},
	}

	_, err := util.Retry(ctx, reopenPolicy, func(ctx context.Context, _ int) error {
		opts := options.ChangeStream().
			SetFullDocument(options.UpdateLookup).
			SetBatchSize(changeStreamBatchSize).
			SetMaxAwaitTime(changeStreamAwaitTime)
		if cs.resumeToken != nil {
			opts.SetResumeAfter(cs.resumeToken)
		}

		cur, err := cs.coll.Watch(ctx, pipeline, opts)
		if err != nil {
			return errors.Wrap(err, "open change stream")
		}

		cs.cur = cur

		return nil
	}, func(attempt int, err error, wait time.Duration) {
		cs.lg.With(log.Attempt(attempt)).Warnf("Open change stream: %v. Retrying in %s", err, wait)
	})

	return err //nolint:wrapcheck
}

func (cs *changeStream) closeCursor() {
	if cs.cur == nil {
		return
	}

	err := util.WithTimeout(context.Background(), closeCursorTimeout, cs.cur.Close)
	if err != nil {
		cs.lg.Error(err, "Close change stream cursor")
	}

	cs.cur = nil
}

func (cs *changeStream) Next(ctx context.Context) (connector.ChangeEvent, error) {
	for {
		if cs.closed {
			return connector.ChangeEvent{}, connector.ErrStreamClosed
		}

		if cs.cur == nil {
			err := cs.open(ctx)
			if err != nil {
				return connector.ChangeEvent{}, err
			}
		}

		if cs.cur.Next(ctx) {
			cs.resumeToken = cs.cur.ResumeToken()

			var change changeDoc

			err := cs.cur.Decode(&change)
			if err != nil {
				return connector.ChangeEvent{}, errors.Wrap(err, "decode change event")
			}

			ev, ok := cs.toEvent(&change)
			if !ok {
				continue
			}

			return ev, nil
		}

		err := cs.cur.Err()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return connector.ChangeEvent{}, ctxErr //nolint:wrapcheck
		}

		if err == nil && cs.cur.ID() != 0 {
			continue
		}

		cs.lg.Warnf("Change stream interrupted (%v). Resuming", err)
		cs.closeCursor()
	}
}

func (cs *changeStream) toEvent(change *changeDoc) (connector.ChangeEvent, bool) {
	var idValue any
	for _, e := range change.DocumentKey {
		if e.Key == connector.IDField {
			idValue = e.Value
		}
	}

	id, ok := connector.IDString(idValue)
	if !ok {
		cs.lg.Warnf("Skipping %s event with unsupported _id %v", change.OperationType, idValue)

		return connector.ChangeEvent{}, false
	}

	ev := connector.ChangeEvent{
		Collection:  cs.name,
		DocumentID:  id,
		ClusterTime: change.ClusterTime,
		WallTime:    change.WallTime,
	}

	switch change.OperationType {
	case "insert":
		ev.Kind = connector.Insert
	case "update", "replace":
		ev.Kind = connector.Update
	case "delete":
		ev.Kind = connector.Delete
		ev.Document = connector.Document{connector.IDField: id}

		return ev, true
	default:
		return connector.ChangeEvent{}, false
	}

	if change.FullDocument == nil {
		// deleted before the post-image was looked up; the delete event follows
		cs.lg.Debugf("Skipping %s of %s without a post-image", change.OperationType, id)

		return connector.ChangeEvent{}, false
	}

	ev.Document = connector.FromBSON(change.FullDocument)
	ev.Document[connector.IDField] = id

	return ev, true
}

func (cs *changeStream) Close(context.Context) error {
	cs.closed = true
	cs.closeCursor()

	return nil
}
