// Package mongostore connects the bridge to MongoDB: single-document writes,
// multi-document transactions for staging and change streams for the
// synchronization engine.
package mongostore

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
	"github.com/percona/percona-docbridge/sel"
	"github.com/percona/percona-docbridge/util"
)

// DefaultDatabase is used when neither the URI nor the collection name names a database.
const DefaultDatabase = "docbridge"

const (
	connectTimeout    = 10 * time.Second
	disconnectTimeout = 5 * time.Second
)

// Store is a MongoDB document store.
type Store struct {
	name   string
	client *mongo.Client
	dbName string

	mu       sync.Mutex
	sessions map[string]*txSession
}

var _ connector.Store = (*Store)(nil)

// Connect opens a client for uri and pings the primary.
func Connect(ctx context.Context, name, uri string) (*Store, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, errors.Wrap(err, "parse uri")
	}

	dbName := cs.Database
	if dbName == "" {
		dbName = DefaultDatabase
	}

	opts := options.Client().ApplyURI(uri).
		SetServerSelectionTimeout(connectTimeout).
		SetReadPreference(readpref.Primary())

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	err = util.WithTimeout(ctx, connectTimeout, func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	})
	if err != nil {
		_ = util.WithTimeout(context.Background(), disconnectTimeout, client.Disconnect)

		return nil, errors.Wrap(err, "ping")
	}

	log.New("mongostore").With(log.Store(name)).Infof("Connected to %s", strings.Join(cs.Hosts, ","))

	return New(name, client, dbName), nil
}

// New wraps a connected client.
func New(name string, client *mongo.Client, dbName string) *Store {
	return &Store{
		name:     name,
		client:   client,
		dbName:   dbName,
		sessions: make(map[string]*txSession),
	}
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Capabilities() connector.Capabilities {
	return connector.Capabilities{NativeStaging: true, Watch: true}
}

// Client exposes the underlying client.
func (s *Store) Client() *mongo.Client {
	return s.client
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*txSession)
	s.mu.Unlock()

	for id, ts := range sessions {
		if ts.open() {
			log.New("mongostore").With(log.Store(s.name), log.TxID(id)).Warn("Aborting open transaction")
			_ = ts.sess.AbortTransaction(ctx)
		}

		ts.sess.EndSession(ctx)
	}

	return errors.Wrap(util.WithTimeout(ctx, disconnectTimeout, s.client.Disconnect), "disconnect")
}

// collection resolves "db.coll" or a bare collection name in the default database.
func (s *Store) collection(name string) *mongo.Collection {
	db, coll := sel.SplitNS(name)
	if coll == "" {
		db, coll = s.dbName, name
	}

	return s.client.Database(db).Collection(coll)
}

// idValue maps a connector id to the stored _id. Hex strings of object ids
// are object ids.
func idValue(id string) any {
	if len(id) == 24 { //nolint:mnd
		oid, err := bson.ObjectIDFromHex(id)
		if err == nil {
			return oid
		}
	}

	return id
}

func toBSON(doc connector.Document, id string) bson.D {
	rv := make(bson.D, 0, len(doc)+1)
	rv = append(rv, bson.E{Key: connector.IDField, Value: idValue(id)})

	for k, v := range doc {
		if k != connector.IDField {
			rv = append(rv, bson.E{Key: k, Value: v})
		}
	}

	return rv
}

func (s *Store) Apply(ctx context.Context, op connector.Operation) error {
	err := op.Validate()
	if err != nil {
		return err
	}

	return s.write(ctx, op)
}

func (s *Store) write(ctx context.Context, op connector.Operation) error {
	coll := s.collection(op.Collection)
	filter := bson.D{{Key: connector.IDField, Value: idValue(op.ID)}}

	switch op.Kind {
	case connector.Insert:
		_, err := coll.InsertOne(ctx, toBSON(op.Document, op.ID))
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return errors.Wrapf(errors.ErrDuplicateKey, "%s/%s", op.Collection, op.ID)
			}

			return errors.Wrap(err, "insert")
		}

	case connector.Update:
		set := toBSON(op.Document, op.ID)[1:]
		if len(set) == 0 {
			return nil
		}

		res, err := coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: set}})
		if err != nil {
			return errors.Wrap(err, "update")
		}

		if res.MatchedCount == 0 {
			return errors.Wrapf(errors.ErrNotFound, "%s/%s", op.Collection, op.ID)
		}

	case connector.Upsert:
		_, err := coll.ReplaceOne(ctx, filter, toBSON(op.Document, op.ID),
			options.Replace().SetUpsert(true))
		if err != nil {
			return errors.Wrap(err, "replace")
		}

	case connector.Delete:
		_, err := coll.DeleteOne(ctx, filter)
		if err != nil {
			return errors.Wrap(err, "delete")
		}
	}

	return nil
}

func (s *Store) Fetch(ctx context.Context, collection, id string) (connector.Document, bool, error) {
	var doc bson.D

	err := s.collection(collection).FindOne(ctx, bson.D{{Key: connector.IDField, Value: idValue(id)}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}

		return nil, false, errors.Wrap(err, "find")
	}

	return connector.FromBSON(doc), true, nil
}

// Execute is not supported: plans are rendered for SQL engines.
func (s *Store) Execute(context.Context, *query.Plan) ([]connector.Document, error) {
	return nil, errors.Wrap(errors.ErrUnsupported, "mongostore: execute")
}
