// Package sqlstore keeps documents in SQL tables, one table per collection
// with an id primary key and a JSON document column.
package sqlstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/lib/pq"              // postgres driver
	_ "modernc.org/sqlite"             // sqlite driver

	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
)

const (
	pingTimeout     = 10 * time.Second
	maxOpenConns    = 10
	maxIdleConns    = 4
	connMaxLifetime = 10 * time.Minute
)

// querier is implemented by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQL-backed document store.
type Store struct {
	name   string
	flavor flavor
	db     *sql.DB

	mu     sync.Mutex
	tables map[string]struct{}
	txs    map[string]*txState
}

var _ connector.Store = (*Store)(nil)

// Open connects to the database. driver is one of "sqlite", "mysql" or "postgres".
func Open(ctx context.Context, name, driver, uri string) (*Store, error) {
	f, ok := flavors[driver]
	if !ok {
		return nil, errors.Errorf("unknown sql driver %q", driver)
	}

	dsn, err := f.dsn(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(f.driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err = db.PingContext(pingCtx)
	if err != nil {
		_ = db.Close()

		return nil, errors.Wrapf(err, "ping %s", driver)
	}

	log.New("sqlstore").With(log.Store(name)).Infof("Connected to %s", driver)

	return &Store{
		name:   name,
		flavor: f,
		db:     db,
		tables: make(map[string]struct{}),
		txs:    make(map[string]*txState),
	}, nil
}

func (s *Store) Name() string {
	return s.name
}

// Dialect is the query dialect matching the engine.
func (s *Store) Dialect() query.Dialect {
	return s.flavor.dialect
}

func (s *Store) Capabilities() connector.Capabilities {
	return connector.Capabilities{NativeStaging: true, Query: true}
}

func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	txs := s.txs
	s.txs = make(map[string]*txState)
	s.mu.Unlock()

	for id, st := range txs {
		if st.open() {
			log.New("sqlstore").With(log.Store(s.name), log.TxID(id)).Warn("Rolling back open transaction")
			_ = st.tx.Rollback()
		}
	}

	return errors.Wrap(s.db.Close(), "close")
}

// ensureTable creates the collection table once per store. Tables created
// inside a transaction are not remembered since the transaction may roll back.
func (s *Store) ensureTable(ctx context.Context, q querier, name string) error {
	if !validTable(name) {
		return errors.Errorf("invalid collection name %q", name)
	}

	s.mu.Lock()
	_, ok := s.tables[name]
	s.mu.Unlock()

	if ok {
		return nil
	}

	_, err := q.ExecContext(ctx, s.flavor.createTable(name))
	if err != nil {
		return errors.Wrapf(err, "create table %q", name)
	}

	if _, inTx := q.(*sql.Tx); !inTx {
		s.mu.Lock()
		s.tables[name] = struct{}{}
		s.mu.Unlock()
	}

	return nil
}

func (s *Store) Execute(ctx context.Context, plan *query.Plan) ([]connector.Document, error) {
	if plan.Dialect().Name() != s.flavor.dialect.Name() {
		return nil, errors.Errorf("plan dialect %q does not match store dialect %q",
			plan.Dialect().Name(), s.flavor.dialect.Name())
	}

	err := s.ensureTable(ctx, s.db, plan.Container())
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, plan.Statement())
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "columns")
	}

	var rv []connector.Document

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))

		for i := range values {
			ptrs[i] = &values[i]
		}

		err = rows.Scan(ptrs...)
		if err != nil {
			return nil, errors.Wrap(err, "scan row")
		}

		doc, err := connector.DecodeRow(plan, values)
		if err != nil {
			return nil, err
		}

		rv = append(rv, doc)
	}

	err = rows.Err()
	if err != nil {
		return nil, errors.Wrap(err, "iterate")
	}

	return rv, nil
}

func (s *Store) Apply(ctx context.Context, op connector.Operation) error {
	err := op.Validate()
	if err != nil {
		return err
	}

	err = s.ensureTable(ctx, s.db, op.Collection)
	if err != nil {
		return err
	}

	if op.Kind != connector.Update {
		return s.write(ctx, s.db, op)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}

	err = s.write(ctx, tx, op)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	return errors.Wrap(tx.Commit(), "commit")
}

// write performs op through q.
func (s *Store) write(ctx context.Context, q querier, op connector.Operation) error {
	coll := op.Collection

	switch op.Kind {
	case connector.Insert:
		data, err := connector.EncodeJSON(connector.WithID(op.Document, op.ID))
		if err != nil {
			return err
		}

		_, err = q.ExecContext(ctx, s.flavor.insert(coll), op.ID, string(data))
		if err != nil {
			if isDuplicate(err) {
				return errors.Wrapf(errors.ErrDuplicateKey, "%s/%s", coll, op.ID)
			}

			return errors.Wrap(err, "insert")
		}

	case connector.Upsert:
		data, err := connector.EncodeJSON(connector.WithID(op.Document, op.ID))
		if err != nil {
			return err
		}

		_, err = q.ExecContext(ctx, s.flavor.upsertStmt(coll), op.ID, string(data))
		if err != nil {
			return errors.Wrap(err, "upsert")
		}

	case connector.Update:
		prev, found, err := s.fetch(ctx, q, coll, op.ID)
		if err != nil {
			return err
		}

		if !found {
			return errors.Wrapf(errors.ErrNotFound, "%s/%s", coll, op.ID)
		}

		data, err := connector.EncodeJSON(connector.WithID(connector.Merge(prev, op.Document), op.ID))
		if err != nil {
			return err
		}

		_, err = q.ExecContext(ctx, s.flavor.update(coll), string(data), op.ID)
		if err != nil {
			return errors.Wrap(err, "update")
		}

	case connector.Delete:
		_, err := q.ExecContext(ctx, s.flavor.delete(coll), op.ID)
		if err != nil {
			return errors.Wrap(err, "delete")
		}
	}

	return nil
}

func (s *Store) Fetch(ctx context.Context, collection, id string) (connector.Document, bool, error) {
	err := s.ensureTable(ctx, s.db, collection)
	if err != nil {
		return nil, false, err
	}

	return s.fetch(ctx, s.db, collection, id)
}

func (s *Store) fetch(ctx context.Context, q querier, collection, id string) (connector.Document, bool, error) {
	var raw any

	err := q.QueryRowContext(ctx, s.flavor.selectDoc(collection), id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, errors.Wrap(err, "fetch")
	}

	doc, err := connector.DecodeJSON(raw)
	if err != nil {
		return nil, false, err
	}

	return doc, true, nil
}

// Watch is not supported: SQL targets have no change feed.
func (s *Store) Watch(context.Context, string) (connector.ChangeStream, error) {
	return nil, errors.Wrap(errors.ErrUnsupported, "sqlstore: watch")
}
