package mongostore

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
)

// txSession is the session and multi-document transaction shared by all
// handles of one coordinator transaction.
type txSession struct {
	sess      *mongo.Session
	pending   int
	committed bool
	aborted   bool
}

func (ts *txSession) open() bool {
	return !ts.committed && !ts.aborted
}

func (s *Store) PrepareStage(
	ctx context.Context,
	txID string,
	op connector.Operation,
) (connector.StagingHandle, error) {
	err := op.Validate()
	if err != nil {
		return connector.StagingHandle{}, err
	}

	ts, err := s.begin(txID)
	if err != nil {
		return connector.StagingHandle{}, err
	}

	sctx := mongo.NewSessionContext(ctx, ts.sess)

	before, found, err := s.Fetch(sctx, op.Collection, op.ID)
	if err == nil {
		err = s.write(sctx, op)
	}

	if err != nil {
		s.fail(ctx, txID, ts)

		return connector.StagingHandle{}, err
	}

	s.mu.Lock()
	ts.pending++
	s.mu.Unlock()

	return connector.StagingHandle{
		ID:      uuid.NewString(),
		TxID:    txID,
		Op:      op,
		Before:  before,
		Existed: found,
	}, nil
}

func (s *Store) begin(txID string) (*txSession, error) {
	s.mu.Lock()
	ts := s.sessions[txID]
	s.mu.Unlock()

	if ts != nil {
		if !ts.open() {
			return nil, errors.Errorf("transaction %s is already resolved", txID)
		}

		return ts, nil
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return nil, errors.Wrap(err, "start session")
	}

	err = sess.StartTransaction(options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority()))
	if err != nil {
		sess.EndSession(context.Background())

		return nil, errors.Wrap(err, "start transaction")
	}

	ts = &txSession{sess: sess}

	s.mu.Lock()
	s.sessions[txID] = ts
	s.mu.Unlock()

	return ts, nil
}

func (s *Store) fail(ctx context.Context, txID string, ts *txSession) {
	s.mu.Lock()
	abort := ts.open()
	ts.aborted = true
	end := s.releaseLocked(txID, ts)
	s.mu.Unlock()

	if abort {
		_ = ts.sess.AbortTransaction(context.WithoutCancel(ctx))
	}

	if end {
		ts.sess.EndSession(context.WithoutCancel(ctx))
	}
}

// releaseLocked forgets a session without pending handles and reports
// whether it should be ended.
func (s *Store) releaseLocked(txID string, ts *txSession) bool {
	if ts.pending > 0 || s.sessions[txID] != ts {
		return false
	}

	delete(s.sessions, txID)

	return true
}

// CommitStage commits the transaction of the handle on first call.
func (s *Store) CommitStage(ctx context.Context, h connector.StagingHandle) error {
	s.mu.Lock()

	ts := s.sessions[h.TxID]
	if ts == nil {
		s.mu.Unlock()

		return errors.Errorf("unknown staging handle %q", h.ID)
	}

	if ts.aborted {
		s.mu.Unlock()

		return errors.Errorf("transaction %s was aborted", h.TxID)
	}

	first := !ts.committed
	ts.committed = true
	ts.pending--
	end := s.releaseLocked(h.TxID, ts)
	s.mu.Unlock()

	var err error
	if first {
		err = ts.sess.CommitTransaction(ctx)
		if err != nil {
			s.mu.Lock()
			ts.committed, ts.aborted = false, true
			s.mu.Unlock()
		}
	}

	if end {
		ts.sess.EndSession(context.WithoutCancel(ctx))
	}

	return errors.Wrap(err, "commit transaction")
}

// AbortStage aborts the transaction of the handle if it is still open.
func (s *Store) AbortStage(ctx context.Context, h connector.StagingHandle) error {
	s.mu.Lock()

	ts := s.sessions[h.TxID]
	if ts == nil {
		s.mu.Unlock()

		return nil
	}

	abort := ts.open()
	ts.aborted = ts.aborted || abort
	ts.pending--
	end := s.releaseLocked(h.TxID, ts)
	s.mu.Unlock()

	var err error
	if abort {
		err = ts.sess.AbortTransaction(ctx)
	}

	if end {
		ts.sess.EndSession(context.WithoutCancel(ctx))
	}

	return errors.Wrap(err, "abort transaction")
}
