package sqlstore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
)

// txState is the database transaction shared by all handles of one
// coordinator transaction. The first commit commits every staged write.
type txState struct {
	tx        *sql.Tx
	pending   int
	committed bool
	aborted   bool
}

func (st *txState) open() bool {
	return !st.committed && !st.aborted
}

// PrepareStage performs op inside the database transaction of txID.
// The write stays invisible to other connections until commit.
func (s *Store) PrepareStage(
	ctx context.Context,
	txID string,
	op connector.Operation,
) (connector.StagingHandle, error) {
	err := op.Validate()
	if err != nil {
		return connector.StagingHandle{}, err
	}

	if !s.flavor.transactionalDDL {
		err = s.ensureTable(ctx, s.db, op.Collection)
		if err != nil {
			return connector.StagingHandle{}, err
		}
	}

	st, err := s.begin(ctx, txID)
	if err != nil {
		return connector.StagingHandle{}, err
	}

	h, err := s.prepare(ctx, st.tx, txID, op)
	if err != nil {
		s.fail(txID, st)

		return connector.StagingHandle{}, err
	}

	s.mu.Lock()
	st.pending++
	s.mu.Unlock()

	return h, nil
}

func (s *Store) prepare(
	ctx context.Context,
	tx *sql.Tx,
	txID string,
	op connector.Operation,
) (connector.StagingHandle, error) {
	if s.flavor.transactionalDDL {
		err := s.ensureTable(ctx, tx, op.Collection)
		if err != nil {
			return connector.StagingHandle{}, err
		}
	}

	before, found, err := s.fetch(ctx, tx, op.Collection, op.ID)
	if err != nil {
		return connector.StagingHandle{}, err
	}

	if op.Kind == connector.Insert && found {
		return connector.StagingHandle{}, errors.Wrapf(errors.ErrDuplicateKey, "%s/%s", op.Collection, op.ID)
	}

	err = s.write(ctx, tx, op)
	if err != nil {
		return connector.StagingHandle{}, err
	}

	return connector.StagingHandle{
		ID:      uuid.NewString(),
		TxID:    txID,
		Op:      op,
		Before:  before,
		Existed: found,
	}, nil
}

// begin returns the open transaction of txID, starting one if needed.
func (s *Store) begin(ctx context.Context, txID string) (*txState, error) {
	s.mu.Lock()
	st := s.txs[txID]
	s.mu.Unlock()

	if st != nil {
		if !st.open() {
			return nil, errors.Errorf("transaction %s is already resolved", txID)
		}

		return st, nil
	}

	// the transaction outlives the request that prepared it
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}

	st = &txState{tx: tx}

	s.mu.Lock()
	s.txs[txID] = st
	s.mu.Unlock()

	return st, nil
}

// fail rolls back a transaction whose prepare failed.
func (s *Store) fail(txID string, st *txState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.open() {
		st.aborted = true
		_ = st.tx.Rollback()
	}

	s.releaseLocked(txID, st)
}

func (s *Store) releaseLocked(txID string, st *txState) {
	if st.pending <= 0 && s.txs[txID] == st {
		delete(s.txs, txID)
	}
}

func (s *Store) lookup(h connector.StagingHandle) (*txState, error) {
	st := s.txs[h.TxID]
	if st == nil {
		return nil, errors.Errorf("unknown staging handle %q", h.ID)
	}

	return st, nil
}

// CommitStage commits the database transaction of the handle. Later handles
// of the same transaction find it committed and only release themselves.
func (s *Store) CommitStage(_ context.Context, h connector.StagingHandle) error {
	s.mu.Lock()

	st, err := s.lookup(h)
	if err != nil {
		s.mu.Unlock()

		return err
	}

	if st.aborted {
		s.mu.Unlock()

		return errors.Errorf("transaction %s was rolled back", h.TxID)
	}

	first := !st.committed
	st.committed = true
	st.pending--
	s.releaseLocked(h.TxID, st)
	s.mu.Unlock()

	if !first {
		return nil
	}

	err = st.tx.Commit()
	if err != nil {
		s.mu.Lock()
		st.committed, st.aborted = false, true
		s.mu.Unlock()

		return errors.Wrap(err, "commit")
	}

	return nil
}

// AbortStage rolls back the database transaction of the handle. Handles of a
// committed transaction have nothing to abort and are only released.
func (s *Store) AbortStage(_ context.Context, h connector.StagingHandle) error {
	s.mu.Lock()

	st, err := s.lookup(h)
	if err != nil {
		s.mu.Unlock()

		return nil //nolint:nilerr
	}

	rollback := st.open()
	st.aborted = st.aborted || rollback
	st.pending--
	s.releaseLocked(h.TxID, st)
	s.mu.Unlock()

	if !rollback {
		return nil
	}

	return errors.Wrap(st.tx.Rollback(), "rollback")
}
