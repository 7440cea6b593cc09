// Package txn coordinates approximate two-phase commits over document stores
// that do not share a transaction protocol. Atomicity is optimistic: a failure
// after some writes were applied is compensated from before-images.
package txn

import (
	"slices"
	"time"

	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/errors"
)

// Transaction error codes.
const (
	InvalidTransactionState errors.Code = "InvalidTransactionState"
	PrepareFailed           errors.Code = "PrepareFailed"
	StoreUnavailable        errors.Code = "StoreUnavailable"
	TransactionNotFound     errors.Code = "TransactionNotFound"
)

type Status string

const (
	Started    Status = "started"
	Prepared   Status = "prepared"
	Committed  Status = "committed"
	RolledBack Status = "rolled-back"
	Failed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Committed || s == RolledBack
}

// canMove lists the allowed transitions.
//
//nolint:gochecknoglobals
var canMove = map[Status][]Status{
	Started:  {Prepared, Failed, RolledBack},
	Prepared: {Committed, Failed, RolledBack},
	Failed:   {RolledBack},
}

func (s Status) canMoveTo(next Status) bool {
	return slices.Contains(canMove[s], next)
}

// Stage is the staging progress of one enlisted operation.
type Stage struct {
	Handle      connector.StagingHandle `json:"-"`
	Prepared    bool                    `json:"prepared"`
	Applied     bool                    `json:"applied"`
	Aborted     bool                    `json:"aborted"`
	Compensated bool                    `json:"compensated"`
}

// Record is a snapshot of a transaction.
type Record struct {
	ID           string                `json:"id"`
	Status       Status                `json:"status"`
	Operations   []connector.Operation `json:"operations"`
	Stages       []Stage               `json:"stages,omitempty"`
	Participants []string              `json:"participants"`
	StartedAt    time.Time             `json:"startedAt"`
	EndedAt      time.Time             `json:"endedAt,omitzero"`
	Error        string                `json:"error,omitempty"`
	// Escalated is set when compensation failed and the stores may diverge.
	Escalated bool `json:"escalated,omitempty"`

	busy bool
}

func (r *Record) clone() Record {
	rv := *r
	rv.Operations = slices.Clone(r.Operations)
	rv.Stages = slices.Clone(r.Stages)
	rv.Participants = slices.Clone(r.Participants)

	return rv
}

// Busy reports whether a phase is running.
func (r *Record) Busy() bool {
	return r.busy
}

func (r *Record) addParticipant(store string) {
	i, found := slices.BinarySearch(r.Participants, store)
	if !found {
		r.Participants = slices.Insert(r.Participants, i, store)
	}
}
