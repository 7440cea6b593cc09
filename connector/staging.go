package connector

import (
	"context"

	"github.com/google/uuid"

	"github.com/percona/percona-docbridge/errors"
)

// Staging modes.
const (
	StagingNative   = "native"
	StagingEmulated = "emulated"
)

// Staged returns the participant for s. Stores without native staging, or any
// store when mode is [StagingEmulated], get [EmulateStaging].
func Staged(s Store, mode string) Participant {
	if mode == StagingEmulated || !s.Capabilities().NativeStaging {
		return EmulateStaging(s)
	}

	return s
}

// EmulateStaging wraps w with a no-op prepare that records the before-image
// and a commit that applies the operation. Abort has nothing to undo.
func EmulateStaging(w Writer) Participant {
	return emulated{w}
}

type emulated struct {
	Writer
}

func (e emulated) PrepareStage(ctx context.Context, txID string, op Operation) (StagingHandle, error) {
	err := op.Validate()
	if err != nil {
		return StagingHandle{}, err
	}

	before, found, err := e.Fetch(ctx, op.Collection, op.ID)
	if err != nil {
		return StagingHandle{}, errors.Wrap(err, "fetch before-image")
	}

	switch {
	case op.Kind == Insert && found:
		return StagingHandle{}, errors.Wrapf(errors.ErrDuplicateKey, "%s/%s", op.Collection, op.ID)
	case op.Kind == Update && !found:
		return StagingHandle{}, errors.Wrapf(errors.ErrNotFound, "%s/%s", op.Collection, op.ID)
	}

	return StagingHandle{
		ID:      uuid.NewString(),
		TxID:    txID,
		Op:      op,
		Before:  before,
		Existed: found,
	}, nil
}

func (e emulated) CommitStage(ctx context.Context, h StagingHandle) error {
	return e.Apply(ctx, h.Op)
}

func (e emulated) AbortStage(context.Context, StagingHandle) error {
	return nil
}
