package repository

import (
	"context"
	"errors"

	"bridge-relayer/internal/models"
)

var (
	// ErrCheckpointNotFound first run: no checkpoint has been initialized yet
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrIntentNotFound no record for the requested message id
	ErrIntentNotFound = errors.New("intent not found")
)

// CheckpointStore durable relay progress: scan position plus the pending intent set.
// The relay loop is the only writer.
type CheckpointStore interface {
	// Scan position
	Load(ctx context.Context) (*models.Checkpoint, error)
	Initialize(ctx context.Context, startBlock uint64) (*models.Checkpoint, error)
	AdvanceScan(ctx context.Context, block uint64) error
	Reset(ctx context.Context, startBlock uint64) error

	// Intent records. SaveIntent writes the record and its transition atomically; transition may be nil.
	SaveIntent(ctx context.Context, record *models.IntentRecord, transition *models.TransitionRecord) error
	DeleteIntent(ctx context.Context, id models.MessageID) error
	GetIntent(ctx context.Context, id models.MessageID) (*models.IntentRecord, error)
	ListPending(ctx context.Context) ([]*models.IntentRecord, error)
	ListByState(ctx context.Context, state models.RelayState) ([]*models.IntentRecord, error)
	ListTransitions(ctx context.Context, id models.MessageID) ([]*models.TransitionRecord, error)

	Close() error
}

// initialScanPosition scanning resumes at LastScannedBlock+1
func initialScanPosition(startBlock uint64) uint64 {
	if startBlock == 0 {
		return 0
	}
	return startBlock - 1
}

// dropOnReset states that a rescan will rediscover
func dropOnReset(state models.RelayState) bool {
	return state == models.RelayStateObserved || state == models.RelayStateConfirming
}
