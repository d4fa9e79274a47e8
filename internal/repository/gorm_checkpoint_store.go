package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bridge-relayer/internal/models"

	"gorm.io/gorm"
)

var resolvedStates = []models.RelayState{models.RelayStateCompleted, models.RelayStateRejected}

// gormCheckpointStore postgres-backed CheckpointStore. Every row it reads or writes belongs to one
// (source, destination) pairing, so several relayers can share a database.
type gormCheckpointStore struct {
	db                 *gorm.DB
	key                string
	sourceChainID      uint64
	destinationChainID uint64
	now                func() time.Time
}

// NewGormCheckpointStore keys the single checkpoint row by the (source, destination) pairing.
func NewGormCheckpointStore(db *gorm.DB, sourceChainID, destinationChainID uint64) CheckpointStore {
	return &gormCheckpointStore{
		db:                 db,
		key:                fmt.Sprintf("%d:%d", sourceChainID, destinationChainID),
		sourceChainID:      sourceChainID,
		destinationChainID: destinationChainID,
		now:                time.Now,
	}
}

// scoped restricts intent and transition queries to this store's pairing.
func (s *gormCheckpointStore) scoped(db *gorm.DB) *gorm.DB {
	return db.Where("source_chain_id = ?", s.sourceChainID).
		Where("destination_chain_id = ?", s.destinationChainID)
}

func (s *gormCheckpointStore) Load(ctx context.Context) (*models.Checkpoint, error) {
	var row models.CheckpointRecord
	if err := s.db.WithContext(ctx).Where("id = ?", s.key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	cp := &models.Checkpoint{
		StartBlock:       row.StartBlock,
		LastScannedBlock: row.LastScannedBlock,
		UpdatedAt:        row.UpdatedAt,
		Pending:          make(map[string]*models.IntentRecord, len(pending)),
	}
	for _, rec := range pending {
		cp.Pending[rec.MessageID] = rec
	}
	return cp, nil
}

func (s *gormCheckpointStore) Initialize(ctx context.Context, startBlock uint64) (*models.Checkpoint, error) {
	now := s.now()
	row := &models.CheckpointRecord{
		ID:               s.key,
		StartBlock:       startBlock,
		LastScannedBlock: initialScanPosition(startBlock),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to initialize checkpoint: %w", err)
	}
	return &models.Checkpoint{
		StartBlock:       row.StartBlock,
		LastScannedBlock: row.LastScannedBlock,
		UpdatedAt:        now,
		Pending:          make(map[string]*models.IntentRecord),
	}, nil
}

func (s *gormCheckpointStore) AdvanceScan(ctx context.Context, block uint64) error {
	result := s.db.WithContext(ctx).Model(&models.CheckpointRecord{}).
		Where("id = ?", s.key).
		Updates(map[string]interface{}{
			"last_scanned_block": block,
			"updated_at":         s.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

func (s *gormCheckpointStore) Reset(ctx context.Context, startBlock uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.CheckpointRecord{}).
			Where("id = ?", s.key).
			Updates(map[string]interface{}{
				"start_block":        startBlock,
				"last_scanned_block": initialScanPosition(startBlock),
				"updated_at":         s.now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrCheckpointNotFound
		}
		return s.scoped(tx).
			Where("state IN ?", []models.RelayState{models.RelayStateObserved, models.RelayStateConfirming}).
			Delete(&models.IntentRecord{}).Error
	})
}

func (s *gormCheckpointStore) SaveIntent(ctx context.Context, record *models.IntentRecord, transition *models.TransitionRecord) error {
	record.SourceChainID = s.sourceChainID
	record.DestinationChainID = s.destinationChainID
	if transition != nil {
		transition.SourceChainID = s.sourceChainID
		transition.DestinationChainID = s.destinationChainID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(record).Error; err != nil {
			return err
		}
		if transition == nil {
			return nil
		}
		return tx.Create(transition).Error
	})
	if err != nil {
		return fmt.Errorf("failed to commit intent %s: %w", record.MessageID, err)
	}
	return nil
}

func (s *gormCheckpointStore) DeleteIntent(ctx context.Context, id models.MessageID) error {
	return s.scoped(s.db.WithContext(ctx)).Where("message_id = ?", id.Hex()).Delete(&models.IntentRecord{}).Error
}

func (s *gormCheckpointStore) GetIntent(ctx context.Context, id models.MessageID) (*models.IntentRecord, error) {
	var rec models.IntentRecord
	if err := s.scoped(s.db.WithContext(ctx)).Where("message_id = ?", id.Hex()).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *gormCheckpointStore) ListPending(ctx context.Context) ([]*models.IntentRecord, error) {
	var records []*models.IntentRecord
	err := s.scoped(s.db.WithContext(ctx)).
		Where("state NOT IN ?", resolvedStates).
		Order("source_block_number ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

func (s *gormCheckpointStore) ListByState(ctx context.Context, state models.RelayState) ([]*models.IntentRecord, error) {
	var records []*models.IntentRecord
	err := s.scoped(s.db.WithContext(ctx)).
		Where("state = ?", state).
		Order("source_block_number ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

func (s *gormCheckpointStore) ListTransitions(ctx context.Context, id models.MessageID) ([]*models.TransitionRecord, error) {
	var transitions []*models.TransitionRecord
	err := s.scoped(s.db.WithContext(ctx)).
		Where("message_id = ?", id.Hex()).
		Order("id ASC").
		Find(&transitions).Error
	return transitions, err
}

func (s *gormCheckpointStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
