package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"bridge-relayer/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// Key layout
//
//	checkpoint/last_scanned          -> checkpointMeta (json)
//	intent/<messageId>               -> IntentRecord (json)
//	pending/<messageId>              -> empty, present while the record is not resolved
//	transition/<messageId>/<seq>     -> TransitionRecord (json)
var (
	checkpointKey    = []byte("checkpoint/last_scanned")
	intentPrefix     = []byte("intent/")
	pendingPrefix    = []byte("pending/")
	transitionPrefix = []byte("transition/")
)

type checkpointMeta struct {
	StartBlock       uint64    `json:"start_block"`
	LastScannedBlock uint64    `json:"last_scanned_block"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type badgerCheckpointStore struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerCheckpointStore wraps an open badger database. Close closes it.
func NewBadgerCheckpointStore(db *badger.DB) CheckpointStore {
	return &badgerCheckpointStore{db: db, now: time.Now}
}

func intentKey(id string) []byte {
	return append(append([]byte{}, intentPrefix...), id...)
}

func pendingKey(id string) []byte {
	return append(append([]byte{}, pendingPrefix...), id...)
}

func transitionKey(id string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", transitionPrefix, id, seq))
}

func (s *badgerCheckpointStore) Load(ctx context.Context) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{Pending: make(map[string]*models.IntentRecord)}
	err := s.db.View(func(txn *badger.Txn) error {
		meta, err := readMeta(txn)
		if err != nil {
			return err
		}
		cp.StartBlock = meta.StartBlock
		cp.LastScannedBlock = meta.LastScannedBlock
		cp.UpdatedAt = meta.UpdatedAt

		records, err := s.pendingRecords(txn)
		if err != nil {
			return err
		}
		for _, rec := range records {
			cp.Pending[rec.MessageID] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func readMeta(txn *badger.Txn) (*checkpointMeta, error) {
	item, err := txn.Get(checkpointKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var meta checkpointMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &meta, nil
}

func writeMeta(txn *badger.Txn, meta *checkpointMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return txn.Set(checkpointKey, raw)
}

func (s *badgerCheckpointStore) Initialize(ctx context.Context, startBlock uint64) (*models.Checkpoint, error) {
	now := s.now()
	meta := &checkpointMeta{
		StartBlock:       startBlock,
		LastScannedBlock: initialScanPosition(startBlock),
		UpdatedAt:        now,
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(checkpointKey); err == nil {
			return fmt.Errorf("checkpoint already initialized")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return writeMeta(txn, meta)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize checkpoint: %w", err)
	}
	return &models.Checkpoint{
		StartBlock:       meta.StartBlock,
		LastScannedBlock: meta.LastScannedBlock,
		UpdatedAt:        now,
		Pending:          make(map[string]*models.IntentRecord),
	}, nil
}

func (s *badgerCheckpointStore) AdvanceScan(ctx context.Context, block uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		meta, err := readMeta(txn)
		if err != nil {
			return err
		}
		meta.LastScannedBlock = block
		meta.UpdatedAt = s.now()
		return writeMeta(txn, meta)
	})
}

func (s *badgerCheckpointStore) Reset(ctx context.Context, startBlock uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		meta := &checkpointMeta{
			StartBlock:       startBlock,
			LastScannedBlock: initialScanPosition(startBlock),
			UpdatedAt:        s.now(),
		}
		if err := writeMeta(txn, meta); err != nil {
			return err
		}

		records, err := s.pendingRecords(txn)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if !dropOnReset(rec.State) {
				continue
			}
			if err := txn.Delete(intentKey(rec.MessageID)); err != nil {
				return err
			}
			if err := txn.Delete(pendingKey(rec.MessageID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerCheckpointStore) SaveIntent(ctx context.Context, record *models.IntentRecord, transition *models.TransitionRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode intent %s: %w", record.MessageID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(intentKey(record.MessageID), raw); err != nil {
			return err
		}
		if record.State.IsResolved() {
			if err := txn.Delete(pendingKey(record.MessageID)); err != nil {
				return err
			}
		} else if err := txn.Set(pendingKey(record.MessageID), nil); err != nil {
			return err
		}

		if transition == nil {
			return nil
		}
		seq, err := s.nextTransitionSeq(txn, record.MessageID)
		if err != nil {
			return err
		}
		transition.ID = seq
		rawTransition, err := json.Marshal(transition)
		if err != nil {
			return err
		}
		return txn.Set(transitionKey(record.MessageID, seq), rawTransition)
	})
	if err != nil {
		return fmt.Errorf("failed to commit intent %s: %w", record.MessageID, err)
	}
	return nil
}

func (s *badgerCheckpointStore) nextTransitionSeq(txn *badger.Txn, id string) (uint64, error) {
	prefix := []byte(fmt.Sprintf("%s%s/", transitionPrefix, id))
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	// Reverse iteration needs a seek key past the prefix.
	seek := append(append([]byte{}, prefix...), 0xff)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 1, nil
	}
	last, err := strconv.ParseUint(string(it.Item().Key()[len(prefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed transition key %q: %w", it.Item().Key(), err)
	}
	return last + 1, nil
}

func (s *badgerCheckpointStore) DeleteIntent(ctx context.Context, id models.MessageID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(intentKey(id.Hex())); err != nil {
			return err
		}
		return txn.Delete(pendingKey(id.Hex()))
	})
}

func (s *badgerCheckpointStore) GetIntent(ctx context.Context, id models.MessageID) (*models.IntentRecord, error) {
	var rec *models.IntentRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readIntent(txn, id.Hex())
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func readIntent(txn *badger.Txn, id string) (*models.IntentRecord, error) {
	item, err := txn.Get(intentKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var rec models.IntentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode intent %s: %w", id, err)
	}
	return &rec, nil
}

func (s *badgerCheckpointStore) pendingRecords(txn *badger.Txn) ([]*models.IntentRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(pendingPrefix); it.ValidForPrefix(pendingPrefix); it.Next() {
		ids = append(ids, string(it.Item().KeyCopy(nil)[len(pendingPrefix):]))
	}

	records := make([]*models.IntentRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := readIntent(txn, id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sortRecords(records)
	return records, nil
}

func (s *badgerCheckpointStore) ListPending(ctx context.Context) ([]*models.IntentRecord, error) {
	var records []*models.IntentRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		records, err = s.pendingRecords(txn)
		return err
	})
	return records, err
}

func (s *badgerCheckpointStore) ListByState(ctx context.Context, state models.RelayState) ([]*models.IntentRecord, error) {
	var records []*models.IntentRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(intentPrefix); it.ValidForPrefix(intentPrefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec models.IntentRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("failed to decode intent %s: %w", it.Item().Key(), err)
			}
			if rec.State == state {
				records = append(records, &rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

func (s *badgerCheckpointStore) ListTransitions(ctx context.Context, id models.MessageID) ([]*models.TransitionRecord, error) {
	prefix := []byte(fmt.Sprintf("%s%s/", transitionPrefix, id.Hex()))
	var transitions []*models.TransitionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var tr models.TransitionRecord
			if err := json.Unmarshal(raw, &tr); err != nil {
				return err
			}
			transitions = append(transitions, &tr)
		}
		return nil
	})
	return transitions, err
}

func (s *badgerCheckpointStore) Close() error {
	return s.db.Close()
}

func sortRecords(records []*models.IntentRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Intent.Before(records[j].Intent)
	})
}
