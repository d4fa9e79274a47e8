package models

import (
	"sort"
	"time"
)

// Checkpoint durable relay progress
type Checkpoint struct {
	LastScannedBlock uint64                   `json:"last_scanned_block"`
	StartBlock       uint64                   `json:"start_block"`
	UpdatedAt        time.Time                `json:"updated_at"`
	Pending          map[string]*IntentRecord `json:"pending"`
}

// CheckpointRecord single-row table holding the scan position
type CheckpointRecord struct {
	ID               string    `json:"id" gorm:"primaryKey;size:64"` // "<srcChain>:<dstChain>"
	StartBlock       uint64    `json:"start_block"`
	LastScannedBlock uint64    `json:"last_scanned_block"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName table name
func (CheckpointRecord) TableName() string {
	return "relay_checkpoints"
}

// PendingSorted returns pending records ordered by source position.
func (c *Checkpoint) PendingSorted() []*IntentRecord {
	records := make([]*IntentRecord, 0, len(c.Pending))
	for _, rec := range c.Pending {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Intent.Before(records[j].Intent)
	})
	return records
}

// CountByState tallies pending records.
func (c *Checkpoint) CountByState() map[RelayState]int {
	counts := make(map[RelayState]int)
	for _, rec := range c.Pending {
		counts[rec.State]++
	}
	return counts
}
