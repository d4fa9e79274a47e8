package models

import "time"

// TransitionRecord audit trail of relay state changes
type TransitionRecord struct {
	ID        uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID string     `json:"message_id" gorm:"not null;index;size:66"`
	FromState RelayState `json:"from_state" gorm:"size:16"`
	ToState   RelayState `json:"to_state" gorm:"not null;size:16"`
	Reason    string     `json:"reason" gorm:"type:text"`
	TxHash    string     `json:"tx_hash" gorm:"size:66"`
	Attempt   int        `json:"attempt"`
	CreatedAt time.Time  `json:"created_at" gorm:"index"`

	// Pairing of the owning intent record
	SourceChainID      uint64 `json:"-" gorm:"index:idx_relay_transitions_pairing"`
	DestinationChainID uint64 `json:"-" gorm:"index:idx_relay_transitions_pairing"`
}

// TableName table name
func (TransitionRecord) TableName() string {
	return "relay_transitions"
}
