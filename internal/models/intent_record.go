package models

import (
	"fmt"
	"time"
)

// IntentRecord relayer working state for one intent, keyed by message id
type IntentRecord struct {
	// Relayer pairing that owns the record. One postgres database may serve several pairings.
	SourceChainID      uint64 `json:"-" gorm:"primaryKey;autoIncrement:false"`
	DestinationChainID uint64 `json:"-" gorm:"primaryKey;autoIncrement:false"`

	MessageID string     `json:"message_id" gorm:"primaryKey;size:66"`
	State     RelayState `json:"state" gorm:"not null;index;size:16"`
	Intent    Intent     `json:"intent" gorm:"serializer:json;type:jsonb;not null"`

	// Denormalised for indexed lookups
	SourceBlockNumber uint64 `json:"source_block_number" gorm:"not null;index"`

	// Retry info
	Attempts      int        `json:"attempts" gorm:"default:0"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	LastError     string     `json:"last_error" gorm:"type:text"`

	// Destination transaction. While the record is unresolved this is the broadcast transaction that
	// still holds TxNonce; a retry replaces it at the same nonce.
	TxHash  string `json:"tx_hash" gorm:"size:66"`
	TxNonce uint64 `json:"tx_nonce"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// TableName table name
func (IntentRecord) TableName() string {
	return "relay_intents"
}

// NewIntentRecord creates an observed record for a freshly decoded intent.
func NewIntentRecord(id MessageID, intent Intent, now time.Time) *IntentRecord {
	return &IntentRecord{
		MessageID:         id.Hex(),
		State:             RelayStateObserved,
		Intent:            intent,
		SourceBlockNumber: intent.SourceBlockNumber,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ID parses the stored message id.
func (r *IntentRecord) ID() MessageID {
	id, _ := ParseMessageID(r.MessageID)
	return id
}

// Transition moves the record to next and returns the audit row for it.
func (r *IntentRecord) Transition(next RelayState, reason string, now time.Time) (*TransitionRecord, error) {
	if !r.State.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, r.State, next, r.MessageID)
	}
	prev := r.State
	r.State = next
	r.UpdatedAt = now
	if next == RelayStateCompleted {
		r.CompletedAt = &now
		r.NextAttemptAt = nil
	}
	return &TransitionRecord{
		MessageID: r.MessageID,
		FromState: prev,
		ToState:   next,
		Reason:    reason,
		TxHash:    r.TxHash,
		Attempt:   r.Attempts,
		CreatedAt: now,
	}, nil
}

// Due reports whether a confirmed record may be attempted now.
func (r *IntentRecord) Due(now time.Time) bool {
	if r.State != RelayStateConfirmed {
		return false
	}
	return r.NextAttemptAt == nil || !now.Before(*r.NextAttemptAt)
}

// RecordFailure counts a failed attempt. The record returns to confirmed with the next
// retry time from the policy, or moves to abandoned once the attempt budget is spent.
func (r *IntentRecord) RecordFailure(policy RetryPolicy, cause error, now time.Time) (*TransitionRecord, error) {
	r.Attempts++
	if cause != nil {
		r.LastError = cause.Error()
	}

	next := RelayStateConfirmed
	if policy.Exhausted(r.Attempts) {
		next = RelayStateAbandoned
		r.NextAttemptAt = nil
	} else {
		retryAt := now.Add(policy.Delay(r.Attempts))
		r.NextAttemptAt = &retryAt
	}

	// A failed pre-check leaves the record in confirmed; no state change to audit.
	if r.State == next {
		r.UpdatedAt = now
		return nil, nil
	}
	return r.Transition(next, r.LastError, now)
}

// HasOutstandingTx reports whether an earlier attempt left a transaction without a receipt.
func (r *IntentRecord) HasOutstandingTx() bool {
	return r.TxHash != "" && !r.State.IsResolved()
}

// TrackTx records the transaction holding the intent's destination nonce.
func (r *IntentRecord) TrackTx(hash string, nonce uint64) {
	r.TxHash = hash
	r.TxNonce = nonce
}

// ClearTx forgets a transaction that was mined or whose nonce was consumed elsewhere.
func (r *IntentRecord) ClearTx() {
	r.TxHash = ""
	r.TxNonce = 0
}

// Requeue gives an abandoned record a fresh attempt budget. An outstanding transaction is kept so the
// next attempt checks it before replacing it.
func (r *IntentRecord) Requeue(now time.Time) (*TransitionRecord, error) {
	if r.State != RelayStateAbandoned {
		return nil, fmt.Errorf("%w: only abandoned intents can be requeued, %s is %s", ErrInvalidTransition, r.MessageID, r.State)
	}
	r.Attempts = 0
	r.NextAttemptAt = nil
	return r.Transition(RelayStateConfirmed, "operator requeue", now)
}

// Clone returns a copy safe to hand to other goroutines.
func (r *IntentRecord) Clone() *IntentRecord {
	c := *r
	if r.NextAttemptAt != nil {
		t := *r.NextAttemptAt
		c.NextAttemptAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
