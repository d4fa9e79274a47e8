package models

import (
	"errors"
	"fmt"
)

// RelayState relayer-side lifecycle of an intent
type RelayState string

const (
	RelayStateObserved   RelayState = "observed"   // decoded from a source log
	RelayStateConfirming RelayState = "confirming" // waiting in the confirmation gate
	RelayStateConfirmed  RelayState = "confirmed"  // final on source, eligible for submission
	RelayStateSubmitting RelayState = "submitting" // destination transaction in flight
	RelayStateCompleted  RelayState = "completed"  // destination ledger reports processed
	RelayStateRejected   RelayState = "rejected"   // failed validation, never retried
	RelayStateAbandoned  RelayState = "abandoned"  // retries exhausted, needs an operator
)

// ErrInvalidTransition is returned when a state change is not allowed by the relay state machine.
var ErrInvalidTransition = errors.New("invalid relay state transition")

var relayTransitions = map[RelayState][]RelayState{
	RelayStateObserved:   {RelayStateConfirming, RelayStateConfirmed},
	RelayStateConfirming: {RelayStateConfirmed},
	RelayStateConfirmed:  {RelayStateSubmitting, RelayStateCompleted, RelayStateRejected, RelayStateAbandoned},
	RelayStateSubmitting: {RelayStateCompleted, RelayStateConfirmed, RelayStateAbandoned},
	RelayStateAbandoned:  {RelayStateConfirmed},
}

// AllRelayStates lists states in lifecycle order.
var AllRelayStates = []RelayState{
	RelayStateObserved,
	RelayStateConfirming,
	RelayStateConfirmed,
	RelayStateSubmitting,
	RelayStateCompleted,
	RelayStateRejected,
	RelayStateAbandoned,
}

// IsTerminal reports whether no automatic transition leaves this state.
func (s RelayState) IsTerminal() bool {
	switch s {
	case RelayStateCompleted, RelayStateRejected, RelayStateAbandoned:
		return true
	}
	return false
}

// IsResolved reports whether the intent has left the pending set for good.
// Abandoned is terminal but stays pending until an operator requeues it.
func (s RelayState) IsResolved() bool {
	return s == RelayStateCompleted || s == RelayStateRejected
}

// CanTransitionTo checks the transition table.
func (s RelayState) CanTransitionTo(next RelayState) bool {
	for _, allowed := range relayTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known state.
func (s RelayState) Valid() bool {
	for _, known := range AllRelayStates {
		if s == known {
			return true
		}
	}
	return false
}

// ParseRelayState parses a state name as used in the API and CLI.
func ParseRelayState(value string) (RelayState, error) {
	s := RelayState(value)
	if !s.Valid() {
		return "", fmt.Errorf("unknown relay state %q", value)
	}
	return s, nil
}
