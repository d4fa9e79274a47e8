package events

import (
	"sync"
	"time"

	"bridge-relayer/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AlertKind operator-facing alert category
type AlertKind string

const (
	AlertIntentAbandoned   AlertKind = "abandoned"          // retries exhausted
	AlertSourceUnavailable AlertKind = "source_unavailable" // watcher could not reach the source chain
	AlertLowBalance        AlertKind = "low_balance"        // signer cannot pay for submissions
	AlertReorg             AlertKind = "reorg"              // confirmed candidates were orphaned
)

// TransitionEvent published once a state change has been durably committed
type TransitionEvent struct {
	EventID            string            `json:"event_id"`
	MessageID          string            `json:"message_id"`
	From               models.RelayState `json:"from"`
	To                 models.RelayState `json:"to"`
	Reason             string            `json:"reason,omitempty"`
	TxHash             string            `json:"tx_hash,omitempty"`
	Attempt            int               `json:"attempt"`
	SourceChainID      uint64            `json:"source_chain_id"`
	DestinationChainID uint64            `json:"destination_chain_id"`
	Nonce              string            `json:"nonce"`
	Amount             string            `json:"amount"`
	Recipient          string            `json:"recipient"`
	Timestamp          time.Time         `json:"timestamp"`
}

// Alert something an operator must look at
type Alert struct {
	EventID   string    `json:"event_id"`
	Kind      AlertKind `json:"kind"`
	MessageID string    `json:"message_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransitionEvent builds the event for a committed transition of rec.
func NewTransitionEvent(rec *models.IntentRecord, tr *models.TransitionRecord) TransitionEvent {
	evt := TransitionEvent{
		EventID:            uuid.NewString(),
		MessageID:          rec.MessageID,
		From:               tr.FromState,
		To:                 tr.ToState,
		Reason:             tr.Reason,
		TxHash:             tr.TxHash,
		Attempt:            tr.Attempt,
		SourceChainID:      rec.Intent.SourceChainID,
		DestinationChainID: rec.Intent.DestinationChainID,
		Recipient:          rec.Intent.Recipient.Hex(),
		Timestamp:          tr.CreatedAt,
	}
	if rec.Intent.Nonce != nil {
		evt.Nonce = rec.Intent.Nonce.String()
	}
	if rec.Intent.Amount != nil {
		evt.Amount = rec.Intent.Amount.String()
	}
	return evt
}

// NewAlert stamps an alert with an id and time.
func NewAlert(kind AlertKind, messageID, message string) Alert {
	return Alert{
		EventID:   uuid.NewString(),
		Kind:      kind,
		MessageID: messageID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Sink receives dispatched events. Implementations must not block for long.
type Sink interface {
	Name() string
	HandleTransition(evt TransitionEvent) error
	HandleAlert(alert Alert) error
}

// Publisher what the relay loop needs
type Publisher interface {
	PublishTransition(evt TransitionEvent)
	PublishAlert(alert Alert)
}

// Dispatcher fans events out to every registered sink. Sink failures are logged and never
// propagate back into the relay loop.
type Dispatcher struct {
	mu    sync.RWMutex
	sinks []Sink
	log   *logrus.Entry
}

// NewDispatcher creates a dispatcher with the given sinks.
func NewDispatcher(log *logrus.Entry, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, log: log}
}

// AddSink registers another sink.
func (d *Dispatcher) AddSink(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

func (d *Dispatcher) snapshot() []Sink {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Sink(nil), d.sinks...)
}

// PublishTransition logs the transition and forwards it to every sink.
func (d *Dispatcher) PublishTransition(evt TransitionEvent) {
	d.log.WithFields(logrus.Fields{
		"message_id": evt.MessageID,
		"from":       evt.From,
		"to":         evt.To,
		"nonce":      evt.Nonce,
		"attempt":    evt.Attempt,
		"tx_hash":    evt.TxHash,
	}).Info(evt.Reason)

	for _, sink := range d.snapshot() {
		if err := sink.HandleTransition(evt); err != nil {
			d.log.WithError(err).WithField("sink", sink.Name()).Warn("failed to forward transition")
		}
	}
}

// PublishAlert logs at error level and forwards the alert to every sink.
func (d *Dispatcher) PublishAlert(alert Alert) {
	d.log.WithFields(logrus.Fields{
		"alert":      alert.Kind,
		"message_id": alert.MessageID,
	}).Error("🚨 " + alert.Message)

	for _, sink := range d.snapshot() {
		if err := sink.HandleAlert(alert); err != nil {
			d.log.WithError(err).WithField("sink", sink.Name()).Warn("failed to forward alert")
		}
	}
}
