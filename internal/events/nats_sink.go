package events

import (
	"bridge-relayer/internal/clients"
)

// JSONPublisher publishes on <prefix>.<kind>.<name>; satisfied by *clients.NATSClient
type JSONPublisher interface {
	PublishJSON(kind, name string, payload interface{}) error
}

var _ JSONPublisher = (*clients.NATSClient)(nil)

// NATSSink forwards to <prefix>.transition.<state> and <prefix>.alert.<kind>
type NATSSink struct {
	publisher JSONPublisher
}

// NewNATSSink creates a new NATSSink instance
func NewNATSSink(publisher JSONPublisher) *NATSSink {
	return &NATSSink{publisher: publisher}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) HandleTransition(evt TransitionEvent) error {
	return s.publisher.PublishJSON("transition", string(evt.To), evt)
}

func (s *NATSSink) HandleAlert(alert Alert) error {
	return s.publisher.PublishJSON("alert", string(alert.Kind), alert)
}
