package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"bridge-relayer/internal/config"
	"bridge-relayer/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSClient NATS publisher for relay transitions and alerts
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
	log    *logrus.Entry
}

// NewNATSClient connects with unlimited reconnects; JetStream is used when enabled.
func NewNATSClient(cfg config.NATSConfig, log *logrus.Entry) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects > 0 {
		maxReconnects = cfg.MaxReconnects
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("bridge-relayer"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS connection lost")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	client := &NATSClient{conn: conn, prefix: cfg.SubjectPrefix, log: log}
	if cfg.EnableJetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		client.js = js
	}

	log.WithField("url", cfg.URL).Info("✅ NATS connected")
	return client, nil
}

// Subject <prefix>.<kind>.<name>
func (c *NATSClient) Subject(kind, name string) string {
	return fmt.Sprintf("%s.%s.%s", c.prefix, kind, name)
}

// PublishJSON publishes payload on <prefix>.<kind>.<name>.
func (c *NATSClient) PublishJSON(kind, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	subject := c.Subject(kind, name)
	if c.js != nil {
		_, err = c.js.Publish(subject, data)
	} else {
		err = c.conn.Publish(subject, data)
	}
	if err != nil {
		metrics.NATSMessagesPublished.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(kind, "ok").Inc()
	return nil
}

// IsConnected reports the live connection state.
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains pending publishes before closing.
func (c *NATSClient) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
