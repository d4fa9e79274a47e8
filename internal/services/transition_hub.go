package services

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"bridge-relayer/internal/events"
	"bridge-relayer/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Access is gated by the admin token on the route.
		return true
	},
}

// Connection one websocket subscriber
type Connection struct {
	ID        string          `json:"id"`
	MessageID string          `json:"message_id"` // "" = every intent
	Conn      *websocket.Conn `json:"-"`
	Send      chan []byte     `json:"-"`
	LastPing  time.Time       `json:"last_ping"`
}

// PushMessage websocket frame
type PushMessage struct {
	Type      string      `json:"type"` // connection_established | transition | alert
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
	Data      interface{} `json:"data"`
}

// TransitionHub streams relay transitions and alerts to websocket subscribers. It is an events.Sink.
type TransitionHub struct {
	connections map[string]*Connection
	hub         chan PushMessage
	register    chan *Connection
	unregister  chan *Connection
	done        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	log         *logrus.Entry
}

// NewTransitionHub creates the hub and starts its dispatch goroutine.
func NewTransitionHub(log *logrus.Entry) *TransitionHub {
	h := &TransitionHub{
		connections: make(map[string]*Connection),
		hub:         make(chan PushMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		log:         log,
	}
	go h.run()
	return h
}

func (h *TransitionHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.handleRegister(conn)

		case conn := <-h.unregister:
			h.handleUnregister(conn)

		case message := <-h.hub:
			h.handleBroadcast(message)

		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop ends the dispatch goroutine and closes every subscriber. Safe to call more than once.
func (h *TransitionHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *TransitionHub) closeAll() {
	h.mutex.Lock()
	conns := h.connections
	h.connections = make(map[string]*Connection)
	h.mutex.Unlock()

	for _, conn := range conns {
		close(conn.Send)
	}
	metrics.WebSocketConnections.Set(0)
	h.log.WithField("closed", len(conns)).Info("📱 WebSocket hub stopped")
}

// Name sink name
func (h *TransitionHub) Name() string { return "websocket" }

// HandleTransition queues a transition for every matching subscriber.
func (h *TransitionHub) HandleTransition(evt events.TransitionEvent) error {
	h.enqueue(PushMessage{
		Type:      "transition",
		Timestamp: evt.Timestamp.Format(time.RFC3339),
		MessageID: evt.MessageID,
		Data:      evt,
	})
	return nil
}

// HandleAlert alerts go to every subscriber.
func (h *TransitionHub) HandleAlert(alert events.Alert) error {
	h.enqueue(PushMessage{
		Type:      "alert",
		Timestamp: alert.Timestamp.Format(time.RFC3339),
		Data:      alert,
	})
	return nil
}

// enqueue never blocks the relay loop; a full queue drops the frame.
func (h *TransitionHub) enqueue(message PushMessage) {
	select {
	case h.hub <- message:
	default:
		h.log.WithField("type", message.Type).Warn("websocket hub queue full, dropping message")
	}
}

func (h *TransitionHub) handleRegister(conn *Connection) {
	h.mutex.Lock()
	h.connections[conn.ID] = conn
	count := len(h.connections)
	h.mutex.Unlock()

	metrics.WebSocketConnections.Set(float64(count))
	h.log.WithFields(logrus.Fields{"conn_id": conn.ID, "message_id": conn.MessageID}).Info("📱 WebSocket connection registered")

	h.sendToConnection(conn, PushMessage{
		Type:      "connection_established",
		Timestamp: time.Now().Format(time.RFC3339),
		MessageID: conn.MessageID,
		Data: map[string]interface{}{
			"connection_id": conn.ID,
			"message":       "Relay transition stream established",
		},
	})
}

func (h *TransitionHub) handleUnregister(conn *Connection) {
	h.mutex.Lock()
	if _, ok := h.connections[conn.ID]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.connections, conn.ID)
	count := len(h.connections)
	h.mutex.Unlock()

	close(conn.Send)
	metrics.WebSocketConnections.Set(float64(count))
	h.log.WithField("conn_id", conn.ID).Info("📱 WebSocket connection unregistered")
}

func (h *TransitionHub) handleBroadcast(message PushMessage) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, conn := range h.connections {
		if message.Type == "transition" && conn.MessageID != "" && conn.MessageID != message.MessageID {
			continue
		}
		h.sendToConnection(conn, message)
	}
}

func (h *TransitionHub) sendToConnection(conn *Connection, message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.WithError(err).Error("❌ Failed to marshal push message")
		return
	}
	select {
	case conn.Send <- data:
	default:
		h.log.WithField("conn_id", conn.ID).Warn("slow websocket subscriber, dropping message")
	}
}

// ActiveConnections number of subscribers
func (h *TransitionHub) ActiveConnections() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.connections)
}

// HandleWebSocket upgrades the request and subscribes it; messageID "" follows every intent.
func (h *TransitionHub) HandleWebSocket(w http.ResponseWriter, r *http.Request, messageID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("❌ WebSocket upgrade failed")
		return
	}

	connection := &Connection{
		ID:        "conn_" + uuid.NewString(),
		MessageID: messageID,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		LastPing:  time.Now(),
	}
	select {
	case h.register <- connection:
	case <-h.done:
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
		return
	}

	go h.handleConnectionWrite(connection)
	go h.handleConnectionRead(connection)
}

func (h *TransitionHub) handleConnectionWrite(conn *Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.WithError(err).Debug("websocket write failed")
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *TransitionHub) handleConnectionRead(conn *Connection) {
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Warn("❌ WebSocket read error")
			}
			break
		}
	}
}
