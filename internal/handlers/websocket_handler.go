package handlers

import (
	"net/http"

	"bridge-relayer/internal/models"
	"bridge-relayer/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler GET /ws/transitions
type WebSocketHandler struct {
	hub       *services.TransitionHub
	jwtSecret []byte
	log       *logrus.Entry
}

// NewWebSocketHandler creates the handler.
func NewWebSocketHandler(hub *services.TransitionHub, jwtSecret []byte, log *logrus.Entry) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, jwtSecret: jwtSecret, log: log}
}

// HandleTransitions upgrades after checking ?token= (browsers cannot set headers on websocket requests).
// ?message_id= narrows the stream to one intent.
func (h *WebSocketHandler) HandleTransitions(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		respondWithError(c, http.StatusUnauthorized, "MISSING_TOKEN", "Authentication required", "token query parameter is required")
		return
	}
	if _, err := ValidateAdminToken(h.jwtSecret, token); err != nil {
		h.log.WithError(err).WithField("client_ip", c.ClientIP()).Warn("websocket auth failed")
		respondWithError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token", err.Error())
		return
	}

	var filter string
	if raw := c.Query("message_id"); raw != "" {
		id, err := models.ParseMessageID(raw)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, "INVALID_MESSAGE_ID", "Invalid message id", err.Error())
			return
		}
		filter = id.Hex()
	}

	h.hub.HandleWebSocket(c.Writer, c.Request, filter)
}
