package handlers

import (
	"context"
	"errors"
	"net/http"

	"bridge-relayer/internal/models"
	"bridge-relayer/internal/repository"
	"bridge-relayer/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RelayController the parts of the relay service the API drives
type RelayController interface {
	Status(ctx context.Context) (*services.RelayStatus, error)
	Requeue(ctx context.Context, id models.MessageID) error
}

// RelayHandler status and intent endpoints
type RelayHandler struct {
	relay RelayController
	store repository.CheckpointStore
	log   *logrus.Entry
}

// IntentDetail one record with its audit trail
type IntentDetail struct {
	*models.IntentRecord
	Transitions []*models.TransitionRecord `json:"transitions"`
}

// NewRelayHandler creates the handler.
func NewRelayHandler(relay RelayController, store repository.CheckpointStore, log *logrus.Entry) *RelayHandler {
	return &RelayHandler{relay: relay, store: store, log: log}
}

// GetStatusHandler GET /api/status
func (h *RelayHandler) GetStatusHandler(c *gin.Context) {
	status, err := h.relay.Status(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("❌ Failed to load relay status")
		respondWithError(c, http.StatusInternalServerError, "STATUS_UNAVAILABLE", "Failed to load status", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    status,
	})
}

// ListIntentsHandler GET /api/intents?state=; without a state the pending set is returned.
func (h *RelayHandler) ListIntentsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		records []*models.IntentRecord
		err     error
	)
	if raw := c.Query("state"); raw != "" {
		state, perr := models.ParseRelayState(raw)
		if perr != nil {
			respondWithError(c, http.StatusBadRequest, "INVALID_STATE", "Invalid state", perr.Error())
			return
		}
		records, err = h.store.ListByState(ctx, state)
	} else {
		records, err = h.store.ListPending(ctx)
	}
	if err != nil {
		h.log.WithError(err).Error("❌ Failed to list intents")
		respondWithError(c, http.StatusInternalServerError, "STORE_ERROR", "Failed to list intents", err.Error())
		return
	}
	if records == nil {
		records = []*models.IntentRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
		"total":   len(records),
	})
}

// GetIntentHandler GET /api/intents/:id
func (h *RelayHandler) GetIntentHandler(c *gin.Context) {
	id, ok := messageIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	rec, err := h.store.GetIntent(ctx, id)
	if errors.Is(err, repository.ErrIntentNotFound) {
		respondWithError(c, http.StatusNotFound, "INTENT_NOT_FOUND", "Intent not found", id.Hex())
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("message_id", id.Hex()).Error("❌ Failed to load intent")
		respondWithError(c, http.StatusInternalServerError, "STORE_ERROR", "Failed to load intent", err.Error())
		return
	}

	transitions, err := h.store.ListTransitions(ctx, id)
	if err != nil {
		h.log.WithError(err).WithField("message_id", id.Hex()).Warn("failed to load transitions")
	}
	if transitions == nil {
		transitions = []*models.TransitionRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    IntentDetail{IntentRecord: rec, Transitions: transitions},
	})
}

// RequeueIntentHandler POST /api/admin/intents/:id/requeue
func (h *RelayHandler) RequeueIntentHandler(c *gin.Context) {
	id, ok := messageIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	err := h.relay.Requeue(ctx, id)
	switch {
	case errors.Is(err, repository.ErrIntentNotFound):
		respondWithError(c, http.StatusNotFound, "INTENT_NOT_FOUND", "Intent not found", id.Hex())
		return
	case errors.Is(err, models.ErrInvalidTransition):
		respondWithError(c, http.StatusConflict, "NOT_ABANDONED", "Only abandoned intents can be requeued", err.Error())
		return
	case errors.Is(err, services.ErrRelayNotRunning):
		respondWithError(c, http.StatusServiceUnavailable, "RELAY_NOT_RUNNING", "Relay loop is not running", err.Error())
		return
	case err != nil:
		h.log.WithError(err).WithField("message_id", id.Hex()).Error("❌ Requeue failed")
		respondWithError(c, http.StatusInternalServerError, "REQUEUE_FAILED", "Requeue failed", err.Error())
		return
	}

	h.log.WithFields(logrus.Fields{
		"message_id": id.Hex(),
		"admin":      c.GetString("admin_username"),
	}).Info("🔁 intent requeued by operator")

	rec, err := h.store.GetIntent(ctx, id)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Intent requeued"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Intent requeued",
		"data":    rec,
	})
}

func messageIDParam(c *gin.Context) (models.MessageID, bool) {
	id, err := models.ParseMessageID(c.Param("id"))
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "INVALID_MESSAGE_ID", "Invalid message id", err.Error())
		return models.MessageID{}, false
	}
	return id, true
}
