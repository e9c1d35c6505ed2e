package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/counsellor"
	"github.com/FueledByOctane/fieldtalk/internal/entitlement"
	"github.com/FueledByOctane/fieldtalk/internal/middleware"
	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/room"
	"github.com/FueledByOctane/fieldtalk/internal/transcript"
	"github.com/FueledByOctane/fieldtalk/internal/transport"
)

// MessageHandler owns the send path: persist, broadcast, then kick the
// counsellor, in that order, so partners always see the human message
// no matter what the model does. It also serves transcript reads and the
// sync broadcast for late joiners, and the session-summary trigger.
type MessageHandler struct {
	rooms       *room.Service
	transcripts *transcript.Store
	bus         transport.Bus
	engine      *counsellor.Engine
	gate        *entitlement.Gate
	billing     entitlement.BillingProvider
	logger      *zap.Logger
}

func NewMessageHandler(rooms *room.Service, transcripts *transcript.Store, bus transport.Bus, engine *counsellor.Engine, gate *entitlement.Gate, billing entitlement.BillingProvider, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		rooms:       rooms,
		transcripts: transcripts,
		bus:         bus,
		engine:      engine,
		gate:        gate,
		billing:     billing,
		logger:      logger,
	}
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	// SenderID is the ephemeral participant id so receivers can filter
	// their own events; identity and role still come from the token.
	SenderID string `json:"sender_id"`
	// Stream selects the incremental delivery mode for the counsellor
	// reply. Default is batched: one terminal stream-end event.
	Stream bool `json:"stream"`
}

// Send handles POST /v1/fields/:code/messages.
func (h *MessageHandler) Send(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.GetUserID(c)
	field, senderRole, ok := h.requireParticipant(c, userID)
	if !ok {
		return
	}

	// Gate before any side effect: a denied send publishes nothing and
	// calls no model. Premium sessions (either partner paid) bypass the
	// gate entirely.
	if !h.gate.SessionPremium(c.Request.Context(), field) {
		if _, err := h.gate.Consume(c.Request.Context(), userID); err != nil {
			if errors.Is(err, entitlement.ErrQuotaExhausted) {
				c.JSON(http.StatusPaymentRequired, gin.H{
					"error":      "weekly interaction limit reached",
					"upgrade":    true,
					"portal_url": h.billing.PortalURL(""),
				})
				return
			}
			h.logger.Error("entitlement check failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
			return
		}
	}

	senderName := field.PartnerAName
	if senderRole == models.RolePartnerB {
		senderName = field.PartnerBName
	}
	senderID := req.SenderID
	if senderID == "" {
		senderID = userID.String()
	}

	msg := &models.Message{
		ID:         uuid.NewString(),
		FieldCode:  field.Code,
		SenderID:   senderID,
		SenderName: senderName,
		SenderRole: senderRole,
		Content:    req.Content,
		SentAt:     time.Now().UnixMilli(),
	}

	if err := h.transcripts.Append(c.Request.Context(), msg); err != nil {
		h.logger.Error("failed to persist message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	ev, err := transport.NewEvent(transport.EventNewMessage, msg)
	if err == nil {
		err = h.bus.Publish(c.Request.Context(), transport.ChannelName(field.Code), ev)
	}
	if err != nil {
		h.logger.Error("failed to publish message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	h.rooms.TouchActivity(c.Request.Context(), field.Code)

	// The human message is already out; the counsellor turn runs
	// detached so this response never waits on the model.
	h.engine.Trigger(field.Code, field.GuidanceMode, req.Stream)

	c.JSON(http.StatusAccepted, msg)
}

// List handles GET /v1/fields/:code/messages: the transcript window
// from the durable store.
func (h *MessageHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	field, _, ok := h.requireParticipant(c, userID)
	if !ok {
		return
	}

	messages, err := h.transcripts.Window(c.Request.Context(), field.Code, counsellor.TranscriptWindow)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	c.JSON(http.StatusOK, messages)
}

type syncRequest struct {
	SenderID string `json:"sender_id" binding:"required"`
}

// Sync handles POST /v1/fields/:code/sync: broadcasts the current
// transcript window as a sync-messages event so a late joiner's UI can
// reconcile against the server copy.
func (h *MessageHandler) Sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.GetUserID(c)
	field, _, ok := h.requireParticipant(c, userID)
	if !ok {
		return
	}

	messages, err := h.transcripts.Window(c.Request.Context(), field.Code, counsellor.TranscriptWindow)
	if err != nil {
		h.logger.Error("failed to load transcript", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sync messages"})
		return
	}

	ev, err := transport.NewEvent(transport.EventSyncMessages, &transport.SyncMessages{
		SenderID: req.SenderID,
		Messages: messages,
	})
	if err == nil {
		err = h.bus.Publish(c.Request.Context(), transport.ChannelName(field.Code), ev)
	}
	if err != nil {
		h.logger.Error("failed to broadcast sync", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sync messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"synced": len(messages)})
}

// Summary handles POST /v1/fields/:code/summary: a gated counsellor
// interaction that produces the session takeaway.
func (h *MessageHandler) Summary(c *gin.Context) {
	userID := middleware.GetUserID(c)
	field, _, ok := h.requireParticipant(c, userID)
	if !ok {
		return
	}

	if !h.gate.SessionPremium(c.Request.Context(), field) {
		if _, err := h.gate.Consume(c.Request.Context(), userID); err != nil {
			if errors.Is(err, entitlement.ErrQuotaExhausted) {
				c.JSON(http.StatusPaymentRequired, gin.H{
					"error":      "weekly interaction limit reached",
					"upgrade":    true,
					"portal_url": h.billing.PortalURL(""),
				})
				return
			}
			h.logger.Error("entitlement check failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request summary"})
			return
		}
	}

	h.engine.TriggerSummary(field.Code, field.GuidanceMode)
	c.JSON(http.StatusAccepted, gin.H{"status": "summary requested"})
}

func (h *MessageHandler) requireParticipant(c *gin.Context, userID uuid.UUID) (*models.Field, models.Role, bool) {
	field, err := h.rooms.Get(c.Request.Context(), c.Param("code"))
	if errors.Is(err, room.ErrFieldNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "field not found"})
		return nil, "", false
	}
	if err != nil {
		h.logger.Error("failed to get field", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get field"})
		return nil, "", false
	}
	role := field.RoleOf(userID)
	if role == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a partner in this field"})
		return nil, "", false
	}
	return field, role, true
}
