package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/auth"
	"github.com/FueledByOctane/fieldtalk/internal/counsellor"
	"github.com/FueledByOctane/fieldtalk/internal/middleware"
	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/repository"
	"github.com/FueledByOctane/fieldtalk/internal/room"
	"github.com/FueledByOctane/fieldtalk/internal/transport"
)

// FieldHandler covers field lifecycle: create/join (which assign the two
// partner roles positionally), channel authorization, settings, and
// deactivation.
type FieldHandler struct {
	rooms     *room.Service
	profiles  repository.ProfileRepository
	bus       transport.Bus
	engine    *counsellor.Engine
	jwtSecret string
	logger    *zap.Logger
}

func NewFieldHandler(rooms *room.Service, profiles repository.ProfileRepository, bus transport.Bus, engine *counsellor.Engine, jwtSecret string, logger *zap.Logger) *FieldHandler {
	return &FieldHandler{
		rooms:     rooms,
		profiles:  profiles,
		bus:       bus,
		engine:    engine,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

type createFieldRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

type joinFieldRequest struct {
	Code        string `json:"code" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

// fieldResponse bundles everything a client needs to enter the room:
// the field, its own participant identity, and the signed channel grant
// for the websocket dial.
type fieldResponse struct {
	Field       *models.Field       `json:"field"`
	Participant *models.Participant `json:"participant"`
	Channel     string              `json:"channel"`
	Grant       string              `json:"grant"`
}

func (h *FieldHandler) respond(c *gin.Context, status int, field *models.Field, p *models.Participant) {
	channel := transport.ChannelName(field.Code)
	grant, err := auth.GenerateGrant(channel, *p, h.jwtSecret)
	if err != nil {
		h.logger.Error("failed to sign channel grant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to authorize channel"})
		return
	}
	c.JSON(status, fieldResponse{Field: field, Participant: p, Channel: channel, Grant: grant})
}

func (h *FieldHandler) callerPaid(c *gin.Context) bool {
	profile, err := h.profiles.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil || profile == nil {
		return false
	}
	return profile.Tier == models.TierPaid
}

// Create handles POST /v1/fields. The creator always takes role A.
func (h *FieldHandler) Create(c *gin.Context) {
	var req createFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	field, participant, err := h.rooms.Create(c.Request.Context(), middleware.GetUserID(c), req.DisplayName, h.callerPaid(c))
	if errors.Is(err, room.ErrEmptyName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "display name required"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create field", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create field"})
		return
	}

	h.respond(c, http.StatusCreated, field, participant)
}

// Join handles POST /v1/fields/join. The first successful join takes
// role B; once the slot is held, further joins get a 409 instead of
// silently overwriting it.
func (h *FieldHandler) Join(c *gin.Context) {
	var req joinFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	field, participant, err := h.rooms.Join(c.Request.Context(), req.Code, middleware.GetUserID(c), req.DisplayName, h.callerPaid(c))
	switch {
	case errors.Is(err, room.ErrEmptyCode), errors.Is(err, room.ErrEmptyName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, room.ErrFieldNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "field not found"})
		return
	case errors.Is(err, room.ErrFieldFull):
		c.JSON(http.StatusConflict, gin.H{"error": "field already has two partners"})
		return
	case err != nil:
		h.logger.Error("failed to join field", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join field"})
		return
	}

	h.respond(c, http.StatusOK, field, participant)
}

// Get handles GET /v1/fields/:code.
func (h *FieldHandler) Get(c *gin.Context) {
	field, err := h.rooms.Get(c.Request.Context(), c.Param("code"))
	if errors.Is(err, room.ErrFieldNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "field not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get field", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get field"})
		return
	}
	c.JSON(http.StatusOK, field)
}

// Authorize handles POST /v1/fields/:code/authorize, the reconnect
// path. Only a user already occupying a partner slot gets a fresh
// participant identity and grant.
func (h *FieldHandler) Authorize(c *gin.Context) {
	field, participant, err := h.rooms.Rejoin(c.Request.Context(), c.Param("code"), middleware.GetUserID(c), h.callerPaid(c))
	switch {
	case errors.Is(err, room.ErrFieldNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "field not found"})
		return
	case errors.Is(err, room.ErrNotPartner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a partner in this field"})
		return
	case err != nil:
		h.logger.Error("failed to authorize channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to authorize channel"})
		return
	}

	h.respond(c, http.StatusOK, field, participant)
}

type settingsRequest struct {
	SenderID     string               `json:"sender_id"`
	GuidanceMode *models.GuidanceMode `json:"guidance_mode,omitempty"`
	IsPaid       *bool                `json:"is_paid,omitempty"`
}

// UpdateSettings handles PATCH /v1/fields/:code/settings: persists a
// guidance-mode change and broadcasts room-settings so the partner's UI
// follows along.
func (h *FieldHandler) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	field := h.requireParticipant(c)
	if field == nil {
		return
	}

	if req.GuidanceMode != nil {
		if err := h.rooms.SetGuidanceMode(c.Request.Context(), field.Code, *req.GuidanceMode); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ev, err := transport.NewEvent(transport.EventRoomSettings, &transport.RoomSettings{
		SenderID:     req.SenderID,
		GuidanceMode: req.GuidanceMode,
		IsPaid:       req.IsPaid,
	})
	if err == nil {
		if err := h.bus.Publish(c.Request.Context(), transport.ChannelName(field.Code), ev); err != nil {
			h.logger.Warn("settings broadcast failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Deactivate handles DELETE /v1/fields/:code. Soft delete only; any
// in-flight counsellor turn is invalidated so it publishes nothing into
// the closed room.
func (h *FieldHandler) Deactivate(c *gin.Context) {
	field := h.requireParticipant(c)
	if field == nil {
		return
	}

	if err := h.rooms.Deactivate(c.Request.Context(), field.Code); err != nil {
		h.logger.Error("failed to deactivate field", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate field"})
		return
	}
	h.engine.Cancel(field.Code)

	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// requireParticipant loads the field from :code and verifies the caller
// holds one of its partner slots. On failure it writes the error
// response and returns nil.
func (h *FieldHandler) requireParticipant(c *gin.Context) *models.Field {
	field, err := h.rooms.Get(c.Request.Context(), c.Param("code"))
	if errors.Is(err, room.ErrFieldNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "field not found"})
		return nil
	}
	if err != nil {
		h.logger.Error("failed to get field", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get field"})
		return nil
	}
	if !field.HasPartner(middleware.GetUserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a partner in this field"})
		return nil
	}
	return field
}
