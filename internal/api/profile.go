package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FueledByOctane/fieldtalk/internal/entitlement"
	"github.com/FueledByOctane/fieldtalk/internal/middleware"
	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/repository"
)

// ProfileHandler exposes the caller's own account: tier, usage counter,
// and the billing portal link. The entitlement refresh re-reads the
// subscription state from the billing provider and mirrors it onto the
// profile tier.
type ProfileHandler struct {
	profiles repository.ProfileRepository
	billing  entitlement.BillingProvider
	logger   *zap.Logger
}

func NewProfileHandler(profiles repository.ProfileRepository, billing entitlement.BillingProvider, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, billing: billing, logger: logger}
}

// Me handles GET /v1/me.
func (h *ProfileHandler) Me(c *gin.Context) {
	profile, err := h.profiles.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to get profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get profile"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile":    profile,
		"portal_url": h.billing.PortalURL(profile.CustomerRef),
	})
}

// RefreshEntitlement handles POST /v1/me/entitlement: asks the billing
// provider whether the subscription is currently active and updates the
// tier to match. This is the pull-based mirror of the payment webhook,
// which lives outside this service.
func (h *ProfileHandler) RefreshEntitlement(c *gin.Context) {
	userID := middleware.GetUserID(c)
	profile, err := h.profiles.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh entitlement"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}

	active, err := h.billing.SubscriptionActive(c.Request.Context(), profile.CustomerRef)
	if err != nil {
		h.logger.Error("billing provider check failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "billing provider unavailable"})
		return
	}

	tier := models.TierFree
	if active {
		tier = models.TierPaid
	}
	if tier != profile.Tier {
		if err := h.profiles.SetTier(c.Request.Context(), userID, tier, profile.CustomerRef); err != nil {
			h.logger.Error("failed to update tier", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh entitlement"})
			return
		}
		profile.Tier = tier
	}

	c.JSON(http.StatusOK, gin.H{"tier": profile.Tier})
}
