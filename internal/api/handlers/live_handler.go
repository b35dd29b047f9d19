package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/luminnus/lia-backend/internal/models"
	"github.com/luminnus/lia-backend/internal/services"
	"github.com/luminnus/lia-backend/internal/utils"
)

type LiveHandler struct {
	svc services.LiveService
}

func NewLiveHandler(svc services.LiveService) *LiveHandler {
	return &LiveHandler{svc: svc}
}

// Token mints an ephemeral voice-session configuration. The identity
// middleware has already resolved user_id, degrading to the development
// fallback on a bad bearer token instead of rejecting, so a missing id here
// means fallbacks are disabled and the caller is unauthorized.
func (h *LiveHandler) Token(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conversationID := c.Query("conversationId")
	if conversationID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "LiveHandler.Token", "conversationId is required", nil))
		return
	}

	var loc *models.LiveLocation
	if city := c.Query("city"); city != "" {
		loc = &models.LiveLocation{City: city, Region: c.Query("region")}
		if lat, err := strconv.ParseFloat(c.Query("lat"), 64); err == nil {
			loc.Latitude = lat
		}
		if lng, err := strconv.ParseFloat(c.Query("lng"), 64); err == nil {
			loc.Longitude = lng
		}
	}

	cfg, err := h.svc.MintSession(c.Request.Context(), conversationID, userID, loc)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "session": cfg})
}

func (h *LiveHandler) End(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	sessionID := c.Param("session_id")
	if err := h.svc.EndSession(c.Request.Context(), sessionID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "ended": true})
}
