package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luminnus/lia-backend/internal/models"
	"github.com/luminnus/lia-backend/internal/services"
	"github.com/luminnus/lia-backend/internal/utils"
)

type MessageHandler struct {
	svc services.ConversationService
}

func NewMessageHandler(svc services.ConversationService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type SaveMessageRequest struct {
	ConversationID string              `json:"conversationId"` // empty: first message, resolve via mode
	Mode           string              `json:"mode"`
	Role           string              `json:"role"`
	Type           string              `json:"type"` // legacy clients send type instead of role
	Content        string              `json:"content" binding:"required"`
	Origin         string              `json:"origin"`
	Attachments    []models.Attachment `json:"attachments"`
	Embedding      []float32           `json:"embedding"`
}

func (h *MessageHandler) Save(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req SaveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MessageHandler.Save", "invalid request body", err))
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		mode := req.Mode
		if mode == "" {
			mode = models.ModeChat
		}
		conv, err := h.svc.EnsureForMode(c.Request.Context(), userID, mode)
		if err != nil {
			writeError(c, err)
			return
		}
		conversationID = conv.ID
	}

	msg, err := h.svc.SaveMessage(c.Request.Context(), services.SaveMessageInput{
		ConversationID: conversationID,
		Role:           req.Role,
		LegacyType:     req.Type,
		Content:        req.Content,
		Origin:         req.Origin,
		Attachments:    req.Attachments,
		Embedding:      req.Embedding,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "saved": true, "conversationId": msg.ConversationID, "message": msg})
}
