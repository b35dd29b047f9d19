package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/luminnus/lia-backend/internal/services"
	"github.com/luminnus/lia-backend/internal/utils"
)

type ConversationHandler struct {
	svc services.ConversationService
}

func NewConversationHandler(svc services.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	rows, err := h.svc.List(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "conversations": rows})
}

type CreateConversationRequest struct {
	Mode  string `json:"mode" binding:"required"` // chat | multi-modal | live
	Title string `json:"title"`
}

func (h *ConversationHandler) Create(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ConversationHandler.Create", "invalid request body", err))
		return
	}

	conv, err := h.svc.Create(c.Request.Context(), userID, req.Mode, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "conversation": conv})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	id := c.Param("id")
	conv, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if conv.UserID != userID {
		writeError(c, utils.E(utils.CodeForbidden, "ConversationHandler.Get", "forbidden", nil))
		return
	}

	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	messages, err := h.svc.History(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "conversation": gin.H{
		"id":         conv.ID,
		"title":      conv.Title,
		"mode":       conv.Mode,
		"user_id":    conv.UserID,
		"metadata":   conv.Metadata,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
		"messages":   messages,
	}})
}

type RenameConversationRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *ConversationHandler) Rename(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req RenameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ConversationHandler.Rename", "invalid request body", err))
		return
	}

	conv, err := h.svc.Rename(c.Request.Context(), c.Param("id"), userID, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "conversation": conv})
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "deleted": true})
}
