package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/luminnus/lia-backend/internal/services"
	"github.com/luminnus/lia-backend/internal/utils"
)

type MemoryHandler struct {
	svc  services.MemoryService
	gate services.MemoryGate
}

func NewMemoryHandler(svc services.MemoryService, gate services.MemoryGate) *MemoryHandler {
	return &MemoryHandler{svc: svc, gate: gate}
}

func (h *MemoryHandler) Load(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit := 15
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	memories := h.svc.LoadImportant(c.Request.Context(), userID, limit)

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"count":    len(memories),
		"memories": memories,
	})
}

type SaveMemoryRequest struct {
	// Direct form bypasses the gate.
	Key   string `json:"key"`
	Value string `json:"value"`
	// Free-form content is routed through the gate.
	Content     string `json:"content"`
	IsImportant bool   `json:"isImportant"`
}

func (h *MemoryHandler) Save(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req SaveMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MemoryHandler.Save", "invalid request body", err))
		return
	}

	// Direct save: explicit key/value.
	if req.Key != "" && req.Value != "" {
		res := h.svc.Save(c.Request.Context(), userID, req.Key, req.Value, req.IsImportant)
		c.JSON(http.StatusOK, gin.H{"success": true, "saved": true, "results": []services.SaveResult{res}})
		return
	}

	if req.Content == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MemoryHandler.Save", "either key/value or content is required", nil))
		return
	}

	extractions := h.gate.Extract(req.Content)
	if len(extractions) == 0 {
		// Explicitly distinguish "nothing worth saving" from an error.
		c.JSON(http.StatusOK, gin.H{"success": true, "saved": false, "gateBlocked": true})
		return
	}

	results := make([]services.SaveResult, 0, len(extractions))
	for _, ex := range extractions {
		results = append(results, h.svc.Save(c.Request.Context(), userID, ex.Key, ex.Value, true))
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "saved": true, "results": results})
}

func (h *MemoryHandler) Delete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	key := c.Param("key")
	if err := h.svc.Delete(c.Request.Context(), userID, key); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": true, "key": key})
}

type UpsertMemoryRequest struct {
	Key         string `json:"key" binding:"required"`
	Value       string `json:"value" binding:"required"`
	IsImportant bool   `json:"isImportant"`
}

func (h *MemoryHandler) Upsert(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req UpsertMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MemoryHandler.Upsert", "invalid request body", err))
		return
	}

	res := h.svc.Save(c.Request.Context(), userID, req.Key, req.Value, req.IsImportant)
	c.JSON(http.StatusOK, gin.H{"success": true, "status": res.Status, "key": res.Key})
}

type CorrectMemoryRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

func (h *MemoryHandler) Correct(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req CorrectMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MemoryHandler.Correct", "invalid request body", err))
		return
	}

	if err := h.svc.Correct(c.Request.Context(), userID, req.Key, req.Value); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "corrected": true, "key": req.Key})
}

type ForgetMemoryRequest struct {
	Key string `json:"key" binding:"required"`
}

func (h *MemoryHandler) Forget(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req ForgetMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MemoryHandler.Forget", "invalid request body", err))
		return
	}

	if err := h.svc.Forget(c.Request.Context(), userID, req.Key); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "forgotten": true, "key": req.Key})
}
