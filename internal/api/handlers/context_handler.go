package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/luminnus/lia-backend/internal/services"
)

type ContextHandler struct {
	svc services.ContextService
}

func NewContextHandler(svc services.ContextService) *ContextHandler {
	return &ContextHandler{svc: svc}
}

// Get returns the unified context pack for one conversation: bounded history,
// filtered memories, resource pointer, and the composed system instruction.
func (h *ContextHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	opts := services.ContextOptions{}
	if s := c.Query("historyLimit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 100 {
			opts.HistoryLimit = n
		}
	}

	pack, err := h.svc.GetContext(c.Request.Context(), c.Param("id"), userID, opts)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "context": pack})
}
