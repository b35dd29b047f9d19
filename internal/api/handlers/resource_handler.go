package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luminnus/lia-backend/internal/models"
	"github.com/luminnus/lia-backend/internal/services"
	"github.com/luminnus/lia-backend/internal/utils"
)

// ResourceHandler exposes the active-resource pointers. Integrations (sheet
// and document tooling) call the setters after each resource-producing
// operation; the getters serve UI affordances like "continue working on…".
type ResourceHandler struct {
	svc services.ResourceService
}

func NewResourceHandler(svc services.ResourceService) *ResourceHandler {
	return &ResourceHandler{svc: svc}
}

type SetSpreadsheetRequest struct {
	ID              string `json:"id" binding:"required"`
	URL             string `json:"url" binding:"required"`
	Title           string `json:"title"`
	TemplateVersion string `json:"templateVersion"`
}

func (h *ResourceHandler) SetSpreadsheet(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req SetSpreadsheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ResourceHandler.SetSpreadsheet", "invalid request body", err))
		return
	}

	rc := h.svc.SetActiveSpreadsheet(c.Request.Context(), c.Param("id"), userID, models.ActiveSpreadsheet{
		ID:              req.ID,
		URL:             req.URL,
		Title:           req.Title,
		TemplateVersion: req.TemplateVersion,
	})

	c.JSON(http.StatusOK, gin.H{"ok": true, "resource": rc})
}

type SetDocumentRequest struct {
	ID  string `json:"id" binding:"required"`
	URL string `json:"url" binding:"required"`
}

func (h *ResourceHandler) SetDocument(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req SetDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ResourceHandler.SetDocument", "invalid request body", err))
		return
	}

	rc := h.svc.SetActiveDocument(c.Request.Context(), c.Param("id"), userID, models.ActiveDocument{
		ID:  req.ID,
		URL: req.URL,
	})

	c.JSON(http.StatusOK, gin.H{"ok": true, "resource": rc})
}

func (h *ResourceHandler) Get(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	rc := h.svc.GetContext(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"ok": true, "resource": rc})
}

func (h *ResourceHandler) Clear(c *gin.Context) {
	if _, ok := requireUserID(c); !ok {
		return
	}

	h.svc.ClearContext(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"ok": true, "cleared": true})
}
