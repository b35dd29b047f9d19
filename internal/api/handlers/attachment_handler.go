package handlers

import (
	"bytes"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/luminnus/lia-backend/internal/services"
	"github.com/luminnus/lia-backend/internal/utils"
)

var allowedAttachmentExts = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true,
	".webp": true, ".csv": true, ".txt": true,
}

type AttachmentHandler struct {
	svc services.AttachmentService
}

func NewAttachmentHandler(svc services.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{svc: svc}
}

func (h *AttachmentHandler) Upload(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AttachmentHandler.Upload", "missing multipart field 'file'", err))
		return
	}

	// basic validation
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedAttachmentExts[ext] {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AttachmentHandler.Upload", "unsupported file type", nil))
		return
	}
	if fh.Size <= 0 || fh.Size > 10<<20 {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AttachmentHandler.Upload", "file too large (max 10MB)", nil))
		return
	}

	file, err := fh.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, "AttachmentHandler.Upload", "failed to open upload", err))
		return
	}
	defer file.Close()

	// sniff content type (read 512 bytes)
	head := make([]byte, 512)
	n, _ := file.Read(head)
	head = head[:n]
	ct := http.DetectContentType(head)

	// re-compose stream: head + remaining file
	reader := bytes.NewReader(head)
	r := &readJoin{a: reader, b: file}

	objectName := "attachments/" + userID + "/" + uuid.NewString() + ext

	att, err := h.svc.Upload(c.Request.Context(), userID, fh.Filename, ct, objectName, r)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "attachment": att})
}

type readJoin struct {
	a *bytes.Reader
	b io.Reader
}

func (r *readJoin) Read(p []byte) (int, error) {
	if r.a != nil && r.a.Len() > 0 {
		return r.a.Read(p)
	}
	return r.b.Read(p)
}
