package services

import (
	"context"
	"io"

	"github.com/luminnus/lia-backend/internal/models"
	"github.com/luminnus/lia-backend/internal/storage"
	"github.com/luminnus/lia-backend/internal/utils"
)

// AttachmentService uploads message attachments to object storage and returns
// the {type, name, url} triple messages carry inline; there is no separate
// attachment table.
type AttachmentService interface {
	Upload(ctx context.Context, userID, fileName, mimeType, objectName string, r io.Reader) (*models.Attachment, error)
}

type attachmentService struct {
	uploader storage.Uploader
}

func NewAttachmentService(uploader storage.Uploader) AttachmentService {
	return &attachmentService{uploader: uploader}
}

func (s *attachmentService) Upload(ctx context.Context, userID, fileName, mimeType, objectName string, r io.Reader) (*models.Attachment, error) {
	const op = "AttachmentService.Upload"

	if userID == "" || objectName == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and object_name are required", nil)
	}
	if s.uploader == nil {
		return nil, utils.E(utils.CodeInternal, op, "uploader is not configured", nil)
	}

	url, err := s.uploader.Upload(ctx, objectName, mimeType, r)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to upload attachment", err)
	}

	kind := "file"
	switch {
	case mimeType == "application/pdf":
		kind = "pdf"
	case len(mimeType) > 6 && mimeType[:6] == "image/":
		kind = "image"
	case len(mimeType) > 6 && mimeType[:6] == "audio/":
		kind = "audio"
	}

	return &models.Attachment{Type: kind, Name: fileName, URL: url}, nil
}
