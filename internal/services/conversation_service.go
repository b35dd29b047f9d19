package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"github.com/luminnus/lia-backend/internal/models"
	pgrepo "github.com/luminnus/lia-backend/internal/repositories/postgres"
	"github.com/luminnus/lia-backend/internal/utils"
)

type SaveMessageInput struct {
	ConversationID string
	Role           string
	LegacyType     string // pre-rework clients send "type" instead of role
	Content        string
	Origin         string
	Attachments    []models.Attachment
	Embedding      []float32
}

type ConversationService interface {
	Create(ctx context.Context, userID, mode, title string) (*models.Conversation, error)
	// EnsureForMode returns the user's canonical conversation for a mode,
	// creating one on first use.
	EnsureForMode(ctx context.Context, userID, mode string) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	List(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
	Rename(ctx context.Context, id, userID, title string) (*models.Conversation, error)
	Delete(ctx context.Context, id, userID string) error
	SaveMessage(ctx context.Context, in SaveMessageInput) (*models.Message, error)
	History(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

const (
	convWriteTimeout = 5 * time.Second
	convReadTimeout  = 3 * time.Second
)

type conversationService struct {
	convs pgrepo.ConversationRepo
	msgs  pgrepo.MessageRepo
}

func NewConversationService(convs pgrepo.ConversationRepo, msgs pgrepo.MessageRepo) ConversationService {
	return &conversationService{convs: convs, msgs: msgs}
}

func validMode(mode string) bool {
	switch mode {
	case models.ModeChat, models.ModeMultiModal, models.ModeLive:
		return true
	}
	return false
}

func (s *conversationService) Create(ctx context.Context, userID, mode, title string) (*models.Conversation, error) {
	const op = "ConversationService.Create"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if !validMode(mode) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "mode must be chat, multi-modal, or live", nil)
	}
	if title == "" {
		title = "Nova conversa"
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Mode:      mode,
		Metadata:  datatypes.JSON([]byte("{}")),
		CreatedAt: now,
		UpdatedAt: now,
	}

	wctx, cancel := context.WithTimeout(ctx, convWriteTimeout)
	defer cancel()

	if err := s.convs.Insert(wctx, conv); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create conversation", err)
	}
	return conv, nil
}

func (s *conversationService) EnsureForMode(ctx context.Context, userID, mode string) (*models.Conversation, error) {
	const op = "ConversationService.EnsureForMode"

	// Multi-modal surfaces attach to the canonical chat conversation instead
	// of minting their own.
	lookupMode := mode
	if mode == models.ModeMultiModal {
		lookupMode = models.ModeChat
	}

	rctx, cancel := context.WithTimeout(ctx, convReadTimeout)
	defer cancel()

	conv, err := s.convs.LatestByUserAndMode(rctx, userID, lookupMode)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeInternal, op, "failed to look up conversation", err)
	}
	return s.Create(ctx, userID, lookupMode, "")
}

func (s *conversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	const op = "ConversationService.Get"

	if id == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "conversation id is required", nil)
	}
	rctx, cancel := context.WithTimeout(ctx, convReadTimeout)
	defer cancel()

	conv, err := s.convs.GetByID(rctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get conversation", err)
	}
	return conv, nil
}

func (s *conversationService) List(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	const op = "ConversationService.List"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	rctx, cancel := context.WithTimeout(ctx, convReadTimeout)
	defer cancel()

	rows, err := s.convs.ListByUser(rctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversations", err)
	}
	return rows, nil
}

func (s *conversationService) Rename(ctx context.Context, id, userID, title string) (*models.Conversation, error) {
	const op = "ConversationService.Rename"

	if title == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "title is required", nil)
	}
	conv, err := s.authorize(ctx, op, id, userID)
	if err != nil {
		return nil, err
	}
	wctx, cancel := context.WithTimeout(ctx, convWriteTimeout)
	defer cancel()

	if err := s.convs.UpdateTitle(wctx, id, title); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to rename conversation", err)
	}
	conv.Title = title
	return conv, nil
}

func (s *conversationService) Delete(ctx context.Context, id, userID string) error {
	const op = "ConversationService.Delete"

	if _, err := s.authorize(ctx, op, id, userID); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, convWriteTimeout)
	defer cancel()

	if err := s.convs.DeleteCascade(wctx, id); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "conversation not found", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to delete conversation", err)
	}
	return nil
}

func (s *conversationService) SaveMessage(ctx context.Context, in SaveMessageInput) (*models.Message, error) {
	const op = "ConversationService.SaveMessage"

	if in.ConversationID == "" || in.Content == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "conversation_id and content are required", nil)
	}

	role := in.Role
	if role == "" {
		// Legacy clients send message.type ("user"/"lia") instead of role.
		switch in.LegacyType {
		case "user":
			role = "user"
		case "lia", "assistant", "model":
			role = "model"
		default:
			role = "user"
		}
	}
	if role == "assistant" {
		role = "model"
	}

	origin := in.Origin
	if origin == "" {
		origin = "text"
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Role:           role,
		Content:        in.Content,
		Origin:         origin,
		CreatedAt:      time.Now().UTC(),
	}

	if len(in.Attachments) > 0 {
		b, err := json.Marshal(in.Attachments)
		if err != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, "invalid attachments", err)
		}
		msg.Attachments = datatypes.JSON(b)
	}
	if len(in.Embedding) > 0 {
		msg.Embedding = pgvector.NewVector(in.Embedding)
	}

	wctx, cancel := context.WithTimeout(ctx, convWriteTimeout)
	defer cancel()

	// No FK backs this relation; reject orphan messages here instead of
	// letting them accumulate under unknown conversation ids.
	if _, err := s.convs.GetByID(wctx, in.ConversationID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to verify conversation", err)
	}

	if err := s.msgs.Insert(wctx, msg); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to insert message", err)
	}

	// Keep the conversation fresh for recency-ordered listings; failure here
	// does not invalidate the saved message.
	_ = s.convs.Touch(wctx, in.ConversationID)

	return msg, nil
}

func (s *conversationService) History(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	const op = "ConversationService.History"

	if conversationID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "conversation_id is required", nil)
	}

	rctx, cancel := context.WithTimeout(ctx, convReadTimeout)
	defer cancel()

	rows, err := s.msgs.LatestN(rctx, conversationID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load history", err)
	}

	// Repo returns DESC; callers want chronological order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (s *conversationService) authorize(ctx context.Context, op, id, userID string) (*models.Conversation, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && conv.UserID != userID {
		return nil, utils.E(utils.CodeForbidden, op, "forbidden", nil)
	}
	return conv, nil
}
