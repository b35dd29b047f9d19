package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/luminnus/lia-backend/internal/models"
	"github.com/luminnus/lia-backend/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConversationRepo interface {
	Insert(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
	LatestByUserAndMode(ctx context.Context, userID, mode string) (*models.Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) error
	UpdateMetadata(ctx context.Context, id string, metadata []byte) error
	Touch(ctx context.Context, id string) error
	DeleteCascade(ctx context.Context, id string) error
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Insert(ctx context.Context, conv *models.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

func (r *conversationRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var row models.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *conversationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *conversationRepo) LatestByUserAndMode(ctx context.Context, userID, mode string) (*models.Conversation, error) {
	var row models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND mode = ?", userID, mode).
		Order("updated_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *conversationRepo) UpdateTitle(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"title":      title,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *conversationRepo) UpdateMetadata(ctx context.Context, id string, metadata []byte) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"metadata":   datatypes.JSON(metadata),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *conversationRepo) Touch(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

// DeleteCascade removes the conversation's messages and the conversation row in
// one transaction, so a failed delete never leaves a partial message list.
func (r *conversationRepo) DeleteCascade(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrNotFound
		}
		return nil
	})
}
