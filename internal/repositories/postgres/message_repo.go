package postgres

import (
	"context"
	"errors"

	"github.com/luminnus/lia-backend/internal/models"
	"github.com/luminnus/lia-backend/internal/utils"
	"gorm.io/gorm"
)

type MessageRepo interface {
	Insert(ctx context.Context, msg *models.Message) error
	LatestN(ctx context.Context, conversationID string, n int) ([]models.Message, error)
	GetByID(ctx context.Context, id string) (*models.Message, error)
	CountByConversation(ctx context.Context, conversationID string) (int64, error)
}

type messageRepo struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) MessageRepo {
	return &messageRepo{db: db}
}

func (r *messageRepo) Insert(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// LatestN returns the newest n messages, newest first. Callers reverse for
// display order.
func (r *messageRepo) LatestN(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	if n <= 0 {
		n = 20
	}
	var rows []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(n).
		Find(&rows).Error
	return rows, err
}

func (r *messageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var row models.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *messageRepo) CountByConversation(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	return n, err
}
