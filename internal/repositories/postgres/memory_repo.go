package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/luminnus/lia-backend/internal/models"
	"github.com/luminnus/lia-backend/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MemoryRepo interface {
	Upsert(ctx context.Context, fact *models.MemoryFact) error
	Insert(ctx context.Context, fact *models.MemoryFact) error
	GetByKey(ctx context.Context, userID, key string) (*models.MemoryFact, error)
	ListActive(ctx context.Context, userID string, limit int) ([]models.MemoryFact, error)
	UpdateContent(ctx context.Context, userID, key, content string) (updated bool, err error)
	SetStatus(ctx context.Context, userID, key, status string) error
	DeleteByKey(ctx context.Context, userID, key string) error
}

type memoryRepo struct {
	db *gorm.DB
}

func NewMemoryRepo(db *gorm.DB) MemoryRepo {
	return &memoryRepo{db: db}
}

func (r *memoryRepo) Upsert(ctx context.Context, fact *models.MemoryFact) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "type", "importance", "status", "updated_at"}),
		}).
		Create(fact).Error
}

func (r *memoryRepo) Insert(ctx context.Context, fact *models.MemoryFact) error {
	return r.db.WithContext(ctx).Create(fact).Error
}

// GetByKey returns the row regardless of status, so callers can audit
// soft-deleted facts.
func (r *memoryRepo) GetByKey(ctx context.Context, userID, key string) (*models.MemoryFact, error) {
	var row models.MemoryFact
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND key = ?", userID, key).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *memoryRepo) ListActive(ctx context.Context, userID string, limit int) ([]models.MemoryFact, error) {
	if limit <= 0 {
		limit = 15
	}
	var rows []models.MemoryFact
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.MemoryActive).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// UpdateContent overwrites the value of an active fact only; the key and
// classification stay as they are.
func (r *memoryRepo) UpdateContent(ctx context.Context, userID, key, content string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.MemoryFact{}).
		Where("user_id = ? AND key = ? AND status = ?", userID, key, models.MemoryActive).
		Updates(map[string]any{
			"content":    content,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *memoryRepo) SetStatus(ctx context.Context, userID, key, status string) error {
	return r.db.WithContext(ctx).
		Model(&models.MemoryFact{}).
		Where("user_id = ? AND key = ?", userID, key).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *memoryRepo) DeleteByKey(ctx context.Context, userID, key string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND key = ?", userID, key).
		Delete(&models.MemoryFact{}).Error
}
