package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/luminnus/lia-backend/internal/models"
	"github.com/luminnus/lia-backend/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type LiveSessionRepository interface {
	Create(ctx context.Context, s *models.LiveSession) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.LiveSession, error)
	LatestByConversation(ctx context.Context, conversationID string) (*models.LiveSession, error)
	End(ctx context.Context, sessionID string, endedAt time.Time) error
	SetLocation(ctx context.Context, sessionID string, loc *models.LiveLocation) error
}

type liveSessionRepo struct {
	col *mongo.Collection
}

func NewLiveSessionRepo(db *mongo.Database) LiveSessionRepository {
	return &liveSessionRepo{col: db.Collection("live_sessions")}
}

func (r *liveSessionRepo) Create(ctx context.Context, s *models.LiveSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *liveSessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.LiveSession, error) {
	var s models.LiveSession
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *liveSessionRepo) LatestByConversation(ctx context.Context, conversationID string) (*models.LiveSession, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var s models.LiveSession
	err := r.col.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *liveSessionRepo) End(ctx context.Context, sessionID string, endedAt time.Time) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{
			"status":   "ended",
			"ended_at": endedAt.UTC(),
		}},
	)
	return err
}

func (r *liveSessionRepo) SetLocation(ctx context.Context, sessionID string, loc *models.LiveLocation) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"location": loc}},
	)
	return err
}
