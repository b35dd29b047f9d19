package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type LiveSession struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID      string             `bson:"session_id" json:"session_id"` // uuid v4
	ConversationID string             `bson:"conversation_id" json:"conversation_id"`
	UserID         string             `bson:"user_id" json:"user_id"` // uuid from Supabase Auth

	Status   string        `bson:"status" json:"status"` // active|ended
	Model    string        `bson:"model" json:"model"`
	Voice    string        `bson:"voice" json:"voice"`
	Location *LiveLocation `bson:"location,omitempty" json:"location,omitempty"`

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	ExpiresAt time.Time  `bson:"expires_at" json:"expires_at"` // for TTL index
}

type LiveLocation struct {
	City      string  `bson:"city,omitempty" json:"city,omitempty"`
	Region    string  `bson:"region,omitempty" json:"region,omitempty"`
	Latitude  float64 `bson:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude float64 `bson:"longitude,omitempty" json:"longitude,omitempty"`
}
