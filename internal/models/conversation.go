package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

const (
	ModeChat       = "chat"
	ModeMultiModal = "multi-modal"
	ModeLive       = "live"
)

type Conversation struct {
	ID       string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID   string         `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Title    string         `gorm:"column:title;type:text" json:"title"`
	Mode     string         `gorm:"column:mode;type:text" json:"mode"` // chat | multi-modal | live
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID             string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ConversationID string `gorm:"column:conversation_id;type:uuid;index" json:"conversation_id"`
	Role           string `gorm:"column:role;type:text" json:"role"` // "user" | "model"
	Content        string `gorm:"column:content;type:text" json:"content"`
	Origin         string `gorm:"column:origin;type:text" json:"origin"` // text | voice | image

	Attachments datatypes.JSON  `gorm:"column:attachments;type:jsonb" json:"attachments"`
	Embedding   pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"embedding"`

	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

type Attachment struct {
	Type string `json:"type"`
	Name string `json:"name"`
	URL  string `json:"url"`
}
