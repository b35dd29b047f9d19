package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type Profile struct {
	UserID   string `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	FullName string `gorm:"column:full_name;type:text" json:"full_name"`
	Company  string `gorm:"column:company;type:text" json:"company"`

	ConnectedServices pq.StringArray `gorm:"column:connected_services;type:text[]" json:"connected_services"`

	// JSONB (save as raw JSON, structure fleksibel)
	Preferences datatypes.JSON `gorm:"column:preferences;type:jsonb" json:"preferences"`

	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }
