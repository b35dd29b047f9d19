package models

import "time"

type FactType string

const (
	FactIdentity   FactType = "identity"
	FactAddress    FactType = "address"
	FactCompany    FactType = "company"
	FactBusiness   FactType = "business"
	FactPreference FactType = "preference"
	FactFamily     FactType = "family"
	FactMisc       FactType = "misc"
)

const (
	MemoryActive   = "active"
	MemoryInactive = "inactive"
)

// MemoryFact is one durable piece of long-term knowledge about a user.
// At most one active row exists per (user_id, key).
type MemoryFact struct {
	ID         string   `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID     string   `gorm:"column:user_id;type:uuid;uniqueIndex:uniq_user_key" json:"user_id"`
	Key        string   `gorm:"column:key;type:text;uniqueIndex:uniq_user_key" json:"key"`
	Content    string   `gorm:"column:content;type:text" json:"content"`
	Type       FactType `gorm:"column:type;type:text" json:"type"`
	Importance int      `gorm:"column:importance;type:integer" json:"importance"`
	Status     string   `gorm:"column:status;type:text" json:"status"` // active | inactive

	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (MemoryFact) TableName() string { return "memories" }
