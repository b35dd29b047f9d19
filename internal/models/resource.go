package models

import "time"

// ResourceContext tracks which external artifact the assistant is currently
// operating on within one conversation. It lives in an in-process cache and is
// mirrored into conversations.metadata under the "resourceContext" field.
type ResourceContext struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	TenantID       string `json:"tenant_id,omitempty"`

	ActiveSpreadsheet *ActiveSpreadsheet `json:"active_spreadsheet,omitempty"`
	ActiveDocument    *ActiveDocument    `json:"active_document,omitempty"`
	LastOperation     *ResourceOperation `json:"last_operation,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

type ActiveSpreadsheet struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Title           string `json:"title,omitempty"`
	TemplateVersion string `json:"template_version,omitempty"`
}

type ActiveDocument struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type ResourceOperation struct {
	Type       string    `json:"type"` // create_spreadsheet | update_spreadsheet | create_document | ...
	ResourceID string    `json:"resource_id"`
	Status     string    `json:"status"` // success | failed
	Timestamp  time.Time `json:"timestamp"`
}
