package notification

import (
	"time"

	"github.com/emsu/emsu/core"
)

// Type is the category tag of a Notification.
type Type string

const (
	TypeInfo     Type = "info"
	TypeSuccess  Type = "success"
	TypeWarning  Type = "warning"
	TypeError    Type = "error"
	TypeReminder Type = "reminder"
)

var Types = []Type{TypeInfo, TypeSuccess, TypeWarning, TypeError, TypeReminder}

func (t Type) IsValid() bool {
	for _, typ := range Types {
		if t == typ {
			return true
		}
	}
	return false
}

type Notification struct {
	ID          string                 `json:"id"`
	RecipientID string                 `json:"recipient_id"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Type        Type                   `json:"notification_type"`
	IsRead      bool                   `json:"is_read"`
	ReadAt      *time.Time             `json:"read_at"`
	ActionURL   string                 `json:"action_url,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"` // UTC
}

// TitleMaxLen is the longest Title, in runes, a Notification accepts.
const TitleMaxLen = 200

// NewNotification contains information needed to create a new Notification.
type NewNotification struct {
	RecipientID string                 `json:"recipient_id" validate:"required"`
	Title       string                 `json:"title" validate:"required,notblank,max=200"`
	Message     string                 `json:"message" validate:"required,notblank"`
	Type        Type                   `json:"notification_type" validate:"omitempty,oneof=info success warning error reminder"`
	ActionURL   string                 `json:"action_url" validate:"omitempty,max=500"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (nn *NewNotification) clean() {
	nn.RecipientID = core.CleanString(nn.RecipientID)
	nn.Title = core.CleanString(nn.Title)
	nn.Message = core.CleanString(nn.Message)
	nn.ActionURL = core.CleanString(nn.ActionURL)
	if nn.Type == "" {
		nn.Type = TypeInfo
	}
}

type QueryFilter struct {
	RecipientID string
	IsRead      *bool
	Type        Type
	Page        core.Page
}

func (qf QueryFilter) Match(n Notification) bool {
	if qf.RecipientID != "" && n.RecipientID != qf.RecipientID {
		return false
	}
	if qf.IsRead != nil && n.IsRead != *qf.IsRead {
		return false
	}
	if qf.Type != "" && n.Type != qf.Type {
		return false
	}
	return true
}
