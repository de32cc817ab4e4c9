package messaging

import (
	"time"

	"github.com/emsu/emsu/core"
)

// Type is the kind of a Message.
type Type string

const (
	TypePrivate      Type = "private"
	TypeGroup        Type = "group"
	TypeAnnouncement Type = "announcement"
)

type Message struct {
	ID                  string    `json:"id"`
	SenderID            string    `json:"sender_id"`
	Subject             string    `json:"subject"`
	Body                string    `json:"body"`
	Type                Type      `json:"message_type"`
	IsUrgent            bool      `json:"is_urgent"`
	ReadReceiptRequired bool      `json:"read_receipt_required"`
	CreatedAt           time.Time `json:"created_at"` // UTC
	UpdatedAt           time.Time `json:"updated_at"` // UTC
}

// Recipient is the per-recipient state of a Message.
// There is exactly one Recipient per (message, recipient) pair.
type Recipient struct {
	MessageID   string     `json:"message_id"`
	RecipientID string     `json:"recipient_id"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at"`
	IsArchived  bool       `json:"is_archived"`
	IsDeleted   bool       `json:"is_deleted"`
}

// InboxItem is a Message as seen by one of its recipients.
type InboxItem struct {
	Message
	IsRead bool       `json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}

// NewMessage contains information needed to send a Message.
type NewMessage struct {
	Recipients          []string `json:"recipients" validate:"required,min=1,dive,required"`
	Subject             string   `json:"subject" validate:"max=200"`
	Body                string   `json:"body" validate:"required,notblank"`
	Type                Type     `json:"message_type" validate:"omitempty,oneof=private group announcement"`
	IsUrgent            bool     `json:"is_urgent"`
	ReadReceiptRequired bool     `json:"read_receipt_required"`
}

func (nm *NewMessage) clean() {
	nm.Subject = core.CleanString(nm.Subject)
	if nm.Type == "" {
		nm.Type = TypePrivate
	}

	seen := make(map[string]struct{}, len(nm.Recipients))
	recipients := make([]string, 0, len(nm.Recipients))
	for _, id := range nm.Recipients {
		id = core.CleanString(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		recipients = append(recipients, id)
	}
	nm.Recipients = recipients
}

type InboxFilter struct {
	RecipientID string
	IsRead      *bool
	Page        core.Page
}
