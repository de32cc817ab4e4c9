package messaging

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/notification"
	"github.com/emsu/emsu/core/pubsub"
	"github.com/emsu/emsu/core/user"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	urgentPreviewLen     = 50
	urgentEmailTemplate  = "urgent_message"
	errNoValidRecipients = "none of the recipients exist"
)

var (
	// errors
	ErrNotFound = errors.New("message not found")

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		// CreateMessage persists msg and one Recipient row per recipient id, atomically.
		CreateMessage(ctx context.Context, msg Message, recipientIDs []string) (Message, error)
		GetMessage(ctx context.Context, id string) (Message, error)
		GetRecipient(ctx context.Context, messageID, recipientID string) (Recipient, error)
		// MarkRead flips the read flag of an unread Recipient and reports whether a row changed.
		MarkRead(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error)
		QueryInbox(ctx context.Context, filter InboxFilter) ([]InboxItem, error)
		CountUnread(ctx context.Context, recipientID string) (int, error)
	}

	UserGetter interface {
		GetByIDs(ctx context.Context, ids ...string) ([]user.User, error)
	}

	NotificationCreator interface {
		Create(ctx context.Context, nn notification.NewNotification) (notification.Notification, error)
	}

	Deps struct {
		Repo          Repository
		Users         UserGetter
		Notifications NotificationCreator
		Publisher     pubsub.Publisher
		Presence      pubsub.Presence
		Mailer        core.EmailService
		Validate      *validator.Validate
		Translator    ut.Translator
		Logger        core.Logger
	}

	Service struct {
		Deps
	}
)

func NewService(deps Deps) *Service {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Repo, "Repo"),
		vala.IsNotNil(deps.Users, "Users"),
		vala.IsNotNil(deps.Notifications, "Notifications"),
		vala.IsNotNil(deps.Publisher, "Publisher"),
		vala.IsNotNil(deps.Presence, "Presence"),
		vala.IsNotNil(deps.Mailer, "Mailer"),
		vala.IsNotNil(deps.Validate, "Validate"),
		vala.IsNotNil(deps.Translator, "Translator"),
		vala.IsNotNil(deps.Logger, "Logger"),
	).Check(); err != nil {
		panic(err)
	}
	return &Service{Deps: deps}
}

// Sender is the public view of a message author.
type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Payload is the `message` field of a `new_message` event.
type Payload struct {
	ID          string    `json:"id"`
	Sender      Sender    `json:"sender"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	IsUrgent    bool      `json:"is_urgent"`
	CreatedAt   time.Time `json:"created_at"`
	MessageType Type      `json:"message_type"`
}

func NewMessageEvent(msg Message, sender user.User) pubsub.Event {
	return pubsub.NewEvent(pubsub.EventNewMessage, map[string]interface{}{
		"message": Payload{
			ID:          msg.ID,
			Sender:      Sender{ID: sender.ID, Name: sender.Name, Email: sender.Email},
			Subject:     msg.Subject,
			Body:        msg.Body,
			IsUrgent:    msg.IsUrgent,
			CreatedAt:   msg.CreatedAt,
			MessageType: msg.Type,
		},
	})
}

func SentEvent(msg Message) pubsub.Event {
	return pubsub.NewEvent(pubsub.EventMessageSent, map[string]interface{}{
		"message_id": msg.ID,
		"timestamp":  msg.CreatedAt,
	})
}

func ReadEvent(messageID string, reader *user.User) pubsub.Event {
	data := map[string]interface{}{"message_id": messageID}
	if reader != nil {
		data["reader"] = Sender{ID: reader.ID, Name: reader.Name, Email: reader.Email}
	}
	return pubsub.NewEvent(pubsub.EventMessageRead, data)
}

func TypingEvent(usr user.User, isTyping bool) pubsub.Event {
	return pubsub.NewEvent(pubsub.EventTypingIndicator, map[string]interface{}{
		"user":      map[string]interface{}{"id": usr.ID, "name": usr.Name},
		"is_typing": isTyping,
	})
}

// UrgentPreview is the notification text of an urgent message: its subject, or the head of its body.
func UrgentPreview(subject, body string) string {
	if subject != "" {
		return subject
	}
	return core.Truncate(body, urgentPreviewLen) + "..."
}

// Send persists a message with one Recipient row per existing recipient, then pushes
// `new_message` to each recipient. Urgent messages also raise a warning notification
// per recipient and are emailed to recipients without a live connection.
func (svc *Service) Send(ctx context.Context, sender user.User, nm NewMessage) (Message, error) {
	nm.clean()
	if err := core.ValidateStruct(svc.Validate, svc.Translator, nm); err != nil {
		return Message{}, err
	}

	recipients, err := svc.Users.GetByIDs(ctx, nm.Recipients...)
	if err != nil {
		return Message{}, core.NewPersistenceError(err, "getting recipients")
	}
	if len(recipients) == 0 {
		return Message{}, core.NewValidationError(nil, core.FieldError{Field: "recipients", Error: errNoValidRecipients})
	}
	ids := make([]string, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.ID)
	}

	now := nowFunc().UTC()
	msg, err := svc.Repo.CreateMessage(ctx, Message{
		SenderID:            sender.ID,
		Subject:             nm.Subject,
		Body:                nm.Body,
		Type:                nm.Type,
		IsUrgent:            nm.IsUrgent,
		ReadReceiptRequired: nm.ReadReceiptRequired,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, ids)
	if err != nil {
		err = core.NewPersistenceError(err, "creating message")
		svc.Logger.Error(fmt.Sprintf("messaging.Send(%s): %v", sender.ID, err), err, sender)
		return Message{}, err
	}

	evt := NewMessageEvent(msg, sender)
	for _, id := range ids {
		svc.Publisher.Publish(ctx, pubsub.UserGroup(id), evt)
	}

	if msg.IsUrgent {
		svc.escalate(ctx, msg, sender, recipients)
	}
	return msg, nil
}

func (svc *Service) escalate(ctx context.Context, msg Message, sender user.User, recipients []user.User) {
	title := core.Truncate("Urgent Message from "+sender.DisplayName(), notification.TitleMaxLen)
	preview := UrgentPreview(msg.Subject, msg.Body)

	emails := make([]*core.EmailMessage, 0)
	for _, r := range recipients {
		_, err := svc.Notifications.Create(ctx, notification.NewNotification{
			RecipientID: r.ID,
			Title:       title,
			Message:     preview,
			Type:        notification.TypeWarning,
			Metadata:    map[string]interface{}{"message_id": msg.ID, "sender_id": sender.ID},
		})
		// persistence failures are already logged by the notification service
		if err != nil && core.KindOf(err) != core.KindPersistence {
			svc.Logger.Error(fmt.Sprintf("messaging.escalate(%s, %s): %v", msg.ID, r.ID, err), err)
		}

		if r.Email != "" && !svc.Presence.IsOnline(r.ID) {
			emails = append(emails, &core.EmailMessage{
				To:           []mail.Address{{Name: r.Name, Address: r.Email}},
				Subject:      title,
				TemplateName: urgentEmailTemplate,
				TemplateData: map[string]interface{}{
					"Recipient": r.DisplayName(),
					"Sender":    sender.DisplayName(),
					"Subject":   msg.Subject,
					"Body":      msg.Body,
				},
			})
		}
	}
	if len(emails) > 0 {
		svc.Mailer.SendMessages(emails...)
	}
}

// MarkRead marks a message read for recipientID. Unknown pairs and repeated calls are no-ops.
// When the sender asked for a read receipt, `message_read` is pushed to them.
func (svc *Service) MarkRead(ctx context.Context, messageID string, reader user.User) error {
	rcpt, err := svc.Repo.GetRecipient(ctx, messageID, reader.ID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return core.NewPersistenceError(err, "getting message recipient")
	}
	if rcpt.IsRead {
		return nil
	}

	changed, err := svc.Repo.MarkRead(ctx, messageID, reader.ID, nowFunc().UTC())
	if err != nil {
		return core.NewPersistenceError(err, "marking message read")
	}
	if !changed {
		return nil
	}

	msg, err := svc.Repo.GetMessage(ctx, messageID)
	if err != nil {
		svc.Logger.Warn(fmt.Sprintf("messaging.MarkRead(%s): %v", messageID, err), err)
		return nil
	}
	if msg.ReadReceiptRequired && msg.SenderID != reader.ID {
		svc.Publisher.Publish(ctx, pubsub.UserGroup(msg.SenderID), ReadEvent(messageID, &reader))
	}
	return nil
}

// Typing relays a typing indicator to recipientID's personal group.
func (svc *Service) Typing(ctx context.Context, usr user.User, recipientID string, isTyping bool) {
	svc.Publisher.Publish(ctx, pubsub.UserGroup(recipientID), TypingEvent(usr, isTyping))
}

func (svc *Service) Inbox(ctx context.Context, filter InboxFilter) ([]InboxItem, error) {
	filter.Page = filter.Page.Clean(defaultPageSize, maxPageSize)
	items, err := svc.Repo.QueryInbox(ctx, filter)
	if err != nil {
		return nil, core.NewPersistenceError(err, "querying inbox")
	}
	return items, nil
}

func (svc *Service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	count, err := svc.Repo.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, core.NewPersistenceError(err, "counting unread messages")
	}
	return count, nil
}
