package notification

import (
	"context"
	"fmt"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/pubsub"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	// errors
	ErrNotFound = errors.New("notification not found")

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		GetNotification(ctx context.Context, id string) (Notification, error)
		QueryNotifications(ctx context.Context, filter QueryFilter) ([]Notification, error)
		CountUnread(ctx context.Context, recipientID string) (int, error)
		// MarkRead flips the read flag of an unread notification owned by recipientID.
		// It reports whether a row changed.
		MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error)
		MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error)
	}

	Service struct {
		repo       Repository
		publisher  pubsub.Publisher
		validate   *validator.Validate
		translator ut.Translator
		logger     core.Logger
	}
)

func NewService(
	repo Repository,
	publisher pubsub.Publisher,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *Service {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(publisher, "publisher"),
		vala.IsNotNil(validate, "validate"),
		vala.IsNotNil(translator, "translator"),
		vala.IsNotNil(logger, "logger"),
	).Check(); err != nil {
		panic(err)
	}
	return &Service{
		repo:       repo,
		publisher:  publisher,
		validate:   validate,
		translator: translator,
		logger:     logger,
	}
}

// Event builds the outbound `notification` event for n.
func Event(n Notification) pubsub.Event {
	return pubsub.NewEvent(pubsub.EventNotification, map[string]interface{}{"notification": n})
}

// Create persists a notification then pushes it to the recipient's personal groups.
// A persistence failure is logged and returned as a core.KindPersistence error.
func (svc *Service) Create(ctx context.Context, nn NewNotification) (Notification, error) {
	nn.clean()
	if err := core.ValidateStruct(svc.validate, svc.translator, nn); err != nil {
		return Notification{}, err
	}

	n, err := svc.repo.CreateNotification(ctx, Notification{
		RecipientID: nn.RecipientID,
		Title:       nn.Title,
		Message:     nn.Message,
		Type:        nn.Type,
		ActionURL:   nn.ActionURL,
		Metadata:    nn.Metadata,
		CreatedAt:   nowFunc().UTC(),
	})
	if err != nil {
		err = core.NewPersistenceError(err, "creating notification")
		svc.logger.Error(fmt.Sprintf("notification.Create(%s): %v", nn.RecipientID, err), err)
		return Notification{}, err
	}

	evt := Event(n)
	svc.publisher.Publish(ctx, pubsub.UserGroup(n.RecipientID), evt)
	svc.publisher.Publish(ctx, pubsub.NotificationGroup(n.RecipientID), evt)
	return n, nil
}

// MarkRead marks one of recipientID's notifications as read.
// Marking an already read notification is a no-op.
func (svc *Service) MarkRead(ctx context.Context, id, recipientID string) (Notification, error) {
	n, err := svc.repo.GetNotification(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Notification{}, core.NewNotFoundError(ErrNotFound)
		}
		return Notification{}, core.NewPersistenceError(err, "getting notification")
	}
	if n.RecipientID != recipientID {
		return Notification{}, core.NewNotFoundError(ErrNotFound)
	}
	if n.IsRead {
		return n, nil
	}

	at := nowFunc().UTC()
	changed, err := svc.repo.MarkRead(ctx, id, recipientID, at)
	if err != nil {
		return Notification{}, core.NewPersistenceError(err, "marking notification read")
	}
	if changed {
		n.IsRead = true
		n.ReadAt = &at
		svc.publisher.Publish(ctx, pubsub.NotificationGroup(recipientID), ReadEvent(id))
	}
	return n, nil
}

// MarkAllRead marks every unread notification of recipientID as read and returns how many changed.
func (svc *Service) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	count, err := svc.repo.MarkAllRead(ctx, recipientID, nowFunc().UTC())
	if err != nil {
		return 0, core.NewPersistenceError(err, "marking all notifications read")
	}
	if count > 0 {
		svc.publisher.Publish(ctx, pubsub.NotificationGroup(recipientID), ReadEvent(""))
	}
	return count, nil
}

// ReadEvent builds the `notification_read` event; an empty id means "all".
func ReadEvent(id string) pubsub.Event {
	data := map[string]interface{}{"notification_id": id}
	if id == "" {
		data = map[string]interface{}{"all": true}
	}
	return pubsub.NewEvent(pubsub.EventNotificationRead, data)
}

// List returns recipientID's notifications, newest first.
func (svc *Service) List(ctx context.Context, filter QueryFilter) ([]Notification, error) {
	filter.Page = filter.Page.Clean(defaultPageSize, maxPageSize)
	ns, err := svc.repo.QueryNotifications(ctx, filter)
	if err != nil {
		return nil, core.NewPersistenceError(err, "querying notifications")
	}
	return ns, nil
}

func (svc *Service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	count, err := svc.repo.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, core.NewPersistenceError(err, "counting unread notifications")
	}
	return count, nil
}
