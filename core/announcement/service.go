package announcement

import (
	"context"
	"fmt"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/notification"
	"github.com/emsu/emsu/core/user"
)

const previewLen = 100

var (
	// errors
	ErrNotFound   = errors.New("announcement not found")
	ErrNotAllowed = errors.New("only school staff can publish announcements")

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateAnnouncement(ctx context.Context, a Announcement) (Announcement, error)
		QueryAnnouncements(ctx context.Context, filter QueryFilter) ([]Announcement, error)
		// QueryDue returns the unpublished, unexpired announcements whose publish date is <= now.
		QueryDue(ctx context.Context, now time.Time) ([]Announcement, error)
		// MarkPublished publishes an unpublished announcement and reports whether a row changed.
		MarkPublished(ctx context.Context, id string, at time.Time) (bool, error)
	}

	UserQuerier interface {
		QueryBySchool(ctx context.Context, schoolID string, roles ...user.Role) ([]user.User, error)
	}

	NotificationCreator interface {
		Create(ctx context.Context, nn notification.NewNotification) (notification.Notification, error)
	}

	Service struct {
		repo          Repository
		users         UserQuerier
		notifications NotificationCreator
		validate      *validator.Validate
		translator    ut.Translator
		logger        core.Logger
	}
)

func NewService(
	repo Repository,
	users UserQuerier,
	notifications NotificationCreator,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *Service {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(users, "users"),
		vala.IsNotNil(notifications, "notifications"),
		vala.IsNotNil(validate, "validate"),
		vala.IsNotNil(translator, "translator"),
		vala.IsNotNil(logger, "logger"),
	).Check(); err != nil {
		panic(err)
	}
	return &Service{
		repo:          repo,
		users:         users,
		notifications: notifications,
		validate:      validate,
		translator:    translator,
		logger:        logger,
	}
}

// Create stores an announcement of author's school. When it is due it is published
// right away and every targeted user of the school gets a notification.
func (svc *Service) Create(ctx context.Context, author user.User, na NewAnnouncement) (Announcement, error) {
	if !author.Role.IsStaff() {
		return Announcement{}, core.NewForbiddenError(ErrNotAllowed)
	}
	na.clean()
	if err := core.ValidateStruct(svc.validate, svc.translator, na); err != nil {
		return Announcement{}, err
	}
	if na.PublishDate != nil && na.ExpireDate != nil && !na.ExpireDate.After(*na.PublishDate) {
		return Announcement{}, core.NewValidationError(nil, core.FieldError{
			Field: "expire_date",
			Error: "expire date must be after publish date",
		})
	}

	now := nowFunc().UTC()
	a := Announcement{
		SchoolID:    author.SchoolID,
		AuthorID:    author.ID,
		Title:       na.Title,
		Content:     na.Content,
		Type:        na.Type,
		Audience:    na.Audience,
		IsPinned:    na.IsPinned,
		PublishDate: na.PublishDate,
		ExpireDate:  na.ExpireDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if a.PublishDate == nil || !a.PublishDate.After(now) {
		a.IsPublished = true
		if a.PublishDate == nil {
			a.PublishDate = &now
		}
	}

	a, err := svc.repo.CreateAnnouncement(ctx, a)
	if err != nil {
		return Announcement{}, core.NewPersistenceError(err, "creating announcement")
	}
	if a.IsPublished {
		svc.fanOut(ctx, a)
	}
	return a, nil
}

// PublishDue publishes the announcements that became due at now and returns how many were published.
func (svc *Service) PublishDue(ctx context.Context, now time.Time) (int, error) {
	due, err := svc.repo.QueryDue(ctx, now)
	if err != nil {
		return 0, core.NewPersistenceError(err, "querying due announcements")
	}

	var published int
	for _, a := range due {
		changed, err := svc.repo.MarkPublished(ctx, a.ID, now)
		if err != nil {
			svc.logger.Error(fmt.Sprintf("announcement.PublishDue(%s): %v", a.ID, err), err)
			continue
		}
		if !changed { // published concurrently
			continue
		}
		a.IsPublished = true
		svc.fanOut(ctx, a)
		published++
	}
	return published, nil
}

// Active returns the announcements currently visible to usr.
func (svc *Service) Active(ctx context.Context, usr user.User) ([]Announcement, error) {
	as, err := svc.repo.QueryAnnouncements(ctx, QueryFilter{
		SchoolID:  usr.SchoolID,
		Audiences: AudiencesOf(usr.Role),
		ActiveAt:  nowFunc().UTC(),
	})
	if err != nil {
		return nil, core.NewPersistenceError(err, "querying announcements")
	}
	return as, nil
}

func (svc *Service) fanOut(ctx context.Context, a Announcement) {
	users, err := svc.users.QueryBySchool(ctx, a.SchoolID, a.Audience.Roles()...)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("announcement.fanOut(%s): %v", a.ID, err), err)
		return
	}

	typ := notification.TypeInfo
	if a.Type == TypeEmergency {
		typ = notification.TypeWarning
	}
	for _, usr := range users {
		if usr.ID == a.AuthorID {
			continue
		}
		_, err := svc.notifications.Create(ctx, notification.NewNotification{
			RecipientID: usr.ID,
			Title:       core.Truncate("New announcement: "+a.Title, notification.TitleMaxLen),
			Message:     core.Truncate(a.Content, previewLen),
			Type:        typ,
			ActionURL:   "/announcements/" + a.ID,
			Metadata:    map[string]interface{}{"announcement_id": a.ID, "announcement_type": string(a.Type)},
		})
		// persistence failures are already logged by the notification service
		if err != nil && core.KindOf(err) != core.KindPersistence {
			svc.logger.Error(fmt.Sprintf("announcement.fanOut(%s, %s): %v", a.ID, usr.ID, err), err)
		}
	}
}
