package messaging_test

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/messaging"
	"github.com/emsu/emsu/core/notification"
	"github.com/emsu/emsu/core/pubsub"
	"github.com/emsu/emsu/core/user"
	appfs "github.com/emsu/emsu/fs"
	emailsvc "github.com/emsu/emsu/services/email"
	inmemdb "github.com/emsu/emsu/storage/database/inmem"
	testutil "github.com/emsu/emsu/tests"
)

type fixture struct {
	svc      *messaging.Service
	deps     messaging.Deps
	repo     messaging.Repository
	usrRepo  user.Repository
	notifSvc *notification.Service
	registry *pubsub.Registry
	mailer   *emailsvc.ConsoleServiceMock
	logger   *testutil.Logger
}

func setup(t *testing.T, repo ...messaging.Repository) fixture {
	t.Helper()
	conf := core.NewTestConfig()
	logger := new(testutil.Logger)
	validate, translator := testutil.Validation()
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, logger)

	db := inmemdb.Open()
	var msgRepo messaging.Repository = inmemdb.NewMessageRepository(db)
	if len(repo) > 0 {
		msgRepo = repo[0]
	}
	usrRepo := inmemdb.NewUserRepository(db)
	registry := pubsub.NewRegistry()
	dispatcher := pubsub.NewDispatcher(registry)
	mailer := emailsvc.NewConsoleServiceMock(conf, logger)
	notifSvc := notification.NewService(inmemdb.NewNotificationRepository(db), dispatcher, validate, translator, logger)

	deps := messaging.Deps{
		Repo:          msgRepo,
		Users:         user.NewService(usrRepo, validate, translator),
		Notifications: notifSvc,
		Publisher:     dispatcher,
		Presence:      dispatcher,
		Mailer:        mailer,
		Validate:      validate,
		Translator:    translator,
		Logger:        logger,
	}
	return fixture{
		svc:      messaging.NewService(deps),
		deps:     deps,
		repo:     msgRepo,
		usrRepo:  usrRepo,
		notifSvc: notifSvc,
		registry: registry,
		mailer:   mailer,
		logger:   logger,
	}
}

type failingRepo struct {
	messaging.Repository
}

func (*failingRepo) CreateMessage(context.Context, messaging.Message, []string) (messaging.Message, error) {
	return messaging.Message{}, errors.New("connection refused")
}

// rejectingNotifications refuses every notification as invalid.
type rejectingNotifications struct{}

func (*rejectingNotifications) Create(context.Context, notification.NewNotification) (notification.Notification, error) {
	return notification.Notification{}, core.NewValidationError(nil, core.FieldError{Field: "title", Error: "too long"})
}

func TestNewService_missingDeps(t *testing.T) {
	assert.Panics(t, func() { messaging.NewService(messaging.Deps{}) })
}

func TestService_Send(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateUser(t, f.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	alice := testutil.CreateUser(t, f.usrRepo, "s1", "Alice", testutil.Email("alice"), user.RoleStudent, true)
	bob := testutil.CreateUser(t, f.usrRepo, "s1", "Bob", testutil.Email("bob"), user.RoleStudent, true)

	senderSub := testutil.Subscribe(f.registry, "teacher", pubsub.UserGroup(teacher.ID))
	aliceSub := testutil.Subscribe(f.registry, "alice", pubsub.UserGroup(alice.ID))
	bobSub := testutil.Subscribe(f.registry, "bob", pubsub.UserGroup(bob.ID))

	tests := []struct {
		name    string
		nm      messaging.NewMessage
		wantErr string
	}{
		{name: "no recipients", nm: messaging.NewMessage{Body: "hi"}, wantErr: "recipients: recipients must contain at least 1 item"},
		{name: "blank body", nm: messaging.NewMessage{Recipients: []string{alice.ID}, Body: "  "}, wantErr: "body: this field cannot be blank"},
		{
			name:    "unknown type",
			nm:      messaging.NewMessage{Recipients: []string{alice.ID}, Body: "hi", Type: "telegram"},
			wantErr: "message_type: message_type must be one of [private group announcement]",
		},
		{name: "unknown recipients", nm: messaging.NewMessage{Recipients: []string{"ghost"}, Body: "hi"}, wantErr: "recipients: none of the recipients exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Send(ctx, teacher, tt.nm)
			require.Error(t, err)
			assert.Equal(t, core.KindInvalid, core.KindOf(err))
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}

	t.Run("group message", func(t *testing.T) {
		msg, err := f.svc.Send(ctx, teacher, messaging.NewMessage{
			Recipients: []string{alice.ID, bob.ID, alice.ID, "ghost"},
			Subject:    " Trip ",
			Body:       "Bring a packed lunch",
			Type:       messaging.TypeGroup,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "Trip", msg.Subject)
		assert.Equal(t, teacher.ID, msg.SenderID)

		for _, sub := range []*pubsub.Subscriber{aliceSub, bobSub} {
			events := testutil.Drain(sub)
			require.Len(t, events, 1, "duplicates are delivered once")
			assert.Equal(t, pubsub.EventNewMessage, events[0].Type)
			payload, _ := events[0].Get("message")
			p := payload.(messaging.Payload)
			assert.Equal(t, msg.ID, p.ID)
			assert.Equal(t, messaging.Sender{ID: teacher.ID, Name: teacher.Name, Email: teacher.Email}, p.Sender)
			assert.Equal(t, messaging.TypeGroup, p.MessageType)
		}
		assert.Empty(t, testutil.Drain(senderSub))

		_, err = f.repo.GetRecipient(ctx, msg.ID, "ghost")
		assert.Equal(t, messaging.ErrNotFound, errors.Cause(err))
		assert.Empty(t, f.mailer.Sent())
	})
}

func TestService_Send_urgent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateUser(t, f.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	online := testutil.CreateUser(t, f.usrRepo, "s1", "Online", testutil.Email("online"), user.RoleParent, true)
	offline := testutil.CreateUser(t, f.usrRepo, "s1", "Offline", testutil.Email("offline"), user.RoleParent, true)
	sub := testutil.Subscribe(f.registry, "online", pubsub.UserGroup(online.ID))

	body := strings.Repeat("x", 80)
	msg, err := f.svc.Send(ctx, teacher, messaging.NewMessage{
		Recipients: []string{online.ID, offline.ID},
		Body:       body,
		IsUrgent:   true,
	})
	require.NoError(t, err)

	events := testutil.Drain(sub)
	require.Equal(t, []string{pubsub.EventNewMessage, pubsub.EventNotification}, testutil.Types(events))
	payload, _ := events[1].Get("notification")
	n := payload.(notification.Notification)
	assert.Equal(t, "Urgent Message from Teacher", n.Title)
	assert.Equal(t, strings.Repeat("x", 50)+"...", n.Message)
	assert.Equal(t, notification.TypeWarning, n.Type)
	assert.Equal(t, msg.ID, n.Metadata["message_id"])

	for _, id := range []string{online.ID, offline.ID} {
		count, err := f.notifSvc.UnreadCount(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, offline.Email, sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "Teacher sent you an urgent message")
	assert.Contains(t, sent[0].TextContent, body)
}

func TestService_Send_persistenceFailure(t *testing.T) {
	f := setup(t, &failingRepo{})
	teacher := testutil.CreateUser(t, f.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	student := testutil.CreateUser(t, f.usrRepo, "s1", "Student", testutil.Email("student"), user.RoleStudent, true)
	sub := testutil.Subscribe(f.registry, "s", pubsub.UserGroup(student.ID))

	_, err := f.svc.Send(context.Background(), teacher, messaging.NewMessage{Recipients: []string{student.ID}, Body: "hi", IsUrgent: true})
	require.Error(t, err)
	assert.Equal(t, core.KindPersistence, core.KindOf(err))
	assert.Equal(t, 1, f.logger.Count("error"))
	assert.Empty(t, testutil.Drain(sub))
	assert.Empty(t, f.mailer.Sent())
}

func TestService_Send_urgentLongSenderName(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sender := testutil.CreateUser(t, f.usrRepo, "s1", strings.Repeat("n", 190), testutil.Email("teacher"), user.RoleTeacher, true)
	student := testutil.CreateUser(t, f.usrRepo, "s1", "Student", testutil.Email("student"), user.RoleStudent, true)

	_, err := f.svc.Send(ctx, sender, messaging.NewMessage{Recipients: []string{student.ID}, Body: "hi", IsUrgent: true})
	require.NoError(t, err)

	notifs, err := f.notifSvc.List(ctx, notification.QueryFilter{RecipientID: student.ID})
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Len(t, []rune(notifs[0].Title), notification.TitleMaxLen)
	assert.True(t, strings.HasPrefix(notifs[0].Title, "Urgent Message from nnn"))
	assert.Zero(t, f.logger.Count("error"))
}

func TestService_Send_urgentNotificationRejected(t *testing.T) {
	f := setup(t)
	deps := f.deps
	deps.Notifications = &rejectingNotifications{}
	svc := messaging.NewService(deps)
	teacher := testutil.CreateUser(t, f.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	alice := testutil.CreateUser(t, f.usrRepo, "s1", "Alice", testutil.Email("alice"), user.RoleStudent, true)
	bob := testutil.CreateUser(t, f.usrRepo, "s1", "Bob", testutil.Email("bob"), user.RoleStudent, true)

	_, err := svc.Send(context.Background(), teacher, messaging.NewMessage{
		Recipients: []string{alice.ID, bob.ID}, Body: "hi", IsUrgent: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.logger.Count("error"))
	assert.Len(t, f.mailer.Sent(), 2, "emails do not depend on the notification")
}

func TestService_MarkRead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateUser(t, f.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	student := testutil.CreateUser(t, f.usrRepo, "s1", "Student", testutil.Email("student"), user.RoleStudent, true)
	outsider := testutil.CreateUser(t, f.usrRepo, "s1", "Outsider", testutil.Email("outsider"), user.RoleStudent, true)
	senderSub := testutil.Subscribe(f.registry, "teacher", pubsub.UserGroup(teacher.ID))

	withReceipt, err := f.svc.Send(ctx, teacher, messaging.NewMessage{Recipients: []string{student.ID}, Body: "a", ReadReceiptRequired: true})
	require.NoError(t, err)
	noReceipt, err := f.svc.Send(ctx, teacher, messaging.NewMessage{Recipients: []string{student.ID}, Body: "b"})
	require.NoError(t, err)

	tests := []struct {
		name         string
		messageID    string
		reader       user.User
		wantReceipts int
		wantUnread   int
	}{
		{name: "not a recipient", messageID: withReceipt.ID, reader: outsider, wantReceipts: 0, wantUnread: 2},
		{name: "unknown message", messageID: "nope", reader: student, wantReceipts: 0, wantUnread: 2},
		{name: "receipt required", messageID: withReceipt.ID, reader: student, wantReceipts: 1, wantUnread: 1},
		{name: "again", messageID: withReceipt.ID, reader: student, wantReceipts: 0, wantUnread: 1},
		{name: "no receipt", messageID: noReceipt.ID, reader: student, wantReceipts: 0, wantUnread: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, f.svc.MarkRead(ctx, tt.messageID, tt.reader))

			events := testutil.Drain(senderSub)
			assert.Len(t, events, tt.wantReceipts)
			for _, evt := range events {
				assert.Equal(t, pubsub.EventMessageRead, evt.Type)
				reader, _ := evt.Get("reader")
				assert.Equal(t, messaging.Sender{ID: student.ID, Name: student.Name, Email: student.Email}, reader)
			}

			unread, err := f.svc.UnreadCount(ctx, student.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUnread, unread)
		})
	}
}

func TestService_Typing(t *testing.T) {
	f := setup(t)
	teacher := testutil.CreateUser(t, f.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	sub := testutil.Subscribe(f.registry, "peer", pubsub.UserGroup("peer"))

	f.svc.Typing(context.Background(), teacher, "peer", true)
	events := testutil.Drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, pubsub.EventTypingIndicator, events[0].Type)
	isTyping, _ := events[0].Get("is_typing")
	assert.Equal(t, true, isTyping)
}

func TestService_Inbox(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateUser(t, f.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	student := testutil.CreateUser(t, f.usrRepo, "s1", "Student", testutil.Email("student"), user.RoleStudent, true)

	ids := make([]string, 0)
	for _, body := range []string{"one", "two", "three"} {
		msg, err := f.svc.Send(ctx, teacher, messaging.NewMessage{Recipients: []string{student.ID}, Body: body})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}
	require.NoError(t, f.svc.MarkRead(ctx, ids[0], student))
	read := true

	items, err := f.svc.Inbox(ctx, messaging.InboxFilter{RecipientID: student.ID})
	require.NoError(t, err)
	assert.Len(t, items, 3)

	items, err = f.svc.Inbox(ctx, messaging.InboxFilter{RecipientID: student.ID, IsRead: &read})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ids[0], items[0].ID)
	assert.NotNil(t, items[0].ReadAt)

	items, err = f.svc.Inbox(ctx, messaging.InboxFilter{RecipientID: student.ID, Page: core.Page{Limit: 2}})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = f.svc.Inbox(ctx, messaging.InboxFilter{RecipientID: teacher.ID})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUrgentPreview(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
		want    string
	}{
		{name: "subject wins", subject: "Fire drill", body: "Meet at the gate", want: "Fire drill"},
		{name: "short body", body: "Meet at the gate", want: "Meet at the gate..."},
		{name: "long body", body: strings.Repeat("é", 60), want: strings.Repeat("é", 50) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, messaging.UrgentPreview(tt.subject, tt.body))
		})
	}
}
