package echoapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emsu/emsu/core/messaging"
	"github.com/emsu/emsu/core/notification"
	"github.com/emsu/emsu/core/pubsub"
	"github.com/emsu/emsu/core/user"
	testutil "github.com/emsu/emsu/tests"
)

func TestWebsocket_Handshake(t *testing.T) {
	app := setup(t)
	ts := httptest.NewServer(app.srv)
	defer ts.Close()

	active := testutil.CreateUser(t, app.usrRepo, "s1", "Active", testutil.Email("active"), user.RoleTeacher, true)
	inactive := testutil.CreateUser(t, app.usrRepo, "s1", "Inactive", testutil.Email("inactive"), user.RoleTeacher, false)
	token := getToken(t, app.conf, active)

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
	}{
		{name: "missing token", path: "/ws/notifications", wantCode: http.StatusUnauthorized},
		{name: "invalid token", path: "/ws/chat", token: "not-a-jwt", wantCode: http.StatusUnauthorized},
		{name: "deactivated account", path: "/ws/chat", token: getToken(t, app.conf, inactive), wantCode: http.StatusForbidden},
		{name: "invalid room", path: "/ws/chat/bad-room", token: token, wantCode: http.StatusBadRequest},
		{name: "chat", path: "/ws/chat", token: token, wantCode: http.StatusSwitchingProtocols},
		{name: "chat room", path: "/ws/chat/7", token: token, wantCode: http.StatusSwitchingProtocols},
		{name: "notifications", path: "/ws/notifications", token: token, wantCode: http.StatusSwitchingProtocols},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, tt.path, tt.token), nil)
			require.NotNil(t, resp)
			_ = resp.Body.Close()
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode == http.StatusSwitchingProtocols {
				require.NoError(t, err)
				_ = ws.Close()
			} else {
				assert.ErrorIs(t, err, websocket.ErrBadHandshake)
			}
		})
	}

	// nothing is left behind once every socket is closed
	waitMembers(t, app.registry, pubsub.UserGroup(active.ID), 0)
	waitMembers(t, app.registry, pubsub.RoomGroup("7"), 0)
	waitMembers(t, app.registry, pubsub.NotificationGroup(active.ID), 0)
}

func TestWebsocket_NotificationDelivery(t *testing.T) {
	app := setup(t)
	ts := httptest.NewServer(app.srv)
	defer ts.Close()

	usr, err := app.usrRepo.CreateUser(context.Background(), user.User{
		ID:       "42",
		SchoolID: "s1",
		Name:     "Student",
		Email:    testutil.Email("student"),
		Role:     user.RoleStudent,
		IsActive: true,
	})
	require.NoError(t, err)

	ws := dialWS(t, ts, "/ws/notifications", getToken(t, app.conf, usr))
	waitMembers(t, app.registry, "notifications_42", 1)

	n, err := app.notifSvc.Create(context.Background(), notification.NewNotification{
		RecipientID: "42",
		Title:       "T",
		Message:     "A new grade was posted",
	})
	require.NoError(t, err)

	evt := readEvent(t, ws)
	assert.Equal(t, pubsub.EventNotification, evt.Type)
	payload, ok := evt.Data["notification"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, n.ID, payload["id"])
	assert.Equal(t, "T", payload["title"])
	assert.Equal(t, string(notification.TypeInfo), payload["notification_type"])
	assert.Equal(t, false, payload["is_read"])

	t.Run("mark_notification_read", func(t *testing.T) {
		writeJSON(t, ws, map[string]interface{}{"type": "mark_notification_read", "notification_id": n.ID})
		evt := readEvent(t, ws)
		assert.Equal(t, pubsub.EventNotificationRead, evt.Type)
		assert.Equal(t, n.ID, evt.Data["notification_id"])
	})

	t.Run("mark_notification_read unknown", func(t *testing.T) {
		writeJSON(t, ws, map[string]interface{}{"type": "mark_notification_read", "notification_id": "nope"})
		evt := readEvent(t, ws)
		assert.Equal(t, pubsub.EventError, evt.Type)
		assert.Equal(t, notification.ErrNotFound.Error(), evt.Data["message"])
	})

	t.Run("mark_all_read", func(t *testing.T) {
		_, err := app.notifSvc.Create(context.Background(), notification.NewNotification{
			RecipientID: "42", Title: "T2", Message: "m",
		})
		require.NoError(t, err)
		assert.Equal(t, pubsub.EventNotification, readEvent(t, ws).Type)

		writeJSON(t, ws, map[string]interface{}{"type": "mark_all_read"})
		evt := readEvent(t, ws)
		assert.Equal(t, pubsub.EventNotificationRead, evt.Type)
		assert.Equal(t, true, evt.Data["all"])
	})

	t.Run("chat events are unknown here", func(t *testing.T) {
		writeJSON(t, ws, map[string]interface{}{"type": "typing", "recipient_id": "1"})
		evt := readEvent(t, ws)
		assert.Equal(t, pubsub.EventError, evt.Type)
		assert.Equal(t, "Unknown event type", evt.Data["message"])
	})
}

func TestWebsocket_SendUrgentMessage(t *testing.T) {
	app := setup(t)
	ts := httptest.NewServer(app.srv)
	defer ts.Close()

	teacher := testutil.CreateUser(t, app.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	parent := testutil.CreateUser(t, app.usrRepo, "s1", "Parent", testutil.Email("parent"), user.RoleParent, true)
	offline := testutil.CreateUser(t, app.usrRepo, "s1", "Offline", testutil.Email("offline"), user.RoleParent, true)

	senderWS := dialWS(t, ts, "/ws/chat", getToken(t, app.conf, teacher))
	chatWS := dialWS(t, ts, "/ws/chat", getToken(t, app.conf, parent))
	notifWS := dialWS(t, ts, "/ws/notifications", getToken(t, app.conf, parent))
	waitMembers(t, app.registry, pubsub.UserGroup(teacher.ID), 1)
	waitMembers(t, app.registry, pubsub.UserGroup(parent.ID), 1)
	waitMembers(t, app.registry, pubsub.NotificationGroup(parent.ID), 1)

	writeJSON(t, senderWS, map[string]interface{}{
		"type":       "send_message",
		"recipients": []string{parent.ID, offline.ID},
		"body":       "The school bus is delayed by an hour",
		"is_urgent":  true,
	})

	sent := readEvent(t, senderWS)
	require.Equal(t, pubsub.EventMessageSent, sent.Type)
	msgID, _ := sent.Data["message_id"].(string)
	require.NotEmpty(t, msgID)

	// personal group: the message then its urgent notification
	evt := readEvent(t, chatWS)
	require.Equal(t, pubsub.EventNewMessage, evt.Type)
	payload, ok := evt.Data["message"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, msgID, payload["id"])
	assert.Equal(t, true, payload["is_urgent"])
	sender, _ := payload["sender"].(map[string]interface{})
	assert.Equal(t, teacher.ID, sender["id"])

	assert.Equal(t, pubsub.EventNotification, readEvent(t, chatWS).Type)

	evt = readEvent(t, notifWS)
	require.Equal(t, pubsub.EventNotification, evt.Type)
	n, _ := evt.Data["notification"].(map[string]interface{})
	assert.Equal(t, "Urgent Message from Teacher", n["title"])
	assert.Equal(t, string(notification.TypeWarning), n["notification_type"])

	for _, id := range []string{parent.ID, offline.ID} {
		rcpt, err := app.msgRepo.GetRecipient(context.Background(), msgID, id)
		require.NoError(t, err)
		assert.False(t, rcpt.IsRead)
	}

	// only the recipient without a live connection is emailed
	sentMails := app.mailer.Sent()
	require.Len(t, sentMails, 1)
	require.Len(t, sentMails[0].To, 1)
	assert.Equal(t, offline.Email, sentMails[0].To[0].Address)

	t.Run("invalid message", func(t *testing.T) {
		writeJSON(t, senderWS, map[string]interface{}{"type": "send_message", "recipients": []string{parent.ID}})
		evt := readEvent(t, senderWS)
		assert.Equal(t, pubsub.EventError, evt.Type)
		assert.Equal(t, "body: this field is required", evt.Data["message"])
	})
}

func TestWebsocket_MarkRead(t *testing.T) {
	app := setup(t)
	ts := httptest.NewServer(app.srv)
	defer ts.Close()

	teacher := testutil.CreateUser(t, app.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	student := testutil.CreateUser(t, app.usrRepo, "s1", "Student", testutil.Email("student"), user.RoleStudent, true)

	msg, err := app.msgSvc.Send(context.Background(), teacher, messaging.NewMessage{
		Recipients:          []string{student.ID},
		Subject:             "Homework",
		Body:                "Chapter 3, exercises 1 to 5",
		ReadReceiptRequired: true,
	})
	require.NoError(t, err)

	senderWS := dialWS(t, ts, "/ws/chat", getToken(t, app.conf, teacher))
	readerWS := dialWS(t, ts, "/ws/chat", getToken(t, app.conf, student))
	waitMembers(t, app.registry, pubsub.UserGroup(teacher.ID), 1)
	waitMembers(t, app.registry, pubsub.UserGroup(student.ID), 1)

	for i := 0; i < 2; i++ {
		writeJSON(t, readerWS, map[string]interface{}{"type": "mark_read", "message_id": msg.ID})
		evt := readEvent(t, readerWS)
		assert.Equal(t, pubsub.EventMessageRead, evt.Type)
		assert.Equal(t, msg.ID, evt.Data["message_id"])
	}

	// the sender gets exactly one receipt
	evt := readEvent(t, senderWS)
	require.Equal(t, pubsub.EventMessageRead, evt.Type)
	reader, _ := evt.Data["reader"].(map[string]interface{})
	assert.Equal(t, student.ID, reader["id"])

	require.NoError(t, senderWS.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = senderWS.ReadMessage()
	assert.Error(t, err, "a second receipt was pushed")

	rcpt, err := app.msgRepo.GetRecipient(context.Background(), msg.ID, student.ID)
	require.NoError(t, err)
	assert.True(t, rcpt.IsRead)
	assert.NotNil(t, rcpt.ReadAt)
}

func TestWebsocket_Rooms(t *testing.T) {
	app := setup(t)
	ts := httptest.NewServer(app.srv)
	defer ts.Close()

	usr := testutil.CreateUser(t, app.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	ws := dialWS(t, ts, "/ws/chat", getToken(t, app.conf, usr))
	waitMembers(t, app.registry, pubsub.UserGroup(usr.ID), 1)

	tests := []struct {
		name       string
		frame      interface{}
		wantType   string
		wantKey    string
		wantValue  interface{}
		wantInRoom int
	}{
		{
			name:     "join",
			frame:    map[string]interface{}{"type": "join_room", "room_id": "7"},
			wantType: pubsub.EventRoomJoined, wantKey: "room_id", wantValue: "7", wantInRoom: 1,
		},
		{
			name:     "join twice",
			frame:    map[string]interface{}{"type": "join_room", "room_id": "7"},
			wantType: pubsub.EventRoomJoined, wantKey: "room_id", wantValue: "7", wantInRoom: 1,
		},
		{
			name:     "invalid room",
			frame:    map[string]interface{}{"type": "join_room", "room_id": "bad room"},
			wantType: pubsub.EventError, wantKey: "message",
			wantValue: "room_id: only letters, digits and underscores are allowed", wantInRoom: 1,
		},
		{
			name:     "leave",
			frame:    map[string]interface{}{"type": "leave_room", "room_id": "7"},
			wantType: pubsub.EventRoomLeft, wantKey: "room_id", wantValue: "7", wantInRoom: 0,
		},
		{
			name:     "leave again",
			frame:    map[string]interface{}{"type": "leave_room", "room_id": "7"},
			wantType: pubsub.EventRoomLeft, wantKey: "room_id", wantValue: "7", wantInRoom: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeJSON(t, ws, tt.frame)
			evt := readEvent(t, ws)
			assert.Equal(t, tt.wantType, evt.Type)
			assert.Equal(t, tt.wantValue, evt.Data[tt.wantKey])
			assert.Equal(t, tt.wantInRoom, app.registry.Len(pubsub.RoomGroup("7")))
		})
	}
}

func TestWebsocket_RoomDisconnect(t *testing.T) {
	app := setup(t)
	ts := httptest.NewServer(app.srv)
	defer ts.Close()

	usr := testutil.CreateUser(t, app.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	ws := dialWS(t, ts, "/ws/chat", getToken(t, app.conf, usr))
	waitMembers(t, app.registry, pubsub.UserGroup(usr.ID), 1)

	writeJSON(t, ws, map[string]interface{}{"type": "join_room", "room_id": "7"})
	require.Equal(t, pubsub.EventRoomJoined, readEvent(t, ws).Type)

	_ = ws.Close()
	waitMembers(t, app.registry, pubsub.RoomGroup("7"), 0)
	waitMembers(t, app.registry, pubsub.UserGroup(usr.ID), 0)
	assert.Empty(t, app.registry.Groups())
}

func TestWebsocket_BadFrames(t *testing.T) {
	app := setup(t)
	ts := httptest.NewServer(app.srv)
	defer ts.Close()

	usr := testutil.CreateUser(t, app.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	ws := dialWS(t, ts, "/ws/chat", getToken(t, app.conf, usr))
	waitMembers(t, app.registry, pubsub.UserGroup(usr.ID), 1)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	evt := readEvent(t, ws)
	assert.Equal(t, pubsub.EventError, evt.Type)
	assert.Equal(t, "Invalid JSON data", evt.Data["message"])

	writeJSON(t, ws, map[string]interface{}{"type": "dance"})
	evt = readEvent(t, ws)
	assert.Equal(t, pubsub.EventError, evt.Type)
	assert.Equal(t, "Unknown event type", evt.Data["message"])

	// the connection is still usable
	writeJSON(t, ws, map[string]interface{}{"type": "join_room", "room_id": "7"})
	assert.Equal(t, pubsub.EventRoomJoined, readEvent(t, ws).Type)
}

func TestWebsocket_Typing(t *testing.T) {
	app := setup(t)
	ts := httptest.NewServer(app.srv)
	defer ts.Close()

	teacher := testutil.CreateUser(t, app.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	student := testutil.CreateUser(t, app.usrRepo, "s1", "Student", testutil.Email("student"), user.RoleStudent, true)

	typerWS := dialWS(t, ts, "/ws/chat", getToken(t, app.conf, teacher))
	peerWS := dialWS(t, ts, "/ws/chat", getToken(t, app.conf, student))
	waitMembers(t, app.registry, pubsub.UserGroup(teacher.ID), 1)
	waitMembers(t, app.registry, pubsub.UserGroup(student.ID), 1)

	writeJSON(t, typerWS, map[string]interface{}{"type": "typing", "recipient_id": student.ID, "is_typing": true})
	evt := readEvent(t, peerWS)
	assert.Equal(t, pubsub.EventTypingIndicator, evt.Type)
	assert.Equal(t, true, evt.Data["is_typing"])
	who, _ := evt.Data["user"].(map[string]interface{})
	assert.Equal(t, teacher.ID, who["id"])
}

func TestWebsocket_Shutdown(t *testing.T) {
	app := setup(t)
	ts := httptest.NewServer(app.srv)
	defer ts.Close()

	usr := testutil.CreateUser(t, app.usrRepo, "s1", "Teacher", testutil.Email("teacher"), user.RoleTeacher, true)
	ws := dialWS(t, ts, "/ws/chat", getToken(t, app.conf, usr))
	waitMembers(t, app.registry, pubsub.UserGroup(usr.ID), 1)

	ctx, cancel := context.WithTimeout(context.Background(), wsTimeout)
	defer cancel()
	require.NoError(t, app.srv.Shutdown(ctx))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(wsTimeout)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Empty(t, app.registry.Groups())
}
