package echoapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/messaging"
	"github.com/emsu/emsu/core/pubsub"
	"github.com/emsu/emsu/core/user"
)

// Inbound event types
const (
	inSendMessage          = "send_message"
	inMarkRead             = "mark_read"
	inTyping               = "typing"
	inJoinRoom             = "join_room"
	inLeaveRoom            = "leave_room"
	inMarkNotificationRead = "mark_notification_read"
	inMarkAllRead          = "mark_all_read"
)

const (
	errInvalidJSON        = "Invalid JSON data"
	errUnknownEvent       = "Unknown event type"
	errInternal           = "Internal server error"
	errSendFailed         = "Failed to send message"
	errMarkReadFailed     = "Failed to mark message as read"
	errNotificationFailed = "Failed to update notifications"
)

type endpoint int

const (
	chatEndpoint endpoint = iota
	notificationEndpoint
)

func (e endpoint) String() string {
	if e == notificationEndpoint {
		return "notifications"
	}
	return "chat"
}

type (
	envelope struct {
		Type string `json:"type"`
	}

	sendMessageRequest struct {
		Recipients          []string       `json:"recipients"`
		Subject             string         `json:"subject"`
		Body                string         `json:"body"`
		MessageType         messaging.Type `json:"message_type"`
		IsUrgent            bool           `json:"is_urgent"`
		ReadReceiptRequired bool           `json:"read_receipt_required"`
	}

	markReadRequest struct {
		MessageID string `json:"message_id" validate:"required"`
	}

	typingRequest struct {
		RecipientID string `json:"recipient_id" validate:"required"`
		IsTyping    bool   `json:"is_typing"`
	}

	roomRequest struct {
		RoomID string `json:"room_id" validate:"required,max=100,word"`
	}

	notificationReadRequest struct {
		NotificationID string `json:"notification_id" validate:"required"`
	}
)

// conn is one websocket connection. Only the run loop writes to the socket
// and touches groups.
type conn struct {
	srv    *Server
	ws     *websocket.Conn
	sub    *pubsub.Subscriber
	usr    user.User
	kind   endpoint
	groups map[string]struct{}
}

func newConn(srv *Server, ws *websocket.Conn, usr user.User, kind endpoint) *conn {
	return &conn{
		srv:    srv,
		ws:     ws,
		sub:    pubsub.NewSubscriber(uuid.New().String(), srv.deps.Conf.Websocket.SendBuffer),
		usr:    usr,
		kind:   kind,
		groups: make(map[string]struct{}),
	}
}

// run joins groups then relays inbound frames and outbound events until the
// peer goes away or ctx is done. Leaving every joined group runs on any exit.
func (c *conn) run(ctx context.Context, groups []string) {
	conf := c.srv.deps.Conf.Websocket
	defer c.close()

	for _, g := range groups {
		c.join(g)
	}
	c.srv.deps.Logger.Debug(fmt.Sprintf("websocket %s connected: %s", c.kind, c.usr.ID))

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go c.readPump(frames, readErr, done)

	ticker := time.NewTicker(conf.PingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(conf.WriteWait),
			)
			return

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.srv.deps.Logger.Debug(fmt.Sprintf("websocket %s read: %v", c.kind, err))
			}
			return

		case frame := <-frames:
			c.handle(ctx, frame)

		case evt, ok := <-c.sub.Events():
			if !ok {
				return
			}
			if err := c.write(evt); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(conf.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (c *conn) readPump(frames chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	conf := c.srv.deps.Conf.Websocket
	c.ws.SetReadLimit(conf.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(conf.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(conf.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- data:
		case <-done:
			return
		}
	}
}

func (c *conn) close() {
	for g := range c.groups {
		c.leave(g)
	}
	c.sub.Close()
	_ = c.ws.Close()
	c.srv.deps.Logger.Debug(fmt.Sprintf("websocket %s disconnected: %s", c.kind, c.usr.ID))
}

func (c *conn) join(group string) {
	c.srv.deps.Registry.Join(group, c.sub)
	c.groups[group] = struct{}{}
}

func (c *conn) leave(group string) {
	c.srv.deps.Registry.Leave(group, c.sub)
	delete(c.groups, group)
}

func (c *conn) write(evt pubsub.Event) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.deps.Conf.Websocket.WriteWait))
	return c.ws.WriteJSON(evt)
}

// reply writes evt to this connection only. Write failures surface on the next read.
func (c *conn) reply(evt pubsub.Event) {
	_ = c.write(evt)
}

func (c *conn) replyError(msg string) {
	c.reply(pubsub.ErrorEvent(msg))
}

// fail logs an unexpected error and reports a generic message to the peer.
func (c *conn) fail(op string, err error, msg string) {
	c.srv.deps.Logger.Error(fmt.Sprintf("websocket %s %s: %v", c.kind, op, err), err, c.usr)
	c.replyError(msg)
}

func (c *conn) decode(frame []byte, v interface{}) bool {
	if err := json.Unmarshal(frame, v); err != nil {
		c.replyError(errInvalidJSON)
		return false
	}
	if err := core.ValidateStruct(c.srv.deps.Validate, c.srv.deps.Translator, v); err != nil {
		c.replyError(err.Error())
		return false
	}
	return true
}

func (c *conn) handle(ctx context.Context, frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.replyError(errInvalidJSON)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.fail(env.Type, errors.Errorf("panic: %v", r), errInternal)
		}
	}()

	switch c.kind {
	case chatEndpoint:
		switch env.Type {
		case inSendMessage:
			c.sendMessage(ctx, frame)
		case inMarkRead:
			c.markRead(ctx, frame)
		case inTyping:
			c.typing(ctx, frame)
		case inJoinRoom:
			c.joinRoom(frame)
		case inLeaveRoom:
			c.leaveRoom(frame)
		default:
			c.replyError(errUnknownEvent)
		}
	case notificationEndpoint:
		switch env.Type {
		case inMarkNotificationRead:
			c.markNotificationRead(ctx, frame)
		case inMarkAllRead:
			c.markAllNotificationsRead(ctx)
		default:
			c.replyError(errUnknownEvent)
		}
	}
}

func (c *conn) sendMessage(ctx context.Context, frame []byte) {
	var req sendMessageRequest
	if !c.decode(frame, &req) {
		return
	}
	msg, err := c.srv.deps.MessageSvc.Send(ctx, c.usr, messaging.NewMessage{
		Recipients:          req.Recipients,
		Subject:             req.Subject,
		Body:                req.Body,
		Type:                req.MessageType,
		IsUrgent:            req.IsUrgent,
		ReadReceiptRequired: req.ReadReceiptRequired,
	})
	if err != nil {
		if core.KindOf(err) == core.KindInvalid {
			c.replyError(err.Error())
			return
		}
		c.fail(inSendMessage, err, errSendFailed)
		return
	}
	c.reply(messaging.SentEvent(msg))
}

func (c *conn) markRead(ctx context.Context, frame []byte) {
	var req markReadRequest
	if !c.decode(frame, &req) {
		return
	}
	if err := c.srv.deps.MessageSvc.MarkRead(ctx, req.MessageID, c.usr); err != nil {
		c.fail(inMarkRead, err, errMarkReadFailed)
		return
	}
	c.reply(messaging.ReadEvent(req.MessageID, nil))
}

func (c *conn) typing(ctx context.Context, frame []byte) {
	var req typingRequest
	if !c.decode(frame, &req) {
		return
	}
	c.srv.deps.MessageSvc.Typing(ctx, c.usr, req.RecipientID, req.IsTyping)
}

func (c *conn) joinRoom(frame []byte) {
	var req roomRequest
	if !c.decode(frame, &req) {
		return
	}
	c.join(pubsub.RoomGroup(req.RoomID))
	c.reply(pubsub.NewEvent(pubsub.EventRoomJoined, map[string]interface{}{"room_id": req.RoomID}))
}

func (c *conn) leaveRoom(frame []byte) {
	var req roomRequest
	if !c.decode(frame, &req) {
		return
	}
	c.leave(pubsub.RoomGroup(req.RoomID))
	c.reply(pubsub.NewEvent(pubsub.EventRoomLeft, map[string]interface{}{"room_id": req.RoomID}))
}

// the notification service pushes `notification_read` to every notification
// connection of the user, this one included.
func (c *conn) markNotificationRead(ctx context.Context, frame []byte) {
	var req notificationReadRequest
	if !c.decode(frame, &req) {
		return
	}
	if _, err := c.srv.deps.NotificationSvc.MarkRead(ctx, req.NotificationID, c.usr.ID); err != nil {
		if core.KindOf(err) == core.KindNotFound {
			c.replyError(errors.Cause(err).Error())
			return
		}
		c.fail(inMarkNotificationRead, err, errNotificationFailed)
	}
}

func (c *conn) markAllNotificationsRead(ctx context.Context) {
	if _, err := c.srv.deps.NotificationSvc.MarkAllRead(ctx, c.usr.ID); err != nil {
		c.fail(inMarkAllRead, err, errNotificationFailed)
	}
}
