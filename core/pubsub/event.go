package pubsub

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Outbound event types
const (
	EventNewMessage       = "new_message"
	EventMessageSent      = "message_sent"
	EventTypingIndicator  = "typing_indicator"
	EventNotification     = "notification"
	EventMessageRead      = "message_read"
	EventNotificationRead = "notification_read"
	EventRoomJoined       = "room_joined"
	EventRoomLeft         = "room_left"
	EventError            = "error"
)

// Event is the `{"type": ..., ...payload}` envelope delivered to connections.
// Payload keys are flattened next to "type" on the wire.
type Event struct {
	Type string
	Data map[string]interface{}
}

func NewEvent(typ string, data map[string]interface{}) Event {
	return Event{Type: typ, Data: data}
}

func ErrorEvent(msg string) Event {
	return NewEvent(EventError, map[string]interface{}{"message": msg})
}

// Get returns the payload value stored under key, if any.
func (e Event) Get(key string) (interface{}, bool) {
	v, ok := e.Data[key]
	return v, ok
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		m[k] = v
	}
	m["type"] = e.Type
	return json.Marshal(m)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return errors.Wrap(err, "decoding event")
	}
	typ, _ := m["type"].(string)
	if typ == "" {
		return errors.New("event type is missing")
	}
	delete(m, "type")
	e.Type = typ
	e.Data = m
	return nil
}
