package pubsub

import "context"

type (
	// Publisher requests fan-out of an event to every member of a group.
	// Delivery is best effort: nothing is queued, retried or persisted.
	Publisher interface {
		Publish(ctx context.Context, group string, evt Event)
	}

	// Presence reports whether a user currently holds a live connection.
	Presence interface {
		IsOnline(userID string) bool
	}

	// Dispatcher delivers events to the handles of a Registry.
	Dispatcher struct {
		reg *Registry
	}
)

var (
	_ Publisher = (*Dispatcher)(nil)
	_ Presence  = (*Dispatcher)(nil)
)

func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

func (d *Dispatcher) Publish(_ context.Context, group string, evt Event) {
	d.Dispatch(group, evt)
}

// Dispatch offers evt to every member of group and returns how many accepted it.
// A full or closed handle drops the event without affecting the others.
func (d *Dispatcher) Dispatch(group string, evt Event) int {
	var delivered int
	for _, h := range d.reg.Members(group) {
		if h.Send(evt) {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) IsOnline(userID string) bool {
	return d.reg.Len(UserGroup(userID)) > 0 || d.reg.Len(NotificationGroup(userID)) > 0
}
