package pubsub

import "sync"

// Subscriber is a Handle backed by a buffered channel.
// Sends never block: an event is dropped when the buffer is full or the subscriber is closed.
type Subscriber struct {
	id     string
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

var _ Handle = (*Subscriber)(nil)

func NewSubscriber(id string, buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscriber{id: id, ch: make(chan Event, buffer)}
}

func (s *Subscriber) ID() string { return s.id }

func (s *Subscriber) Send(evt Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// Events is the outbound queue, closed by Close.
func (s *Subscriber) Events() <-chan Event { return s.ch }

func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
