package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/pubsub"
	"github.com/emsu/emsu/core/user"
)

// Logger records every log call; it never exits.
type Logger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Args: args})
	l.mu.Unlock()
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

// Count returns how many entries were logged at level.
func (l *Logger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int
	for _, e := range l.Entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Validation returns a validator with every application rule registered.
func Validation() (*validator.Validate, ut.Translator) {
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	schoolID, name, email string,
	role user.Role,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		SchoolID:  schoolID,
		Name:      name,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// Subscribe joins a fresh Subscriber to every group.
func Subscribe(reg *pubsub.Registry, id string, groups ...string) *pubsub.Subscriber {
	sub := pubsub.NewSubscriber(id, 64)
	for _, g := range groups {
		reg.Join(g, sub)
	}
	return sub
}

// Drain returns the events currently buffered in sub.
func Drain(sub *pubsub.Subscriber) []pubsub.Event {
	events := make([]pubsub.Event, 0)
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, evt)
		default:
			return events
		}
	}
}

// Types returns the type of each event.
func Types(events []pubsub.Event) []string {
	types := make([]string, 0, len(events))
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	return types
}

// NextEvent waits for sub's next event.
func NextEvent(t *testing.T, sub *pubsub.Subscriber, timeout time.Duration) pubsub.Event {
	t.Helper()
	select {
	case evt := <-sub.Events():
		return evt
	case <-time.After(timeout):
		t.Fatalf("no event received within %v", timeout)
		return pubsub.Event{}
	}
}

func Email(name string) string {
	return fmt.Sprintf("%s@example.com", name)
}
