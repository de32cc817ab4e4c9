package logsvc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/user"
)

func newTestLogger() (*RollbarLogger, *test.Hook) {
	std, hook := test.NewNullLogger()
	std.SetLevel(logrus.DebugLevel)
	l := NewRollbarLogger(std, core.NewTestConfig())
	l.Enable(false)
	return l, hook
}

func TestRollbarLogger_Levels(t *testing.T) {
	l, hook := newTestLogger()

	tests := []struct {
		name  string
		log   func(msg string, args ...interface{})
		level logrus.Level
	}{
		{name: "debug", log: l.Debug, level: logrus.DebugLevel},
		{name: "info", log: l.Info, level: logrus.InfoLevel},
		{name: "warn", log: l.Warn, level: logrus.WarnLevel},
		{name: "error", log: l.Error, level: logrus.ErrorLevel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hook.Reset()
			tc.log("hello " + tc.name)
			if assert.Len(t, hook.AllEntries(), 1) {
				assert.Equal(t, tc.level, hook.LastEntry().Level)
				assert.Equal(t, "hello "+tc.name, hook.LastEntry().Message)
			}
		})
	}
}

func TestRollbarLogger_Fields(t *testing.T) {
	l, hook := newTestLogger()
	err := errors.New("boom")
	usr := user.User{ID: "u1", Name: "Jane", Email: "jane@example.com"}

	l.Error("failed", err, map[string]interface{}{"group": "user_u1"}, usr, user.User{ID: "u2"})

	entry := hook.LastEntry()
	if assert.NotNil(t, entry) {
		assert.Equal(t, err, entry.Data[logrus.ErrorKey])
		assert.Equal(t, "user_u1", entry.Data["group"])
		assert.Equal(t, "u1", entry.Data["user_id"])
	}
}

func TestRollbarLogger_prepare(t *testing.T) {
	l, _ := newTestLogger()
	err := errors.New("boom")

	args, _ := l.prepare("msg", []interface{}{err, user.User{ID: "u1"}, 42})
	assert.Equal(t, []interface{}{"msg", err, 42}, args)
}
