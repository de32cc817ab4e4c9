package brokersvc_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emsu/emsu/core/pubsub"
	brokersvc "github.com/emsu/emsu/services/broker"
	testutil "github.com/emsu/emsu/tests"
)

const prefix = "emsu:group:"

type instance struct {
	reg    *pubsub.Registry
	broker *brokersvc.RedisBroker
}

func newInstance(t *testing.T, addr string, logger *testutil.Logger) instance {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	reg := pubsub.NewRegistry()
	broker := brokersvc.NewRedisBroker(client, prefix, pubsub.NewDispatcher(reg), logger)
	require.NoError(t, broker.Start(context.Background()))
	t.Cleanup(func() { _ = broker.Close() })
	return instance{reg: reg, broker: broker}
}

func TestRedisBroker_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := new(testutil.Logger)
	a := newInstance(t, mr.Addr(), logger)
	b := newInstance(t, mr.Addr(), logger)

	subA := testutil.Subscribe(a.reg, "a", pubsub.UserGroup("u1"))
	subB := testutil.Subscribe(b.reg, "b", pubsub.UserGroup("u1"))
	other := testutil.Subscribe(b.reg, "other", pubsub.UserGroup("u2"))

	evt := pubsub.NewEvent(pubsub.EventTypingIndicator, map[string]interface{}{"is_typing": true})
	a.broker.Publish(context.Background(), pubsub.UserGroup("u1"), evt)

	tests := []struct {
		name string
		sub  *pubsub.Subscriber
	}{
		{name: "same process", sub: subA},
		{name: "other process", sub: subB},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := testutil.NextEvent(t, tc.sub, 2*time.Second)
			assert.Equal(t, pubsub.EventTypingIndicator, got.Type)
			assert.Equal(t, true, got.Data["is_typing"])
		})
	}

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, testutil.Drain(other))
	assert.Zero(t, logger.Count("warn"))
}

func TestRedisBroker_PublishWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := new(testutil.Logger)
	a := newInstance(t, mr.Addr(), logger)
	sub := testutil.Subscribe(a.reg, "a", pubsub.NotificationGroup("u1"))

	mr.Close()
	a.broker.Publish(context.Background(), pubsub.NotificationGroup("u1"), pubsub.ErrorEvent("boom"))

	got := testutil.NextEvent(t, sub, time.Second)
	assert.Equal(t, pubsub.EventError, got.Type)
	assert.Equal(t, 1, logger.Count("warn"))
}

func TestRedisBroker_IsOnline(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newInstance(t, mr.Addr(), new(testutil.Logger))

	assert.False(t, a.broker.IsOnline("u1"))
	testutil.Subscribe(a.reg, "a", pubsub.UserGroup("u1"))
	assert.True(t, a.broker.IsOnline("u1"))
}

func TestRedisBroker_CloseIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newInstance(t, mr.Addr(), new(testutil.Logger))

	assert.NoError(t, a.broker.Close())
	assert.NoError(t, a.broker.Close())
}
