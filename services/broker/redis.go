package brokersvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/pubsub"
)

// RedisBroker fans group events out across processes.
// Publish goes through a Redis channel named prefix+group, and every process
// re-dispatches what it receives to its own local connections.
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
	local  *pubsub.Dispatcher
	logger core.Logger

	mu   sync.Mutex
	sub  *redis.PubSub
	done chan struct{}
}

var (
	_ pubsub.Publisher = (*RedisBroker)(nil)
	_ pubsub.Presence  = (*RedisBroker)(nil)
)

// NewRedisClient connects to the Redis server at conf.Redis.URL.
func NewRedisClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(conf.Redis.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

func NewRedisBroker(client redis.UniversalClient, prefix string, local *pubsub.Dispatcher, logger core.Logger) *RedisBroker {
	return &RedisBroker{
		client: client,
		prefix: prefix,
		local:  local,
		logger: logger,
	}
}

// Start subscribes to every group channel and relays incoming events until Close.
func (b *RedisBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return nil
	}
	sub := b.client.PSubscribe(ctx, b.prefix+"*")
	// wait for the subscription confirmation so no event published after Start is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return errors.Wrap(err, "subscribing to group channels")
	}
	b.sub = sub
	b.done = make(chan struct{})
	go b.relay(sub.Channel(), b.done)
	return nil
}

func (b *RedisBroker) relay(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		group := strings.TrimPrefix(msg.Channel, b.prefix)
		var evt pubsub.Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			b.logger.Warn(fmt.Sprintf("broker.relay(%s): %v", msg.Channel, err), err)
			continue
		}
		b.local.Dispatch(group, evt)
	}
}

// Publish sends evt to group on every process. When Redis is unreachable the
// event still reaches the local connections.
func (b *RedisBroker) Publish(ctx context.Context, group string, evt pubsub.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error(fmt.Sprintf("broker.Publish(%s): %v", group, err), errors.Wrap(err, "encoding event"))
		return
	}
	if err = b.client.Publish(ctx, b.prefix+group, payload).Err(); err != nil {
		b.logger.Warn(fmt.Sprintf("broker.Publish(%s): %v", group, err), err)
		b.local.Dispatch(group, evt)
	}
}

// IsOnline only knows about this process' connections.
func (b *RedisBroker) IsOnline(userID string) bool {
	return b.local.IsOnline(userID)
}

// Close stops relaying and waits for the relay goroutine to exit.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	sub, done := b.sub, b.done
	b.sub, b.done = nil, nil
	b.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return errors.Wrap(err, "closing redis subscription")
}
