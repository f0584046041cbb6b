package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/wfunc/photoguess/logger"
)

// RedisNotifier relays changes between processes over a Redis Pub/Sub channel.
// Writes published here come back through the subscription, so local watchers
// see their own process's writes the same way they see everyone else's.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	local   *LocalNotifier
	done    chan struct{}
}

const defaultRedisPrefix = "photoguess:"

// changeChannel names the Pub/Sub channel shared by every process using keyPrefix.
func changeChannel(keyPrefix string) string {
	if keyPrefix == "" {
		keyPrefix = defaultRedisPrefix
	}
	return keyPrefix + "changes"
}

func NewRedisNotifier(ctx context.Context, client *redis.Client, keyPrefix string) (*RedisNotifier, error) {
	if client == nil {
		panic("redis client cannot be nil for RedisNotifier")
	}
	channel := changeChannel(keyPrefix)
	pubsub := client.Subscribe(ctx, channel)
	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	n := &RedisNotifier{
		client:  client,
		channel: channel,
		pubsub:  pubsub,
		local:   NewLocalNotifier(),
		done:    make(chan struct{}),
	}
	go n.loop()
	return n, nil
}

func (n *RedisNotifier) loop() {
	defer close(n.done)
	for msg := range n.pubsub.Channel() {
		var ch Change
		if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
			logger.Log.Warnf("redis: dropping malformed change on %s: %v", n.channel, err)
			continue
		}
		n.local.Dispatch(ch)
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, ch Change) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("redis: marshal change: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish to %s: %w", n.channel, err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(roomID string, fn func(Change)) func() {
	return n.local.Subscribe(roomID, fn)
}

func (n *RedisNotifier) Close() error {
	err := n.pubsub.Close()
	<-n.done
	n.local.Close()
	return err
}
