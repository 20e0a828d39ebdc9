package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swap-service/internal/client"
	"swap-service/internal/util"
)

// ChatBroker is the Redis pub/sub transport behind the chat bridge. Every
// process publishes to and subscribes on the same channel; Redis preserves
// publish order per channel, which is the ordering property the bridge
// relies on. Delivery is at-most-once: messages published while a
// subscriber is down are not replayed.
type ChatBroker struct {
	client  *client.RedisClient
	channel string
}

func NewChatBroker(client *client.RedisClient, channel string) *ChatBroker {
	return &ChatBroker{client: client, channel: channel}
}

func (b *ChatBroker) Publish(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, payload); err != nil {
		util.Error("Failed to publish chat message",
			zap.String("channel", b.channel),
			zap.Error(err))
		return fmt.Errorf("failed to publish chat message: %w", err)
	}
	return nil
}

// Subscribe opens a subscription and returns a payload stream. The stream
// closes when the subscription drops or ctx is cancelled; the caller owns
// resubscribing. The returned stop function releases the subscription.
func (b *ChatBroker) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	sub, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []byte)
	done := make(chan struct{})

	go func() {
		defer close(out)
		src := sub.Channel()
		for {
			select {
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	stop := func() {
		close(done)
		if err := sub.Close(); err != nil {
			util.Warn("Failed to close chat subscription", zap.Error(err))
		}
	}

	util.Info("Subscribed to chat channel", zap.String("channel", b.channel))
	return out, stop, nil
}
