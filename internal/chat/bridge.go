package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"swap-service/internal/model"
)

// Broker is the cross-process pub/sub transport. Implementations must
// preserve publish order per channel; delivery is at-most-once.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) (<-chan []byte, func(), error)
}

// Frame is the server-to-client message payload, also used verbatim as
// the broker wire format.
type Frame struct {
	ID          string  `json:"id"`
	SenderID    string  `json:"sender_id"`
	RecipientID string  `json:"recipient_id"`
	ItemID      *string `json:"item_id"`
	Content     string  `json:"content"`
	CreatedAt   string  `json:"created_at"`
}

func frameFromMessage(msg *model.Message) Frame {
	return Frame{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		ItemID:      msg.ItemID,
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

const (
	resubscribeBackoff = time.Second

	// deliveryWorkers fixes the fan-out pool. A user always hashes to the
	// same worker, so deliveries to one user stay in publish order while
	// users on different workers proceed independently.
	deliveryWorkers    = 32
	deliveryQueueDepth = 64
)

type delivery struct {
	userID  string
	payload []byte
}

// Bridge fans persisted messages out across process boundaries. Every
// process runs one Bridge subscribed to the shared channel; a published
// message reaches every subscriber, and each subscriber delivers it to
// the local connections of both the recipient and the sender (the sender
// copy updates their other tabs and devices).
type Bridge struct {
	broker   Broker
	registry *Registry
	logger   *zap.Logger
}

func NewBridge(broker Broker, registry *Registry, logger *zap.Logger) *Bridge {
	return &Bridge{
		broker:   broker,
		registry: registry,
		logger:   logger,
	}
}

// Publish serializes the persisted message onto the shared channel. The
// publisher's own process receives it back through its subscription like
// any other.
func (b *Bridge) Publish(ctx context.Context, msg *model.Message) error {
	payload, err := json.Marshal(frameFromMessage(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal chat frame: %w", err)
	}
	return b.broker.Publish(ctx, payload)
}

// Run consumes the shared channel until ctx is cancelled. A dropped
// subscription is resumed after a short backoff; messages published while
// the subscription was down are lost, which is the accepted at-most-once
// tradeoff.
func (b *Bridge) Run(ctx context.Context) {
	queues := make([]chan delivery, deliveryWorkers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan delivery, deliveryQueueDepth)
		wg.Add(1)
		go func(q <-chan delivery) {
			defer wg.Done()
			for d := range q {
				b.registry.Deliver(d.userID, d.payload)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		stream, stop, err := b.broker.Subscribe(ctx)
		if err != nil {
			b.logger.Error("chat broker subscribe failed, retrying",
				zap.Error(err))
			select {
			case <-time.After(resubscribeBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		b.consume(ctx, stream, queues)
		stop()

		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("chat broker stream ended, resubscribing")
	}
}

func (b *Bridge) consume(ctx context.Context, stream <-chan []byte, queues []chan delivery) {
	for {
		select {
		case payload, ok := <-stream:
			if !ok {
				return
			}
			b.dispatch(ctx, payload, queues)
		case <-ctx.Done():
			return
		}
	}
}

// dispatch routes the frame to the workers for recipient and sender. The
// worker hash keeps deliveries to any one user in publish order; a slow
// connection set only stalls its own worker, never the listen loop.
func (b *Bridge) dispatch(ctx context.Context, payload []byte, queues []chan delivery) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		b.logger.Error("dropping undecodable chat frame", zap.Error(err))
		return
	}

	b.enqueue(ctx, queues, frame.RecipientID, payload)
	if frame.SenderID != frame.RecipientID {
		b.enqueue(ctx, queues, frame.SenderID, payload)
	}
}

func (b *Bridge) enqueue(ctx context.Context, queues []chan delivery, userID string, payload []byte) {
	q := queues[murmur3.Sum32([]byte(userID))%deliveryWorkers]
	select {
	case q <- delivery{userID: userID, payload: payload}:
	case <-ctx.Done():
	}
}
