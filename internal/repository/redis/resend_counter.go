package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swap-service/internal/client"
	"swap-service/internal/util"
)

const resendCountPrefix = "verif_resend:"

// ResendCounter tracks verification-mail resends per user. The counter's
// TTL is armed on the first increment only, so the window runs from the
// first resend and resets as a whole when it elapses. The increment is a
// single atomic Redis script; concurrent resends from different instances
// cannot lose updates.
type ResendCounter struct {
	client *client.RedisClient
}

func NewResendCounter(client *client.RedisClient) *ResendCounter {
	return &ResendCounter{client: client}
}

func (c *ResendCounter) Increment(ctx context.Context, userID string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := resendCountPrefix + userID
	count, err := c.client.IncrWithWindow(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment resend counter",
			zap.String("user_id", userID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment resend counter: %w", err)
	}

	util.Debug("Resend counter incremented",
		zap.String("user_id", userID),
		zap.Int("count", int(count)))
	return int(count), nil
}
