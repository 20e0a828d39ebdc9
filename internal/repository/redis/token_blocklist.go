package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swap-service/internal/client"
	"swap-service/internal/util"
)

const blocklistPrefix = "token_blocklist:"

// TokenBlocklist records revoked token ids (jti) in Redis. Entries carry a
// TTL equal to the token's remaining lifetime, so the blocklist cleans
// itself up and never grows past the set of still-valid revoked tokens.
// Redis is shared by every service instance, which makes a revocation
// visible cluster-wide as soon as the write returns.
type TokenBlocklist struct {
	client *client.RedisClient
}

func NewTokenBlocklist(client *client.RedisClient) *TokenBlocklist {
	return &TokenBlocklist{client: client}
}

func (b *TokenBlocklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Token already expired; nothing to block.
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := blocklistPrefix + jti
	if err := b.client.Set(ctx, key, "", ttl); err != nil {
		util.Error("Failed to revoke token",
			zap.String("jti", jti),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	util.Debug("Token revoked",
		zap.String("jti", jti),
		zap.Duration("ttl", ttl))
	return nil
}

func (b *TokenBlocklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := b.client.Exists(ctx, blocklistPrefix+jti)
	if err != nil {
		util.Error("Failed to check token blocklist",
			zap.String("jti", jti),
			zap.Error(err))
		return false, fmt.Errorf("failed to check token blocklist: %w", err)
	}
	return exists, nil
}
