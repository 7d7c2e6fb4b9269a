// Package cache keeps membership projections in Redis so separation forms
// don't hit Postgres on every load. The cache is best-effort: any Redis
// failure degrades to a registry read, never to an error.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"hokhau/internal/registry/models"
)

const keyPrefix = "registry:membership-info:"

// MembershipCache is a Redis-backed read-through cache keyed by resident
// code.
type MembershipCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *MembershipCache {
	return &MembershipCache{client: client, ttl: ttl, logger: logger}
}

func (c *MembershipCache) Get(ctx context.Context, residentCode string) (*models.MembershipInfo, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+residentCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "membership cache read failed", "error", err)
		return nil, false
	}

	var info models.MembershipInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		// A corrupt entry is dropped so the next read repopulates it.
		_ = c.client.Del(ctx, keyPrefix+residentCode).Err()
		return nil, false
	}
	return &info, true
}

func (c *MembershipCache) Set(ctx context.Context, info *models.MembershipInfo) {
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+info.ResidentCode, raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "membership cache write failed", "error", err)
	}
}

func (c *MembershipCache) Invalidate(ctx context.Context, residentCodes ...string) {
	if len(residentCodes) == 0 {
		return
	}
	keys := make([]string, len(residentCodes))
	for i, code := range residentCodes {
		keys[i] = keyPrefix + code
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WarnContext(ctx, "membership cache invalidation failed", "error", err)
	}
}
