package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSummaryCache keeps the dashboard summary warm between runs.
type RedisSummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSummaryCache constructs the cache.
func NewRedisSummaryCache(client *redis.Client, ttl time.Duration) *RedisSummaryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisSummaryCache{client: client, ttl: ttl}
}

func summaryKey(orgID int64) string {
	return fmt.Sprintf("recon:summary:%d", orgID)
}

// Get returns the cached summary if present.
func (c *RedisSummaryCache) Get(ctx context.Context, orgID int64) (Summary, bool, error) {
	payload, err := c.client.Get(ctx, summaryKey(orgID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Summary{}, false, nil
		}
		return Summary{}, false, err
	}
	var s Summary
	if err := json.Unmarshal(payload, &s); err != nil {
		return Summary{}, false, err
	}
	return s, true, nil
}

// Set stores the summary under TTL.
func (c *RedisSummaryCache) Set(ctx context.Context, orgID int64, summary Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKey(orgID), payload, c.ttl).Err()
}

// Invalidate drops the cached summary after a run or resolution.
func (c *RedisSummaryCache) Invalidate(ctx context.Context, orgID int64) error {
	return c.client.Del(ctx, summaryKey(orgID)).Err()
}
