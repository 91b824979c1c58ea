package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openpredict/marketd/internal/domain"
)

// ResultCache implements domain.ResultCache using plain Redis keys with a
// native TTL, so expiry needs no janitor. Results survive process
// restarts, which keeps polling working across deploys.
type ResultCache struct {
	rdb *redis.Client
}

// NewResultCache creates a ResultCache backed by the given Client.
func NewResultCache(c *Client) *ResultCache {
	return &ResultCache{rdb: c.Underlying()}
}

var _ domain.ResultCache = (*ResultCache)(nil)

func resultKey(requestID string) string {
	return "trade_result:" + requestID
}

// Put retains a trade result until its TTL expires.
func (rc *ResultCache) Put(ctx context.Context, res domain.TradeResult, ttl time.Duration) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redis: marshal result %s: %w", res.RequestID, err)
	}
	if err := rc.rdb.Set(ctx, resultKey(res.RequestID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put result %s: %w", res.RequestID, err)
	}
	return nil
}

// Get returns a retained result, or ErrStaleRequest when it is unknown or
// already expired.
func (rc *ResultCache) Get(ctx context.Context, requestID string) (domain.TradeResult, error) {
	payload, err := rc.rdb.Get(ctx, resultKey(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TradeResult{}, fmt.Errorf("redis: result %s: %w", requestID, domain.ErrStaleRequest)
		}
		return domain.TradeResult{}, fmt.Errorf("redis: get result %s: %w", requestID, err)
	}

	var res domain.TradeResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return domain.TradeResult{}, fmt.Errorf("redis: unmarshal result %s: %w", requestID, err)
	}
	return res, nil
}
