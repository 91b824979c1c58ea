package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openpredict/marketd/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each
// market's quote is stored at key "quote:{marketID}" with fields "yes",
// "no" and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

var _ domain.PriceCache = (*PriceCache)(nil)

func quoteKey(marketID int64) string {
	return "quote:" + strconv.FormatInt(marketID, 10)
}

// SetQuote stores the latest quote and timestamp for a market.
func (pc *PriceCache) SetQuote(ctx context.Context, marketID int64, q domain.Quote, ts time.Time) error {
	fields := map[string]interface{}{
		"yes": strconv.FormatFloat(q.YesPrice, 'f', -1, 64),
		"no":  strconv.FormatFloat(q.NoPrice, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, quoteKey(marketID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %d: %w", marketID, err)
	}
	return nil
}

// GetQuote retrieves the latest quote and timestamp for a market. It
// returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetQuote(ctx context.Context, marketID int64) (domain.Quote, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, quoteKey(marketID)).Result()
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: get quote %d: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}

	yes, err := strconv.ParseFloat(vals["yes"], 64)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse quote %d yes: %w", marketID, err)
	}
	no, err := strconv.ParseFloat(vals["no"], 64)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse quote %d no: %w", marketID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse quote %d ts: %w", marketID, err)
	}

	return domain.Quote{YesPrice: yes, NoPrice: no}, time.Unix(0, tsNano), nil
}
