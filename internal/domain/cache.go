package domain

import (
	"context"
	"time"
)

// ResultCache retains trade results for polling. Entries expire after
// their TTL; a purged request is indistinguishable from one never seen.
type ResultCache interface {
	Put(ctx context.Context, res TradeResult, ttl time.Duration) error
	Get(ctx context.Context, requestID string) (TradeResult, error)
}

// PriceCache provides fast access to the latest market quotes.
type PriceCache interface {
	SetQuote(ctx context.Context, marketID int64, q Quote, ts time.Time) error
	GetQuote(ctx context.Context, marketID int64) (Quote, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out for trade and market events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
