package domain

import (
	"context"
	"time"
)

// ListOpts controls pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists market metadata.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	Update(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id int64) (Market, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	MaxID(ctx context.Context) (int64, error)
	SetResolved(ctx context.Context, id int64, outcome Side, at time.Time) error
}

// MarketStateStore persists liquidity-curve state.
type MarketStateStore interface {
	Upsert(ctx context.Context, st MarketState) error
	Get(ctx context.Context, marketID int64) (MarketState, error)
	List(ctx context.Context) ([]MarketState, error)
}

// BetStore persists positions.
type BetStore interface {
	Create(ctx context.Context, b Bet) error
	Update(ctx context.Context, b Bet) error
	GetByID(ctx context.Context, id string) (Bet, error)
	ListOpen(ctx context.Context) ([]Bet, error)
	ListByMarket(ctx context.Context, marketID int64, opts ListOpts) ([]Bet, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Bet, error)
	TotalsByMarket(ctx context.Context, marketID int64) (MarketTotals, error)
}

// UserStore persists wallet accounts.
type UserStore interface {
	Upsert(ctx context.Context, u User) error
	Get(ctx context.Context, wallet string) (User, error)
	List(ctx context.Context) ([]User, error)
}

// AuditStore records engine decisions for later inspection.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}

// AuditEntry is one recorded engine decision.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}
