package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
)

// Side is a binary market outcome.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is one of the two tradable sides.
func (s Side) Valid() bool { return s == SideYes || s == SideNo }

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Market represents a binary prediction market.
type Market struct {
	ID          int64        `json:"id"`
	Question    string       `json:"question"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	CreatedBy   string       `json:"created_by,omitempty"`
	Status      MarketStatus `json:"status"`
	Resolution  Side         `json:"resolution,omitempty"` // empty until resolved
	EndAt       *time.Time   `json:"end_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// MarketState holds the liquidity-curve share quantities for one market.
// Seq increments on every applied trade; undo uses it to detect whether
// a later trade has touched the market.
type MarketState struct {
	MarketID  int64     `json:"market_id"`
	QYes      float64   `json:"q_yes"`
	QNo       float64   `json:"q_no"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Quote is a consistent pair of outcome prices. Prices are clamped to
// [0.01, 0.99] and normalized so they sum to 1.
type Quote struct {
	YesPrice float64 `json:"yes_price"`
	NoPrice  float64 `json:"no_price"`
}

// MarketView is the API projection of a market with its live quote and
// open-position totals. Resolved markets carry terminal 1/0 prices.
type MarketView struct {
	Market
	Prices Quote        `json:"prices"`
	Totals MarketTotals `json:"totals"`
}

// MarketTotals aggregates open positions on a market for display.
type MarketTotals struct {
	TotalYes  float64 `json:"total_yes"`
	TotalNo   float64 `json:"total_no"`
	BetCount  int     `json:"bet_count"`
	TotalPool float64 `json:"total_pool"`
}
