package domain

import "time"

// BetStatus represents the lifecycle state of a position.
type BetStatus string

const (
	BetStatusOpen     BetStatus = "open"
	BetStatusSold     BetStatus = "sold"
	BetStatusResolved BetStatus = "resolved"
	BetStatusVoided   BetStatus = "voided"
)

// BetResult is set when the market resolves.
type BetResult string

const (
	BetResultWon  BetResult = "won"
	BetResultLost BetResult = "lost"
)

// Bet is a position a wallet holds on one side of a market. Shares and
// Amount shrink together as the position is partially sold; Amount always
// tracks the remaining cost basis.
type Bet struct {
	ID        string    `json:"id"`
	MarketID  int64     `json:"market_id"`
	Wallet    string    `json:"wallet"`
	Side      Side      `json:"side"`
	Amount    float64   `json:"amount"`
	Shares    float64   `json:"shares"`
	AvgPrice  float64   `json:"avg_price"`
	Status    BetStatus `json:"status"`
	Result    BetResult `json:"result,omitempty"`
	Payout    float64   `json:"payout,omitempty"`
	Profit    float64   `json:"profit,omitempty"`
	Seq       uint64    `json:"seq"` // market trade sequence after this bet was applied
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open reports whether the position still holds shares.
func (b Bet) Open() bool { return b.Status == BetStatusOpen }

// BetView is a user-facing position with its live valuation.
type BetView struct {
	Bet
	CurrentPrice    float64 `json:"current_price"`
	CurrentValue    float64 `json:"current_value"`
	UnrealizedPL    float64 `json:"unrealized_pl"`
	PotentialPayout float64 `json:"potential_payout"`
}
