package domain

import "time"

// TradeKind discriminates the operations the sequencer processes.
type TradeKind string

const (
	TradeKindBuy  TradeKind = "buy"
	TradeKindSell TradeKind = "sell"
	TradeKindUndo TradeKind = "undo"
)

// TradeStatus is the polling state of a submitted request.
type TradeStatus string

const (
	TradeStatusQueued     TradeStatus = "queued"
	TradeStatusProcessing TradeStatus = "processing"
	TradeStatusDone       TradeStatus = "done"
)

// TradeRequest is a trade accepted for ordered processing. Exactly one
// of Amount (buy), Shares (sell) or BetID (undo) carries the payload.
type TradeRequest struct {
	ID          string
	Kind        TradeKind
	Wallet      string
	MarketID    int64
	Side        Side
	Amount      float64
	Shares      float64
	BetID       string
	QueuePos    int
	SubmittedAt time.Time
}

// TradeResult is the terminal outcome of a request, retained for polling
// until its TTL expires.
type TradeResult struct {
	RequestID   string      `json:"request_id"`
	Kind        TradeKind   `json:"kind"`
	Status      TradeStatus `json:"status"`
	QueuePos    int         `json:"queue_position,omitempty"`
	Success     bool        `json:"success"`
	ErrorKind   string      `json:"error_kind,omitempty"`
	Message     string      `json:"message,omitempty"`
	MarketID    int64       `json:"market_id"`
	Wallet      string      `json:"wallet"`
	BetID       string      `json:"bet_id,omitempty"`
	Side        Side        `json:"side,omitempty"`
	Shares      float64     `json:"shares,omitempty"`
	AvgPrice    float64     `json:"avg_price,omitempty"`
	Amount      float64     `json:"amount,omitempty"`
	NewBalance  float64     `json:"new_balance,omitempty"`
	Quote       *Quote      `json:"quote,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
}

// TradePreview is a read-only trade quote. It never mutates state and
// carries no freshness guarantee once returned.
type TradePreview struct {
	MarketID        int64   `json:"market_id"`
	Side            Side    `json:"side"`
	Amount          float64 `json:"amount"`
	Shares          float64 `json:"shares"`
	AvgPrice        float64 `json:"avg_price"`
	NewYesPrice     float64 `json:"new_yes_price"`
	NewNoPrice      float64 `json:"new_no_price"`
	PriceImpact     float64 `json:"price_impact"`
	PotentialPayout float64 `json:"potential_payout"`
}

// PayoutFailure records a single wallet credit that failed during
// resolution. The rest of the payout run continues past it.
type PayoutFailure struct {
	BetID  string  `json:"bet_id"`
	Wallet string  `json:"wallet"`
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// ResolutionSummary reports the outcome of resolving a market.
type ResolutionSummary struct {
	MarketID      int64           `json:"market_id"`
	Outcome       Side            `json:"outcome"`
	WinnersCount  int             `json:"winners_count"`
	WinningBets   int             `json:"winning_bets"`
	TotalPayout   float64         `json:"total_payout"`
	TotalFees     float64         `json:"total_fees"`
	FailedPayouts []PayoutFailure `json:"failed_payouts,omitempty"`
	ResolvedAt    time.Time       `json:"resolved_at"`
}
