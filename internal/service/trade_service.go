package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/engine"
)

// TradeService fronts the sequencer: it normalizes and bounds incoming
// requests, exposes result polling, and serves read-only previews and
// position listings.
type TradeService struct {
	sequencer *engine.Sequencer
	book      *engine.Book
	positions *engine.Positions
	results   domain.ResultCache
	maxBet    float64
	logger    *slog.Logger
}

// NewTradeService creates a TradeService. maxBet caps buy amounts; zero
// disables the cap.
func NewTradeService(
	sequencer *engine.Sequencer,
	book *engine.Book,
	positions *engine.Positions,
	results domain.ResultCache,
	maxBet float64,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		sequencer: sequencer,
		book:      book,
		positions: positions,
		results:   results,
		maxBet:    maxBet,
		logger:    logger.With(slog.String("component", "trade_service")),
	}
}

// Submit queues a trade for ordered processing and returns the accepted
// request with its ID and queue position. Callers poll Poll for the
// outcome.
func (s *TradeService) Submit(ctx context.Context, req domain.TradeRequest) (domain.TradeRequest, error) {
	wallet, err := domain.NormalizeWallet(req.Wallet)
	if err != nil {
		return domain.TradeRequest{}, fmt.Errorf("trade_service: submit: %w", err)
	}
	req.Wallet = wallet

	if req.Kind == domain.TradeKindBuy && s.maxBet > 0 && req.Amount > s.maxBet {
		return domain.TradeRequest{}, fmt.Errorf("trade_service: %w: amount exceeds maximum bet of %.0f",
			domain.ErrValidation, s.maxBet)
	}

	accepted, err := s.sequencer.Submit(ctx, req)
	if err != nil {
		return domain.TradeRequest{}, fmt.Errorf("trade_service: submit: %w", err)
	}
	return accepted, nil
}

// Poll returns the current state of a submitted request: a queued or
// processing placeholder while the sequencer holds it, the terminal
// result once processed, and ErrStaleRequest after the result's TTL has
// passed (or for a request that was never seen).
func (s *TradeService) Poll(ctx context.Context, requestID string) (domain.TradeResult, error) {
	if requestID == "" {
		return domain.TradeResult{}, fmt.Errorf("trade_service: %w: request id is required", domain.ErrValidation)
	}

	if pos, ok := s.sequencer.Pending(requestID); ok {
		if pos == 0 {
			return domain.TradeResult{RequestID: requestID, Status: domain.TradeStatusProcessing}, nil
		}
		return domain.TradeResult{RequestID: requestID, Status: domain.TradeStatusQueued, QueuePos: pos}, nil
	}

	res, err := s.results.Get(ctx, requestID)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("trade_service: poll %s: %w", requestID, err)
	}
	return res, nil
}

// Preview quotes a buy without mutating state. The numbers hold only
// until the next trade lands on the market.
func (s *TradeService) Preview(ctx context.Context, marketID int64, side domain.Side, amount float64) (domain.TradePreview, error) {
	m, err := s.book.Get(marketID)
	if err != nil {
		return domain.TradePreview{}, fmt.Errorf("trade_service: preview %d: %w", marketID, err)
	}
	if m.Status != domain.MarketStatusOpen {
		return domain.TradePreview{}, fmt.Errorf("trade_service: preview %d: %w", marketID, domain.ErrMarketClosed)
	}
	if s.maxBet > 0 && amount > s.maxBet {
		return domain.TradePreview{}, fmt.Errorf("trade_service: %w: amount exceeds maximum bet of %.0f",
			domain.ErrValidation, s.maxBet)
	}

	st, err := s.book.State(marketID)
	if err != nil {
		return domain.TradePreview{}, fmt.Errorf("trade_service: preview %d: %w", marketID, err)
	}

	preview, err := s.book.Curve().Preview(st.QYes, st.QNo, side, amount)
	if err != nil {
		return domain.TradePreview{}, fmt.Errorf("trade_service: preview %d: %w", marketID, err)
	}
	preview.MarketID = marketID
	return preview, nil
}

// UserBets returns a wallet's positions, newest first, with open bets
// valued at the current market price.
func (s *TradeService) UserBets(ctx context.Context, wallet string) ([]domain.BetView, error) {
	wallet, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return nil, fmt.Errorf("trade_service: user bets: %w", err)
	}

	bets := s.positions.ByWallet(wallet)
	views := make([]domain.BetView, 0, len(bets))
	for _, b := range bets {
		views = append(views, s.betView(b))
	}
	return views, nil
}

func (s *TradeService) betView(b domain.Bet) domain.BetView {
	v := domain.BetView{Bet: b}
	if !b.Open() {
		return v
	}

	q, err := s.book.Quote(b.MarketID)
	if err != nil {
		return v
	}
	price := q.YesPrice
	if b.Side == domain.SideNo {
		price = q.NoPrice
	}
	v.CurrentPrice = price
	v.CurrentValue = b.Shares * price
	v.UnrealizedPL = v.CurrentValue - b.Amount
	v.PotentialPayout = b.Shares
	return v
}
