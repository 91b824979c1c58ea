package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openpredict/marketd/internal/domain"
)

const (
	// ChannelTrades carries completed trade results on the signal bus.
	ChannelTrades = "trades"
	// ChannelPrices carries post-trade quotes on the signal bus.
	ChannelPrices = "prices"

	sharesEpsilon = 1e-9
)

// Sequencer is the single consumer of the trade queue. Every buy, sell
// and undo funnels through one goroutine, so trades on a market execute
// in strict arrival order and each one sees the state left by its
// predecessor. Results are retained for polling until their TTL expires.
type Sequencer struct {
	requests chan domain.TradeRequest

	book      *Book
	ledger    *Ledger
	positions *Positions
	results   domain.ResultCache

	prices domain.PriceCache // optional
	bus    domain.SignalBus  // optional
	audit  domain.AuditStore // optional

	resultTTL       time.Duration
	cleanupInterval time.Duration

	pendingMu sync.Mutex
	pending   map[string]int // requestID -> queue position at submission

	logger *slog.Logger
}

// SequencerOpts carries the optional collaborators and tunables.
type SequencerOpts struct {
	QueueSize       int
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	Prices          domain.PriceCache
	Bus             domain.SignalBus
	Audit           domain.AuditStore
}

// NewSequencer creates a sequencer over the given state owners.
func NewSequencer(book *Book, ledger *Ledger, positions *Positions, results domain.ResultCache, opts SequencerOpts, logger *slog.Logger) *Sequencer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = time.Hour
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 30 * time.Second
	}
	return &Sequencer{
		requests:        make(chan domain.TradeRequest, opts.QueueSize),
		book:            book,
		ledger:          ledger,
		positions:       positions,
		results:         results,
		prices:          opts.Prices,
		bus:             opts.Bus,
		audit:           opts.Audit,
		resultTTL:       opts.ResultTTL,
		cleanupInterval: opts.CleanupInterval,
		pending:         make(map[string]int),
		logger:          logger.With(slog.String("component", "sequencer")),
	}
}

// Submit validates a request's shape and enqueues it. The returned copy
// carries the assigned request ID and the queue position observed at
// submission. Fails fast with ErrQueueFull instead of blocking callers.
func (s *Sequencer) Submit(_ context.Context, req domain.TradeRequest) (domain.TradeRequest, error) {
	if err := s.validate(req); err != nil {
		return domain.TradeRequest{}, err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.SubmittedAt = time.Now().UTC()

	s.pendingMu.Lock()
	req.QueuePos = len(s.requests) + 1
	select {
	case s.requests <- req:
		s.pending[req.ID] = req.QueuePos
		s.pendingMu.Unlock()
	default:
		s.pendingMu.Unlock()
		return domain.TradeRequest{}, fmt.Errorf("sequencer: %w", domain.ErrQueueFull)
	}

	s.logger.Debug("trade queued",
		slog.String("request_id", req.ID),
		slog.String("kind", string(req.Kind)),
		slog.Int64("market_id", req.MarketID),
		slog.Int("queue_pos", req.QueuePos),
	)
	return req, nil
}

func (s *Sequencer) validate(req domain.TradeRequest) error {
	switch req.Kind {
	case domain.TradeKindBuy:
		if !req.Side.Valid() {
			return fmt.Errorf("sequencer: %w: side must be YES or NO", domain.ErrValidation)
		}
		if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
			return fmt.Errorf("sequencer: %w: amount must be positive", domain.ErrValidation)
		}
	case domain.TradeKindSell:
		if !req.Side.Valid() {
			return fmt.Errorf("sequencer: %w: side must be YES or NO", domain.ErrValidation)
		}
		if req.Shares <= 0 || math.IsNaN(req.Shares) || math.IsInf(req.Shares, 0) {
			return fmt.Errorf("sequencer: %w: shares must be positive", domain.ErrValidation)
		}
	case domain.TradeKindUndo:
		if req.BetID == "" {
			return fmt.Errorf("sequencer: %w: bet id is required", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("sequencer: %w: unknown trade kind %q", domain.ErrValidation, req.Kind)
	}
	if req.Wallet == "" {
		return fmt.Errorf("sequencer: %w: wallet is required", domain.ErrValidation)
	}
	return nil
}

// Pending reports whether a request is queued or in flight. The position
// is the queue depth observed at submission; 0 means processing has
// already started.
func (s *Sequencer) Pending(requestID string) (int, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	pos, ok := s.pending[requestID]
	return pos, ok
}

// Run starts the consumer loop. It processes requests until the context
// is cancelled, then drains whatever is already queued so no accepted
// trade is silently dropped.
func (s *Sequencer) Run(ctx context.Context) error {
	s.logger.Info("sequencer started", slog.Int("queue_cap", cap(s.requests)))
	defer s.logger.Info("sequencer stopped")

	cleanupTicker := time.NewTicker(s.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return ctx.Err()

		case req, ok := <-s.requests:
			if !ok {
				return nil
			}
			s.process(context.WithoutCancel(ctx), req)

		case <-cleanupTicker.C:
			if c, ok := s.results.(interface{ Cleanup() }); ok {
				c.Cleanup()
			}
		}
	}
}

// drain processes queued requests after shutdown begins. Each one was
// already acknowledged to its submitter with a request ID.
func (s *Sequencer) drain() {
	ctx := context.Background()
	for {
		select {
		case req := <-s.requests:
			s.process(ctx, req)
		default:
			return
		}
	}
}

func (s *Sequencer) process(ctx context.Context, req domain.TradeRequest) {
	// Position 0 marks the request as in flight for pollers.
	s.pendingMu.Lock()
	s.pending[req.ID] = 0
	s.pendingMu.Unlock()

	log := s.logger.With(
		slog.String("request_id", req.ID),
		slog.String("kind", string(req.Kind)),
		slog.Int64("market_id", req.MarketID),
		slog.String("wallet", req.Wallet),
	)

	var res domain.TradeResult
	switch req.Kind {
	case domain.TradeKindBuy:
		res = s.processBuy(ctx, req)
	case domain.TradeKindSell:
		res = s.processSell(ctx, req)
	case domain.TradeKindUndo:
		res = s.processUndo(ctx, req)
	}
	res.RequestID = req.ID
	res.Kind = req.Kind
	res.Status = domain.TradeStatusDone
	res.MarketID = req.MarketID
	res.Wallet = req.Wallet
	res.CompletedAt = time.Now().UTC()

	if err := s.results.Put(ctx, res, s.resultTTL); err != nil {
		log.Error("retain result failed", slog.String("error", err.Error()))
	}
	s.pendingMu.Lock()
	delete(s.pending, req.ID)
	s.pendingMu.Unlock()

	if res.Success {
		log.Info("trade applied",
			slog.Float64("shares", res.Shares),
			slog.Float64("amount", res.Amount),
			slog.Float64("new_balance", res.NewBalance),
		)
	} else {
		log.Warn("trade rejected", slog.String("error_kind", res.ErrorKind), slog.String("message", res.Message))
	}

	s.publish(ctx, res)
	s.auditTrade(ctx, req, res)
}

func failure(err error) domain.TradeResult {
	return domain.TradeResult{
		Success:   false,
		ErrorKind: domain.ErrorKind(err),
		Message:   err.Error(),
	}
}

// processBuy debits first, then moves the curve, then records the
// position. A failed debit leaves every piece of state untouched; a
// failed apply refunds the debit before reporting the error.
func (s *Sequencer) processBuy(ctx context.Context, req domain.TradeRequest) domain.TradeResult {
	h, err := s.book.Handle(req.MarketID)
	if err != nil {
		return failure(err)
	}
	h.Lock()
	defer h.Unlock()

	if h.Market().Status != domain.MarketStatusOpen {
		return failure(fmt.Errorf("sequencer: market %d: %w", req.MarketID, domain.ErrMarketClosed))
	}

	st := h.State()
	curve := s.book.Curve()
	tr, err := curve.Buy(st.QYes, st.QNo, req.Side, req.Amount)
	if err != nil {
		return failure(err)
	}

	newBalance, err := s.ledger.Debit(ctx, req.Wallet, req.Amount)
	if err != nil {
		return failure(err)
	}

	newState, err := h.Apply(ctx, tr.DeltaYes, tr.DeltaNo)
	if err != nil {
		if _, rerr := s.ledger.Credit(ctx, req.Wallet, req.Amount); rerr != nil {
			s.logger.Error("refund after failed apply",
				slog.String("request_id", req.ID), slog.String("error", rerr.Error()))
		}
		return failure(err)
	}

	now := time.Now().UTC()
	bet := domain.Bet{
		ID:        uuid.New().String(),
		MarketID:  req.MarketID,
		Wallet:    req.Wallet,
		Side:      req.Side,
		Amount:    req.Amount,
		Shares:    tr.Shares,
		AvgPrice:  tr.AvgPrice,
		Status:    domain.BetStatusOpen,
		Seq:       newState.Seq,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.positions.Add(ctx, bet)

	q := curve.Quote(newState.QYes, newState.QNo)
	return domain.TradeResult{
		Success:    true,
		BetID:      bet.ID,
		Side:       req.Side,
		Shares:     tr.Shares,
		AvgPrice:   tr.AvgPrice,
		Amount:     req.Amount,
		NewBalance: newBalance,
		Quote:      &q,
	}
}

// processSell walks the wallet's open bets on the requested side oldest
// first, reducing each until the requested share count is covered.
func (s *Sequencer) processSell(ctx context.Context, req domain.TradeRequest) domain.TradeResult {
	h, err := s.book.Handle(req.MarketID)
	if err != nil {
		return failure(err)
	}
	h.Lock()
	defer h.Unlock()

	if h.Market().Status != domain.MarketStatusOpen {
		return failure(fmt.Errorf("sequencer: market %d: %w", req.MarketID, domain.ErrMarketClosed))
	}

	open := s.positions.OpenByMarketWallet(req.MarketID, req.Wallet, req.Side)
	var held float64
	for _, b := range open {
		held += b.Shares
	}
	if held+sharesEpsilon < req.Shares {
		return failure(fmt.Errorf("sequencer: %w: hold %.4f %s shares, want to sell %.4f",
			domain.ErrInsufficientShares, held, req.Side, req.Shares))
	}

	st := h.State()
	curve := s.book.Curve()
	tr, err := curve.Sell(st.QYes, st.QNo, req.Side, req.Shares)
	if err != nil {
		return failure(err)
	}

	newState, err := h.Apply(ctx, tr.DeltaYes, tr.DeltaNo)
	if err != nil {
		return failure(err)
	}

	proceeds := tr.AvgPrice * tr.Shares
	newBalance, err := s.ledger.Credit(ctx, req.Wallet, proceeds)
	if err != nil {
		if _, rerr := h.Apply(ctx, -tr.DeltaYes, -tr.DeltaNo); rerr != nil {
			s.logger.Error("revert after failed credit",
				slog.String("request_id", req.ID), slog.String("error", rerr.Error()))
		}
		return failure(err)
	}

	// consume positions FIFO
	remaining := req.Shares
	now := time.Now().UTC()
	for _, b := range open {
		if remaining <= sharesEpsilon {
			break
		}
		take := math.Min(b.Shares, remaining)
		remaining -= take
		b.Shares -= take
		b.Amount -= take * b.AvgPrice
		b.UpdatedAt = now
		if b.Shares <= sharesEpsilon {
			b.Shares = 0
			b.Amount = 0
			b.Status = domain.BetStatusSold
		}
		s.positions.Update(ctx, b)
	}

	q := curve.Quote(newState.QYes, newState.QNo)
	return domain.TradeResult{
		Success:    true,
		Side:       req.Side,
		Shares:     req.Shares,
		AvgPrice:   tr.AvgPrice,
		Amount:     proceeds,
		NewBalance: newBalance,
		Quote:      &q,
	}
}

// processUndo reverses a bet only while it is still the last trade
// applied to its market: the sequence number stamped on the bet must
// match the market's current one, and the position must be untouched.
// The wallet gets its full spend back and the bet is voided.
func (s *Sequencer) processUndo(ctx context.Context, req domain.TradeRequest) domain.TradeResult {
	bet, ok := s.positions.Get(req.BetID)
	if !ok || bet.Wallet != req.Wallet {
		return failure(fmt.Errorf("sequencer: bet %s: %w", req.BetID, domain.ErrNotFound))
	}

	h, err := s.book.Handle(bet.MarketID)
	if err != nil {
		return failure(err)
	}
	h.Lock()
	defer h.Unlock()

	if h.Market().Status != domain.MarketStatusOpen {
		return failure(fmt.Errorf("sequencer: market %d: %w", bet.MarketID, domain.ErrMarketClosed))
	}
	if bet.Status != domain.BetStatusOpen {
		return failure(fmt.Errorf("sequencer: bet %s is %s: %w", bet.ID, bet.Status, domain.ErrUndoConflict))
	}
	if h.Seq() != bet.Seq {
		return failure(fmt.Errorf("sequencer: %w: later trades touched market %d", domain.ErrUndoConflict, bet.MarketID))
	}

	dYes, dNo := -bet.Shares, 0.0
	if bet.Side == domain.SideNo {
		dYes, dNo = 0.0, -bet.Shares
	}
	newState, err := h.Apply(ctx, dYes, dNo)
	if err != nil {
		return failure(err)
	}

	newBalance, err := s.ledger.Credit(ctx, req.Wallet, bet.Amount)
	if err != nil {
		if _, rerr := h.Apply(ctx, -dYes, -dNo); rerr != nil {
			s.logger.Error("revert after failed refund",
				slog.String("request_id", req.ID), slog.String("error", rerr.Error()))
		}
		return failure(err)
	}

	refund := bet.Amount
	bet.Status = domain.BetStatusVoided
	bet.Shares = 0
	bet.Amount = 0
	bet.UpdatedAt = time.Now().UTC()
	s.positions.Update(ctx, bet)

	q := s.book.Curve().Quote(newState.QYes, newState.QNo)
	return domain.TradeResult{
		Success:    true,
		BetID:      bet.ID,
		Side:       bet.Side,
		Amount:     refund,
		NewBalance: newBalance,
		Quote:      &q,
	}
}

func (s *Sequencer) publish(ctx context.Context, res domain.TradeResult) {
	if s.prices != nil && res.Quote != nil {
		if err := s.prices.SetQuote(ctx, res.MarketID, *res.Quote, res.CompletedAt); err != nil {
			s.logger.Warn("price cache update failed", slog.String("error", err.Error()))
		}
	}
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, ChannelTrades, payload); err != nil {
		s.logger.Warn("publish trade failed", slog.String("error", err.Error()))
	}
	if res.Quote != nil {
		quote, _ := json.Marshal(map[string]any{
			"market_id": res.MarketID,
			"yes_price": res.Quote.YesPrice,
			"no_price":  res.Quote.NoPrice,
			"ts":        res.CompletedAt,
		})
		if err := s.bus.Publish(ctx, ChannelPrices, quote); err != nil {
			s.logger.Warn("publish quote failed", slog.String("error", err.Error()))
		}
	}
}

func (s *Sequencer) auditTrade(ctx context.Context, req domain.TradeRequest, res domain.TradeResult) {
	if s.audit == nil {
		return
	}
	detail := map[string]any{
		"request_id": req.ID,
		"kind":       string(req.Kind),
		"market_id":  req.MarketID,
		"wallet":     req.Wallet,
		"success":    res.Success,
	}
	if !res.Success {
		detail["error_kind"] = res.ErrorKind
	}
	if err := s.audit.Log(ctx, "trade", detail); err != nil {
		s.logger.Warn("audit trade failed", slog.String("error", err.Error()))
	}
}
