package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/engine"
)

// resolveLockTTL bounds how long a crashed operator holds the
// distributed resolution lock.
const resolveLockTTL = 30 * time.Second

// Archiver uploads a resolved market's final record to blob storage. It
// is declared locally so the service does not depend on the concrete S3
// implementation.
type Archiver interface {
	ArchiveMarket(ctx context.Context, m domain.Market, st domain.MarketState, bets []domain.Bet) (string, error)
}

// Notifier delivers operator alerts, filtered by event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketService handles market creation, listing and resolution. The
// lock manager, archiver and notifier are optional; pass nil to disable.
type MarketService struct {
	book      *engine.Book
	positions *engine.Positions
	resolver  *engine.Resolver
	locks     domain.LockManager
	archiver  Archiver
	notifier  Notifier
	logger    *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(
	book *engine.Book,
	positions *engine.Positions,
	resolver *engine.Resolver,
	locks domain.LockManager,
	archiver Archiver,
	notifier Notifier,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		book:      book,
		positions: positions,
		resolver:  resolver,
		locks:     locks,
		archiver:  archiver,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "market_service")),
	}
}

// Create opens a new market seeded at the liquidity floor.
func (s *MarketService) Create(ctx context.Context, m domain.Market) (domain.MarketView, error) {
	m.Question = strings.TrimSpace(m.Question)
	if m.Question == "" {
		return domain.MarketView{}, fmt.Errorf("market_service: %w: question is required", domain.ErrValidation)
	}
	if m.EndAt != nil && m.EndAt.Before(time.Now()) {
		return domain.MarketView{}, fmt.Errorf("market_service: %w: end_at is in the past", domain.ErrValidation)
	}
	if m.CreatedBy != "" {
		wallet, err := domain.NormalizeWallet(m.CreatedBy)
		if err != nil {
			return domain.MarketView{}, fmt.Errorf("market_service: create: %w", err)
		}
		m.CreatedBy = wallet
	}

	created, err := s.book.Create(ctx, m)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("market_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "market created",
		slog.Int64("market_id", created.ID),
		slog.String("question", created.Question),
	)

	return s.view(created), nil
}

// Get returns one market with its live prices and totals.
func (s *MarketService) Get(ctx context.Context, marketID int64) (domain.MarketView, error) {
	m, err := s.book.Get(marketID)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("market_service: get %d: %w", marketID, err)
	}
	return s.view(m), nil
}

// List returns markets in the given status, newest first, with live
// prices and open-position totals. An empty status lists open markets.
func (s *MarketService) List(ctx context.Context, status domain.MarketStatus) ([]domain.MarketView, error) {
	if status == "" {
		status = domain.MarketStatusOpen
	}
	if status != domain.MarketStatusOpen && status != domain.MarketStatusResolved {
		return nil, fmt.Errorf("market_service: %w: unknown status %q", domain.ErrValidation, status)
	}

	markets := s.book.List(status)
	views := make([]domain.MarketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, s.view(m))
	}
	return views, nil
}

// Price returns the current quote for a market.
func (s *MarketService) Price(ctx context.Context, marketID int64) (domain.Quote, error) {
	m, err := s.book.Get(marketID)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("market_service: price %d: %w", marketID, err)
	}
	return s.quote(m), nil
}

// Resolve settles a market to the given outcome and pays out winners.
// When a lock manager is configured the run is guarded by a distributed
// lock so concurrent operator tooling cannot double-settle.
func (s *MarketService) Resolve(ctx context.Context, marketID int64, outcome domain.Side) (domain.ResolutionSummary, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("resolve:%d", marketID), resolveLockTTL)
		if err != nil {
			return domain.ResolutionSummary{}, fmt.Errorf("market_service: resolve %d: %w", marketID, err)
		}
		defer unlock()
	}

	summary, err := s.resolver.Resolve(ctx, marketID, outcome)
	if err != nil {
		return domain.ResolutionSummary{}, fmt.Errorf("market_service: resolve %d: %w", marketID, err)
	}

	s.archive(ctx, marketID)
	s.announce(ctx, summary)

	return summary, nil
}

// archive uploads the settled market's final record. Failures are logged
// and do not affect the resolution outcome.
func (s *MarketService) archive(ctx context.Context, marketID int64) {
	if s.archiver == nil {
		return
	}

	m, err := s.book.Get(marketID)
	if err != nil {
		s.logger.WarnContext(ctx, "archive skipped: market lookup failed",
			slog.Int64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}
	st, err := s.book.State(marketID)
	if err != nil {
		s.logger.WarnContext(ctx, "archive skipped: state lookup failed",
			slog.Int64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}

	path, err := s.archiver.ArchiveMarket(ctx, m, st, s.positions.ByMarket(marketID))
	if err != nil {
		s.logger.WarnContext(ctx, "market archive failed",
			slog.Int64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.InfoContext(ctx, "market archived",
		slog.Int64("market_id", marketID),
		slog.String("path", path),
	)
}

// announce pushes resolution and payout-failure alerts to the notifier.
func (s *MarketService) announce(ctx context.Context, summary domain.ResolutionSummary) {
	if s.notifier == nil {
		return
	}

	title := fmt.Sprintf("Market %d resolved %s", summary.MarketID, summary.Outcome)
	msg := fmt.Sprintf("winners=%d payout=%.2f fees=%.2f",
		summary.WinnersCount, summary.TotalPayout, summary.TotalFees)
	if err := s.notifier.Notify(ctx, "market_resolved", title, msg); err != nil {
		s.logger.WarnContext(ctx, "resolution notify failed",
			slog.String("error", err.Error()),
		)
	}

	for _, f := range summary.FailedPayouts {
		title := fmt.Sprintf("Payout failed on market %d", summary.MarketID)
		msg := fmt.Sprintf("bet=%s wallet=%s amount=%.2f reason=%s",
			f.BetID, f.Wallet, f.Amount, f.Reason)
		if err := s.notifier.Notify(ctx, "payout_failed", title, msg); err != nil {
			s.logger.WarnContext(ctx, "payout failure notify failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// quote returns the live quote for open markets and terminal 1/0 prices
// for resolved ones.
func (s *MarketService) quote(m domain.Market) domain.Quote {
	if m.Status == domain.MarketStatusResolved {
		if m.Resolution == domain.SideYes {
			return domain.Quote{YesPrice: 1, NoPrice: 0}
		}
		return domain.Quote{YesPrice: 0, NoPrice: 1}
	}
	q, err := s.book.Quote(m.ID)
	if err != nil {
		return domain.Quote{}
	}
	return q
}

func (s *MarketService) view(m domain.Market) domain.MarketView {
	return domain.MarketView{
		Market: m,
		Prices: s.quote(m),
		Totals: s.positions.Totals(m.ID),
	}
}
