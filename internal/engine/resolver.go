package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openpredict/marketd/internal/domain"
)

// ChannelResolutions carries resolution summaries on the signal bus.
const ChannelResolutions = "resolutions"

// Resolver settles markets. It holds the same per-market lock the
// sequencer trades under, so a resolution never interleaves with an
// in-flight trade on that market.
type Resolver struct {
	book      *Book
	ledger    *Ledger
	positions *Positions
	feeRate   float64

	bus   domain.SignalBus  // optional
	audit domain.AuditStore // optional

	logger *slog.Logger
}

// NewResolver creates a resolver charging feeRate on winning profit.
func NewResolver(book *Book, ledger *Ledger, positions *Positions, feeRate float64, bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		book:      book,
		ledger:    ledger,
		positions: positions,
		feeRate:   feeRate,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "resolver")),
	}
}

// Resolve settles a market to the given outcome. Winning bets pay out
// one unit per share, less a fee charged on profit only; losing bets are
// closed at zero. A failed wallet credit is recorded and skipped so one
// bad account cannot block everyone else's payout. Resolution itself is
// not reversible.
func (r *Resolver) Resolve(ctx context.Context, marketID int64, outcome domain.Side) (domain.ResolutionSummary, error) {
	if !outcome.Valid() {
		return domain.ResolutionSummary{}, fmt.Errorf("resolver: %w: outcome must be YES or NO", domain.ErrValidation)
	}

	h, err := r.book.Handle(marketID)
	if err != nil {
		return domain.ResolutionSummary{}, err
	}
	h.Lock()
	defer h.Unlock()

	if err := h.MarkResolved(ctx, outcome); err != nil {
		return domain.ResolutionSummary{}, err
	}

	summary := domain.ResolutionSummary{
		MarketID:   marketID,
		Outcome:    outcome,
		ResolvedAt: time.Now().UTC(),
	}
	winners := make(map[string]struct{})

	for _, bet := range r.positions.OpenByMarket(marketID) {
		bet.Status = domain.BetStatusResolved
		bet.UpdatedAt = summary.ResolvedAt

		if bet.Side != outcome {
			bet.Result = domain.BetResultLost
			bet.Payout = 0
			bet.Profit = -bet.Amount
			r.positions.Update(ctx, bet)
			continue
		}

		gross := bet.Shares // one unit per winning share
		profit := gross - bet.Amount
		var fee float64
		if profit > 0 {
			fee = profit * r.feeRate
		}
		net := gross - fee

		if _, err := r.ledger.Credit(ctx, bet.Wallet, net); err != nil {
			r.logger.Error("payout failed",
				slog.String("bet_id", bet.ID),
				slog.String("wallet", bet.Wallet),
				slog.Float64("amount", net),
				slog.String("error", err.Error()),
			)
			summary.FailedPayouts = append(summary.FailedPayouts, domain.PayoutFailure{
				BetID:  bet.ID,
				Wallet: bet.Wallet,
				Amount: net,
				Reason: err.Error(),
			})
			// settle the bet without a result so the miss stays visible
			r.positions.Update(ctx, bet)
			continue
		}

		bet.Result = domain.BetResultWon
		bet.Payout = gross
		bet.Profit = profit
		r.positions.Update(ctx, bet)

		winners[bet.Wallet] = struct{}{}
		summary.WinningBets++
		summary.TotalPayout += net
		summary.TotalFees += fee
	}
	summary.WinnersCount = len(winners)

	r.logger.Info("market resolved",
		slog.Int64("market_id", marketID),
		slog.String("outcome", string(outcome)),
		slog.Int("winners", summary.WinnersCount),
		slog.Float64("total_payout", summary.TotalPayout),
		slog.Float64("total_fees", summary.TotalFees),
		slog.Int("failed_payouts", len(summary.FailedPayouts)),
	)

	r.publish(ctx, summary)
	return summary, nil
}

func (r *Resolver) publish(ctx context.Context, summary domain.ResolutionSummary) {
	if r.audit != nil {
		detail := map[string]any{
			"market_id":      summary.MarketID,
			"outcome":        string(summary.Outcome),
			"winners_count":  summary.WinnersCount,
			"total_payout":   summary.TotalPayout,
			"total_fees":     summary.TotalFees,
			"failed_payouts": len(summary.FailedPayouts),
		}
		if err := r.audit.Log(ctx, "resolution", detail); err != nil {
			r.logger.Warn("audit resolution failed", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		if payload, err := json.Marshal(summary); err == nil {
			if err := r.bus.Publish(ctx, ChannelResolutions, payload); err != nil {
				r.logger.Warn("publish resolution failed", slog.String("error", err.Error()))
			}
		}
	}
}
