package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/openpredict/marketd/internal/domain"
)

// Positions is the authoritative registry of bets, indexed by id, market
// and wallet. The bet store, when configured, is a write-through mirror.
type Positions struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Bet
	byMarket map[int64][]string
	byWallet map[string][]string

	store  domain.BetStore // optional write-through
	logger *slog.Logger
}

// NewPositions creates an empty registry.
func NewPositions(store domain.BetStore, logger *slog.Logger) *Positions {
	return &Positions{
		byID:     make(map[string]*domain.Bet),
		byMarket: make(map[int64][]string),
		byWallet: make(map[string][]string),
		store:    store,
		logger:   logger.With(slog.String("component", "positions")),
	}
}

// Hydrate loads open bets from the store. Settled history stays on disk;
// only bets the engine may still mutate are held in memory.
func (p *Positions) Hydrate(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	bets, err := p.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("positions: hydrate: %w", err)
	}
	p.mu.Lock()
	for i := range bets {
		p.addLocked(bets[i])
	}
	n := len(p.byID)
	p.mu.Unlock()
	p.logger.Info("positions hydrated", slog.Int("open_bets", n))
	return nil
}

func (p *Positions) addLocked(b domain.Bet) {
	cp := b
	p.byID[b.ID] = &cp
	p.byMarket[b.MarketID] = append(p.byMarket[b.MarketID], b.ID)
	p.byWallet[b.Wallet] = append(p.byWallet[b.Wallet], b.ID)
}

// Add registers a new bet and mirrors it to the store.
func (p *Positions) Add(ctx context.Context, b domain.Bet) {
	p.mu.Lock()
	p.addLocked(b)
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Create(ctx, b); err != nil {
			p.logger.Warn("persist bet failed", slog.String("bet_id", b.ID), slog.String("error", err.Error()))
		}
	}
}

// Update replaces a bet and mirrors the change to the store.
func (p *Positions) Update(ctx context.Context, b domain.Bet) {
	p.mu.Lock()
	if _, ok := p.byID[b.ID]; ok {
		cp := b
		p.byID[b.ID] = &cp
	}
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Update(ctx, b); err != nil {
			p.logger.Warn("persist bet update failed", slog.String("bet_id", b.ID), slog.String("error", err.Error()))
		}
	}
}

// Get returns a copy of the bet.
func (p *Positions) Get(id string) (domain.Bet, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.byID[id]
	if !ok {
		return domain.Bet{}, false
	}
	return *b, true
}

// OpenByMarket returns copies of every open bet on a market, oldest first.
func (p *Positions) OpenByMarket(marketID int64) []domain.Bet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Bet, 0, len(p.byMarket[marketID]))
	for _, id := range p.byMarket[marketID] {
		if b := p.byID[id]; b != nil && b.Open() {
			out = append(out, *b)
		}
	}
	sortByAge(out)
	return out
}

// ByMarket returns copies of every registered bet on a market regardless
// of status, oldest first.
func (p *Positions) ByMarket(marketID int64) []domain.Bet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Bet, 0, len(p.byMarket[marketID]))
	for _, id := range p.byMarket[marketID] {
		if b := p.byID[id]; b != nil {
			out = append(out, *b)
		}
	}
	sortByAge(out)
	return out
}

// OpenByMarketWallet returns the wallet's open bets on one side of a
// market, oldest first. Sells consume these FIFO.
func (p *Positions) OpenByMarketWallet(marketID int64, wallet string, side domain.Side) []domain.Bet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Bet, 0, 4)
	for _, id := range p.byMarket[marketID] {
		if b := p.byID[id]; b != nil && b.Open() && b.Wallet == wallet && b.Side == side {
			out = append(out, *b)
		}
	}
	sortByAge(out)
	return out
}

// ByWallet returns copies of every registered bet for a wallet, newest first.
func (p *Positions) ByWallet(wallet string) []domain.Bet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Bet, 0, len(p.byWallet[wallet]))
	for _, id := range p.byWallet[wallet] {
		if b := p.byID[id]; b != nil {
			out = append(out, *b)
		}
	}
	sortByAge(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Totals aggregates open positions on a market.
func (p *Positions) Totals(marketID int64) domain.MarketTotals {
	var t domain.MarketTotals
	for _, b := range p.OpenByMarket(marketID) {
		t.BetCount++
		t.TotalPool += b.Amount
		if b.Side == domain.SideYes {
			t.TotalYes += b.Amount
		} else {
			t.TotalNo += b.Amount
		}
	}
	return t
}

func sortByAge(bets []domain.Bet) {
	sort.Slice(bets, func(i, j int) bool {
		if bets[i].CreatedAt.Equal(bets[j].CreatedAt) {
			return bets[i].Seq < bets[j].Seq
		}
		return bets[i].CreatedAt.Before(bets[j].CreatedAt)
	})
}
