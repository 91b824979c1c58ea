// Package engine holds the authoritative in-memory trading state: the
// market book, the wallet ledger, open positions, and the single-consumer
// trade sequencer that mutates them. Persistent stores are write-through
// mirrors hydrated at startup.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/lmsr"
)

type marketEntry struct {
	mu     sync.Mutex
	market domain.Market
	state  domain.MarketState
}

// Book is the authoritative registry of markets and their curve state.
// Trades and resolution serialize on the per-market entry lock; reads
// take a short snapshot under the same lock.
type Book struct {
	mu      sync.RWMutex
	curve   lmsr.Curve
	markets map[int64]*marketEntry
	nextID  int64

	store  domain.MarketStore      // optional write-through
	states domain.MarketStateStore // optional write-through
	logger *slog.Logger
}

// NewBook creates an empty book. Stores may be nil for a purely
// in-memory deployment.
func NewBook(curve lmsr.Curve, markets domain.MarketStore, states domain.MarketStateStore, logger *slog.Logger) *Book {
	return &Book{
		curve:   curve,
		markets: make(map[int64]*marketEntry),
		nextID:  1,
		store:   markets,
		states:  states,
		logger:  logger.With(slog.String("component", "book")),
	}
}

// Curve returns the pricing curve shared by every market in the book.
func (b *Book) Curve() lmsr.Curve { return b.curve }

// Hydrate loads persisted markets and curve state into the book. Markets
// without persisted state are seeded at the buffer floor.
func (b *Book) Hydrate(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	for _, status := range []domain.MarketStatus{domain.MarketStatusOpen, domain.MarketStatusResolved} {
		ms, err := b.store.ListByStatus(ctx, status, domain.ListOpts{})
		if err != nil {
			return fmt.Errorf("book: hydrate markets: %w", err)
		}
		for _, m := range ms {
			st := domain.MarketState{MarketID: m.ID, QYes: b.curve.Buffer, QNo: b.curve.Buffer}
			if b.states != nil {
				if got, err := b.states.Get(ctx, m.ID); err == nil {
					st = got
				} else if !errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("book: hydrate state %d: %w", m.ID, err)
				}
			}
			b.register(m, st)
		}
	}
	if maxID, err := b.store.MaxID(ctx); err == nil && maxID >= b.nextID {
		b.mu.Lock()
		b.nextID = maxID + 1
		b.mu.Unlock()
	}
	b.mu.RLock()
	n := len(b.markets)
	b.mu.RUnlock()
	b.logger.Info("book hydrated", slog.Int("markets", n))
	return nil
}

func (b *Book) register(m domain.Market, st domain.MarketState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markets[m.ID] = &marketEntry{market: m, state: st}
	if m.ID >= b.nextID {
		b.nextID = m.ID + 1
	}
}

// Create registers a new market seeded at the buffer floor and mirrors it
// to the stores when configured.
func (b *Book) Create(ctx context.Context, m domain.Market) (domain.Market, error) {
	if m.Question == "" {
		return domain.Market{}, fmt.Errorf("%w: question is required", domain.ErrValidation)
	}
	now := time.Now().UTC()
	m.Status = domain.MarketStatusOpen
	m.Resolution = ""
	m.CreatedAt = now
	m.UpdatedAt = now

	b.mu.Lock()
	m.ID = b.nextID
	b.nextID++
	b.mu.Unlock()
	st := domain.MarketState{MarketID: m.ID, QYes: b.curve.Buffer, QNo: b.curve.Buffer, UpdatedAt: now}

	// Persist before registering: a market the store rejected must never
	// become tradable, or every bet against it is orphaned. The allocated
	// ID is simply skipped on failure.
	if b.store != nil {
		if err := b.store.Create(ctx, m); err != nil {
			return domain.Market{}, fmt.Errorf("book: persist market: %w", err)
		}
	}

	b.mu.Lock()
	b.markets[m.ID] = &marketEntry{market: m, state: st}
	b.mu.Unlock()
	if b.states != nil {
		if err := b.states.Upsert(ctx, st); err != nil {
			b.logger.Warn("persist market state failed", slog.Int64("market_id", m.ID), slog.String("error", err.Error()))
		}
	}
	b.logger.Info("market created", slog.Int64("market_id", m.ID), slog.String("question", m.Question))
	return m, nil
}

func (b *Book) entry(marketID int64) (*marketEntry, error) {
	b.mu.RLock()
	e, ok := b.markets[marketID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("book: market %d: %w", marketID, domain.ErrNotFound)
	}
	return e, nil
}

// Get returns a snapshot of a market's metadata.
func (b *Book) Get(marketID int64) (domain.Market, error) {
	e, err := b.entry(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market, nil
}

// State returns a snapshot of a market's curve state.
func (b *Book) State(marketID int64) (domain.MarketState, error) {
	e, err := b.entry(marketID)
	if err != nil {
		return domain.MarketState{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Quote prices a market from its current state.
func (b *Book) Quote(marketID int64) (domain.Quote, error) {
	st, err := b.State(marketID)
	if err != nil {
		return domain.Quote{}, err
	}
	return b.curve.Quote(st.QYes, st.QNo), nil
}

// List returns snapshots of every market with the given status, newest first.
func (b *Book) List(status domain.MarketStatus) []domain.Market {
	b.mu.RLock()
	entries := make([]*marketEntry, 0, len(b.markets))
	for _, e := range b.markets {
		entries = append(entries, e)
	}
	b.mu.RUnlock()

	out := make([]domain.Market, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.market.Status == status {
			out = append(out, e.market)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Handle pins a market entry so the caller can perform a check-then-apply
// sequence atomically. Callers must Unlock when done.
func (b *Book) Handle(marketID int64) (*MarketHandle, error) {
	e, err := b.entry(marketID)
	if err != nil {
		return nil, err
	}
	return &MarketHandle{book: b, entry: e}, nil
}

// MarketHandle exposes a locked view of one market. The sequencer holds a
// handle for the full span of a trade; the resolver holds one for the full
// span of a resolution, so the two never interleave on the same market.
type MarketHandle struct {
	book  *Book
	entry *marketEntry
}

func (h *MarketHandle) Lock()   { h.entry.mu.Lock() }
func (h *MarketHandle) Unlock() { h.entry.mu.Unlock() }

// Market returns the metadata. Callers must hold the lock.
func (h *MarketHandle) Market() domain.Market { return h.entry.market }

// State returns the curve state. Callers must hold the lock.
func (h *MarketHandle) State() domain.MarketState { return h.entry.state }

// Seq returns the trade sequence number. Callers must hold the lock.
func (h *MarketHandle) Seq() uint64 { return h.entry.state.Seq }

// Apply shifts the share quantities, bumps the sequence number and
// mirrors the new state. Callers must hold the lock. The floor was
// already enforced by the pricing calculation; this is the final check
// before state is committed.
func (h *MarketHandle) Apply(ctx context.Context, dYes, dNo float64) (domain.MarketState, error) {
	st := h.entry.state
	newYes, newNo := st.QYes+dYes, st.QNo+dNo
	floor := h.book.curve.Buffer - 1e-9
	if newYes < floor || newNo < floor {
		return domain.MarketState{}, fmt.Errorf("book: market %d: %w", st.MarketID, domain.ErrBufferViolation)
	}
	st.QYes, st.QNo = newYes, newNo
	st.Seq++
	st.UpdatedAt = time.Now().UTC()
	h.entry.state = st

	if h.book.states != nil {
		if err := h.book.states.Upsert(ctx, st); err != nil {
			h.book.logger.Warn("persist market state failed",
				slog.Int64("market_id", st.MarketID), slog.String("error", err.Error()))
		}
	}
	return st, nil
}

// MarkResolved transitions the market to resolved. Callers must hold the
// lock. Returns ErrAlreadyResolved on a second call.
func (h *MarketHandle) MarkResolved(ctx context.Context, outcome domain.Side) error {
	if h.entry.market.Status == domain.MarketStatusResolved {
		return fmt.Errorf("book: market %d: %w", h.entry.market.ID, domain.ErrAlreadyResolved)
	}
	now := time.Now().UTC()
	h.entry.market.Status = domain.MarketStatusResolved
	h.entry.market.Resolution = outcome
	h.entry.market.UpdatedAt = now

	if h.book.store != nil {
		if err := h.book.store.SetResolved(ctx, h.entry.market.ID, outcome, now); err != nil {
			h.book.logger.Warn("persist resolution failed",
				slog.Int64("market_id", h.entry.market.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}
