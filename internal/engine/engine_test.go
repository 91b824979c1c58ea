package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/lmsr"
)

const (
	testWallet  = "0x1111111111111111111111111111111111111111"
	testWallet2 = "0x2222222222222222222222222222222222222222"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	book      *Book
	ledger    *Ledger
	positions *Positions
	results   *ResultStore
	seq       *Sequencer
	resolver  *Resolver
	market    domain.Market
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testLogger()
	curve := lmsr.New(lmsr.DefaultB, lmsr.DefaultBuffer)
	book := NewBook(curve, nil, nil, log)
	ledger := NewLedger(1000, nil, log)
	positions := NewPositions(nil, log)
	results := NewResultStore(100)
	seq := NewSequencer(book, ledger, positions, results, SequencerOpts{QueueSize: 16}, log)
	resolver := NewResolver(book, ledger, positions, 0.02, nil, nil, log)

	m, err := book.Create(context.Background(), domain.Market{Question: "Will it rain tomorrow?"})
	require.NoError(t, err)

	return &fixture{book: book, ledger: ledger, positions: positions, results: results, seq: seq, resolver: resolver, market: m}
}

// exec pushes a request through the sequencer synchronously and returns
// the retained result.
func (f *fixture) exec(t *testing.T, req domain.TradeRequest) domain.TradeResult {
	t.Helper()
	ctx := context.Background()
	queued, err := f.seq.Submit(ctx, req)
	require.NoError(t, err)
	f.seq.process(ctx, queued)
	res, err := f.results.Get(ctx, queued.ID)
	require.NoError(t, err)
	return res
}

func buyReq(marketID int64, wallet string, side domain.Side, amount float64) domain.TradeRequest {
	return domain.TradeRequest{Kind: domain.TradeKindBuy, MarketID: marketID, Wallet: wallet, Side: side, Amount: amount}
}

func sellReq(marketID int64, wallet string, side domain.Side, shares float64) domain.TradeRequest {
	return domain.TradeRequest{Kind: domain.TradeKindSell, MarketID: marketID, Wallet: wallet, Side: side, Shares: shares}
}

func undoReq(wallet, betID string) domain.TradeRequest {
	return domain.TradeRequest{Kind: domain.TradeKindUndo, Wallet: wallet, BetID: betID}
}
