package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/engine"
	"github.com/openpredict/marketd/internal/lmsr"
)

const (
	testWallet  = "0x1111111111111111111111111111111111111111"
	testWallet2 = "0x2222222222222222222222222222222222222222"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	book      *engine.Book
	ledger    *engine.Ledger
	positions *engine.Positions
	sequencer *engine.Sequencer

	markets *MarketService
	trades  *TradeService
	users   *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	curve := lmsr.New(lmsr.DefaultB, lmsr.DefaultBuffer)
	book := engine.NewBook(curve, nil, nil, testLogger)
	ledger := engine.NewLedger(1000, nil, testLogger)
	positions := engine.NewPositions(nil, testLogger)
	results := engine.NewResultStore(100)

	seq := engine.NewSequencer(book, ledger, positions, results, engine.SequencerOpts{
		QueueSize: 16,
		ResultTTL: time.Minute,
	}, testLogger)
	resolver := engine.NewResolver(book, ledger, positions, 0.02, nil, nil, testLogger)

	return &fixture{
		book:      book,
		ledger:    ledger,
		positions: positions,
		sequencer: seq,
		markets:   NewMarketService(book, positions, resolver, nil, nil, nil, testLogger),
		trades:    NewTradeService(seq, book, positions, results, 10_000, testLogger),
		users:     NewUserService(ledger, testLogger),
	}
}

// startSequencer runs the consumer loop for the duration of the test.
func (f *fixture) startSequencer(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.sequencer.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (f *fixture) createMarket(t *testing.T, question string) domain.MarketView {
	t.Helper()
	view, err := f.markets.Create(context.Background(), domain.Market{Question: question})
	require.NoError(t, err)
	return view
}

// buy submits a buy and waits for its terminal result.
func (f *fixture) buy(t *testing.T, marketID int64, wallet string, side domain.Side, amount float64) domain.TradeResult {
	t.Helper()
	ctx := context.Background()

	accepted, err := f.trades.Submit(ctx, domain.TradeRequest{
		Kind:     domain.TradeKindBuy,
		Wallet:   wallet,
		MarketID: marketID,
		Side:     side,
		Amount:   amount,
	})
	require.NoError(t, err)
	require.NotEmpty(t, accepted.ID)

	var res domain.TradeResult
	require.Eventually(t, func() bool {
		got, pollErr := f.trades.Poll(ctx, accepted.ID)
		if pollErr != nil {
			return false
		}
		if got.Status != domain.TradeStatusDone {
			return false
		}
		res = got
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return res
}

func TestMarketServiceCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.markets.Create(ctx, domain.Market{Question: "   "})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.markets.Create(ctx, domain.Market{Question: "Valid?", CreatedBy: "not-a-wallet"})
	require.ErrorIs(t, err, domain.ErrValidation)

	past := time.Now().Add(-time.Hour)
	_, err = f.markets.Create(ctx, domain.Market{Question: "Valid?", EndAt: &past})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestMarketServiceListAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.createMarket(t, "Will it rain tomorrow?")
	second := f.createMarket(t, "Will the launch slip?")

	assert.InDelta(t, 0.5, first.Prices.YesPrice, 1e-9)
	assert.Zero(t, first.Totals.BetCount)

	views, err := f.markets.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, views, 2)
	// Newest first.
	assert.Equal(t, second.ID, views[0].ID)

	got, err := f.markets.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Question, got.Question)

	_, err = f.markets.Get(ctx, 999)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.markets.List(ctx, "bogus")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestTradeServiceSubmitLifecycle(t *testing.T) {
	f := newFixture(t)
	f.startSequencer(t)
	m := f.createMarket(t, "Will it rain tomorrow?")

	res := f.buy(t, m.ID, testWallet, domain.SideYes, 200)

	require.True(t, res.Success)
	assert.Equal(t, domain.TradeKindBuy, res.Kind)
	assert.Greater(t, res.Shares, 200.0)
	assert.InDelta(t, 800, res.NewBalance, 1e-9)
	require.NotNil(t, res.Quote)
	assert.Greater(t, res.Quote.YesPrice, 0.5)

	// The wallet was normalized and debited.
	bal, err := f.users.Balance(context.Background(), testWallet)
	require.NoError(t, err)
	assert.InDelta(t, 800, bal.Balance, 1e-9)
	assert.False(t, bal.IsNewUser)
}

func TestTradeServiceSubmitValidation(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "Will it rain tomorrow?")
	ctx := context.Background()

	_, err := f.trades.Submit(ctx, domain.TradeRequest{
		Kind:     domain.TradeKindBuy,
		Wallet:   "nope",
		MarketID: m.ID,
		Side:     domain.SideYes,
		Amount:   10,
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	// Above the configured max bet.
	_, err = f.trades.Submit(ctx, domain.TradeRequest{
		Kind:     domain.TradeKindBuy,
		Wallet:   testWallet,
		MarketID: m.ID,
		Side:     domain.SideYes,
		Amount:   10_001,
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestTradeServicePollStates(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, "Will it rain tomorrow?")
	ctx := context.Background()

	// Unknown request reads as stale.
	_, err := f.trades.Poll(ctx, "never-seen")
	require.ErrorIs(t, err, domain.ErrStaleRequest)

	// Without a running sequencer the request stays queued.
	accepted, err := f.trades.Submit(ctx, domain.TradeRequest{
		Kind:     domain.TradeKindBuy,
		Wallet:   testWallet,
		MarketID: m.ID,
		Side:     domain.SideYes,
		Amount:   50,
	})
	require.NoError(t, err)

	res, err := f.trades.Poll(ctx, accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusQueued, res.Status)
	assert.Equal(t, 1, res.QueuePos)
}

func TestTradeServicePreview(t *testing.T) {
	f := newFixture(t)
	f.startSequencer(t)
	m := f.createMarket(t, "Will it rain tomorrow?")
	ctx := context.Background()

	preview, err := f.trades.Preview(ctx, m.ID, domain.SideYes, 200)
	require.NoError(t, err)
	assert.Equal(t, m.ID, preview.MarketID)
	assert.Greater(t, preview.Shares, 200.0)
	assert.Greater(t, preview.PriceImpact, 0.0)

	// The preview matches what the buy then executes.
	res := f.buy(t, m.ID, testWallet, domain.SideYes, 200)
	assert.InDelta(t, preview.Shares, res.Shares, 1e-6)

	_, err = f.trades.Preview(ctx, m.ID, domain.SideYes, -5)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.trades.Preview(ctx, 999, domain.SideYes, 10)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeServiceUserBets(t *testing.T) {
	f := newFixture(t)
	f.startSequencer(t)
	m := f.createMarket(t, "Will it rain tomorrow?")
	ctx := context.Background()

	res := f.buy(t, m.ID, testWallet, domain.SideYes, 200)

	views, err := f.trades.UserBets(ctx, testWallet)
	require.NoError(t, err)
	require.Len(t, views, 1)

	v := views[0]
	assert.Equal(t, res.BetID, v.ID)
	assert.Greater(t, v.CurrentPrice, 0.5)
	assert.InDelta(t, v.Shares*v.CurrentPrice, v.CurrentValue, 1e-9)
	assert.InDelta(t, v.CurrentValue-v.Amount, v.UnrealizedPL, 1e-9)
	assert.InDelta(t, v.Shares, v.PotentialPayout, 1e-9)

	// Other wallets see nothing.
	others, err := f.trades.UserBets(ctx, testWallet2)
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestMarketServiceResolve(t *testing.T) {
	f := newFixture(t)
	f.startSequencer(t)
	m := f.createMarket(t, "Will it rain tomorrow?")
	ctx := context.Background()

	buyRes := f.buy(t, m.ID, testWallet, domain.SideYes, 200)
	f.buy(t, m.ID, testWallet2, domain.SideNo, 100)

	summary, err := f.markets.Resolve(ctx, m.ID, domain.SideYes)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.WinnersCount)
	assert.Equal(t, 1, summary.WinningBets)
	assert.Empty(t, summary.FailedPayouts)

	// Terminal prices on the resolved market.
	view, err := f.markets.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, view.Status)
	assert.Equal(t, 1.0, view.Prices.YesPrice)
	assert.Equal(t, 0.0, view.Prices.NoPrice)

	// The winner was credited shares at 1.0, minus the fee on profit.
	bal, err := f.users.Balance(ctx, testWallet)
	require.NoError(t, err)
	profit := buyRes.Shares - 200
	expected := 800 + buyRes.Shares - 0.02*profit
	assert.InDelta(t, expected, bal.Balance, 1e-6)

	// Resolving twice fails.
	_, err = f.markets.Resolve(ctx, m.ID, domain.SideYes)
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	// No trading on a settled market.
	_, err = f.trades.Preview(ctx, m.ID, domain.SideYes, 10)
	require.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestUserServiceBalanceProvisioning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bal, err := f.users.Balance(ctx, testWallet)
	require.NoError(t, err)
	assert.InDelta(t, 1000, bal.Balance, 1e-9)
	assert.True(t, bal.IsNewUser)
	assert.Equal(t, testWallet, bal.Wallet)

	again, err := f.users.Balance(ctx, testWallet)
	require.NoError(t, err)
	assert.False(t, again.IsNewUser)

	_, err = f.users.Balance(ctx, "bogus")
	require.ErrorIs(t, err, domain.ErrValidation)
}
