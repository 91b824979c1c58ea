package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/lmsr"
)

func TestResolveFeeOnProfitOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// force a position of exactly 50 shares for 25 spent
	buy := f.exec(t, buyReq(f.market.ID, testWallet, domain.SideYes, 25))
	require.True(t, buy.Success)
	bet, _ := f.positions.Get(buy.BetID)
	bet.Shares = 50
	bet.Amount = 25
	f.positions.Update(ctx, bet)
	balBefore, _ := f.ledger.Balance(ctx, testWallet)

	sum, err := f.resolver.Resolve(ctx, f.market.ID, domain.SideYes)
	require.NoError(t, err)

	// payout 50, profit 25, fee 2% of profit = 0.5, net 49.5
	require.InDelta(t, 49.5, sum.TotalPayout, 1e-9)
	require.InDelta(t, 0.5, sum.TotalFees, 1e-9)
	require.Equal(t, 1, sum.WinnersCount)
	require.Equal(t, 1, sum.WinningBets)
	require.Empty(t, sum.FailedPayouts)

	bal, _ := f.ledger.Balance(ctx, testWallet)
	require.InDelta(t, balBefore+49.5, bal, 1e-9)

	settled, _ := f.positions.Get(buy.BetID)
	require.Equal(t, domain.BetStatusResolved, settled.Status)
	require.Equal(t, domain.BetResultWon, settled.Result)
	require.InDelta(t, 50, settled.Payout, 1e-9)
	require.InDelta(t, 25, settled.Profit, 1e-9)
}

func TestResolveNoFeeWhenNoProfit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buy := f.exec(t, buyReq(f.market.ID, testWallet, domain.SideYes, 25))
	bet, _ := f.positions.Get(buy.BetID)
	bet.Shares = 20 // payout below cost basis
	bet.Amount = 25
	f.positions.Update(ctx, bet)

	sum, err := f.resolver.Resolve(ctx, f.market.ID, domain.SideYes)
	require.NoError(t, err)
	require.Zero(t, sum.TotalFees)
	require.InDelta(t, 20, sum.TotalPayout, 1e-9)
}

func TestResolveLosersGetNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	winner := f.exec(t, buyReq(f.market.ID, testWallet, domain.SideYes, 100))
	loser := f.exec(t, buyReq(f.market.ID, testWallet2, domain.SideNo, 100))
	loserBal, _ := f.ledger.Balance(ctx, testWallet2)

	sum, err := f.resolver.Resolve(ctx, f.market.ID, domain.SideYes)
	require.NoError(t, err)
	require.Equal(t, 1, sum.WinnersCount)

	bal, _ := f.ledger.Balance(ctx, testWallet2)
	require.Equal(t, loserBal, bal)

	lost, _ := f.positions.Get(loser.BetID)
	require.Equal(t, domain.BetResultLost, lost.Result)
	require.Zero(t, lost.Payout)
	require.InDelta(t, -100, lost.Profit, 1e-9)

	won, _ := f.positions.Get(winner.BetID)
	require.Equal(t, domain.BetResultWon, won.Result)
}

func TestResolveTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, f.market.ID, domain.SideYes)
	require.NoError(t, err)
	_, err = f.resolver.Resolve(ctx, f.market.ID, domain.SideNo)
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	m, err := f.book.Get(f.market.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SideYes, m.Resolution)
}

func TestResolveValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, f.market.ID, domain.Side("DRAW"))
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.resolver.Resolve(ctx, 999, domain.SideYes)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// failingUserStore rejects upserts for one wallet once armed, simulating
// an account that goes bad between trading and payout.
type failingUserStore struct {
	bad   string
	armed bool
}

func (s *failingUserStore) Upsert(_ context.Context, u domain.User) error {
	if s.armed && u.Wallet == s.bad {
		return domain.ErrValidation
	}
	return nil
}
func (s *failingUserStore) Get(context.Context, string) (domain.User, error) {
	return domain.User{}, domain.ErrNotFound
}
func (s *failingUserStore) List(context.Context) ([]domain.User, error) { return nil, nil }

func TestResolvePayoutFailureIsolation(t *testing.T) {
	log := testLogger()
	users := &failingUserStore{bad: testWallet2}
	book := NewBook(lmsr.New(lmsr.DefaultB, lmsr.DefaultBuffer), nil, nil, log)
	ledger := NewLedger(1000, users, log)
	positions := NewPositions(nil, log)
	results := NewResultStore(100)
	seq := NewSequencer(book, ledger, positions, results, SequencerOpts{QueueSize: 16}, log)
	resolver := NewResolver(book, ledger, positions, 0.02, nil, nil, log)

	ctx := context.Background()
	m, err := book.Create(ctx, domain.Market{Question: "Does payout isolation hold?"})
	require.NoError(t, err)

	f := &fixture{book: book, ledger: ledger, positions: positions, results: results, seq: seq, resolver: resolver, market: m}
	good := f.exec(t, buyReq(m.ID, testWallet, domain.SideYes, 100))
	require.True(t, good.Success)
	bad := f.exec(t, buyReq(m.ID, testWallet2, domain.SideYes, 100))
	require.True(t, bad.Success)

	users.armed = true
	sum, err := resolver.Resolve(ctx, m.ID, domain.SideYes)
	require.NoError(t, err)
	require.Len(t, sum.FailedPayouts, 1)
	require.Equal(t, testWallet2, sum.FailedPayouts[0].Wallet)
	require.Equal(t, 1, sum.WinnersCount)

	// the good wallet still got paid
	goodBet, _ := f.positions.Get(good.BetID)
	require.Equal(t, domain.BetResultWon, goodBet.Result)
	badBet, _ := f.positions.Get(bad.BetID)
	require.Equal(t, domain.BetStatusResolved, badBet.Status)
	require.Empty(t, badBet.Result)
}

func TestResolvePayoutsNeverExceedWinningShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet3 := "0x3333333333333333333333333333333333333333"

	// two winning wallets, one losing, and one winner with two bets
	win1a := f.exec(t, buyReq(f.market.ID, testWallet, domain.SideYes, 300))
	win2 := f.exec(t, buyReq(f.market.ID, testWallet2, domain.SideYes, 200))
	lose := f.exec(t, buyReq(f.market.ID, wallet3, domain.SideNo, 250))
	win1b := f.exec(t, buyReq(f.market.ID, testWallet, domain.SideYes, 100))
	for _, res := range []domain.TradeResult{win1a, win2, lose, win1b} {
		require.True(t, res.Success)
	}
	loserBefore, _ := f.ledger.Balance(ctx, wallet3)

	sum, err := f.resolver.Resolve(ctx, f.market.ID, domain.SideYes)
	require.NoError(t, err)
	require.Equal(t, 2, sum.WinnersCount)
	require.Equal(t, 3, sum.WinningBets)
	require.Empty(t, sum.FailedPayouts)

	// Winning shares redeem at one each; fees only ever shrink the pool.
	winningShares := win1a.Shares + win2.Shares + win1b.Shares
	require.LessOrEqual(t, sum.TotalPayout, winningShares)
	require.InDelta(t, winningShares, sum.TotalPayout+sum.TotalFees, 1e-9)
	require.Greater(t, sum.TotalFees, 0.0)

	// The loser's balance is untouched by resolution.
	loserAfter, _ := f.ledger.Balance(ctx, wallet3)
	require.Equal(t, loserBefore, loserAfter)
	lost, _ := f.positions.Get(lose.BetID)
	require.Equal(t, domain.BetResultLost, lost.Result)
	require.InDelta(t, -250, lost.Profit, 1e-9)
}
