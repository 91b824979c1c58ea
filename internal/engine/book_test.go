package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/lmsr"
)

var errStoreDown = errors.New("store down")

// failingMarketStore rejects every write.
type failingMarketStore struct{}

func (failingMarketStore) Create(context.Context, domain.Market) error { return errStoreDown }
func (failingMarketStore) Update(context.Context, domain.Market) error { return errStoreDown }
func (failingMarketStore) GetByID(context.Context, int64) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (failingMarketStore) ListByStatus(context.Context, domain.MarketStatus, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}
func (failingMarketStore) MaxID(context.Context) (int64, error) { return 0, nil }
func (failingMarketStore) SetResolved(context.Context, int64, domain.Side, time.Time) error {
	return errStoreDown
}

func TestBookCreateSeedsAtFloor(t *testing.T) {
	f := newFixture(t)

	st, err := f.book.State(f.market.ID)
	require.NoError(t, err)
	require.Equal(t, lmsr.DefaultBuffer, st.QYes)
	require.Equal(t, lmsr.DefaultBuffer, st.QNo)
	require.Zero(t, st.Seq)

	q, err := f.book.Quote(f.market.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.5, q.YesPrice, 1e-12)
}

func TestBookCreateRequiresQuestion(t *testing.T) {
	f := newFixture(t)
	_, err := f.book.Create(context.Background(), domain.Market{})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestBookIDsAreSequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m2, err := f.book.Create(ctx, domain.Market{Question: "Second?"})
	require.NoError(t, err)
	require.Equal(t, f.market.ID+1, m2.ID)
}

func TestBookListByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m2, err := f.book.Create(ctx, domain.Market{Question: "Second?"})
	require.NoError(t, err)
	_, err = f.resolver.Resolve(ctx, m2.ID, domain.SideNo)
	require.NoError(t, err)

	open := f.book.List(domain.MarketStatusOpen)
	require.Len(t, open, 1)
	require.Equal(t, f.market.ID, open[0].ID)

	resolved := f.book.List(domain.MarketStatusResolved)
	require.Len(t, resolved, 1)
	require.Equal(t, m2.ID, resolved[0].ID)
	require.Equal(t, domain.SideNo, resolved[0].Resolution)
}

func TestHandleApplyEnforcesFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.book.Handle(f.market.ID)
	require.NoError(t, err)
	h.Lock()
	defer h.Unlock()

	_, err = h.Apply(ctx, -1, 0)
	require.ErrorIs(t, err, domain.ErrBufferViolation)
	require.Zero(t, h.Seq())

	st, err := h.Apply(ctx, 100, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.Seq)
	require.Equal(t, lmsr.DefaultBuffer+100, st.QYes)
}

func TestBookCreatePersistFailureLeavesNoMarket(t *testing.T) {
	log := testLogger()
	curve := lmsr.New(lmsr.DefaultB, lmsr.DefaultBuffer)
	book := NewBook(curve, failingMarketStore{}, nil, log)
	ledger := NewLedger(1000, nil, log)
	positions := NewPositions(nil, log)
	results := NewResultStore(10)
	seq := NewSequencer(book, ledger, positions, results, SequencerOpts{QueueSize: 4}, log)
	ctx := context.Background()

	_, err := book.Create(ctx, domain.Market{Question: "Will it rain tomorrow?"})
	require.ErrorIs(t, err, errStoreDown)

	// The rejected market must not be registered, priced or tradable.
	_, err = book.Get(1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = book.Quote(1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Empty(t, book.List(domain.MarketStatusOpen))

	queued, err := seq.Submit(ctx, buyReq(1, testWallet, domain.SideYes, 100))
	require.NoError(t, err)
	seq.process(ctx, queued)
	res, err := results.Get(ctx, queued.ID)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "not_found", res.ErrorKind)
	bal, _ := ledger.Balance(ctx, testWallet)
	require.Equal(t, 1000.0, bal)
}

func TestBookUnknownMarket(t *testing.T) {
	f := newFixture(t)
	_, err := f.book.Get(12345)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.book.Handle(12345)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
