package lmsr

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/domain"
)

func freshCurve() (Curve, float64, float64) {
	c := New(DefaultB, DefaultBuffer)
	return c, DefaultBuffer, DefaultBuffer
}

func TestQuoteFreshMarket(t *testing.T) {
	c, qy, qn := freshCurve()
	q := c.Quote(qy, qn)
	require.InDelta(t, 0.50, q.YesPrice, 1e-12)
	require.InDelta(t, 0.50, q.NoPrice, 1e-12)
}

func TestBuyMovesPrice(t *testing.T) {
	c, qy, qn := freshCurve()

	tr, err := c.Buy(qy, qn, domain.SideYes, 2000)
	require.NoError(t, err)
	require.InDelta(t, 3424.69, tr.Shares, 0.05)
	require.InDelta(t, 2000/tr.Shares, tr.AvgPrice, 1e-12)
	require.Equal(t, tr.Shares, tr.DeltaYes)
	require.Zero(t, tr.DeltaNo)

	q := c.Quote(tr.NewYes, tr.NewNo)
	require.InDelta(t, 0.6648, q.YesPrice, 5e-4)
	require.InDelta(t, 1.0, q.YesPrice+q.NoPrice, 1e-12)

	// spend equals the cost-function increase
	require.InDelta(t, 2000, c.Cost(tr.NewYes, tr.NewNo)-c.Cost(qy, qn), 1e-6)
}

func TestBuySellRoundTrip(t *testing.T) {
	c, qy, qn := freshCurve()

	buy, err := c.Buy(qy, qn, domain.SideNo, 750)
	require.NoError(t, err)

	sell, err := c.Sell(buy.NewYes, buy.NewNo, domain.SideNo, buy.Shares)
	require.NoError(t, err)
	require.InDelta(t, 750, sell.AvgPrice*sell.Shares, 1e-6)
	require.InDelta(t, qy, sell.NewYes, 1e-9)
	require.InDelta(t, qn, sell.NewNo, 1e-9)
}

func TestSellRespectsFloor(t *testing.T) {
	c, qy, qn := freshCurve()

	// nothing above the floor on a fresh market
	_, err := c.Sell(qy, qn, domain.SideYes, 1)
	require.ErrorIs(t, err, domain.ErrBufferViolation)

	buy, err := c.Buy(qy, qn, domain.SideYes, 500)
	require.NoError(t, err)

	// selling exactly what was bought lands on the floor and is allowed
	_, err = c.Sell(buy.NewYes, buy.NewNo, domain.SideYes, buy.Shares)
	require.NoError(t, err)

	_, err = c.Sell(buy.NewYes, buy.NewNo, domain.SideYes, buy.Shares+0.01)
	require.ErrorIs(t, err, domain.ErrBufferViolation)
}

func TestQuoteClampsExtremes(t *testing.T) {
	c := New(DefaultB, DefaultBuffer)
	q := c.Quote(DefaultBuffer+100000, DefaultBuffer)
	require.InDelta(t, 0.99, q.YesPrice, 1e-12)
	require.InDelta(t, 0.01, q.NoPrice, 1e-12)
	require.InDelta(t, 1.0, q.YesPrice+q.NoPrice, 1e-12)
}

func TestLargeQuantitiesStayFinite(t *testing.T) {
	c := New(DefaultB, DefaultBuffer)
	require.False(t, math.IsInf(c.Cost(5e7, 4.9e7), 0))
	tr, err := c.Buy(5e7, 4.9e7, domain.SideNo, 1000)
	require.NoError(t, err)
	require.False(t, math.IsNaN(tr.Shares))
	require.Greater(t, tr.Shares, 0.0)
}

func TestBuyValidation(t *testing.T) {
	c, qy, qn := freshCurve()
	for _, amount := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		_, err := c.Buy(qy, qn, domain.SideYes, amount)
		require.True(t, errors.Is(err, domain.ErrValidation))
	}
	_, err := c.Buy(qy, qn, domain.Side("BOTH"), 10)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestPreviewMatchesBuy(t *testing.T) {
	c, qy, qn := freshCurve()

	pv, err := c.Preview(qy, qn, domain.SideYes, 2000)
	require.NoError(t, err)
	tr, err := c.Buy(qy, qn, domain.SideYes, 2000)
	require.NoError(t, err)

	require.InDelta(t, tr.Shares, pv.Shares, 1e-9)
	require.InDelta(t, tr.AvgPrice, pv.AvgPrice, 1e-12)
	require.Greater(t, pv.PriceImpact, 0.0)
	require.InDelta(t, c.Quote(tr.NewYes, tr.NewNo).YesPrice, pv.NewYesPrice, 1e-12)
	require.Equal(t, pv.Shares, pv.PotentialPayout)
}

func TestQuoteAlwaysSumsToOne(t *testing.T) {
	c := New(DefaultB, DefaultBuffer)
	qy, qn := DefaultBuffer, DefaultBuffer
	for i := 0; i < 40; i++ {
		tr, err := c.Buy(qy, qn, domain.SideYes, 5000)
		require.NoError(t, err)
		qy, qn = tr.NewYes, tr.NewNo
		q := c.Quote(qy, qn)
		require.InDelta(t, 1.0, q.YesPrice+q.NoPrice, 1e-12)
		require.GreaterOrEqual(t, q.YesPrice, 0.01)
		require.LessOrEqual(t, q.YesPrice, 0.99)
	}
}
