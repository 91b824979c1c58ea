// Package lmsr implements a binary logarithmic market scoring rule.
//
// All entry points take the two outstanding share quantities (qYes, qNo)
// and are pure functions of them, so the curve itself carries no state.
// Sums of exponentials are evaluated in shifted form to stay finite for
// large quantities.
package lmsr

import (
	"fmt"
	"math"

	"github.com/openpredict/marketd/internal/domain"
)

const (
	// DefaultB is the liquidity parameter: higher values flatten the
	// price response to a given trade size.
	DefaultB = 5000.0

	// DefaultBuffer is the floor neither share quantity may drop below.
	DefaultBuffer = 10000.0

	minPrice = 0.01
	maxPrice = 0.99

	// floorTol absorbs float error when a sell lands exactly on the floor.
	floorTol = 1e-9
)

// Curve is a binary LMSR cost function with a fixed liquidity parameter
// and a buffer floor on share quantities.
type Curve struct {
	B      float64
	Buffer float64
}

// New returns a curve, substituting defaults for non-positive parameters.
func New(b, buffer float64) Curve {
	if b <= 0 {
		b = DefaultB
	}
	if buffer < 0 {
		buffer = DefaultBuffer
	}
	return Curve{B: b, Buffer: buffer}
}

// Cost is the LMSR cost function C(q) = b*ln(e^(qYes/b) + e^(qNo/b)),
// computed as m + b*ln(e^((qYes-m)/b) + e^((qNo-m)/b)) with m = max(qYes, qNo).
func (c Curve) Cost(qYes, qNo float64) float64 {
	m := math.Max(qYes, qNo)
	return m + c.B*math.Log(math.Exp((qYes-m)/c.B)+math.Exp((qNo-m)/c.B))
}

// Price returns the instantaneous price of one side, clamped to
// [0.01, 0.99] and normalized against its complement.
func (c Curve) Price(qYes, qNo float64, side domain.Side) float64 {
	q := c.Quote(qYes, qNo)
	if side == domain.SideYes {
		return q.YesPrice
	}
	return q.NoPrice
}

// Quote returns both prices as a consistent pair summing to 1.
func (c Curve) Quote(qYes, qNo float64) domain.Quote {
	m := math.Max(qYes, qNo)
	ey := math.Exp((qYes - m) / c.B)
	en := math.Exp((qNo - m) / c.B)
	yes := clamp(ey / (ey + en))
	no := clamp(en / (ey + en))
	sum := yes + no
	return domain.Quote{YesPrice: yes / sum, NoPrice: no / sum}
}

// Trade describes the effect of executing a buy or sell.
type Trade struct {
	Shares   float64
	AvgPrice float64
	DeltaYes float64
	DeltaNo  float64
	NewYes   float64
	NewNo    float64
}

// Buy computes, in closed form, the shares received when spending amount
// on one side:
//
//	q' = b*ln(e^(amount/b)*(e^(qs/b) + e^(qo/b)) - e^(qo/b))
//
// where qs is the bought side and qo the other. The whole expression is
// shifted by max(qs, qo) before exponentiation. A buy only raises the
// bought side, so it can never violate the buffer floor.
func (c Curve) Buy(qYes, qNo float64, side domain.Side, amount float64) (Trade, error) {
	if !side.Valid() {
		return Trade{}, fmt.Errorf("%w: side must be YES or NO", domain.ErrValidation)
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Trade{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}

	qs, qo := qYes, qNo
	if side == domain.SideNo {
		qs, qo = qNo, qYes
	}

	m := math.Max(qs, qo)
	inner := math.Exp(amount/c.B)*(math.Exp((qs-m)/c.B)+math.Exp((qo-m)/c.B)) - math.Exp((qo-m)/c.B)
	qsNew := m + c.B*math.Log(inner)

	shares := qsNew - qs
	if shares <= 0 || math.IsNaN(shares) {
		return Trade{}, fmt.Errorf("%w: amount too small to buy shares", domain.ErrValidation)
	}

	t := Trade{Shares: shares, AvgPrice: amount / shares}
	if side == domain.SideYes {
		t.DeltaYes = shares
		t.NewYes, t.NewNo = qsNew, qNo
	} else {
		t.DeltaNo = shares
		t.NewYes, t.NewNo = qYes, qsNew
	}
	return t, nil
}

// Sell computes the proceeds of selling shares back to the curve:
// C(q) - C(q - shares on side). Fails with ErrBufferViolation when the
// sale would push the sold side below the buffer floor.
func (c Curve) Sell(qYes, qNo float64, side domain.Side, shares float64) (Trade, error) {
	if !side.Valid() {
		return Trade{}, fmt.Errorf("%w: side must be YES or NO", domain.ErrValidation)
	}
	if shares <= 0 || math.IsNaN(shares) || math.IsInf(shares, 0) {
		return Trade{}, fmt.Errorf("%w: shares must be positive", domain.ErrValidation)
	}

	qs := qYes
	if side == domain.SideNo {
		qs = qNo
	}
	if qs-shares < c.Buffer-floorTol {
		return Trade{}, fmt.Errorf("%w: sale of %.4f %s shares would breach the floor", domain.ErrBufferViolation, shares, side)
	}

	newYes, newNo := qYes, qNo
	if side == domain.SideYes {
		newYes -= shares
	} else {
		newNo -= shares
	}
	proceeds := c.Cost(qYes, qNo) - c.Cost(newYes, newNo)
	if proceeds < 0 {
		proceeds = 0
	}

	t := Trade{
		Shares:   shares,
		AvgPrice: proceeds / shares,
		DeltaYes: newYes - qYes,
		DeltaNo:  newNo - qNo,
		NewYes:   newYes,
		NewNo:    newNo,
	}
	return t, nil
}

// Preview simulates a buy without executing it, reporting the shares
// received and the post-trade quote.
func (c Curve) Preview(qYes, qNo float64, side domain.Side, amount float64) (domain.TradePreview, error) {
	before := c.Quote(qYes, qNo)
	t, err := c.Buy(qYes, qNo, side, amount)
	if err != nil {
		return domain.TradePreview{}, err
	}
	after := c.Quote(t.NewYes, t.NewNo)

	sidePriceBefore := before.YesPrice
	sidePriceAfter := after.YesPrice
	if side == domain.SideNo {
		sidePriceBefore = before.NoPrice
		sidePriceAfter = after.NoPrice
	}

	return domain.TradePreview{
		Side:            side,
		Amount:          amount,
		Shares:          t.Shares,
		AvgPrice:        t.AvgPrice,
		NewYesPrice:     after.YesPrice,
		NewNoPrice:      after.NoPrice,
		PriceImpact:     sidePriceAfter - sidePriceBefore,
		PotentialPayout: t.Shares,
	}, nil
}

func clamp(p float64) float64 {
	if p < minPrice {
		return minPrice
	}
	if p > maxPrice {
		return maxPrice
	}
	return p
}
