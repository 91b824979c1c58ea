package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/domain"
)

func TestLedgerLazyProvisioning(t *testing.T) {
	l := NewLedger(1000, nil, testLogger())
	ctx := context.Background()

	bal, isNew := l.Balance(ctx, testWallet)
	require.Equal(t, 1000.0, bal)
	require.True(t, isNew)

	bal, isNew = l.Balance(ctx, testWallet)
	require.Equal(t, 1000.0, bal)
	require.False(t, isNew)
}

func TestLedgerDebitCredit(t *testing.T) {
	l := NewLedger(1000, nil, testLogger())
	ctx := context.Background()

	bal, err := l.Debit(ctx, testWallet, 300)
	require.NoError(t, err)
	require.Equal(t, 700.0, bal)

	bal, err = l.Credit(ctx, testWallet, 50)
	require.NoError(t, err)
	require.Equal(t, 750.0, bal)

	// debit is provisioning too: a fresh wallet can spend its grant
	bal, err = l.Debit(ctx, testWallet2, 1000)
	require.NoError(t, err)
	require.Zero(t, bal)
}

func TestLedgerInsufficientFunds(t *testing.T) {
	l := NewLedger(100, nil, testLogger())
	ctx := context.Background()

	_, err := l.Debit(ctx, testWallet, 100.01)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bal, _ := l.Balance(ctx, testWallet)
	require.Equal(t, 100.0, bal)
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	l := NewLedger(100, nil, testLogger())
	ctx := context.Background()

	_, err := l.Debit(ctx, testWallet, 0)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = l.Debit(ctx, testWallet, -10)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = l.Credit(ctx, testWallet, -10)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedgerConcurrentDebits(t *testing.T) {
	l := NewLedger(1000, nil, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	okCount := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(ctx, testWallet, 50); err == nil {
				okCount <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(okCount)

	succeeded := 0
	for range okCount {
		succeeded++
	}
	require.Equal(t, 20, succeeded) // 1000 / 50

	bal, _ := l.Balance(ctx, testWallet)
	require.Zero(t, bal)
}
