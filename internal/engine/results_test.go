package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/domain"
)

func TestResultStorePutGet(t *testing.T) {
	s := NewResultStore(10)
	ctx := context.Background()

	res := domain.TradeResult{RequestID: "r1", Success: true, Shares: 12.5}
	require.NoError(t, s.Put(ctx, res, time.Minute))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, res, got)
}

func TestResultStoreExpiry(t *testing.T) {
	s := NewResultStore(10)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, domain.TradeResult{RequestID: "r1"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := s.Get(ctx, "r1")
	require.ErrorIs(t, err, domain.ErrStaleRequest)

	// an id never submitted reads the same as an expired one
	_, err = s.Get(ctx, "never-seen")
	require.ErrorIs(t, err, domain.ErrStaleRequest)
}

func TestResultStoreSizeCapEvictsOldest(t *testing.T) {
	s := NewResultStore(3)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, s.Put(ctx, domain.TradeResult{RequestID: fmt.Sprintf("r%d", i)}, time.Minute))
	}

	_, err := s.Get(ctx, "r1")
	require.ErrorIs(t, err, domain.ErrStaleRequest)
	for _, id := range []string{"r2", "r3", "r4"} {
		_, err := s.Get(ctx, id)
		require.NoError(t, err, id)
	}
}

func TestResultStoreCleanup(t *testing.T) {
	s := NewResultStore(10)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, domain.TradeResult{RequestID: "old"}, time.Millisecond))
	require.NoError(t, s.Put(ctx, domain.TradeResult{RequestID: "new"}, time.Minute))
	time.Sleep(5 * time.Millisecond)

	s.Cleanup()

	s.mu.Lock()
	_, oldThere := s.results["old"]
	_, newThere := s.results["new"]
	orderLen := len(s.order)
	s.mu.Unlock()
	require.False(t, oldThere)
	require.True(t, newThere)
	require.Equal(t, 1, orderLen)
}
