package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveDecrementsOnlyWhenAvailable(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"p1": 5})

	require.NoError(t, l.Reserve(ctx, "o1", "p1", 2, time.Time{}))
	n, err := l.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	err = l.Reserve(ctx, "o2", "p1", 4, time.Time{})
	var stock *InsufficientStockError
	require.ErrorAs(t, err, &stock)
	assert.Equal(t, "p1", stock.ProductID)
	assert.Equal(t, 4, stock.Requested)
	assert.Equal(t, 3, stock.Available)

	n, _ = l.Available(ctx, "p1")
	assert.Equal(t, 3, n, "failed reserve must not change availability")
}

func TestReserveRejectsUnknownProductAndBadQty(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"p1": 5})

	assert.ErrorIs(t, l.Reserve(ctx, "o1", "nope", 1, time.Time{}), ErrUnknownProduct)
	assert.ErrorIs(t, l.Reserve(ctx, "o1", "p1", 0, time.Time{}), ErrInvalidQty)
	assert.ErrorIs(t, l.Reserve(ctx, "o1", "p1", -3, time.Time{}), ErrInvalidQty)
}

func TestReserveSameOrderProductTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"p1": 5})

	require.NoError(t, l.Reserve(ctx, "o1", "p1", 2, time.Time{}))
	require.NoError(t, l.Reserve(ctx, "o1", "p1", 2, time.Time{}))

	n, _ := l.Available(ctx, "p1")
	assert.Equal(t, 3, n)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	const start = 20
	l := NewMemoryLedger(map[string]int{"p1": start})

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			qty := 1 + i%3
			err := l.Reserve(ctx, fmt.Sprintf("o%d", i), "p1", qty, time.Time{})
			if err == nil {
				granted.Add(int64(qty))
				return
			}
			var stock *InsufficientStockError
			if !errors.As(err, &stock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	n, err := l.Available(ctx, "p1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 0)
	assert.LessOrEqual(t, granted.Load(), int64(start))
	assert.Equal(t, start, n+int(granted.Load()))
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"p1": 5, "p2": 2})

	require.NoError(t, l.Reserve(ctx, "o1", "p1", 2, time.Time{}))
	require.NoError(t, l.Reserve(ctx, "o1", "p2", 1, time.Time{}))

	units, err := l.Release(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 3, units)

	units, err = l.Release(ctx, "o1")
	require.NoError(t, err)
	assert.Zero(t, units)

	p1, _ := l.Available(ctx, "p1")
	p2, _ := l.Available(ctx, "p2")
	assert.Equal(t, 5, p1)
	assert.Equal(t, 2, p2)
}

func TestCommittedHoldsAreNotReleased(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"p1": 5})
	exp := time.Now().Add(time.Minute)

	require.NoError(t, l.Reserve(ctx, "o1", "p1", 2, exp))
	require.NoError(t, l.Commit(ctx, "o1"))

	units, err := l.Release(ctx, "o1")
	require.NoError(t, err)
	assert.Zero(t, units)

	holds, err := l.Holds(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, HoldCommitted, holds[0].Status)
	assert.True(t, holds[0].ExpiresAt.IsZero())
}

func TestExpiredListsOnlyReservedHoldsPastExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLedger(map[string]int{"p1": 10})

	require.NoError(t, l.Reserve(ctx, "expired", "p1", 1, now.Add(-time.Minute)))
	require.NoError(t, l.Reserve(ctx, "fresh", "p1", 1, now.Add(time.Minute)))
	require.NoError(t, l.Reserve(ctx, "cash", "p1", 1, time.Time{}))
	require.NoError(t, l.Reserve(ctx, "committed", "p1", 1, now.Add(-time.Hour)))
	require.NoError(t, l.Commit(ctx, "committed"))

	ids, err := l.Expired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"expired"}, ids)
}
