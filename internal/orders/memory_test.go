package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(id, user string) Order {
	return Order{
		ID:            id,
		UserID:        user,
		LineItems:     []LineItem{{ProductID: "p1", Quantity: 1}},
		PaymentMethod: PaymentStripe,
		PaymentStatus: PaymentPending,
		Status:        StatusPending,
		SubtotalCents: 1000,
		TotalCents:    1000,
	}
}

func TestMemoryStoreTransitionIsGuarded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newOrder("o1", "u1")))

	o, err := s.Transition(ctx, "o1", StatePending, StatePaid)
	require.NoError(t, err)
	assert.Equal(t, StatePaid, o.State())

	_, err = s.Transition(ctx, "o1", StatePending, StateFailed)
	assert.ErrorIs(t, err, ErrStaleTransition)

	_, err = s.Transition(ctx, "o1", StatePaid, StateFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Transition(ctx, "missing", StatePending, StatePaid)
	assert.ErrorIs(t, err, ErrNotFound)

	got, _ := s.Get(ctx, "o1")
	assert.Equal(t, StatePaid, got.State())
}

func TestMemoryStoreUpdatedAtAdvances(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	require.NoError(t, s.Create(ctx, newOrder("o1", "u1")))

	clock = clock.Add(time.Minute)
	require.NoError(t, s.SetReceiptURL(ctx, "o1", "https://pay.example/r/1"))
	o, _ := s.Get(ctx, "o1")
	assert.Equal(t, clock, o.UpdatedAt)
	assert.True(t, o.UpdatedAt.After(o.CreatedAt))
}

func TestMemoryStorePaymentRefIsSetOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newOrder("o1", "u1")))
	require.NoError(t, s.Create(ctx, newOrder("o2", "u1")))

	_, err := s.SetPaymentRef(ctx, "o1", "pi_1")
	require.NoError(t, err)

	// Replacement is allowed while nothing has happened to the payment yet.
	_, err = s.SetPaymentRef(ctx, "o1", "pi_2")
	require.NoError(t, err)
	_, err = s.GetByPaymentRef(ctx, "pi_1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.SetPaymentRef(ctx, "o2", "pi_2")
	assert.ErrorIs(t, err, ErrPaymentRefConflict)

	_, err = s.Transition(ctx, "o1", StatePending, StatePaid)
	require.NoError(t, err)
	_, err = s.SetPaymentRef(ctx, "o1", "pi_3")
	assert.ErrorIs(t, err, ErrPaymentRefConflict)
	_, err = s.SetPaymentRef(ctx, "o1", "pi_2")
	assert.NoError(t, err)

	o, err := s.GetByPaymentRef(ctx, "pi_2")
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)
}

func TestListForUserMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	idx := NewMemoryIndex()

	for _, id := range []string{"o1", "o2", "o3"} {
		require.NoError(t, s.Create(ctx, newOrder(id, "u1")))
		require.NoError(t, idx.Append(ctx, "u1", id))
	}
	require.NoError(t, idx.Append(ctx, "u1", "o2"))
	// Indexed but never persisted.
	require.NoError(t, idx.Append(ctx, "u1", "ghost"))

	got, err := ListForUser(ctx, idx, s, "u1", 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, o := range got {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"o3", "o2", "o1"}, ids)

	none, err := ListForUser(ctx, idx, s, "u2", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
