package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-settlements/ledger"
	"github.com/warp/trip-settlements/settlement"
)

type countingSource struct{ calls int }

func (c *countingSource) Compute(context.Context) (settlement.Result, error) {
	c.calls++
	return settlement.Result{}, nil
}

func TestCache_ServesWithinTTL_RecomputesAfter(t *testing.T) {
	// GIVEN: A cache with a 30s TTL over a counting source
	ctx := context.Background()
	src := &countingSource{}
	clock := now
	cache := settlement.NewCache(src, 30*time.Second)
	cache.Clock = func() time.Time { return clock }

	// WHEN: Two reads inside the TTL
	_, err := cache.Compute(ctx)
	require.NoError(t, err)
	_, err = cache.Compute(ctx)
	require.NoError(t, err)

	// THEN: One computation
	assert.Equal(t, 1, src.calls)

	// WHEN: The TTL elapses
	clock = clock.Add(31 * time.Second)
	_, err = cache.Compute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{}
	cache := settlement.NewCache(src, time.Hour)
	cache.Clock = ledger.FixedClock(now)

	_, _ = cache.Compute(ctx)
	cache.Invalidate()
	_, _ = cache.Compute(ctx)

	assert.Equal(t, 2, src.calls)
}

func TestCache_ReflectsBookingMutationAfterInvalidate(t *testing.T) {
	// GIVEN: A cached aggregation with a visible settlement
	ctx := context.Background()
	st := seededStore(t)
	agg := settlement.NewAggregator(st, money(10), nil)
	agg.Clock = ledger.FixedClock(now)
	cache := settlement.NewCache(agg, time.Hour)

	result, err := cache.Compute(ctx)
	require.NoError(t, err)
	require.Len(t, result.Settlements, 1)

	// WHEN: A refund is requested and the cache invalidated
	b, _ := st.GetBooking(ctx, "bk-1")
	b.Refund.Status = ledger.RefundRequested
	require.NoError(t, st.UpdateBooking(ctx, *b))
	cache.Invalidate()

	// THEN: The batch disappears
	result, err = cache.Compute(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Settlements)
}
