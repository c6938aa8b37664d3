package retention

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	"github.com/tagsift-lab/tagsift/internal/core/aggregation"
	"github.com/tagsift-lab/tagsift/internal/core/storage/memory"
)

func bucketAt(minute time.Time) aggregation.Key {
	return aggregation.Key{
		Minute:     minute,
		Action:     v1.ActionView,
		Origin:     "site-a",
		BrandID:    "brand-1",
		CategoryID: "cat-2",
	}
}

func TestSweep_RetentionBoundary(t *testing.T) {
	ctx := context.Background()
	aggregates := memory.NewAggregateStore()
	watermark := memory.NewWatermarkStore()

	wm := time.Date(2022, 3, 23, 12, 15, 0, 0, time.UTC)
	require.NoError(t, watermark.Advance(ctx, wm))

	// exactly24h is a full window old and must be deleted; justInside is
	// one minute younger and must survive.
	exactly24h := wm.Add(-24 * time.Hour)
	justInside := wm.Add(-24*time.Hour + time.Minute)
	fresh := wm.Add(-time.Minute)

	for _, minute := range []time.Time{exactly24h, justInside, fresh} {
		require.NoError(t, aggregates.Add(ctx, bucketAt(minute), 1, decimal.NewFromInt(1)))
	}

	sweeper := NewSweeper(time.Minute, 24*time.Hour, aggregates, watermark)
	require.NoError(t, sweeper.Sweep(ctx))

	require.Equal(t, 2, aggregates.Len())

	rows, err := aggregates.Scan(ctx, exactly24h, exactly24h.Add(time.Minute), aggregation.Filter{Action: v1.ActionView})
	require.NoError(t, err)
	require.Empty(t, rows, "bucket exactly one window old must be deleted")

	rows, err = aggregates.Scan(ctx, justInside, justInside.Add(time.Minute), aggregation.Filter{Action: v1.ActionView})
	require.NoError(t, err)
	require.Len(t, rows, 1, "bucket inside the window must survive")
}

func TestSweep_Idempotent(t *testing.T) {
	ctx := context.Background()
	aggregates := memory.NewAggregateStore()
	watermark := memory.NewWatermarkStore()

	wm := time.Date(2022, 3, 23, 12, 15, 0, 0, time.UTC)
	require.NoError(t, watermark.Advance(ctx, wm))
	require.NoError(t, aggregates.Add(ctx, bucketAt(wm.Add(-25*time.Hour)), 1, decimal.NewFromInt(1)))
	require.NoError(t, aggregates.Add(ctx, bucketAt(wm.Add(-time.Hour)), 1, decimal.NewFromInt(1)))

	sweeper := NewSweeper(time.Minute, 24*time.Hour, aggregates, watermark)
	require.NoError(t, sweeper.Sweep(ctx))
	require.Equal(t, 1, aggregates.Len())

	// Re-running against already-swept state changes nothing.
	require.NoError(t, sweeper.Sweep(ctx))
	require.Equal(t, 1, aggregates.Len())
	require.Equal(t, StateIdle, sweeper.State())
}

func TestSweep_NoWatermarkIsNoOp(t *testing.T) {
	ctx := context.Background()
	aggregates := memory.NewAggregateStore()
	watermark := memory.NewWatermarkStore()

	// Old-looking bucket, but no watermark: wall clock must not matter.
	require.NoError(t, aggregates.Add(ctx, bucketAt(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)), 1, decimal.NewFromInt(1)))

	sweeper := NewSweeper(time.Minute, 24*time.Hour, aggregates, watermark)
	require.NoError(t, sweeper.Sweep(ctx))
	require.Equal(t, 1, aggregates.Len())
}

func TestSweep_MidMinuteWatermark(t *testing.T) {
	ctx := context.Background()
	aggregates := memory.NewAggregateStore()
	watermark := memory.NewWatermarkStore()

	// Watermark mid-minute: the cutoff truncates down, so the bucket more
	// than a window old goes, the one at window-minus-30s stays.
	wm := time.Date(2022, 3, 23, 12, 15, 30, 0, time.UTC)
	require.NoError(t, watermark.Advance(ctx, wm))

	older := time.Date(2022, 3, 22, 12, 15, 0, 0, time.UTC) // 24h30s old
	newer := time.Date(2022, 3, 22, 12, 16, 0, 0, time.UTC) // 23h59m30s old
	require.NoError(t, aggregates.Add(ctx, bucketAt(older), 1, decimal.NewFromInt(1)))
	require.NoError(t, aggregates.Add(ctx, bucketAt(newer), 1, decimal.NewFromInt(1)))

	sweeper := NewSweeper(time.Minute, 24*time.Hour, aggregates, watermark)
	require.NoError(t, sweeper.Sweep(ctx))

	rows, err := aggregates.Scan(ctx, older, newer.Add(time.Minute), aggregation.Filter{Action: v1.ActionView})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Key.Minute.Equal(newer))
}
