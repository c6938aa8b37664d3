package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	"github.com/tagsift-lab/tagsift/internal/core/aggregation"
	"github.com/tagsift-lab/tagsift/internal/core/storage"
)

func tagAt(cookie string, action v1.Action, ts time.Time, seq int) *v1.TagEvent {
	return &v1.TagEvent{
		EventID: fmt.Sprintf("%s-%s-%d", cookie, action, seq),
		Time:    v1.NewEventTime(ts),
		Cookie:  cookie,
		Action:  action,
		Origin:  "site-a",
		Product: v1.ProductInfo{
			ProductID:  "p-1",
			BrandID:    "brand-1",
			CategoryID: "cat-2",
			Price:      decimal.NewFromInt(10),
		},
	}
}

func TestProfileStore_BoundAndOrder(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStore()
	base := time.Date(2022, 3, 22, 12, 0, 0, 0, time.UTC)

	// Insert 201 events in timestamp order: the oldest must be evicted.
	for i := 0; i <= storage.ProfileLimit; i++ {
		require.NoError(t, store.Append(ctx, tagAt("u1", v1.ActionView, base.Add(time.Duration(i)*time.Second), i)))
	}

	tags, err := store.Get(ctx, "u1", v1.ActionView, v1.TimeRange{}, 0)
	require.NoError(t, err)
	require.Len(t, tags, storage.ProfileLimit)

	// Most-recent-first, and the oldest (seq 0) is gone.
	require.Equal(t, "u1-VIEW-200", tags[0].EventID)
	require.Equal(t, "u1-VIEW-1", tags[len(tags)-1].EventID)
}

func TestProfileStore_DuplicateEventID(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStore()
	tag := tagAt("u1", v1.ActionBuy, time.Date(2022, 3, 22, 12, 0, 0, 0, time.UTC), 1)

	require.NoError(t, store.Append(ctx, tag))
	require.ErrorIs(t, store.Append(ctx, tag), storage.ErrDuplicate)

	tags, err := store.Get(ctx, "u1", v1.ActionBuy, v1.TimeRange{}, 0)
	require.NoError(t, err)
	require.Len(t, tags, 1)
}

func TestProfileStore_TimeRangeAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewProfileStore()
	base := time.Date(2022, 3, 22, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Append(ctx, tagAt("u1", v1.ActionView, base.Add(time.Duration(i)*time.Minute), i)))
	}

	tags, err := store.Get(ctx, "u1", v1.ActionView,
		v1.TimeRange{From: base.Add(2 * time.Minute), To: base.Add(6 * time.Minute)}, 3)
	require.NoError(t, err)
	require.Len(t, tags, 3)
	require.Equal(t, "u1-VIEW-5", tags[0].EventID)
}

func TestAggregateStore_AddIsCommutative(t *testing.T) {
	ctx := context.Background()
	store := NewAggregateStore()
	key := aggregation.Key{
		Minute:     time.Date(2022, 3, 22, 12, 15, 0, 0, time.UTC),
		Action:     v1.ActionBuy,
		Origin:     "site-a",
		BrandID:    "brand-1",
		CategoryID: "cat-2",
	}

	// Concurrent adds from many goroutines must not lose increments.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Add(ctx, key, 1, decimal.NewFromInt(10))
		}()
	}
	wg.Wait()

	rows, err := store.Scan(ctx, key.Minute, key.Minute.Add(time.Minute), aggregation.Filter{Action: v1.ActionBuy})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(50), rows[0].Count)
	require.True(t, rows[0].SumPrice.Equal(decimal.NewFromInt(500)))
}

func TestAggregateStore_DeleteThrough(t *testing.T) {
	ctx := context.Background()
	store := NewAggregateStore()
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mk := func(minute time.Time) aggregation.Key {
		return aggregation.Key{Minute: minute, Action: v1.ActionView, Origin: "o", BrandID: "b", CategoryID: "c"}
	}

	require.NoError(t, store.Add(ctx, mk(cutoff.Add(-time.Minute)), 1, decimal.Zero))
	require.NoError(t, store.Add(ctx, mk(cutoff), 1, decimal.Zero))
	require.NoError(t, store.Add(ctx, mk(cutoff.Add(time.Minute)), 1, decimal.Zero))

	// Buckets at or before the cutoff are removed; newer ones survive.
	deleted, err := store.DeleteThrough(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)
	require.Equal(t, 1, store.Len())

	// Idempotent: a second sweep with no new data deletes nothing.
	deleted, err = store.DeleteThrough(ctx, cutoff)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestWatermarkStore_TakeMax(t *testing.T) {
	ctx := context.Background()
	store := NewWatermarkStore()
	newer := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	require.NoError(t, store.Advance(ctx, newer))
	// A stale batch must not regress the watermark.
	require.NoError(t, store.Advance(ctx, older))

	got, err := store.Read(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(newer))
}
