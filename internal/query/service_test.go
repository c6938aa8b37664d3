package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	"github.com/tagsift-lab/tagsift/internal/core/aggregation"
	coreerrors "github.com/tagsift-lab/tagsift/internal/core/errors"
	"github.com/tagsift-lab/tagsift/internal/core/storage"
	"github.com/tagsift-lab/tagsift/internal/core/storage/memory"
)

func seedTag(seq int, ts time.Time, action v1.Action, price int64) *v1.TagEvent {
	return &v1.TagEvent{
		EventID: fmt.Sprintf("evt-%d", seq),
		Time:    v1.NewEventTime(ts),
		Cookie:  "cookie-1",
		Action:  action,
		Origin:  "site-a",
		Product: v1.ProductInfo{
			ProductID:  "p-1",
			BrandID:    "brand-1",
			CategoryID: "cat-2",
			Price:      decimal.NewFromInt(price),
		},
	}
}

func seedStores(t *testing.T) (*memory.ProfileStore, *memory.AggregateStore) {
	t.Helper()
	ctx := context.Background()
	profiles := memory.NewProfileStore()
	aggregates := memory.NewAggregateStore()

	// Three buys at 12:15, one at 12:17.
	base := time.Date(2022, 3, 22, 12, 15, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tag := seedTag(i, base.Add(time.Duration(i)*time.Second), v1.ActionBuy, 10)
		require.NoError(t, profiles.Append(ctx, tag))
		require.NoError(t, aggregates.Add(ctx, aggregation.KeyFor(tag), 1, tag.Product.Price))
	}
	late := seedTag(3, base.Add(2*time.Minute), v1.ActionBuy, 5)
	require.NoError(t, profiles.Append(ctx, late))
	require.NoError(t, aggregates.Add(ctx, aggregation.KeyFor(late), 1, late.Product.Price))

	return profiles, aggregates
}

func TestGetAggregates_FoldsBuckets(t *testing.T) {
	profiles, aggregates := seedStores(t)
	svc := NewService(profiles, aggregates, time.Minute, 4)

	origin := "site-a"
	resp, err := svc.GetAggregates(context.Background(), AggregatesRequest{
		Range: v1.TimeRange{
			From: time.Date(2022, 3, 22, 12, 15, 0, 0, time.UTC),
			To:   time.Date(2022, 3, 22, 12, 18, 0, 0, time.UTC),
		},
		Action:  v1.ActionBuy,
		Origin:  &origin,
		Metrics: []Metric{MetricCount, MetricSumPrice},
	})
	require.NoError(t, err)
	require.False(t, resp.Partial)

	require.Equal(t, []string{"1m_bucket", "action", "origin", "count", "sum_price"}, resp.Columns)
	require.Equal(t, [][]string{
		{"2022-03-22T12:15:00", "BUY", "site-a", "3", "30"},
		{"2022-03-22T12:16:00", "BUY", "site-a", "0", "0"},
		{"2022-03-22T12:17:00", "BUY", "site-a", "1", "5"},
	}, resp.Rows)

	require.Equal(t, int64(4), resp.Totals.Count)
	require.True(t, resp.Totals.SumPrice.Equal(decimal.NewFromInt(35)))
}

func TestGetAggregates_ZeroResultIsNotTimeout(t *testing.T) {
	profiles, aggregates := seedStores(t)
	svc := NewService(profiles, aggregates, time.Minute, 4)

	// A range with no matching buckets: clean zeros, no error.
	resp, err := svc.GetAggregates(context.Background(), AggregatesRequest{
		Range: v1.TimeRange{
			From: time.Date(2022, 3, 22, 9, 0, 0, 0, time.UTC),
			To:   time.Date(2022, 3, 22, 9, 2, 0, 0, time.UTC),
		},
		Action:  v1.ActionView,
		Metrics: []Metric{MetricCount},
	})
	require.NoError(t, err)
	require.False(t, resp.Partial)
	require.Len(t, resp.Rows, 2)
	require.Zero(t, resp.Totals.Count)
}

// stallStore blocks every Scan until its context expires.
type stallStore struct {
	storage.AggregateStore
}

func (s *stallStore) Scan(ctx context.Context, from, to time.Time, filter aggregation.Filter) ([]aggregation.Row, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGetAggregates_BudgetExpiryReturnsPartial(t *testing.T) {
	svc := NewService(memory.NewProfileStore(), &stallStore{}, 20*time.Millisecond, 4)

	resp, err := svc.GetAggregates(context.Background(), AggregatesRequest{
		Range: v1.TimeRange{
			From: time.Date(2022, 3, 22, 12, 15, 0, 0, time.UTC),
			To:   time.Date(2022, 3, 22, 12, 18, 0, 0, time.UTC),
		},
		Action: v1.ActionBuy,
	})
	require.ErrorIs(t, err, coreerrors.ErrQueryTimeout)
	require.NotNil(t, resp)
	require.True(t, resp.Partial)
	require.Empty(t, resp.Rows) // nothing completed before the budget ran out
}

func TestGetProfile_SplitsActionsMostRecentFirst(t *testing.T) {
	profiles, aggregates := seedStores(t)
	ctx := context.Background()
	view := seedTag(10, time.Date(2022, 3, 22, 12, 16, 0, 0, time.UTC), v1.ActionView, 3)
	require.NoError(t, profiles.Append(ctx, view))

	svc := NewService(profiles, aggregates, time.Minute, 4)

	resp, err := svc.GetProfile(ctx, "cookie-1", v1.TimeRange{}, 0)
	require.NoError(t, err)
	require.Equal(t, "cookie-1", resp.Cookie)
	require.Len(t, resp.Views, 1)
	require.Len(t, resp.Buys, 4)
	require.Equal(t, "evt-3", resp.Buys[0].EventID) // 12:17 buy first
}

func TestGetProfile_TimeRangeAndLimit(t *testing.T) {
	profiles, aggregates := seedStores(t)
	svc := NewService(profiles, aggregates, time.Minute, 4)

	// Only the 12:15 minute, capped to two tags.
	resp, err := svc.GetProfile(context.Background(), "cookie-1", v1.TimeRange{
		From: time.Date(2022, 3, 22, 12, 15, 0, 0, time.UTC),
		To:   time.Date(2022, 3, 22, 12, 16, 0, 0, time.UTC),
	}, 2)
	require.NoError(t, err)
	require.Len(t, resp.Buys, 2)
	require.Equal(t, "evt-2", resp.Buys[0].EventID)
	require.Empty(t, resp.Views)
}

func TestGetProfile_UnknownCookieIsEmptyLists(t *testing.T) {
	profiles, aggregates := seedStores(t)
	svc := NewService(profiles, aggregates, time.Minute, 4)

	resp, err := svc.GetProfile(context.Background(), "nobody", v1.TimeRange{}, 0)
	require.NoError(t, err)
	require.NotNil(t, resp.Views)
	require.NotNil(t, resp.Buys)
	require.Empty(t, resp.Views)
	require.Empty(t, resp.Buys)
}
