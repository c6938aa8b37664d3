package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	"github.com/tagsift-lab/tagsift/internal/core/aggregation"
	coreerrors "github.com/tagsift-lab/tagsift/internal/core/errors"
	"github.com/tagsift-lab/tagsift/internal/core/storage"
)

// Metric names a requested aggregate column.
type Metric string

const (
	MetricCount    Metric = "COUNT"
	MetricSumPrice Metric = "SUM_PRICE"
)

// ParseMetric converts the wire representation into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCount:
		return MetricCount, nil
	case MetricSumPrice:
		return MetricSumPrice, nil
	default:
		return "", fmt.Errorf("unknown aggregate %q (want COUNT or SUM_PRICE)", s)
	}
}

// AggregatesRequest is a validated aggregate query: a bucket range of at
// most ten minutes, a mandatory action, and optional dimension filters.
type AggregatesRequest struct {
	Range      v1.TimeRange
	Action     v1.Action
	Origin     *string
	BrandID    *string
	CategoryID *string
	Metrics    []Metric
}

// Totals is the fold of every returned bucket.
type Totals struct {
	Count    int64           `json:"count"`
	SumPrice decimal.Decimal `json:"sum_price"`
}

// AggregatesResponse renders one row per 1-minute bucket. Columns list the
// bucket start, the filtered dimensions, then the requested metrics; every
// cell is a string. Partial is set when the time budget expired before all
// buckets were scanned — the rows present are complete, later ones are
// missing.
type AggregatesResponse struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Totals  Totals     `json:"totals"`
	Partial bool       `json:"partial,omitempty"`
}

// ProfileResponse is the bounded per-cookie history, most recent first.
type ProfileResponse struct {
	Cookie string         `json:"cookie"`
	Views  []*v1.TagEvent `json:"views"`
	Buys   []*v1.TagEvent `json:"buys"`
}

// Service is the read path over the aggregate and profile stores. Every
// query runs under a server-side time budget; an aggregate query that
// outlives it returns what it has plus ErrQueryTimeout, so an empty answer
// is never mistaken for a timed-out one.
type Service struct {
	profiles        storage.ProfileStore
	aggregates      storage.AggregateStore
	budget          time.Duration
	scanConcurrency int
}

func NewService(profiles storage.ProfileStore, aggregates storage.AggregateStore, budget time.Duration, scanConcurrency int) *Service {
	if profiles == nil {
		panic("query: profile store must not be nil")
	}
	if aggregates == nil {
		panic("query: aggregate store must not be nil")
	}
	if budget <= 0 {
		budget = time.Minute
	}
	if scanConcurrency <= 0 {
		scanConcurrency = 1
	}
	return &Service{
		profiles:        profiles,
		aggregates:      aggregates,
		budget:          budget,
		scanConcurrency: scanConcurrency,
	}
}

// bucketFold is one minute's fold. done distinguishes a scanned-and-empty
// bucket from one the budget cut off.
type bucketFold struct {
	count int64
	sum   decimal.Decimal
	done  bool
}

// GetAggregates scans every minute of the requested range concurrently and
// folds the matching buckets. Buckets with no matching tags still produce
// a row of zeros.
func (s *Service) GetAggregates(ctx context.Context, req AggregatesRequest) (*AggregatesResponse, error) {
	if len(req.Metrics) == 0 {
		req.Metrics = []Metric{MetricCount, MetricSumPrice}
	}

	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	filter := aggregation.Filter{
		Action:     req.Action,
		Origin:     req.Origin,
		BrandID:    req.BrandID,
		CategoryID: req.CategoryID,
	}

	minutes := req.Range.Minutes()
	folds := make([]bucketFold, len(minutes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.scanConcurrency)
	for i, minute := range minutes {
		g.Go(func() error {
			rows, err := s.aggregates.Scan(gctx, minute, minute.Add(time.Minute), filter)
			if err != nil {
				return err
			}
			fold := bucketFold{sum: decimal.Zero, done: true}
			for _, row := range rows {
				fold.count += row.Count
				fold.sum = fold.sum.Add(row.SumPrice)
			}
			folds[i] = fold
			return nil
		})
	}

	err := g.Wait()
	partial := false
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		partial = true
		slog.Warn("[Query] Aggregate query exceeded budget, returning partial result",
			"budget", s.budget,
			"buckets", len(minutes),
		)
	default:
		return nil, fmt.Errorf("scan aggregates: %w", err)
	}

	resp := s.render(req, minutes, folds, partial)
	if partial {
		return resp, coreerrors.ErrQueryTimeout
	}
	return resp, nil
}

func (s *Service) render(req AggregatesRequest, minutes []time.Time, folds []bucketFold, partial bool) *AggregatesResponse {
	columns := []string{"1m_bucket", "action"}
	if req.Origin != nil {
		columns = append(columns, "origin")
	}
	if req.BrandID != nil {
		columns = append(columns, "brand_id")
	}
	if req.CategoryID != nil {
		columns = append(columns, "category_id")
	}
	for _, m := range req.Metrics {
		switch m {
		case MetricCount:
			columns = append(columns, "count")
		case MetricSumPrice:
			columns = append(columns, "sum_price")
		}
	}

	resp := &AggregatesResponse{
		Columns: columns,
		Rows:    make([][]string, 0, len(minutes)),
		Totals:  Totals{SumPrice: decimal.Zero},
		Partial: partial,
	}

	for i, minute := range minutes {
		fold := folds[i]
		if !fold.done {
			continue
		}

		row := []string{v1.FormatBucket(minute), req.Action.String()}
		if req.Origin != nil {
			row = append(row, *req.Origin)
		}
		if req.BrandID != nil {
			row = append(row, *req.BrandID)
		}
		if req.CategoryID != nil {
			row = append(row, *req.CategoryID)
		}
		for _, m := range req.Metrics {
			switch m {
			case MetricCount:
				row = append(row, strconv.FormatInt(fold.count, 10))
			case MetricSumPrice:
				row = append(row, fold.sum.String())
			}
		}
		resp.Rows = append(resp.Rows, row)

		resp.Totals.Count += fold.count
		resp.Totals.SumPrice = resp.Totals.SumPrice.Add(fold.sum)
	}

	return resp
}

// GetProfile returns the VIEW and BUY histories for one cookie, each most
// recent first and bounded by limit.
func (s *Service) GetProfile(ctx context.Context, cookie string, timeRange v1.TimeRange, limit int) (*ProfileResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	views, err := s.profiles.Get(ctx, cookie, v1.ActionView, timeRange, limit)
	if err != nil {
		return nil, fmt.Errorf("get views for %s: %w", cookie, err)
	}
	buys, err := s.profiles.Get(ctx, cookie, v1.ActionBuy, timeRange, limit)
	if err != nil {
		return nil, fmt.Errorf("get buys for %s: %w", cookie, err)
	}

	// Empty lists render as [], not null.
	if views == nil {
		views = []*v1.TagEvent{}
	}
	if buys == nil {
		buys = []*v1.TagEvent{}
	}

	return &ProfileResponse{Cookie: cookie, Views: views, Buys: buys}, nil
}
