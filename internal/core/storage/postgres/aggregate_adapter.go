package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	"github.com/tagsift-lab/tagsift/internal/core/aggregation"
)

// AggregateAdapter implements storage.AggregateStore on PostgreSQL. Adds are
// single-statement additive upserts — the same commutative-merge contract as
// a CRDT counter — so deltas from concurrent partitions never lose updates.
type AggregateAdapter struct {
	db *sql.DB
}

func NewAggregateAdapter(db *sql.DB) *AggregateAdapter {
	return &AggregateAdapter{db: db}
}

// Add applies (deltaCount, deltaSum) to the bucket in one atomic statement.
func (a *AggregateAdapter) Add(
	ctx context.Context,
	key aggregation.Key,
	deltaCount int64,
	deltaSum decimal.Decimal,
) error {
	_, err := a.db.ExecContext(ctx, queryAddAggregate,
		key.Minute.UTC(),
		string(key.Action),
		key.Origin,
		key.BrandID,
		key.CategoryID,
		deltaCount,
		deltaSum,
	)
	if err != nil {
		return fmt.Errorf("aggregate add %s/%s: %w", key.Action, key.Minute.Format(time.RFC3339), err)
	}
	return nil
}

// Scan returns buckets with minute in [from, to) matching the filter,
// ordered by minute. The query walks the minute index only.
func (a *AggregateAdapter) Scan(
	ctx context.Context,
	from, to time.Time,
	filter aggregation.Filter,
) ([]aggregation.Row, error) {
	rows, err := a.db.QueryContext(ctx, queryScanAggregates,
		from.UTC(),
		to.UTC(),
		string(filter.Action),
		nullable(filter.Origin),
		nullable(filter.BrandID),
		nullable(filter.CategoryID),
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate scan: %w", err)
	}
	defer rows.Close()

	var result []aggregation.Row
	for rows.Next() {
		var (
			row    aggregation.Row
			action string
			sumStr string
		)
		if err := rows.Scan(
			&row.Key.Minute,
			&action,
			&row.Key.Origin,
			&row.Key.BrandID,
			&row.Key.CategoryID,
			&row.Count,
			&sumStr,
		); err != nil {
			return nil, fmt.Errorf("aggregate scan: scan row: %w", err)
		}
		row.Key.Action = v1.Action(action)
		row.Key.Minute = row.Key.Minute.UTC()

		sum, err := decimal.NewFromString(sumStr)
		if err != nil {
			return nil, fmt.Errorf("aggregate scan: parse sum_price %q: %w", sumStr, err)
		}
		row.SumPrice = sum
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate scan: iterate rows: %w", err)
	}
	return result, nil
}

// DeleteThrough removes every bucket with minute <= cutoff. Missing buckets
// simply do not match — re-running after a crash deletes nothing and errors
// on nothing.
func (a *AggregateAdapter) DeleteThrough(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, queryDeleteAggregatesThrough, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("aggregate delete: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("aggregate delete: rows affected: %w", err)
	}
	return deleted, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
