package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WatermarkAdapter implements storage.WatermarkStore as a single row updated
// with GREATEST — the database serializes the take-max, so concurrent
// consumers can never move the watermark backwards.
type WatermarkAdapter struct {
	db *sql.DB
}

func NewWatermarkAdapter(db *sql.DB) *WatermarkAdapter {
	return &WatermarkAdapter{db: db}
}

func (a *WatermarkAdapter) Advance(ctx context.Context, ts time.Time) error {
	if _, err := a.db.ExecContext(ctx, queryAdvanceWatermark, ts.UTC()); err != nil {
		return fmt.Errorf("watermark advance: %w", err)
	}
	return nil
}

func (a *WatermarkAdapter) Read(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := a.db.QueryRowContext(ctx, queryReadWatermark).Scan(&ts)
	if err == sql.ErrNoRows {
		// No event ever ingested.
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("watermark read: %w", err)
	}
	return ts.UTC(), nil
}
