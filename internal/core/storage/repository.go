package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	"github.com/tagsift-lab/tagsift/internal/core/aggregation"
)

// ErrDuplicate is returned when a profile append hits an event_id that is
// already stored for that (cookie, action). Callers treat it as success —
// it is the idempotency guard for at-least-once queue delivery.
var ErrDuplicate = errors.New("event already exists")

// ProfileStore maintains per (cookie, action) a bounded, most-recent-first
// history of tags.
type ProfileStore interface {
	// Append inserts a tag into its (cookie, action) history and evicts the
	// oldest entry when the history already holds ProfileLimit tags.
	// Atomic from the caller's perspective: either the tag is in and the
	// bound holds, or nothing changed. Returns ErrDuplicate when the tag's
	// event_id was appended before.
	Append(ctx context.Context, tag *v1.TagEvent) error

	// Get returns up to limit tags for (cookie, action), most-recent-first,
	// restricted to timeRange when it is non-zero. A Get issued after a
	// successfully acknowledged Append for the same key observes it.
	Get(ctx context.Context, cookie string, action v1.Action, timeRange v1.TimeRange, limit int) ([]*v1.TagEvent, error)
}

// ProfileLimit is the bound on a single (cookie, action) history.
const ProfileLimit = 200

// AggregateStore maintains the per-minute additive counters.
type AggregateStore interface {
	// Add applies a delta to a bucket as a single atomic increment —
	// never read-then-write — so concurrent writers to the same key from
	// different partitions cannot lose an update.
	Add(ctx context.Context, key aggregation.Key, deltaCount int64, deltaSum decimal.Decimal) error

	// Scan returns the buckets with minute in [from, to) matching the
	// filter, ordered by minute. The access path is the minute index;
	// dimensions are filtered after the minute lookup.
	Scan(ctx context.Context, from, to time.Time, filter aggregation.Filter) ([]aggregation.Row, error)

	// DeleteThrough removes every bucket with minute <= cutoff and returns
	// how many were removed. Deleting an already-deleted bucket is a no-op,
	// which is what makes GC re-runnable after a crash mid-sweep.
	DeleteThrough(ctx context.Context, cutoff time.Time) (int64, error)
}

// WatermarkStore holds the single retention watermark: the maximum event
// timestamp observed so far.
type WatermarkStore interface {
	// Advance raises the watermark to ts if ts is newer. Take-max, not
	// overwrite — a replayed or out-of-order batch can never regress it.
	Advance(ctx context.Context, ts time.Time) error

	// Read returns the current watermark, or the zero time when no event
	// has ever been ingested.
	Read(ctx context.Context) (time.Time, error)
}
