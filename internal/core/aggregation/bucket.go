package aggregation

import (
	"time"

	"github.com/shopspring/decimal"
	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
)

// Key uniquely identifies an aggregate bucket: one minute of one
// action/origin/brand/category combination. The origin×brand×category space is
// combinatorial (~16.75M), but at most 60k distinct keys are live per minute,
// so storage indexes the minute alone and filters dimensions at scan time.
type Key struct {
	Minute     time.Time // truncated to the start of its minute, UTC
	Action     v1.Action
	Origin     string
	BrandID    string
	CategoryID string
}

// MinuteOf truncates a timestamp to the start of its minute.
// This is the atomic unit of aggregation storage.
// Example: MinuteOf(10:35:42) → 10:35:00
func MinuteOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// KeyFor derives the bucket key of a tag. Pure and deterministic: the same
// event always lands in the same bucket, which is what makes replayed deltas
// land on the same row.
func KeyFor(tag *v1.TagEvent) Key {
	return Key{
		Minute:     MinuteOf(tag.Time.Time),
		Action:     tag.Action,
		Origin:     tag.Origin,
		BrandID:    tag.Product.BrandID,
		CategoryID: tag.Product.CategoryID,
	}
}

// Row is one materialized bucket: the additive counters for a Key.
type Row struct {
	Key      Key
	Count    int64
	SumPrice decimal.Decimal
}

// Filter selects buckets within a scan. Action is always required; the
// dimension fields are optional — nil means "any value".
type Filter struct {
	Action     v1.Action
	Origin     *string
	BrandID    *string
	CategoryID *string
}

// Match reports whether a key satisfies the filter.
func (f Filter) Match(k Key) bool {
	if k.Action != f.Action {
		return false
	}
	if f.Origin != nil && k.Origin != *f.Origin {
		return false
	}
	if f.BrandID != nil && k.BrandID != *f.BrandID {
		return false
	}
	if f.CategoryID != nil && k.CategoryID != *f.CategoryID {
		return false
	}
	return true
}
