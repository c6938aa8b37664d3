// Package memory provides in-memory implementations of the store interfaces.
// Used by unit tests and for local development without PostgreSQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	"github.com/tagsift-lab/tagsift/internal/core/aggregation"
	"github.com/tagsift-lab/tagsift/internal/core/storage"
)

type profileKey struct {
	cookie string
	action v1.Action
}

// ProfileStore is an in-memory storage.ProfileStore.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[profileKey][]*v1.TagEvent // most-recent-first
	seen     map[profileKey]map[string]struct{}
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[profileKey][]*v1.TagEvent),
		seen:     make(map[profileKey]map[string]struct{}),
	}
}

func (s *ProfileStore) Append(_ context.Context, tag *v1.TagEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{cookie: tag.Cookie, action: tag.Action}

	if tag.EventID != "" {
		ids, ok := s.seen[key]
		if !ok {
			ids = make(map[string]struct{})
			s.seen[key] = ids
		}
		if _, dup := ids[tag.EventID]; dup {
			return storage.ErrDuplicate
		}
		ids[tag.EventID] = struct{}{}
	}

	history := append(s.profiles[key], tag)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Time.After(history[j].Time.Time)
	})
	if len(history) > storage.ProfileLimit {
		history = history[:storage.ProfileLimit]
	}
	s.profiles[key] = history
	return nil
}

func (s *ProfileStore) Get(
	_ context.Context,
	cookie string,
	action v1.Action,
	timeRange v1.TimeRange,
	limit int,
) ([]*v1.TagEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > storage.ProfileLimit {
		limit = storage.ProfileLimit
	}

	var result []*v1.TagEvent
	for _, tag := range s.profiles[profileKey{cookie: cookie, action: action}] {
		if !timeRange.IsZero() && !timeRange.Contains(tag.Time.Time) {
			continue
		}
		result = append(result, tag)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// AggregateStore is an in-memory storage.AggregateStore.
type AggregateStore struct {
	mu      sync.RWMutex
	buckets map[aggregation.Key]*aggregation.Row
}

func NewAggregateStore() *AggregateStore {
	return &AggregateStore{buckets: make(map[aggregation.Key]*aggregation.Row)}
}

func (s *AggregateStore) Add(
	_ context.Context,
	key aggregation.Key,
	deltaCount int64,
	deltaSum decimal.Decimal,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.buckets[key]
	if !ok {
		row = &aggregation.Row{Key: key, SumPrice: decimal.Zero}
		s.buckets[key] = row
	}
	row.Count += deltaCount
	row.SumPrice = row.SumPrice.Add(deltaSum)
	return nil
}

func (s *AggregateStore) Scan(
	_ context.Context,
	from, to time.Time,
	filter aggregation.Filter,
) ([]aggregation.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []aggregation.Row
	for key, row := range s.buckets {
		if key.Minute.Before(from) || !key.Minute.Before(to) {
			continue
		}
		if !filter.Match(key) {
			continue
		}
		result = append(result, *row)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.Minute.Before(result[j].Key.Minute)
	})
	return result, nil
}

func (s *AggregateStore) DeleteThrough(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key := range s.buckets {
		if !key.Minute.After(cutoff) {
			delete(s.buckets, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of live buckets. Test helper.
func (s *AggregateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

// WatermarkStore is an in-memory storage.WatermarkStore.
type WatermarkStore struct {
	mu sync.RWMutex
	ts time.Time
}

func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{}
}

func (s *WatermarkStore) Advance(_ context.Context, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.After(s.ts) {
		s.ts = ts.UTC()
	}
	return nil
}

func (s *WatermarkStore) Read(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ts, nil
}
