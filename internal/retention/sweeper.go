package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tagsift-lab/tagsift/internal/core/storage"
)

// State is the sweeper's current phase, readable while a sweep runs.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateDeleting
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateDeleting:
		return "deleting"
	default:
		return "idle"
	}
}

// Sweeper deletes aggregate buckets that have aged out of the retention
// window. The cutoff is anchored to the watermark — the newest event time
// seen by the pipeline — never to the wall clock, so a stalled pipeline
// stops aging data out instead of eating it.
type Sweeper struct {
	interval   time.Duration
	window     time.Duration
	aggregates storage.AggregateStore
	watermark  storage.WatermarkStore
	state      atomic.Int32
}

// State reports which phase the sweeper is in.
func (s *Sweeper) State() State {
	return State(s.state.Load())
}

// NewSweeper creates a periodic retention sweeper.
func NewSweeper(
	interval time.Duration,
	window time.Duration,
	aggregates storage.AggregateStore,
	watermark storage.WatermarkStore,
) *Sweeper {
	if aggregates == nil {
		panic("retention: aggregate store must not be nil")
	}
	if watermark == nil {
		panic("retention: watermark store must not be nil")
	}
	return &Sweeper{
		interval:   interval,
		window:     window,
		aggregates: aggregates,
		watermark:  watermark,
	}
}

// Start begins periodic sweeping. Runs until context is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Sweeper] Starting retention sweeper",
		"interval", s.interval,
		"window", s.window,
	)

	// Initial sweep so a restart doesn't wait a full interval to catch up.
	if err := s.Sweep(ctx); err != nil {
		slog.Error("[Sweeper] Initial sweep failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				slog.Error("[Sweeper] Sweep failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("[Sweeper] Stopping (context cancelled)")
			return nil
		}
	}
}

// Sweep runs one pass: snapshot the watermark, derive the cutoff, delete.
//
// The watermark is read once per pass. Events arriving mid-sweep can only
// raise it, and a higher watermark only widens what is deletable, so a
// stale snapshot errs toward keeping data. The delete itself removes
// buckets at or before the cutoff; a bucket exactly one window old is
// already expired. Re-running after a crash deletes nothing new, which is
// what makes the pass idempotent.
func (s *Sweeper) Sweep(ctx context.Context) error {
	s.state.Store(int32(StateScanning))
	defer s.state.Store(int32(StateIdle))

	wm, err := s.watermark.Read(ctx)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	if wm.IsZero() {
		// No events seen yet: nothing can be expired.
		slog.Debug("[Sweeper] No watermark yet, skipping sweep")
		return nil
	}

	cutoff := wm.Add(-s.window).Truncate(time.Minute)

	s.state.Store(int32(StateDeleting))
	deleted, err := s.aggregates.DeleteThrough(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete through %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if deleted > 0 {
		slog.Info("[Sweeper] Expired aggregate buckets deleted",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339),
			"watermark", wm.Format(time.RFC3339),
		)
	}
	return nil
}
