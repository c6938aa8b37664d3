package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	v1 "github.com/tagsift-lab/tagsift/internal/api/v1"
	"github.com/tagsift-lab/tagsift/internal/core/aggregation"
	coreerrors "github.com/tagsift-lab/tagsift/internal/core/errors"
	"github.com/tagsift-lab/tagsift/internal/core/storage"
)

// Engine applies one decoded tag to the read models: the per-minute
// aggregate counters, the bounded per-user profile, and the retention
// watermark. All three writes are individually idempotent-or-commutative,
// so redelivering a tag after a partial application converges to the same
// state (the aggregate delta is the one exception, documented on Apply).
type Engine struct {
	profiles   storage.ProfileStore
	aggregates storage.AggregateStore
	watermark  storage.WatermarkStore
	maxRetries uint64
	retryBase  time.Duration
}

// NewEngine wires the three stores behind the aggregation engine.
func NewEngine(
	profiles storage.ProfileStore,
	aggregates storage.AggregateStore,
	watermark storage.WatermarkStore,
	maxRetries uint64,
	retryBase time.Duration,
) *Engine {
	if profiles == nil {
		panic("consumer: profile store must not be nil")
	}
	if aggregates == nil {
		panic("consumer: aggregate store must not be nil")
	}
	if watermark == nil {
		panic("consumer: watermark store must not be nil")
	}
	if retryBase <= 0 {
		retryBase = 100 * time.Millisecond
	}
	return &Engine{
		profiles:   profiles,
		aggregates: aggregates,
		watermark:  watermark,
		maxRetries: maxRetries,
		retryBase:  retryBase,
	}
}

// Apply processes a single tag.
//
// A malformed tag returns a ValidationError: the caller drops it without
// mutating any state. A store failure is retried with exponential backoff
// up to maxRetries; if it is still failing the returned TransientError
// tells the caller to stop consuming its partition rather than skip the
// tag, preserving per-key ordering.
//
// The profile append deduplicates on event_id, so a redelivered tag hits
// ErrDuplicate and is counted as success. The aggregate increment has no
// such guard: a redelivery after the increment but before the ack
// over-counts that bucket by one delta. Bounded by the redelivery rate,
// and preferred over a read-modify-write that would lose concurrent
// updates.
func (e *Engine) Apply(ctx context.Context, tag *v1.TagEvent) error {
	if err := tag.Validate(); err != nil {
		slog.Warn("[Engine] Dropping malformed tag",
			"error", err,
			"event_id", tag.EventID,
			"cookie", tag.Cookie,
		)
		return coreerrors.NewValidation(err)
	}

	key := aggregation.KeyFor(tag)

	if err := e.withRetry(ctx, "aggregate add", func() error {
		return e.aggregates.Add(ctx, key, 1, tag.Product.Price)
	}); err != nil {
		return err
	}

	if err := e.withRetry(ctx, "profile append", func() error {
		err := e.profiles.Append(ctx, tag)
		if errors.Is(err, storage.ErrDuplicate) {
			slog.Debug("[Engine] Duplicate tag already in profile",
				"event_id", tag.EventID,
				"cookie", tag.Cookie,
			)
			return nil
		}
		return err
	}); err != nil {
		return err
	}

	if err := e.withRetry(ctx, "watermark advance", func() error {
		return e.watermark.Advance(ctx, tag.Time.Time)
	}); err != nil {
		return err
	}

	return nil
}

// ApplyBatch processes tags in arrival order. Validation failures are
// local: the bad tag is dropped and the rest of the batch still applies.
// A transient failure stops the batch at the failing tag so nothing after
// it is applied out of order.
func (e *Engine) ApplyBatch(ctx context.Context, tags []*v1.TagEvent) error {
	for _, tag := range tags {
		err := e.Apply(ctx, tag)
		if err == nil || coreerrors.IsValidation(err) {
			continue
		}
		return err
	}
	return nil
}

// withRetry runs op with exponential backoff. Exhausting the retry budget
// wraps the last error as transient so the caller halts instead of
// skipping.
func (e *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryBase

	err := backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(policy, e.maxRetries), ctx))
	if err == nil {
		return nil
	}

	slog.Error("[Engine] Store operation failed after retries",
		"operation", op,
		"error", err,
		"max_retries", e.maxRetries,
	)
	return coreerrors.NewTransient(op, err)
}
