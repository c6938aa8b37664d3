package v1

import (
	"fmt"
	"strings"
	"time"
)

const (
	rangeFormatMillis  = "2006-01-02T15:04:05.000"
	rangeFormatSeconds = "2006-01-02T15:04:05"

	// MaxBucketRange bounds a single aggregates query.
	MaxBucketRange = 10 * time.Minute
)

// TimeRange is a half-open [From, To) interval. Both endpoints are UTC.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Contains reports whether t falls inside [From, To).
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Minutes returns the start of every 1-minute bucket covered by the range.
func (r TimeRange) Minutes() []time.Time {
	var starts []time.Time
	for m := r.From; m.Before(r.To); m = m.Add(time.Minute) {
		starts = append(starts, m)
	}
	return starts
}

func splitRange(s string) (string, string, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("time range %q must be two timestamps separated by '_'", s)
	}
	return parts[0], parts[1], nil
}

// ParseTimeRange parses the profile-query range format
// "2022-03-22T12:15:00.000_2022-03-22T12:30:00.000" (millisecond precision,
// seconds precision also accepted).
func ParseTimeRange(s string) (TimeRange, error) {
	fromStr, toStr, err := splitRange(s)
	if err != nil {
		return TimeRange{}, err
	}

	parse := func(v string) (time.Time, error) {
		if t, err := time.Parse(rangeFormatMillis, v); err == nil {
			return t.UTC(), nil
		}
		t, err := time.Parse(rangeFormatSeconds, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q in time range", v)
		}
		return t.UTC(), nil
	}

	from, err := parse(fromStr)
	if err != nil {
		return TimeRange{}, err
	}
	to, err := parse(toStr)
	if err != nil {
		return TimeRange{}, err
	}
	if from.After(to) {
		return TimeRange{}, fmt.Errorf("time range start %q is after end %q", fromStr, toStr)
	}
	return TimeRange{From: from, To: to}, nil
}

// ParseBucketRange parses the aggregates-query range format
// "2022-03-22T12:15:00_2022-03-22T12:30:00". Both endpoints must be whole
// minutes and the span must not exceed MaxBucketRange.
func ParseBucketRange(s string) (TimeRange, error) {
	fromStr, toStr, err := splitRange(s)
	if err != nil {
		return TimeRange{}, err
	}

	// time.Parse tolerates a fractional second the layout does not name,
	// so reject it up front: bucket endpoints are seconds precision only.
	if strings.Contains(fromStr, ".") || strings.Contains(toStr, ".") {
		return TimeRange{}, fmt.Errorf("bucket range endpoints must not carry fractional seconds")
	}

	from, err := time.Parse(rangeFormatSeconds, fromStr)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid bucket timestamp %q", fromStr)
	}
	to, err := time.Parse(rangeFormatSeconds, toStr)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid bucket timestamp %q", toStr)
	}
	from, to = from.UTC(), to.UTC()

	if from.Second() != 0 || to.Second() != 0 || from.Nanosecond() != 0 || to.Nanosecond() != 0 {
		return TimeRange{}, fmt.Errorf("bucket range endpoints must be whole minutes")
	}
	if from.After(to) {
		return TimeRange{}, fmt.Errorf("bucket range start %q is after end %q", fromStr, toStr)
	}
	if to.Sub(from) > MaxBucketRange {
		return TimeRange{}, fmt.Errorf("bucket range exceeds %s", MaxBucketRange)
	}
	return TimeRange{From: from, To: to}, nil
}

// FormatBucket renders a bucket start for query replies.
func FormatBucket(t time.Time) string {
	return t.UTC().Format(rangeFormatSeconds)
}
