// Package state provides persistent record storage for the bot.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Record kinds used by the bot.
const (
	KindRegistry = "registry"
	KindReport   = "report"
)

// LatencyKind returns the record kind holding samples for a year-month bucket.
func LatencyKind(yearMonth string) string {
	return "latency-" + yearMonth
}

// Store persists opaque record lists by kind.
//
// SaveRecords replaces the whole list for a kind. LoadRecords of an unknown
// kind returns an empty list and no error.
type Store interface {
	LoadRecords(ctx context.Context, kind string) ([]json.RawMessage, error)
	SaveRecords(ctx context.Context, kind string, records []json.RawMessage) error
	Close() error
}

// recordList is the persisted value for one kind.
type recordList struct {
	UpdatedAt time.Time         `json:"updated_at"`
	Records   []json.RawMessage `json:"records"`
}

// Encode marshals values into raw records.
func Encode[T any](values []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(values))
	for i := range values {
		b, err := json.Marshal(values[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Decode unmarshals raw records into values.
func Decode[T any](records []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// retryableCtx wraps a persistence call with the standard retry policy.
func retryableCtx(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
}
