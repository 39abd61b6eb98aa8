// Package latency measures how long qualified responders take to answer.
package latency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeGROOVE-dev/groupwatch/internal/state"
)

// DefaultReplyWindow bounds the elapsed time a sample may record.
const DefaultReplyWindow = 30 * time.Minute

// MonthLayout is the year-month bucket format.
const MonthLayout = "2006-01"

// ErrInvalidMonth is returned for malformed year-month keys.
var ErrInvalidMonth = errors.New("invalid month")

// Sample is one measured reply.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	ID             string    `json:"id"`
	YearMonth      string    `json:"year_month"`
	ChannelID      string    `json:"channel_id"`
	ResponderID    string    `json:"responder_id"`
	ResponderName  string    `json:"responder_name"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// Responder identifies the sender of a message.
type Responder struct {
	ID     string
	Handle string
	Name   string
}

// Stats aggregates one responder's samples for a month.
type Stats struct {
	ResponderID    string  `json:"responder_id"`
	DisplayName    string  `json:"display_name"`
	AverageSeconds float64 `json:"average_seconds"`
	SampleCount    int     `json:"sample_count"`
}

// Tracker owns the unanswered-message markers and the sample log.
type Tracker struct {
	store     state.Store
	logger    *slog.Logger
	loc       *time.Location
	pending   map[string]time.Time // channel ID -> latest unanswered message
	samples   map[string][]Sample  // year-month -> samples
	loaded    map[string]bool      // year-month -> fetched from store
	window    time.Duration
	mu        sync.Mutex
	persistMu sync.Mutex
}

// Config holds Tracker settings.
type Config struct {
	Store       state.Store
	Logger      *slog.Logger
	Location    *time.Location
	ReplyWindow time.Duration
}

// New creates a tracker.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	window := cfg.ReplyWindow
	if window <= 0 {
		window = DefaultReplyWindow
	}
	store := cfg.Store
	if store == nil {
		store = state.NewMemoryStore()
	}
	return &Tracker{
		store:   store,
		logger:  logger.With("component", "latency"),
		loc:     loc,
		pending: make(map[string]time.Time),
		samples: make(map[string][]Sample),
		loaded:  make(map[string]bool),
		window:  window,
	}
}

// YearMonth returns the bucket key for t in the tracker's timezone.
func (t *Tracker) YearMonth(at time.Time) string {
	return at.In(t.loc).Format(MonthLayout)
}

// OnMessage advances the channel's reply state machine.
//
// A non-qualified sender (re)starts the wait. A qualified responder consumes
// the pending marker and yields a sample when the reply is within the window.
func (t *Tracker) OnMessage(channelID string, sender Responder, qualified bool, now time.Time) (Sample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !qualified {
		t.pending[channelID] = now
		return Sample{}, false
	}

	since, waiting := t.pending[channelID]
	if !waiting {
		return Sample{}, false
	}
	delete(t.pending, channelID)

	elapsed := now.Sub(since)
	if elapsed < 0 || elapsed > t.window {
		t.logger.Debug("reply outside window",
			"channel_id", channelID,
			"responder_id", sender.ID,
			"elapsed_seconds", elapsed.Seconds())
		return Sample{}, false
	}

	name := sender.Name
	if sender.Handle != "" {
		name = sender.Handle
	}

	return Sample{
		ID:             uuid.New().String(),
		Timestamp:      now,
		YearMonth:      t.YearMonth(now),
		ChannelID:      channelID,
		ResponderID:    sender.ID,
		ResponderName:  name,
		ElapsedSeconds: elapsed.Seconds(),
	}, true
}

// Awaiting reports whether channelID has an unanswered message.
func (t *Tracker) Awaiting(channelID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[channelID]
	return ok
}

// Forget drops the channel's pending marker.
func (t *Tracker) Forget(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, channelID)
}

// Record appends s to the log and persists its month bucket.
// The sample stays in memory even when persistence fails.
func (t *Tracker) Record(ctx context.Context, s Sample) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	loadErr := t.ensureLoaded(ctx, s.YearMonth)

	t.mu.Lock()
	t.samples[s.YearMonth] = append(t.samples[s.YearMonth], s)
	snapshot := slices.Clone(t.samples[s.YearMonth])
	t.mu.Unlock()

	if loadErr != nil {
		// Saving now would overwrite the stored bucket with a partial one.
		return fmt.Errorf("load month %s: %w", s.YearMonth, loadErr)
	}

	records, err := state.Encode(snapshot)
	if err != nil {
		return fmt.Errorf("encode samples: %w", err)
	}
	if err := t.store.SaveRecords(ctx, state.LatencyKind(s.YearMonth), records); err != nil {
		return fmt.Errorf("save samples: %w", err)
	}

	t.logger.Info("recorded reply latency",
		"channel_id", s.ChannelID,
		"responder_id", s.ResponderID,
		"elapsed_seconds", s.ElapsedSeconds,
		"year_month", s.YearMonth)
	return nil
}

// ensureLoaded merges the stored bucket for yearMonth into memory once.
// Caller must hold persistMu.
func (t *Tracker) ensureLoaded(ctx context.Context, yearMonth string) error {
	t.mu.Lock()
	done := t.loaded[yearMonth]
	t.mu.Unlock()
	if done {
		return nil
	}

	records, err := t.store.LoadRecords(ctx, state.LatencyKind(yearMonth))
	if err != nil {
		return err
	}
	stored, err := state.Decode[Sample](records)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(stored))
	for _, s := range stored {
		seen[s.ID] = true
	}
	for _, s := range t.samples[yearMonth] {
		if !seen[s.ID] {
			stored = append(stored, s)
		}
	}
	t.samples[yearMonth] = stored
	t.loaded[yearMonth] = true
	return nil
}

// Samples returns the samples recorded for yearMonth.
func (t *Tracker) Samples(ctx context.Context, yearMonth string) ([]Sample, error) {
	t.persistMu.Lock()
	err := t.ensureLoaded(ctx, yearMonth)
	t.persistMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("load month %s: %w", yearMonth, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.samples[yearMonth]), nil
}

// Aggregate ranks responders for yearMonth by average latency, fastest first,
// ties broken by more samples. A non-empty allow list excludes everyone not on
// it; entries match responder IDs or handles, case-insensitively, "@" optional.
func (t *Tracker) Aggregate(ctx context.Context, yearMonth string, allow []string) ([]Stats, error) {
	samples, err := t.Samples(ctx, yearMonth)
	if err != nil {
		return nil, err
	}
	return Aggregate(samples, allow), nil
}

// Aggregate ranks samples by responder. See Tracker.Aggregate.
func Aggregate(samples []Sample, allow []string) []Stats {
	allowed := make(map[string]bool, len(allow))
	for _, a := range allow {
		if a = NormalizeHandle(a); a != "" {
			allowed[a] = true
		}
	}

	type acc struct {
		name  string
		last  time.Time
		total float64
		count int
	}
	byResponder := make(map[string]*acc)
	var order []string

	for _, s := range samples {
		if len(allowed) > 0 && !allowed[NormalizeHandle(s.ResponderID)] && !allowed[NormalizeHandle(s.ResponderName)] {
			continue
		}
		a, ok := byResponder[s.ResponderID]
		if !ok {
			a = &acc{}
			byResponder[s.ResponderID] = a
			order = append(order, s.ResponderID)
		}
		a.total += s.ElapsedSeconds
		a.count++
		if !s.Timestamp.Before(a.last) {
			a.last = s.Timestamp
			a.name = s.ResponderName
		}
	}

	stats := make([]Stats, 0, len(order))
	for _, id := range order {
		a := byResponder[id]
		stats = append(stats, Stats{
			ResponderID:    id,
			DisplayName:    a.name,
			AverageSeconds: a.total / float64(a.count),
			SampleCount:    a.count,
		})
	}

	slices.SortStableFunc(stats, func(x, y Stats) int {
		switch {
		case x.AverageSeconds < y.AverageSeconds:
			return -1
		case x.AverageSeconds > y.AverageSeconds:
			return 1
		}
		return y.SampleCount - x.SampleCount
	})
	return stats
}

// NormalizeHandle lower-cases a handle and strips a leading "@".
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// ParseMonth validates a YYYY-MM bucket key.
func ParseMonth(s string) (string, error) {
	m, err := time.Parse(MonthLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w %q: want YYYY-MM", ErrInvalidMonth, s)
	}
	return m.Format(MonthLayout), nil
}

// PreviousMonth returns the bucket before the one containing at.
func (t *Tracker) PreviousMonth(at time.Time) string {
	local := at.In(t.loc)
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, t.loc)
	return first.AddDate(0, -1, 0).Format(MonthLayout)
}
