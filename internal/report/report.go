// Package report posts the monthly reply-time ranking to the escalation target.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/groupwatch/internal/latency"
	"github.com/codeGROOVE-dev/groupwatch/internal/state"
)

const (
	// WindowStartHour is when the report for the previous month may go out
	// (local time, first day of the month).
	WindowStartHour = 9

	// historyLimit bounds the persisted send log.
	historyLimit = 24
)

// ErrNoTarget is returned when no escalation target is configured.
var ErrNoTarget = errors.New("no escalation target configured")

// Ranker renders the ranking for a month.
type Ranker interface {
	LatencyReport(ctx context.Context, yearMonth string) (string, error)
}

// Notifier sends the rendered report.
type Notifier interface {
	SendMessage(ctx context.Context, channelID, text string) (messageID string, err error)
}

// sentReport is one persisted send.
type sentReport struct {
	SentAt    time.Time `json:"sent_at"`
	Month     string    `json:"month"`
	ChannelID string    `json:"channel_id"`
}

// Config holds Sender settings.
type Config struct {
	Store    state.Store
	Ranker   Ranker
	Notifier Notifier
	Target   func() string
	Location *time.Location
	Logger   *slog.Logger
}

// Sender decides when the monthly report is due and delivers it once.
type Sender struct {
	store    state.Store
	ranker   Ranker
	notifier Notifier
	target   func() string
	loc      *time.Location
	logger   *slog.Logger
	history  []sentReport
	loaded   bool
	mu       sync.Mutex
}

// NewSender creates a monthly report sender.
func NewSender(cfg Config) *Sender {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Sender{
		store:    cfg.Store,
		ranker:   cfg.Ranker,
		notifier: cfg.Notifier,
		target:   cfg.Target,
		loc:      loc,
		logger:   logger.With("component", "report"),
	}
}

// DueMonth returns the month whose report should be sent at now, if any.
// The previous month is due from the 1st at WindowStartHour until it has
// been sent, so a process that was down on the 1st catches up later.
func (s *Sender) DueMonth(ctx context.Context, now time.Time) (string, bool, error) {
	local := now.In(s.loc)
	windowStart := time.Date(local.Year(), local.Month(), 1, WindowStartHour, 0, 0, 0, s.loc)
	if local.Before(windowStart) {
		return "", false, nil
	}
	month := windowStart.AddDate(0, -1, 0).Format(latency.MonthLayout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return "", false, err
	}
	for _, r := range s.history {
		if r.Month == month {
			return "", false, nil
		}
	}
	return month, true, nil
}

func (s *Sender) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	records, err := s.store.LoadRecords(ctx, state.KindReport)
	if err != nil {
		return fmt.Errorf("load report history: %w", err)
	}
	history, err := state.Decode[sentReport](records)
	if err != nil {
		return fmt.Errorf("decode report history: %w", err)
	}
	s.history = history
	s.loaded = true
	return nil
}

// Send delivers the ranking for month to the escalation target and records it.
func (s *Sender) Send(ctx context.Context, month string) error {
	target := s.target()
	if target == "" {
		return ErrNoTarget
	}

	text, err := s.ranker.LatencyReport(ctx, month)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	if _, err := s.notifier.SendMessage(ctx, target, text); err != nil {
		return fmt.Errorf("send report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("sent monthly report", "month", month, "channel_id", target)

	// The report already went out; persistence failures below may cause one
	// repeat after a restart and are only logged.
	loadErr := s.loadLocked(ctx)
	s.history = append(s.history, sentReport{SentAt: time.Now(), Month: month, ChannelID: target})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	if loadErr != nil {
		s.logger.Warn("not saving report history", "month", month, "error", loadErr)
		return nil
	}
	records, err := state.Encode(s.history)
	if err != nil {
		s.logger.Warn("failed to encode report history", "error", err)
		return nil
	}
	if err := s.store.SaveRecords(ctx, state.KindReport, records); err != nil {
		s.logger.Warn("failed to record report send", "month", month, "error", err)
	}
	return nil
}

// Check sends the report if one is due at now.
func (s *Sender) Check(ctx context.Context, now time.Time) error {
	month, due, err := s.DueMonth(ctx, now)
	if err != nil || !due {
		return err
	}
	return s.Send(ctx, month)
}
