package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/groupwatch/internal/duplicate"
	"github.com/codeGROOVE-dev/groupwatch/internal/escalation"
	"github.com/codeGROOVE-dev/groupwatch/internal/extract"
	"github.com/codeGROOVE-dev/groupwatch/internal/format"
	"github.com/codeGROOVE-dev/groupwatch/internal/latency"
)

const (
	lockIdleTimeout = 30 * time.Minute // Remove channel locks not used for this duration
)

// Sentinel errors surfaced to command callers.
var (
	ErrNotPrivileged      = errors.New("not privileged")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrNoEscalationTarget = errors.New("no escalation target configured")
)

// timedLock wraps a mutex with last-access tracking for cleanup.
type timedLock struct {
	lastUsed atomic.Int64 // unix nanos
	mu       sync.Mutex
}

// lockMap hands out one mutex per channel so messages of a channel are
// processed in arrival order.
type lockMap struct {
	locks sync.Map // channel ID -> *timedLock
}

func (lm *lockMap) get(key string, now time.Time) *sync.Mutex {
	val, _ := lm.locks.LoadOrStore(key, &timedLock{})
	tl := val.(*timedLock) //nolint:errcheck,forcetypeassert,revive // only *timedLock is stored
	tl.lastUsed.Store(now.UnixNano())
	return &tl.mu
}

func (lm *lockMap) cleanup(now time.Time, idleTimeout time.Duration) int {
	removed := 0
	lm.locks.Range(func(key, val any) bool {
		tl := val.(*timedLock) //nolint:errcheck,forcetypeassert,revive // only *timedLock is stored
		if now.Sub(time.Unix(0, tl.lastUsed.Load())) <= idleTimeout {
			return true
		}
		if tl.mu.TryLock() {
			tl.mu.Unlock()
			lm.locks.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Stats is a snapshot of the coordinator counters.
type Stats struct {
	Messages           int64 `json:"messages"`
	Escalations        int64 `json:"escalations"`
	EscalationsSkipped int64 `json:"escalations_skipped"`
	Duplicates         int64 `json:"duplicates"`
	Samples            int64 `json:"samples"`
	Panics             int64 `json:"panics"`
	ArmedChannels      int   `json:"armed_channels"`
	TrackedIdentifiers int   `json:"tracked_identifiers"`
}

// Coordinator sequences inbound messages through duplicate detection,
// latency tracking and escalation scheduling.
type Coordinator struct {
	notifier           Notifier
	registry           Registry
	duplicates         DuplicateDetector
	latency            LatencyTracker
	scheduler          *escalation.Scheduler
	clock              escalation.Clock
	logger             *slog.Logger
	transport          string
	reportAllow        []string
	channelLocks       lockMap
	messages           atomic.Int64
	escalations        atomic.Int64
	escalationsSkipped atomic.Int64
	duplicateAlerts    atomic.Int64
	samples            atomic.Int64
	panics             atomic.Int64
	forwardEscalations bool
	forwardDuplicates  bool
}

// CoordinatorConfig holds configuration for creating a coordinator.
type CoordinatorConfig struct {
	Notifier   Notifier
	Registry   Registry
	Duplicates DuplicateDetector
	Latency    LatencyTracker
	Clock      escalation.Clock
	Logger     *slog.Logger
	Transport  string
	// ReportAllow limits latency rankings to these responders. Empty means everyone.
	ReportAllow        []string
	EscalationDelay    time.Duration
	ForwardEscalations bool
	ForwardDuplicates  bool
}

// NewCoordinator creates a coordinator and its escalation scheduler.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = escalation.SystemClock{}
	}

	c := &Coordinator{
		notifier:           cfg.Notifier,
		registry:           cfg.Registry,
		duplicates:         cfg.Duplicates,
		latency:            cfg.Latency,
		clock:              clock,
		logger:             logger.With("transport", cfg.Transport),
		transport:          cfg.Transport,
		reportAllow:        cfg.ReportAllow,
		forwardEscalations: cfg.ForwardEscalations,
		forwardDuplicates:  cfg.ForwardDuplicates,
	}
	c.scheduler = escalation.New(escalation.Config{
		Clock:    clock,
		OnExpire: c.deliverEscalation,
		Paused:   cfg.Registry.IsChannelPaused,
		Logger:   logger,
		Delay:    cfg.EscalationDelay,
	})
	return c
}

// HandleMessage processes one inbound message. ctx must stay alive for as
// long as escalation timers armed by this message should run.
func (c *Coordinator) HandleMessage(ctx context.Context, msg Message) {
	if msg.Private || msg.ChannelID == "" {
		return
	}
	c.messages.Add(1)

	now := c.clock.Now()
	lock := c.channelLocks.get(msg.ChannelID, now)
	lock.Lock()
	defer lock.Unlock()

	c.registry.RememberTitle(msg.ChannelID, msg.ChannelTitle)

	// Alerts land in the target channel; watching it would echo them.
	if msg.ChannelID == c.registry.EscalationTarget() {
		return
	}

	c.guard(msg.ChannelID, "duplicate", func() {
		c.scanDuplicates(ctx, msg, now)
	})

	if msg.FromBot {
		return
	}

	qualified := c.registry.IsQualifiedResponder(msg.SenderID, msg.SenderHandle)

	c.guard(msg.ChannelID, "latency", func() {
		c.trackLatency(ctx, msg, qualified, now)
	})

	c.guard(msg.ChannelID, "escalation", func() {
		if qualified {
			c.scheduler.Disarm(msg.ChannelID)
			return
		}
		c.scheduler.Arm(ctx, msg.ChannelID, escalation.Trigger{
			ChannelTitle: msg.ChannelTitle,
			MessageID:    msg.ID,
			SenderID:     msg.SenderID,
			SenderHandle: msg.SenderHandle,
			SenderName:   msg.SenderName,
			Text:         msg.Text,
		})
	})
}

// guard runs fn, converting a panic into a log entry so the remaining
// components still see the message.
func (c *Coordinator) guard(channelID, component string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.panics.Add(1)
			c.logger.Error("component panicked",
				"channel_id", channelID,
				"component", component,
				"panic", r)
		}
	}()
	fn()
}

func (c *Coordinator) scanDuplicates(ctx context.Context, msg Message, now time.Time) {
	ids := extract.Identifiers(msg.Text)
	if len(ids) == 0 {
		return
	}

	events := c.duplicates.Observe(ids, duplicate.Sighting{
		At:           now,
		ChannelID:    msg.ChannelID,
		ChannelTitle: msg.ChannelTitle,
		MessageID:    msg.ID,
		Sender:       format.Sender(msg.SenderHandle, msg.SenderName),
		Snippet:      msg.Text,
	})

	target := c.registry.EscalationTarget()
	for _, ev := range events {
		if err := c.sendDuplicate(ctx, target, ev); err != nil {
			// Let a later sighting in this channel try again.
			c.duplicates.Retract(ev.Identifier, ev.Second.ChannelID)
			c.logger.Warn("failed to deliver duplicate warning",
				"channel_id", msg.ChannelID,
				"component", "duplicate",
				"identifier", ev.Identifier,
				"error", err)
		}
	}
}

func (c *Coordinator) sendDuplicate(ctx context.Context, target string, ev duplicate.Event) error {
	if target == "" {
		return ErrNoEscalationTarget
	}

	text := format.DuplicateWarning(format.DuplicateParams{
		Identifier: ev.Identifier,
		First: format.DuplicateSide{
			ChannelTitle: ev.First.ChannelTitle,
			Sender:       ev.First.Sender,
			Snippet:      ev.First.Snippet,
		},
		Second: format.DuplicateSide{
			ChannelTitle: ev.Second.ChannelTitle,
			Sender:       ev.Second.Sender,
			Snippet:      ev.Second.Snippet,
		},
	})
	if _, err := c.notifier.SendMessage(ctx, target, text); err != nil {
		return err
	}
	c.duplicateAlerts.Add(1)

	c.logger.Info("duplicate identifier reported",
		"identifier", ev.Identifier,
		"first_channel_id", ev.First.ChannelID,
		"channel_id", ev.Second.ChannelID)

	if c.forwardDuplicates && ev.Second.MessageID != "" {
		if err := c.notifier.ForwardMessage(ctx, target, ev.Second.ChannelID, ev.Second.MessageID); err != nil {
			c.logger.Warn("failed to forward duplicate message",
				"channel_id", ev.Second.ChannelID,
				"component", "duplicate",
				"error", err)
		}
	}
	return nil
}

func (c *Coordinator) trackLatency(ctx context.Context, msg Message, qualified bool, now time.Time) {
	sample, ok := c.latency.OnMessage(msg.ChannelID, latency.Responder{
		ID:     msg.SenderID,
		Handle: msg.SenderHandle,
		Name:   msg.SenderName,
	}, qualified, now)
	if !ok {
		return
	}
	c.samples.Add(1)

	c.logger.Info("reply recorded",
		"channel_id", msg.ChannelID,
		"responder_id", sample.ResponderID,
		"elapsed_seconds", sample.ElapsedSeconds)

	if err := c.latency.Record(ctx, sample); err != nil {
		c.logger.Error("failed to persist latency sample",
			"channel_id", msg.ChannelID,
			"component", "latency",
			"error", err)
	}
}

// deliverEscalation posts the alert for an expired timer. Failures are
// logged and dropped.
func (c *Coordinator) deliverEscalation(ctx context.Context, ev escalation.Event) {
	c.guard(ev.ChannelID, "escalation", func() {
		target := c.registry.EscalationTarget()
		if target == "" {
			c.escalationsSkipped.Add(1)
			c.logger.Warn("no escalation target configured, skipping alert", "channel_id", ev.ChannelID)
			return
		}

		text := format.EscalationAlert(format.AlertParams{
			ChannelTitle: ev.Trigger.ChannelTitle,
			SenderHandle: ev.Trigger.SenderHandle,
			SenderName:   ev.Trigger.SenderName,
			Text:         ev.Trigger.Text,
		})
		if _, err := c.notifier.SendMessage(ctx, target, text); err != nil {
			c.logger.Error("failed to send escalation",
				"channel_id", ev.ChannelID,
				"component", "escalation",
				"error", err)
			return
		}
		c.escalations.Add(1)

		if c.forwardEscalations && ev.Trigger.MessageID != "" {
			if err := c.notifier.ForwardMessage(ctx, target, ev.ChannelID, ev.Trigger.MessageID); err != nil {
				c.logger.Warn("failed to forward escalated message",
					"channel_id", ev.ChannelID,
					"component", "escalation",
					"error", err)
			}
		}
	})
}

// ChannelRemoved clears all per-channel state after the bot left a channel.
func (c *Coordinator) ChannelRemoved(ctx context.Context, channelID string) {
	lock := c.channelLocks.get(channelID, c.clock.Now())
	lock.Lock()
	defer lock.Unlock()

	c.scheduler.Disarm(channelID)
	c.latency.Forget(channelID)
	if err := c.registry.Forget(ctx, channelID); err != nil {
		c.logger.Warn("failed to update registry for removed channel", "channel_id", channelID, "error", err)
	}
	c.logger.Info("channel removed", "channel_id", channelID)
}

// Cleanup purges expired duplicate records and idle channel locks.
func (c *Coordinator) Cleanup(now time.Time) {
	purged := c.duplicates.Purge(now)
	locks := c.channelLocks.cleanup(now, lockIdleTimeout)
	if purged > 0 || locks > 0 {
		c.logger.Debug("cleanup complete", "identifiers_purged", purged, "locks_removed", locks)
	}
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Messages:           c.messages.Load(),
		Escalations:        c.escalations.Load(),
		EscalationsSkipped: c.escalationsSkipped.Load(),
		Duplicates:         c.duplicateAlerts.Load(),
		Samples:            c.samples.Load(),
		Panics:             c.panics.Load(),
		ArmedChannels:      c.scheduler.Pending(),
		TrackedIdentifiers: c.duplicates.Len(),
	}
}

// LatencyReport renders the ranking for yearMonth, limited to the configured
// allow-list.
func (c *Coordinator) LatencyReport(ctx context.Context, yearMonth string) (string, error) {
	stats, err := c.latency.Aggregate(ctx, yearMonth, c.reportAllow)
	if err != nil {
		return "", err
	}
	rows := make([]format.RankingRow, len(stats))
	for i, s := range stats {
		rows[i] = format.RankingRow{
			DisplayName:    s.DisplayName,
			AverageSeconds: s.AverageSeconds,
			SampleCount:    s.SampleCount,
		}
	}
	return format.LatencyRanking(yearMonth, rows), nil
}

// Stop disarms all escalation timers and waits for them to exit.
func (c *Coordinator) Stop() {
	c.scheduler.Stop()
}
