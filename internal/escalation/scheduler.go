// Package escalation schedules a debounced alert per channel.
//
// Every non-qualified message re-arms the channel's timer; only silence of
// the full delay after the last such message fires the alert.
package escalation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/groupwatch/internal/format"
)

const (
	// DefaultDelay matches the historical ALERT_DELAY_SECONDS default.
	DefaultDelay = 120 * time.Second

	// MaxTextLength bounds the message text snapshotted at arm time.
	MaxTextLength = 1000
)

// Trigger is the snapshot of the message that armed a channel.
type Trigger struct {
	ChannelTitle string `json:"channel_title"`
	MessageID    string `json:"message_id"`
	SenderID     string `json:"sender_id"`
	SenderHandle string `json:"sender_handle"`
	SenderName   string `json:"sender_name"`
	Text         string `json:"text"`
}

// Event is emitted once per natural expiry.
type Event struct {
	ArmedAt   time.Time `json:"armed_at"`
	FiredAt   time.Time `json:"fired_at"`
	ChannelID string    `json:"channel_id"`
	Trigger   Trigger   `json:"trigger"`
}

// Handler receives expired escalations. It runs on the timer goroutine.
type Handler func(ctx context.Context, ev Event)

type pending struct {
	armedAt    time.Time
	timer      Timer
	cancel     chan struct{}
	trigger    Trigger
	generation uint64
}

// Scheduler owns one pending escalation per channel.
type Scheduler struct {
	clock      Clock
	onExpire   Handler
	paused     func(channelID string) bool
	logger     *slog.Logger
	pending    map[string]*pending
	delay      time.Duration
	generation uint64
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// Config holds Scheduler settings.
type Config struct {
	Clock    Clock
	OnExpire Handler
	// Paused reports channels that must not be armed. Optional.
	Paused func(channelID string) bool
	Logger *slog.Logger
	Delay  time.Duration
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	onExpire := cfg.OnExpire
	if onExpire == nil {
		onExpire = func(context.Context, Event) {}
	}
	return &Scheduler{
		clock:    clock,
		onExpire: onExpire,
		paused:   cfg.Paused,
		logger:   logger.With("component", "escalation"),
		pending:  make(map[string]*pending),
		delay:    delay,
	}
}

// Delay returns the configured debounce delay.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Arm cancels any pending escalation for channelID and starts a new one.
// Paused channels are disarmed instead. Returns whether a timer was started.
// The timer goroutine exits when ctx is done.
func (s *Scheduler) Arm(ctx context.Context, channelID string, trigger Trigger) bool {
	if s.paused != nil && s.paused(channelID) {
		s.Disarm(channelID)
		return false
	}

	trigger.Text = format.Truncate(trigger.Text, MaxTextLength)

	s.mu.Lock()
	s.disarmLocked(channelID)

	s.generation++
	p := &pending{
		armedAt:    s.clock.Now(),
		timer:      s.clock.NewTimer(s.delay),
		cancel:     make(chan struct{}),
		trigger:    trigger,
		generation: s.generation,
	}
	s.pending[channelID] = p
	s.mu.Unlock()

	s.wg.Go(func() {
		s.wait(ctx, channelID, p)
	})

	s.logger.Debug("escalation armed",
		"channel_id", channelID,
		"generation", p.generation,
		"delay", s.delay)
	return true
}

func (s *Scheduler) wait(ctx context.Context, channelID string, p *pending) {
	select {
	case <-p.timer.C():
	case <-p.cancel:
		return
	case <-ctx.Done():
		s.mu.Lock()
		if cur := s.pending[channelID]; cur != nil && cur.generation == p.generation {
			delete(s.pending, channelID)
		}
		s.mu.Unlock()
		p.timer.Stop()
		return
	}

	// Whoever removes the entry first wins; a racing Disarm or re-Arm leaves
	// a different (or no) entry behind and this wakeup does nothing.
	s.mu.Lock()
	cur := s.pending[channelID]
	if cur == nil || cur.generation != p.generation {
		s.mu.Unlock()
		return
	}
	delete(s.pending, channelID)
	s.mu.Unlock()

	ev := Event{
		ArmedAt:   p.armedAt,
		FiredAt:   s.clock.Now(),
		ChannelID: channelID,
		Trigger:   p.trigger,
	}

	s.logger.Info("escalation fired",
		"channel_id", channelID,
		"generation", p.generation,
		"armed_at", p.armedAt)

	s.onExpire(ctx, ev)
}

// Disarm cancels the pending escalation for channelID, if any.
func (s *Scheduler) Disarm(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disarmLocked(channelID)
}

func (s *Scheduler) disarmLocked(channelID string) bool {
	p, ok := s.pending[channelID]
	if !ok {
		return false
	}
	delete(s.pending, channelID)
	p.timer.Stop()
	close(p.cancel)
	s.logger.Debug("escalation disarmed", "channel_id", channelID, "generation", p.generation)
	return true
}

// Armed reports whether channelID has a pending escalation.
func (s *Scheduler) Armed(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[channelID]
	return ok
}

// Pending returns the number of armed channels.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop disarms every channel and waits for timer goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id := range s.pending {
		s.disarmLocked(id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
