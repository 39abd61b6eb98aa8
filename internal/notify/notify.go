// Package notify delivers outbound alerts through the active chat transport.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"
)

const (
	// DefaultRate stays under the per-chat limits of both Telegram and Discord.
	DefaultRate  = 1.0
	defaultBurst = 3
)

// ErrNoTarget is returned when a delivery has no destination channel.
var ErrNoTarget = errors.New("no target channel")

// Sender is the transport primitive set used for outbound delivery.
type Sender interface {
	SendMessage(ctx context.Context, channelID, text string) (messageID string, err error)
	ForwardMessage(ctx context.Context, channelID, fromChannelID, messageID string) error
}

// Stats is a snapshot of delivery counters.
type Stats struct {
	Sent      int64 `json:"sent"`
	Forwarded int64 `json:"forwarded"`
	Failed    int64 `json:"failed"`
}

// Manager throttles and counts outbound messages.
type Manager struct {
	sender    Sender
	limiter   *rate.Limiter
	logger    *slog.Logger
	sent      atomic.Int64
	forwarded atomic.Int64
	failed    atomic.Int64
}

// New creates a manager sending at most perSecond messages per second.
// A non-positive rate uses DefaultRate.
func New(sender Sender, perSecond float64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if perSecond <= 0 {
		perSecond = DefaultRate
	}
	return &Manager{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(perSecond), defaultBurst),
		logger:  logger.With("component", "notify"),
	}
}

// SendMessage posts text to channelID once the rate limiter allows it.
// Failures are counted and returned; nothing is retried here.
func (m *Manager) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	if channelID == "" {
		return "", ErrNoTarget
	}
	if err := m.limiter.Wait(ctx); err != nil {
		m.failed.Add(1)
		return "", fmt.Errorf("wait for send slot: %w", err)
	}

	id, err := m.sender.SendMessage(ctx, channelID, text)
	if err != nil {
		m.failed.Add(1)
		m.logger.Warn("failed to send message", "channel_id", channelID, "error", err)
		return "", fmt.Errorf("send message: %w", err)
	}
	m.sent.Add(1)
	m.logger.Debug("message sent", "channel_id", channelID, "message_id", id)
	return id, nil
}

// ForwardMessage copies a message from fromChannelID into channelID.
func (m *Manager) ForwardMessage(ctx context.Context, channelID, fromChannelID, messageID string) error {
	if channelID == "" {
		return ErrNoTarget
	}
	if err := m.limiter.Wait(ctx); err != nil {
		m.failed.Add(1)
		return fmt.Errorf("wait for send slot: %w", err)
	}

	if err := m.sender.ForwardMessage(ctx, channelID, fromChannelID, messageID); err != nil {
		m.failed.Add(1)
		m.logger.Warn("failed to forward message",
			"channel_id", channelID,
			"from_channel_id", fromChannelID,
			"message_id", messageID,
			"error", err)
		return fmt.Errorf("forward message: %w", err)
	}
	m.forwarded.Add(1)
	return nil
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Sent:      m.sent.Load(),
		Forwarded: m.forwarded.Load(),
		Failed:    m.failed.Load(),
	}
}
