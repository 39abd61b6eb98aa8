package main

import (
	"context"
	"time"

	"github.com/codeGROOVE-dev/groupwatch/internal/bot"
	"github.com/codeGROOVE-dev/groupwatch/internal/discord"
	"github.com/codeGROOVE-dev/groupwatch/internal/latency"
	"github.com/codeGROOVE-dev/groupwatch/internal/notify"
	"github.com/codeGROOVE-dev/groupwatch/internal/telegram"
)

// Transport is a chat network connection: it delivers outbound messages and
// feeds inbound events to the coordinator until ctx is done.
type Transport interface {
	notify.Sender
	Run(ctx context.Context, c *bot.Coordinator) error
}

type telegramTransport struct {
	*telegram.Client
}

func (t telegramTransport) Run(ctx context.Context, c *bot.Coordinator) error {
	return t.Client.Run(ctx, c)
}

type discordTransport struct {
	*discord.Client
}

func (d discordTransport) Run(ctx context.Context, c *bot.Coordinator) error {
	return d.Client.Run(ctx, c)
}

// StatsSource reports coordinator counters.
type StatsSource interface {
	Stats() bot.Stats
}

// SendStats reports outbound delivery counters.
type SendStats interface {
	Stats() notify.Stats
}

// LatencySource ranks responders by reply time.
type LatencySource interface {
	Aggregate(ctx context.Context, yearMonth string, allow []string) ([]latency.Stats, error)
	YearMonth(at time.Time) string
}
