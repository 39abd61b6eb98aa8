// Package bot provides the message orchestration and command logic shared by
// all chat transports.
package bot

import (
	"context"
	"time"

	"github.com/codeGROOVE-dev/groupwatch/internal/duplicate"
	"github.com/codeGROOVE-dev/groupwatch/internal/latency"
)

// Message is an inbound chat message, normalized by the transport.
type Message struct {
	ID           string
	ChannelID    string
	ChannelTitle string
	SenderID     string
	SenderHandle string // without the leading @
	SenderName   string
	Text         string // text or caption
	FromBot      bool
	Private      bool // one-to-one chat with the bot
}

// Command is an inbound administrative or informational request.
type Command struct {
	Name         string // without the leading slash
	Args         []string
	ChannelID    string
	ChannelTitle string
	CallerID     string
	CallerHandle string
	Private      bool
}

// Notifier delivers outbound messages.
type Notifier interface {
	SendMessage(ctx context.Context, channelID, text string) (messageID string, err error)
	ForwardMessage(ctx context.Context, channelID, fromChannelID, messageID string) error
}

// Registry holds group settings and the authorization predicates.
type Registry interface {
	IsQualifiedResponder(senderID, handle string) bool
	IsPrivilegedCaller(callerID, handle string) bool
	IsChannelPaused(channelID string) bool

	EscalationTarget() string
	SetEscalationTarget(ctx context.Context, channelID string) error

	AddResponders(ctx context.Context, handles ...string) (int, error)
	RemoveResponders(ctx context.Context, handles ...string) (int, error)
	Responders() []string

	SetPaused(ctx context.Context, channelID string, paused bool) (bool, error)
	PausedChannels() []string

	RememberTitle(channelID, title string)
	Title(channelID string) string
	Forget(ctx context.Context, channelID string) error
}

// DuplicateDetector tracks identifier sightings across channels.
type DuplicateDetector interface {
	Observe(identifiers []string, s duplicate.Sighting) []duplicate.Event
	Retract(identifier, channelID string)
	Purge(now time.Time) int
	Len() int
}

// LatencyTracker measures reply times.
type LatencyTracker interface {
	OnMessage(channelID string, sender latency.Responder, qualified bool, now time.Time) (latency.Sample, bool)
	Record(ctx context.Context, s latency.Sample) error
	Forget(channelID string)
	Aggregate(ctx context.Context, yearMonth string, allow []string) ([]latency.Stats, error)
	YearMonth(at time.Time) string
}
