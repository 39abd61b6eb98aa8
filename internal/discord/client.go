// Package discord connects the coordinator to a Discord guild.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/retry"

	"github.com/codeGROOVE-dev/groupwatch/internal/bot"
)

const (
	// openTimeout is the maximum time to wait for Discord connection.
	openTimeout = 30 * time.Second

	// eventQueueSize bounds gateway events waiting for the dispatcher.
	eventQueueSize = 256
)

// Handler receives normalized events.
type Handler interface {
	HandleMessage(ctx context.Context, msg bot.Message)
	HandleCommand(ctx context.Context, cmd bot.Command) string
	ChannelRemoved(ctx context.Context, channelID string)
}

// Client wraps discordgo.Session with the operations the bot needs.
type Client struct {
	session  *discordgo.Session
	logger   *slog.Logger
	channels map[string]*discordgo.Channel // channel ID -> channel
	events   chan func()
	guildID  string
	mu       sync.RWMutex
}

// New creates a Discord client. guildID scopes slash command registration;
// empty registers them globally.
func New(token, guildID string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	// Handlers run one at a time on the gateway goroutine, in arrival order.
	session.SyncEvents = true

	return &Client{
		session:  session,
		logger:   logger.With("transport", "discord"),
		channels: make(map[string]*discordgo.Channel),
		events:   make(chan func(), eventQueueSize),
		guildID:  guildID,
	}, nil
}

// retryableCtx wraps a function with standard retry configuration.
func retryableCtx(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
}

// Run connects, dispatches events to h and blocks until ctx is done.
func (c *Client) Run(ctx context.Context, h Handler) error {
	c.session.AddHandler(c.onMessageCreate(ctx, h))
	c.session.AddHandler(c.onChannelDelete(ctx, h))

	slash := NewSlashCommandHandler(c.session, h, c.logger)
	slash.SetupHandler(ctx, c.enqueue)

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.dispatch(dispatchCtx)
	}()
	defer func() {
		stopDispatch()
		<-done
	}()

	if err := c.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			c.logger.Warn("failed to close discord session", "error", err)
		}
	}()

	c.logger.Info("discord bot connected", "user", c.session.State.User.Username, "guild_id", c.guildID)

	if err := retryableCtx(ctx, func() error { return slash.RegisterCommands(c.guildID) }); err != nil {
		c.logger.Warn("failed to register slash commands", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Open opens the WebSocket connection to Discord with a timeout.
func (c *Client) Open() error {
	done := make(chan error, 1)
	go func() {
		done <- c.session.Open()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(openTimeout):
		c.session.Close() //nolint:errcheck,gosec // best-effort close on timeout
		return errors.New("timeout waiting for Discord connection")
	}
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	return c.session.Close()
}

// enqueue hands fn to the dispatcher. Gateway handlers call it in arrival
// order, so events for a channel reach the coordinator in that order.
func (c *Client) enqueue(ctx context.Context, fn func()) {
	select {
	case c.events <- fn:
	case <-ctx.Done():
	}
}

// dispatch runs queued events one at a time until ctx is done.
func (c *Client) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.events:
			fn()
		}
	}
}

func (c *Client) onMessageCreate(ctx context.Context, h Handler) func(*discordgo.Session, *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		c.enqueue(ctx, func() {
			title := ""
			if ch := c.channel(ctx, m.ChannelID); ch != nil {
				title = ch.Name
			}
			h.HandleMessage(ctx, toMessage(m.Message, title))
		})
	}
}

func (c *Client) onChannelDelete(ctx context.Context, h Handler) func(*discordgo.Session, *discordgo.ChannelDelete) {
	return func(_ *discordgo.Session, ev *discordgo.ChannelDelete) {
		if ev.Channel == nil {
			return
		}
		c.enqueue(ctx, func() {
			c.forgetChannel(ev.ID)
			h.ChannelRemoved(ctx, ev.ID)
		})
	}
}

// channel looks up a channel through the state cache, then the API.
func (c *Client) channel(ctx context.Context, channelID string) *discordgo.Channel {
	c.mu.RLock()
	ch, ok := c.channels[channelID]
	c.mu.RUnlock()
	if ok {
		return ch
	}

	if c.session.State != nil {
		if st, err := c.session.State.Channel(channelID); err == nil {
			ch = st
		}
	}
	if ch == nil {
		err := retryableCtx(ctx, func() error {
			var apiErr error
			ch, apiErr = c.session.Channel(channelID, discordgo.WithContext(ctx))
			return apiErr
		})
		if err != nil {
			c.logger.Debug("failed to look up channel", "channel_id", channelID, "error", err)
			return nil
		}
	}

	c.mu.Lock()
	c.channels[channelID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) forgetChannel(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channelID)
}

// SendMessage sends a plain text message to a channel with link embeds suppressed.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	msg, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: text,
		Flags:   discordgo.MessageFlagsSuppressEmbeds,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	c.logger.Debug("posted channel message", "channel_id", channelID, "message_id", msg.ID)
	return msg.ID, nil
}

// ForwardMessage posts a jump link to the original message.
func (c *Client) ForwardMessage(ctx context.Context, channelID, fromChannelID, messageID string) error {
	guildID := c.guildID
	if ch := c.channel(ctx, fromChannelID); ch != nil {
		guildID = ch.GuildID
	}
	_, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: "Original message: " + jumpLink(guildID, fromChannelID, messageID),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to post message link: %w", err)
	}
	return nil
}

// jumpLink builds the URL Discord clients open at the referenced message.
func jumpLink(guildID, channelID, messageID string) string {
	if guildID == "" {
		guildID = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

func toMessage(m *discordgo.Message, channelTitle string) bot.Message {
	name := m.Author.GlobalName
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	if name == "" {
		name = m.Author.Username
	}
	return bot.Message{
		ID:           m.ID,
		ChannelID:    m.ChannelID,
		ChannelTitle: channelTitle,
		SenderID:     m.Author.ID,
		SenderHandle: m.Author.Username,
		SenderName:   name,
		Text:         m.Content,
		FromBot:      m.Author.Bot,
		Private:      m.GuildID == "",
	}
}
