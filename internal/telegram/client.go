// Package telegram connects the coordinator to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/codeGROOVE-dev/groupwatch/internal/bot"
)

const (
	pollTimeoutSeconds = 30
	maxRetryAttempts   = 3
	retryDelay         = 2 * time.Second
	maxRetryDelay      = 30 * time.Second
)

// Handler receives normalized updates.
type Handler interface {
	HandleMessage(ctx context.Context, msg bot.Message)
	HandleCommand(ctx context.Context, cmd bot.Command) string
	ChannelRemoved(ctx context.Context, channelID string)
}

// Client wraps a telego bot.
type Client struct {
	bot    *telego.Bot
	logger *slog.Logger
}

// New creates a Telegram client. The token is validated by the library.
func New(token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Client{
		bot:    b,
		logger: logger.With("transport", "telegram"),
	}, nil
}

// Run long-polls for updates and dispatches them to h until ctx is done.
// Updates are handled one at a time, in order.
func (c *Client) Run(ctx context.Context, h Handler) error {
	var updates <-chan telego.Update
	err := retry.Do(
		func() error {
			var pollErr error
			updates, pollErr = c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
				Timeout:        pollTimeoutSeconds,
				AllowedUpdates: []string{"message", "my_chat_member"},
			})
			return pollErr
		},
		c.retryOptions(ctx, "start long polling")...,
	)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	c.logger.Info("telegram bot connected", "username", c.bot.Username())

	if err := c.SyncCommands(ctx); err != nil {
		c.logger.Warn("failed to sync telegram menu commands", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				c.logger.Info("telegram updates channel closed")
				return nil
			}
			c.dispatch(ctx, h, update)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, h Handler, update telego.Update) {
	username := c.bot.Username()

	if chatID, ok := removedFromChat(update, username); ok {
		h.ChannelRemoved(ctx, chatID)
		return
	}

	message := update.Message
	if message == nil || message.From == nil || isServiceMessage(message) {
		return
	}

	if cmd, ok := toCommand(message, username); ok {
		if _, known := bot.LookupCommand(cmd.Name); known {
			reply := h.HandleCommand(ctx, cmd)
			if reply == "" {
				return
			}
			if _, err := c.SendMessage(ctx, cmd.ChannelID, reply); err != nil {
				c.logger.Warn("failed to reply to command", "command", cmd.Name, "channel_id", cmd.ChannelID, "error", err)
			}
			return
		}
	}

	h.HandleMessage(ctx, toMessage(message))
}

// SendMessage posts text to a chat and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return "", err
	}
	sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		return "", fmt.Errorf("send telegram message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// ForwardMessage forwards messageID from fromChannelID into channelID.
func (c *Client) ForwardMessage(ctx context.Context, channelID, fromChannelID, messageID string) error {
	to, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	from, err := parseChatID(fromChannelID)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	if _, err := c.bot.ForwardMessage(ctx, &telego.ForwardMessageParams{
		ChatID:     tu.ID(to),
		FromChatID: tu.ID(from),
		MessageID:  id,
	}); err != nil {
		return fmt.Errorf("forward telegram message: %w", err)
	}
	return nil
}

// SyncCommands publishes the command menu.
func (c *Client) SyncCommands(ctx context.Context) error {
	return retry.Do(
		func() error {
			return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: menuCommands()})
		},
		c.retryOptions(ctx, "set commands")...,
	)
}

func (c *Client) retryOptions(ctx context.Context, op string) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(maxRetryAttempts),
		retry.Delay(retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("telegram API call failed, retrying",
				"operation", op,
				"attempt", n+1,
				"max_attempts", maxRetryAttempts,
				"error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	}
}

func menuCommands() []telego.BotCommand {
	cmds := make([]telego.BotCommand, 0, len(bot.Commands))
	for _, info := range bot.Commands {
		cmds = append(cmds, telego.BotCommand{Command: info.Name, Description: info.Description})
	}
	return cmds
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", s, err)
	}
	return id, nil
}

func isPrivate(chat telego.Chat) bool {
	return chat.Type == telego.ChatTypePrivate
}

func isServiceMessage(m *telego.Message) bool {
	return m.LeftChatMember != nil || len(m.NewChatMembers) > 0 || m.NewChatTitle != ""
}

// removedFromChat reports the chat the bot was just removed from, if any.
func removedFromChat(update telego.Update, botUsername string) (string, bool) {
	if u := update.MyChatMember; u != nil && u.NewChatMember != nil {
		switch u.NewChatMember.MemberStatus() {
		case telego.MemberStatusLeft, telego.MemberStatusBanned:
			return strconv.FormatInt(u.Chat.ID, 10), true
		}
		return "", false
	}
	if m := update.Message; m != nil && m.LeftChatMember != nil && botUsername != "" &&
		strings.EqualFold(m.LeftChatMember.Username, botUsername) {
		return strconv.FormatInt(m.Chat.ID, 10), true
	}
	return "", false
}

func messageText(m *telego.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

func displayName(u *telego.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func toMessage(m *telego.Message) bot.Message {
	return bot.Message{
		ID:           strconv.Itoa(m.MessageID),
		ChannelID:    strconv.FormatInt(m.Chat.ID, 10),
		ChannelTitle: m.Chat.Title,
		SenderID:     strconv.FormatInt(m.From.ID, 10),
		SenderHandle: m.From.Username,
		SenderName:   displayName(m.From),
		Text:         messageText(m),
		FromBot:      m.From.IsBot,
		Private:      isPrivate(m.Chat),
	}
}

// toCommand parses "/name[@bot] args..." addressed to this bot.
func toCommand(m *telego.Message, botUsername string) (bot.Command, bool) {
	name, args, ok := parseCommand(m.Text, botUsername)
	if !ok {
		return bot.Command{}, false
	}
	return bot.Command{
		Name:         name,
		Args:         args,
		ChannelID:    strconv.FormatInt(m.Chat.ID, 10),
		ChannelTitle: m.Chat.Title,
		CallerID:     strconv.FormatInt(m.From.ID, 10),
		CallerHandle: m.From.Username,
		Private:      isPrivate(m.Chat),
	}, true
}

func parseCommand(text, botUsername string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if base, target, found := strings.Cut(name, "@"); found {
		if botUsername != "" && !strings.EqualFold(target, botUsername) {
			return "", nil, false
		}
		name = base
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
