package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/groupwatch/internal/format"
	"github.com/codeGROOVE-dev/groupwatch/internal/latency"
)

// CommandInfo describes a command for transport menus and /help.
type CommandInfo struct {
	Name        string
	Usage       string
	Description string
	Privileged  bool
}

// Commands lists every command the coordinator understands.
var Commands = []CommandInfo{
	{Name: "setmaingroup", Usage: "/setmaingroup", Description: "Send alerts to this chat", Privileged: true},
	{Name: "addteam", Usage: "/addteam @user ...", Description: "Add responders to the team", Privileged: true},
	{Name: "removeteam", Usage: "/removeteam @user ...", Description: "Remove responders from the team", Privileged: true},
	{Name: "listteam", Usage: "/listteam", Description: "Show the team"},
	{Name: "pause", Usage: "/pause [chat id]", Description: "Stop escalating a chat", Privileged: true},
	{Name: "resume", Usage: "/resume [chat id]", Description: "Resume escalating a chat", Privileged: true},
	{Name: "report", Usage: "/report [YYYY-MM]", Description: "Reply-time ranking for a month", Privileged: true},
	{Name: "status", Usage: "/status", Description: "Show bot status"},
	{Name: "help", Usage: "/help", Description: "List commands"},
}

// LookupCommand returns the command named name, case-insensitively.
func LookupCommand(name string) (CommandInfo, bool) {
	name = strings.ToLower(name)
	for _, info := range Commands {
		if info.Name == name {
			return info, true
		}
	}
	return CommandInfo{}, false
}

// HandleCommand executes cmd and returns the reply text for the caller.
// Unknown commands return an empty reply.
func (c *Coordinator) HandleCommand(ctx context.Context, cmd Command) string {
	reply, err := c.execute(ctx, cmd)
	switch {
	case err == nil:
		return reply
	case errors.Is(err, ErrUnknownCommand):
		return ""
	case errors.Is(err, ErrNotPrivileged):
		c.logger.Info("privileged command denied",
			"command", cmd.Name,
			"caller_id", cmd.CallerID,
			"channel_id", cmd.ChannelID)
		return format.Error("This command is restricted to administrators.")
	default:
		c.logger.Warn("command failed",
			"command", cmd.Name,
			"channel_id", cmd.ChannelID,
			"error", err)
		return format.Error(err.Error())
	}
}

func (c *Coordinator) execute(ctx context.Context, cmd Command) (string, error) {
	info, ok := LookupCommand(cmd.Name)
	if !ok {
		return "", ErrUnknownCommand
	}
	if info.Privileged && !c.registry.IsPrivilegedCaller(cmd.CallerID, cmd.CallerHandle) {
		return "", ErrNotPrivileged
	}

	switch info.Name {
	case "setmaingroup":
		return c.setMainGroup(ctx, cmd)
	case "addteam":
		return c.addTeam(ctx, cmd)
	case "removeteam":
		return c.removeTeam(ctx, cmd)
	case "listteam":
		return format.Team(c.registry.Responders()), nil
	case "pause":
		return c.setPaused(ctx, cmd, true)
	case "resume":
		return c.setPaused(ctx, cmd, false)
	case "report":
		return c.report(ctx, cmd)
	case "status":
		return c.status(), nil
	case "help":
		return help(), nil
	default:
		return "", ErrUnknownCommand
	}
}

func (c *Coordinator) setMainGroup(ctx context.Context, cmd Command) (string, error) {
	if cmd.Private {
		return "", errors.New("run /setmaingroup inside the group that should receive alerts")
	}
	lock := c.channelLocks.get(cmd.ChannelID, c.clock.Now())
	lock.Lock()
	defer lock.Unlock()

	if err := c.registry.SetEscalationTarget(ctx, cmd.ChannelID); err != nil {
		return "", fmt.Errorf("set main group: %w", err)
	}
	// The target is not monitored.
	c.scheduler.Disarm(cmd.ChannelID)
	c.latency.Forget(cmd.ChannelID)
	return format.OK("Alerts will be sent to this chat."), nil
}

func (c *Coordinator) addTeam(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Args) == 0 {
		return "", errors.New("usage: /addteam @user ...")
	}
	added, err := c.registry.AddResponders(ctx, cmd.Args...)
	if err != nil {
		return "", fmt.Errorf("add team members: %w", err)
	}
	return format.OK(fmt.Sprintf("Added %d team member(s).", added)) + "\n" + format.Team(c.registry.Responders()), nil
}

func (c *Coordinator) removeTeam(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Args) == 0 {
		return "", errors.New("usage: /removeteam @user ...")
	}
	removed, err := c.registry.RemoveResponders(ctx, cmd.Args...)
	if err != nil {
		return "", fmt.Errorf("remove team members: %w", err)
	}
	return format.OK(fmt.Sprintf("Removed %d team member(s).", removed)) + "\n" + format.Team(c.registry.Responders()), nil
}

func (c *Coordinator) setPaused(ctx context.Context, cmd Command, paused bool) (string, error) {
	channelID := cmd.ChannelID
	if len(cmd.Args) > 0 {
		channelID = cmd.Args[0]
	}
	if channelID == "" || (cmd.Private && len(cmd.Args) == 0) {
		return "", errors.New("specify the chat id to change")
	}

	// Held across the state change and the disarm so a message already
	// past the pause check cannot re-arm afterwards.
	lock := c.channelLocks.get(channelID, c.clock.Now())
	lock.Lock()
	_, err := c.registry.SetPaused(ctx, channelID, paused)
	if err == nil && paused {
		c.scheduler.Disarm(channelID)
	}
	lock.Unlock()
	if err != nil {
		return "", fmt.Errorf("update pause state: %w", err)
	}

	name := c.registry.Title(channelID)
	if name == "" {
		name = channelID
	}
	if paused {
		return fmt.Sprintf("%s Escalation paused for %s.", format.EmojiPaused, name), nil
	}
	return fmt.Sprintf("%s Escalation resumed for %s.", format.EmojiResumed, name), nil
}

func (c *Coordinator) report(ctx context.Context, cmd Command) (string, error) {
	month := c.latency.YearMonth(c.clock.Now())
	if len(cmd.Args) > 0 {
		m, err := latency.ParseMonth(cmd.Args[0])
		if err != nil {
			return "", err
		}
		month = m
	}
	text, err := c.LatencyReport(ctx, month)
	if err != nil {
		return "", fmt.Errorf("build report: %w", err)
	}
	return text, nil
}

func (c *Coordinator) status() string {
	s := c.Stats()
	target := c.registry.EscalationTarget()
	if target == "" {
		target = "not set"
	} else if title := c.registry.Title(target); title != "" {
		target = fmt.Sprintf("%s (%s)", title, target)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Status\n", format.EmojiOK)
	fmt.Fprintf(&b, "Transport: %s\n", c.transport)
	fmt.Fprintf(&b, "Main group: %s\n", target)
	fmt.Fprintf(&b, "Alert delay: %s\n", c.scheduler.Delay())
	fmt.Fprintf(&b, "Team members: %d\n", len(c.registry.Responders()))
	fmt.Fprintf(&b, "Paused chats: %d\n", len(c.registry.PausedChannels()))
	fmt.Fprintf(&b, "Armed timers: %d\n", s.ArmedChannels)
	fmt.Fprintf(&b, "Tracked identifiers: %d\n", s.TrackedIdentifiers)
	fmt.Fprintf(&b, "Messages: %d, alerts: %d, duplicates: %d, replies: %d", s.Messages, s.Escalations, s.Duplicates, s.Samples)
	return b.String()
}

func help() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, info := range Commands {
		fmt.Fprintf(&b, "%s - %s", info.Usage, info.Description)
		if info.Privileged {
			b.WriteString(" (admin)")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
