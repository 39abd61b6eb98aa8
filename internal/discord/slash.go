package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/codeGROOVE-dev/groupwatch/internal/bot"
)

// argsOption is the free-form option every argument-taking command accepts.
const argsOption = "args"

// CommandRunner executes a command and returns the caller's reply.
type CommandRunner interface {
	HandleCommand(ctx context.Context, cmd bot.Command) string
}

// SlashCommandHandler handles Discord slash commands.
type SlashCommandHandler struct {
	session *discordgo.Session
	runner  CommandRunner
	logger  *slog.Logger
}

// NewSlashCommandHandler creates a new slash command handler.
func NewSlashCommandHandler(session *discordgo.Session, runner CommandRunner, logger *slog.Logger) *SlashCommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlashCommandHandler{
		session: session,
		runner:  runner,
		logger:  logger,
	}
}

// RegisterCommands registers the slash commands with Discord.
func (h *SlashCommandHandler) RegisterCommands(guildID string) error {
	for _, cmd := range slashCommands() {
		_, err := h.session.ApplicationCommandCreate(h.session.State.User.ID, guildID, cmd)
		if err != nil {
			return fmt.Errorf("create command %s: %w", cmd.Name, err)
		}
		h.logger.Info("registered slash command",
			"command", cmd.Name,
			"guild_id", guildID)
	}
	return nil
}

// SetupHandler sets up the interaction handler. Interactions go through
// enqueue so commands stay ordered with the channel's messages.
func (h *SlashCommandHandler) SetupHandler(ctx context.Context, enqueue func(context.Context, func())) {
	h.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		enqueue(ctx, func() { h.handleInteraction(ctx, s, i) })
	})
}

func (h *SlashCommandHandler) handleInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	cmd, ok := commandFromInteraction(i)
	if !ok {
		return
	}

	reply := h.runner.HandleCommand(ctx, cmd)
	if reply == "" {
		h.respondError(s, i, "unknown command")
		return
	}
	h.respond(s, i, reply)
}

func (h *SlashCommandHandler) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral, // Only visible to the caller
		},
	})
	if err != nil {
		h.logger.Error("failed to respond to interaction", "error", err)
	}
}

func (h *SlashCommandHandler) respondError(s *discordgo.Session, i *discordgo.InteractionCreate, message string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: fmt.Sprintf("Error: %s", message),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		h.logger.Error("failed to respond with error", "error", err)
	}
}

// slashCommands builds one application command per coordinator command.
func slashCommands() []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0, len(bot.Commands))
	for _, info := range bot.Commands {
		cmd := &discordgo.ApplicationCommand{
			Name:        info.Name,
			Description: info.Description,
		}
		if takesArgs(info) {
			cmd.Options = []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        argsOption,
				Description: strings.TrimPrefix(info.Usage, "/"+info.Name+" "),
				Required:    !strings.Contains(info.Usage, "["),
			}}
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func takesArgs(info bot.CommandInfo) bool {
	return strings.Contains(info.Usage, " ")
}

// commandFromInteraction converts an application command interaction.
func commandFromInteraction(i *discordgo.InteractionCreate) (bot.Command, bool) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return bot.Command{}, false
	}
	data := i.ApplicationCommandData()

	var args []string
	for _, opt := range data.Options {
		if opt.Name == argsOption && opt.Type == discordgo.ApplicationCommandOptionString {
			args = strings.Fields(opt.StringValue())
		}
	}

	cmd := bot.Command{
		Name:      data.Name,
		Args:      args,
		ChannelID: i.ChannelID,
		Private:   i.GuildID == "",
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user != nil {
		cmd.CallerID = user.ID
		cmd.CallerHandle = user.Username
	}
	return cmd, true
}
