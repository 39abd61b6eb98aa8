package discord

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/codeGROOVE-dev/groupwatch/internal/bot"
	"github.com/codeGROOVE-dev/groupwatch/internal/duplicate"
	"github.com/codeGROOVE-dev/groupwatch/internal/latency"
	"github.com/codeGROOVE-dev/groupwatch/internal/registry"
	"github.com/codeGROOVE-dev/groupwatch/internal/state"
)

func TestJumpLink(t *testing.T) {
	tests := []struct {
		name    string
		guildID string
		want    string
	}{
		{"guild", "10", "https://discord.com/channels/10/20/30"},
		{"direct message", "", "https://discord.com/channels/@me/20/30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jumpLink(tt.guildID, "20", "30"); got != tt.want {
				t.Errorf("jumpLink() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToMessage(t *testing.T) {
	tests := []struct {
		name        string
		msg         *discordgo.Message
		wantName    string
		wantPrivate bool
		wantBot     bool
	}{
		{
			name: "nickname wins",
			msg: &discordgo.Message{
				ID: "1", ChannelID: "c", GuildID: "g", Content: "hi",
				Author: &discordgo.User{ID: "u", Username: "anna", GlobalName: "Anna K"},
				Member: &discordgo.Member{Nick: "dispatch anna"},
			},
			wantName: "dispatch anna",
		},
		{
			name: "global name",
			msg: &discordgo.Message{
				ID: "1", ChannelID: "c", GuildID: "g",
				Author: &discordgo.User{ID: "u", Username: "anna", GlobalName: "Anna K"},
			},
			wantName: "Anna K",
		},
		{
			name: "direct message from bot",
			msg: &discordgo.Message{
				ID: "1", ChannelID: "c",
				Author: &discordgo.User{ID: "u", Username: "helper", Bot: true},
			},
			wantName:    "helper",
			wantPrivate: true,
			wantBot:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toMessage(tt.msg, "general")
			if got.SenderName != tt.wantName {
				t.Errorf("SenderName = %q, want %q", got.SenderName, tt.wantName)
			}
			if got.Private != tt.wantPrivate {
				t.Errorf("Private = %v, want %v", got.Private, tt.wantPrivate)
			}
			if got.FromBot != tt.wantBot {
				t.Errorf("FromBot = %v, want %v", got.FromBot, tt.wantBot)
			}
			if got.ChannelTitle != "general" || got.ID != "1" || got.SenderHandle != tt.msg.Author.Username {
				t.Errorf("toMessage() = %+v", got)
			}
		})
	}
}

type nopNotifier struct{}

func (nopNotifier) SendMessage(context.Context, string, string) (string, error) { return "1", nil }

func (nopNotifier) ForwardMessage(context.Context, string, string, string) error { return nil }

// orderedHandler records message IDs once the coordinator has handled them.
type orderedHandler struct {
	*bot.Coordinator
	mu  sync.Mutex
	ids []string
}

func (o *orderedHandler) HandleMessage(ctx context.Context, msg bot.Message) {
	o.Coordinator.HandleMessage(ctx, msg)
	o.mu.Lock()
	o.ids = append(o.ids, msg.ID)
	o.mu.Unlock()
}

func (o *orderedHandler) seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.ids)
}

func TestNew_SyncEvents(t *testing.T) {
	c, err := New("test-token", "g", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !c.session.SyncEvents {
		t.Error("session.SyncEvents = false, want true")
	}
}

func TestClient_DispatchKeepsChannelOrder(t *testing.T) {
	c, err := New("test-token", "g", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.channels["A"] = &discordgo.Channel{ID: "A", GuildID: "g", Name: "loads"}

	store := state.NewMemoryStore()
	coord := bot.NewCoordinator(bot.CoordinatorConfig{
		Notifier:        nopNotifier{},
		Registry:        registry.New(store, registry.Seed{EscalationTarget: "main", Responders: []string{"anna"}}, nil),
		Duplicates:      duplicate.New(time.Hour, nil),
		Latency:         latency.New(latency.Config{Store: store}),
		Transport:       "discord",
		EscalationDelay: time.Hour,
	})
	t.Cleanup(coord.Stop)
	h := &orderedHandler{Coordinator: coord}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	onMessage := c.onMessageCreate(ctx, h)
	onMessage(c.session, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "driver", ChannelID: "A", GuildID: "g", Content: "where is my load?",
		Author: &discordgo.User{ID: "100", Username: "dan"},
	}})
	onMessage(c.session, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "reply", ChannelID: "A", GuildID: "g", Content: "on it",
		Author: &discordgo.User{ID: "1", Username: "anna"},
	}})

	go c.dispatch(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for len(h.seen()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for both messages")
		}
		time.Sleep(time.Millisecond)
	}

	if got, want := h.seen(), []string{"driver", "reply"}; !slices.Equal(got, want) {
		t.Errorf("handled order = %v, want %v", got, want)
	}
	if n := coord.Stats().ArmedChannels; n != 0 {
		t.Errorf("Stats().ArmedChannels = %d, want 0 after the reply", n)
	}
	if n := coord.Stats().Samples; n != 1 {
		t.Errorf("Stats().Samples = %d, want 1", n)
	}
}
