package registry

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/codeGROOVE-dev/groupwatch/internal/state"
)

func TestRegistry_SeedAndQueries(t *testing.T) {
	r := New(state.NewMemoryStore(), Seed{
		EscalationTarget: "-100",
		Responders:       []string{"@Anna", "ivan", " "},
		Admins:           []string{"@boss", "42"},
		Paused:           []string{"A"},
	}, nil)

	tests := []struct {
		name   string
		id     string
		handle string
		want   bool
	}{
		{"handle with case", "", "ANNA", true},
		{"handle with at", "", "@ivan", true},
		{"unknown", "7", "olga", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.IsQualifiedResponder(tt.id, tt.handle); got != tt.want {
				t.Errorf("IsQualifiedResponder(%q, %q) = %v, want %v", tt.id, tt.handle, got, tt.want)
			}
		})
	}

	if !r.IsPrivilegedCaller("42", "") {
		t.Error("IsPrivilegedCaller() by id = false, want true")
	}
	if !r.IsPrivilegedCaller("", "Boss") {
		t.Error("IsPrivilegedCaller() by handle = false, want true")
	}
	if r.IsPrivilegedCaller("1", "anna") {
		t.Error("responders are not admins")
	}
	if got := r.EscalationTarget(); got != "-100" {
		t.Errorf("EscalationTarget() = %q, want -100", got)
	}
	if !r.IsChannelPaused("A") || r.IsChannelPaused("B") {
		t.Error("IsChannelPaused() should reflect the seed")
	}
}

func TestRegistry_NoAdmins(t *testing.T) {
	r := New(state.NewMemoryStore(), Seed{}, nil)
	if r.IsPrivilegedCaller("1", "anyone") {
		t.Error("IsPrivilegedCaller() = true with no admins configured")
	}
}

func TestRegistry_RosterChangesPersist(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	r := New(store, Seed{Responders: []string{"anna"}}, nil)

	added, err := r.AddResponders(ctx, "@Ivan", "anna", "olga")
	if err != nil {
		t.Fatalf("AddResponders() error = %v", err)
	}
	if added != 2 {
		t.Errorf("AddResponders() = %d, want 2", added)
	}

	removed, err := r.RemoveResponders(ctx, "olga", "missing")
	if err != nil {
		t.Fatalf("RemoveResponders() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("RemoveResponders() = %d, want 1", removed)
	}

	if err := r.SetEscalationTarget(ctx, "-200"); err != nil {
		t.Fatalf("SetEscalationTarget() error = %v", err)
	}
	if changed, err := r.SetPaused(ctx, "A", true); err != nil || !changed {
		t.Fatalf("SetPaused() = %v, %v, want true, nil", changed, err)
	}
	if changed, _ := r.SetPaused(ctx, "A", true); changed {
		t.Error("SetPaused() twice should report no change")
	}

	reloaded := New(store, Seed{EscalationTarget: "-999", Responders: []string{"zed"}}, nil)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := reloaded.Responders(), []string{"anna", "ivan"}; !slices.Equal(got, want) {
		t.Errorf("Responders() = %v, want %v", got, want)
	}
	if got := reloaded.EscalationTarget(); got != "-200" {
		t.Errorf("EscalationTarget() = %q, want -200", got)
	}
	if got := reloaded.PausedChannels(); !slices.Equal(got, []string{"A"}) {
		t.Errorf("PausedChannels() = %v, want [A]", got)
	}
}

func TestRegistry_LoadEmptyKeepsSeed(t *testing.T) {
	r := New(state.NewMemoryStore(), Seed{EscalationTarget: "-100", Responders: []string{"anna"}}, nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if r.EscalationTarget() != "-100" || !r.IsQualifiedResponder("", "anna") {
		t.Error("Load() on an empty store should keep the seeded state")
	}
}

func TestRegistry_SetEscalationTargetEmpty(t *testing.T) {
	r := New(state.NewMemoryStore(), Seed{}, nil)
	if err := r.SetEscalationTarget(context.Background(), ""); err == nil {
		t.Error("SetEscalationTarget(\"\") should fail")
	}
}

func TestRegistry_ResumeAndForget(t *testing.T) {
	ctx := context.Background()
	r := New(state.NewMemoryStore(), Seed{Paused: []string{"A", "B"}}, nil)
	r.RememberTitle("A", "Driver A")
	r.RememberTitle("A", "")

	if got := r.Title("A"); got != "Driver A" {
		t.Errorf("Title() = %q, want Driver A", got)
	}
	if changed, err := r.SetPaused(ctx, "A", false); err != nil || !changed {
		t.Errorf("SetPaused(false) = %v, %v, want true, nil", changed, err)
	}
	if err := r.Forget(ctx, "B"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if err := r.Forget(ctx, "A"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if len(r.PausedChannels()) != 0 {
		t.Errorf("PausedChannels() = %v, want empty", r.PausedChannels())
	}
	if r.Title("A") != "" {
		t.Error("Forget() should drop the title")
	}
}

type brokenStore struct{}

func (brokenStore) LoadRecords(context.Context, string) ([]json.RawMessage, error) {
	return nil, errors.New("unavailable")
}

func (brokenStore) SaveRecords(context.Context, string, []json.RawMessage) error {
	return errors.New("unavailable")
}

func (brokenStore) Close() error { return nil }

func TestRegistry_StoreErrors(t *testing.T) {
	ctx := context.Background()
	r := New(brokenStore{}, Seed{}, nil)
	if err := r.Load(ctx); err == nil {
		t.Error("Load() should surface store errors")
	}
	added, err := r.AddResponders(ctx, "anna")
	if err == nil {
		t.Error("AddResponders() should surface save errors")
	}
	if added != 1 || !r.IsQualifiedResponder("", "anna") {
		t.Error("AddResponders() should keep the in-memory change when saving fails")
	}
}
