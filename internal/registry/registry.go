// Package registry holds the runtime group settings: escalation target,
// responder roster, paused channels and administrators.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/groupwatch/internal/state"
)

// snapshot is the persisted form of the registry.
type snapshot struct {
	UpdatedAt        time.Time         `json:"updated_at"`
	EscalationTarget string            `json:"escalation_target"`
	Responders       []string          `json:"responders"`
	Paused           []string          `json:"paused"`
	Titles           map[string]string `json:"titles,omitempty"`
}

// Seed is the configured starting state, used when nothing is persisted yet.
type Seed struct {
	EscalationTarget string
	Responders       []string
	Paused           []string
	Admins           []string
}

// Registry is safe for concurrent use.
type Registry struct {
	store      state.Store
	logger     *slog.Logger
	admins     map[string]bool
	responders map[string]bool
	paused     map[string]bool
	titles     map[string]string
	target     string
	mu         sync.RWMutex
}

// New creates a registry backed by store and seeded from seed.
func New(store state.Store, seed Seed, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:      store,
		logger:     logger.With("component", "registry"),
		admins:     make(map[string]bool),
		responders: make(map[string]bool),
		paused:     make(map[string]bool),
		titles:     make(map[string]string),
		target:     seed.EscalationTarget,
	}
	for _, a := range seed.Admins {
		if a = Normalize(a); a != "" {
			r.admins[a] = true
		}
	}
	for _, h := range seed.Responders {
		if h = Normalize(h); h != "" {
			r.responders[h] = true
		}
	}
	for _, id := range seed.Paused {
		if id = strings.TrimSpace(id); id != "" {
			r.paused[id] = true
		}
	}
	return r
}

// Normalize lower-cases a handle or id and strips a leading "@".
func Normalize(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

// Load replaces the seeded state with the persisted one, if any.
// A configured escalation target is kept when the stored one is empty.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.store.LoadRecords(ctx, state.KindRegistry)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	snaps, err := state.Decode[snapshot](records)
	if err != nil {
		return fmt.Errorf("decode registry: %w", err)
	}
	if len(snaps) == 0 {
		r.logger.Info("no stored registry, using configuration")
		return nil
	}
	snap := snaps[len(snaps)-1]

	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.EscalationTarget != "" {
		r.target = snap.EscalationTarget
	}
	r.responders = make(map[string]bool, len(snap.Responders))
	for _, h := range snap.Responders {
		r.responders[h] = true
	}
	r.paused = make(map[string]bool, len(snap.Paused))
	for _, id := range snap.Paused {
		r.paused[id] = true
	}
	maps.Copy(r.titles, snap.Titles)

	r.logger.Info("registry loaded",
		"escalation_target", r.target,
		"responders", len(r.responders),
		"paused", len(r.paused))
	return nil
}

// save persists the current state. Caller must not hold mu.
func (r *Registry) save(ctx context.Context) error {
	r.mu.RLock()
	snap := snapshot{
		UpdatedAt:        time.Now(),
		EscalationTarget: r.target,
		Responders:       sortedKeys(r.responders),
		Paused:           sortedKeys(r.paused),
		Titles:           maps.Clone(r.titles),
	}
	r.mu.RUnlock()

	records, err := state.Encode([]snapshot{snap})
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := r.store.SaveRecords(ctx, state.KindRegistry, records); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// IsQualifiedResponder reports whether the sender is on the roster, by id or handle.
func (r *Registry) IsQualifiedResponder(senderID, handle string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id := Normalize(senderID); id != "" && r.responders[id] {
		return true
	}
	h := Normalize(handle)
	return h != "" && r.responders[h]
}

// IsPrivilegedCaller reports whether the caller may run administrative commands.
func (r *Registry) IsPrivilegedCaller(callerID, handle string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id := Normalize(callerID); id != "" && r.admins[id] {
		return true
	}
	h := Normalize(handle)
	return h != "" && r.admins[h]
}

// IsChannelPaused reports whether escalation is paused for channelID.
func (r *Registry) IsChannelPaused(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[channelID]
}

// EscalationTarget returns the channel that receives alerts, or "".
func (r *Registry) EscalationTarget() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.target
}

// SetEscalationTarget makes channelID the alert target.
func (r *Registry) SetEscalationTarget(ctx context.Context, channelID string) error {
	if channelID == "" {
		return errors.New("escalation target cannot be empty")
	}
	r.mu.Lock()
	r.target = channelID
	r.mu.Unlock()

	r.logger.Info("escalation target set", "channel_id", channelID)
	return r.save(ctx)
}

// AddResponders adds handles or ids to the roster and returns how many were new.
func (r *Registry) AddResponders(ctx context.Context, handles ...string) (int, error) {
	added := 0
	r.mu.Lock()
	for _, h := range handles {
		if h = Normalize(h); h != "" && !r.responders[h] {
			r.responders[h] = true
			added++
		}
	}
	r.mu.Unlock()

	if added == 0 {
		return 0, nil
	}
	return added, r.save(ctx)
}

// RemoveResponders removes handles from the roster. Unknown handles are ignored.
func (r *Registry) RemoveResponders(ctx context.Context, handles ...string) (int, error) {
	removed := 0
	r.mu.Lock()
	for _, h := range handles {
		if h = Normalize(h); r.responders[h] {
			delete(r.responders, h)
			removed++
		}
	}
	r.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	return removed, r.save(ctx)
}

// Responders returns the roster, sorted.
func (r *Registry) Responders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.responders)
}

// SetPaused pauses or resumes channelID. Returns whether the state changed.
func (r *Registry) SetPaused(ctx context.Context, channelID string, paused bool) (bool, error) {
	r.mu.Lock()
	if r.paused[channelID] == paused {
		r.mu.Unlock()
		return false, nil
	}
	if paused {
		r.paused[channelID] = true
	} else {
		delete(r.paused, channelID)
	}
	r.mu.Unlock()

	r.logger.Info("channel pause changed", "channel_id", channelID, "paused", paused)
	return true, r.save(ctx)
}

// PausedChannels returns the paused channel ids, sorted.
func (r *Registry) PausedChannels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.paused)
}

// RememberTitle records a channel's display title. Titles are persisted
// with the next state change.
func (r *Registry) RememberTitle(channelID, title string) {
	if title == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles[channelID] = title
}

// Title returns the last known title for channelID.
func (r *Registry) Title(channelID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.titles[channelID]
}

// Forget drops everything known about a channel the bot has left.
func (r *Registry) Forget(ctx context.Context, channelID string) error {
	r.mu.Lock()
	_, wasPaused := r.paused[channelID]
	delete(r.paused, channelID)
	delete(r.titles, channelID)
	r.mu.Unlock()

	if !wasPaused {
		return nil
	}
	return r.save(ctx)
}

func sortedKeys(m map[string]bool) []string {
	return slices.Sorted(maps.Keys(m))
}
