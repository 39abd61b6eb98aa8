// Package duplicate detects the same work-item identifier posted in two channels.
package duplicate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/groupwatch/internal/format"
)

const (
	// DefaultTTL is how long the first sighting of an identifier stays the baseline.
	DefaultTTL = 24 * time.Hour

	// SnippetLength bounds the message text carried in an Event.
	SnippetLength = 300
)

// Sighting is one observation of an identifier.
type Sighting struct {
	At           time.Time `json:"at"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title"`
	MessageID    string    `json:"message_id,omitempty"`
	Sender       string    `json:"sender"`
	Snippet      string    `json:"snippet"`
}

// Event reports an identifier seen in a second channel.
type Event struct {
	Identifier string   `json:"identifier"`
	First      Sighting `json:"first"`
	Second     Sighting `json:"second"`
}

type record struct {
	first Sighting
}

type mark struct {
	identifier string
	channelID  string
}

// Detector keeps the first sighting of every identifier within the TTL.
type Detector struct {
	records map[string]record
	marks   map[mark]bool
	logger  *slog.Logger
	ttl     time.Duration
	mu      sync.Mutex
}

// New creates a detector. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, logger *slog.Logger) *Detector {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		records: make(map[string]record),
		marks:   make(map[mark]bool),
		logger:  logger.With("component", "duplicate"),
		ttl:     ttl,
	}
}

// Observe purges expired state once, then checks every identifier against s.
func (d *Detector) Observe(identifiers []string, s Sighting) []Event {
	if len(identifiers) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.purgeLocked(s.At)

	var events []Event
	for _, id := range identifiers {
		if ev, ok := d.checkLocked(id, s); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (d *Detector) checkLocked(identifier string, s Sighting) (Event, bool) {
	s.Snippet = format.Truncate(s.Snippet, SnippetLength)

	rec, exists := d.records[identifier]
	if !exists {
		d.records[identifier] = record{first: s}
		d.logger.Debug("identifier baseline recorded",
			"identifier", identifier,
			"channel_id", s.ChannelID)
		return Event{}, false
	}

	if rec.first.ChannelID == s.ChannelID {
		return Event{}, false
	}

	k := mark{identifier: identifier, channelID: s.ChannelID}
	if d.marks[k] {
		return Event{}, false
	}
	d.marks[k] = true

	d.logger.Info("duplicate identifier detected",
		"identifier", identifier,
		"first_channel_id", rec.first.ChannelID,
		"channel_id", s.ChannelID)

	return Event{Identifier: identifier, First: rec.first, Second: s}, true
}

// Retract removes the alert mark for identifier in channelID so a later
// sighting can raise the event again.
func (d *Detector) Retract(identifier, channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.marks, mark{identifier: identifier, channelID: channelID})
}

// Purge drops records older than the TTL and marks whose record is gone.
func (d *Detector) Purge(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.purgeLocked(now)
}

func (d *Detector) purgeLocked(now time.Time) int {
	removed := 0
	for id, rec := range d.records {
		if now.Sub(rec.first.At) > d.ttl {
			delete(d.records, id)
			removed++
		}
	}
	for k := range d.marks {
		if _, ok := d.records[k.identifier]; !ok {
			delete(d.marks, k)
		}
	}
	if removed > 0 {
		d.logger.Debug("purged expired identifiers", "count", removed)
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}
