// Package format renders outbound alert, warning and report text.
package format

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Message emoji.
const (
	EmojiAlert     = "\U0001F4E2"   // 📢 Escalation alert
	EmojiDuplicate = "\u26A0\uFE0F" // ⚠️ Duplicate identifier
	EmojiTeam      = "\U0001F465"   // 👥 Team roster
	EmojiOK        = "\u2705"       // ✅ Command succeeded
	EmojiError     = "\u274C"       // ❌ Command failed
	EmojiReport    = "\U0001F4CA"   // 📊 Latency report
	EmojiPaused    = "\u23F8\uFE0F" // ⏸️ Channel paused
	EmojiResumed   = "\u25B6\uFE0F" // ▶️ Channel resumed
)

// NoText stands in for messages without text or caption.
const NoText = "(no text)"

// AlertParams contains the fields rendered in an escalation alert.
type AlertParams struct {
	ChannelTitle string
	SenderHandle string // without the leading @
	SenderName   string
	Text         string
}

// EscalationAlert formats the alert posted to the escalation target.
func EscalationAlert(p AlertParams) string {
	return fmt.Sprintf("%s From group: %s\nUser %s:\n%s",
		EmojiAlert, orUnknown(p.ChannelTitle), Sender(p.SenderHandle, p.SenderName), orNoText(p.Text))
}

// DuplicateSide is one sighting inside a duplicate warning.
type DuplicateSide struct {
	ChannelTitle string
	Sender       string
	Snippet      string
}

// DuplicateParams contains the fields rendered in a duplicate warning.
type DuplicateParams struct {
	Identifier string
	First      DuplicateSide
	Second     DuplicateSide
}

// DuplicateWarning formats the warning for an identifier posted in two channels.
func DuplicateWarning(p DuplicateParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Duplicate %s\n\n", EmojiDuplicate, DisplayIdentifier(p.Identifier))
	writeSide(&b, "First seen", p.First)
	b.WriteByte('\n')
	writeSide(&b, "Now seen", p.Second)
	return b.String()
}

func writeSide(b *strings.Builder, label string, s DuplicateSide) {
	fmt.Fprintf(b, "%s in: %s\n", label, orUnknown(s.ChannelTitle))
	if s.Sender != "" {
		fmt.Fprintf(b, "By: %s\n", s.Sender)
	}
	fmt.Fprintf(b, "%s\n", orNoText(s.Snippet))
}

// DisplayIdentifier renders "PIN:ABC123" as "PIN ABC123".
func DisplayIdentifier(id string) string {
	kind, token, ok := strings.Cut(id, ":")
	if !ok {
		return id
	}
	return kind + " " + token
}

// RankingRow is one responder line in a latency report.
type RankingRow struct {
	DisplayName    string
	AverageSeconds float64
	SampleCount    int
}

// LatencyRanking formats a monthly responder ranking.
func LatencyRanking(month string, rows []RankingRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Reply times for %s\n", EmojiReport, month)
	if len(rows) == 0 {
		b.WriteString("No replies recorded.")
		return b.String()
	}
	b.WriteByte('\n')
	for i, r := range rows {
		noun := "replies"
		if r.SampleCount == 1 {
			noun = "reply"
		}
		fmt.Fprintf(&b, "%d. %s: avg %s (%d %s)\n", i+1, r.DisplayName, Duration(r.AverageSeconds), r.SampleCount, noun)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Duration renders seconds as m:ss, or h:mm:ss from one hour up.
func Duration(seconds float64) string {
	total := int(math.Round(seconds))
	if total < 0 {
		total = 0
	}
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Team formats the responder roster.
func Team(handles []string) string {
	if len(handles) == 0 {
		return EmojiTeam + " Team: empty"
	}
	return EmojiTeam + " Team: " + strings.Join(handles, ", ")
}

// OK formats a successful command reply.
func OK(msg string) string {
	return EmojiOK + " " + msg
}

// Error formats a failed command reply.
func Error(msg string) string {
	return EmojiError + " " + msg
}

// Sender renders "@handle" when a handle is known, the display name otherwise.
func Sender(handle, name string) string {
	if handle != "" {
		return "@" + handle
	}
	if name != "" {
		return name
	}
	return "unknown"
}

func orNoText(s string) string {
	if strings.TrimSpace(s) == "" {
		return NoText
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Truncate shortens s to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
