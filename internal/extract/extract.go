// Package extract pulls normalized work-item identifiers out of message text.
package extract

import (
	"regexp"
	"slices"
	"strings"
)

// KindPin tags identifiers taken from numbered pin lines ("1# 111X58WPC").
const KindPin = "PIN"

// pinLine matches, per line: optional marker glyph(s), an ordinal, '#',
// an optional ':' / '：' / '-', then a 6-20 character alphanumeric token.
// The trailing group rejects tokens longer than 20 characters.
var pinLine = regexp.MustCompile(`(?m)^[ \t]*(?:[^\p{L}\p{N}\s]{1,4}[ \t]*)?\d+[ \t]*#[ \t]*(?:[:：-][ \t]*)?([A-Za-z0-9]{6,20})(?:[^A-Za-z0-9]|$)`)

// Key builds the kind-prefixed identifier key.
func Key(kind, token string) string {
	return kind + ":" + strings.ToUpper(token)
}

// Identifiers returns the distinct identifiers found in text, sorted.
// Text without any match yields nil.
func Identifiers(text string) []string {
	if text == "" {
		return nil
	}

	matches := pinLine.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := Key(KindPin, m[1])
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	slices.Sort(ids)
	return ids
}
