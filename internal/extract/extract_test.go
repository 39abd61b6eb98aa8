package extract

import (
	"slices"
	"testing"
)

func TestIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty text",
			text: "",
			want: nil,
		},
		{
			name: "no match",
			text: "hello, is anyone there?",
			want: nil,
		},
		{
			name: "plain pin line",
			text: "1# 111x58wpc",
			want: []string{"PIN:111X58WPC"},
		},
		{
			name: "colon separator",
			text: "2#: ab12cd34",
			want: []string{"PIN:AB12CD34"},
		},
		{
			name: "fullwidth colon separator",
			text: "3#：QWERTY9",
			want: []string{"PIN:QWERTY9"},
		},
		{
			name: "hyphen separator",
			text: "4# - zx81zx81",
			want: []string{"PIN:ZX81ZX81"},
		},
		{
			name: "marker glyph",
			text: "📌1# 998877aa",
			want: []string{"PIN:998877AA"},
		},
		{
			name: "marker glyph with variation selector",
			text: "❗️ 12# pk00001",
			want: []string{"PIN:PK00001"},
		},
		{
			name: "token too short",
			text: "1# abc12",
			want: nil,
		},
		{
			name: "token too long",
			text: "1# abcdefghij0123456789x",
			want: nil,
		},
		{
			name: "twenty characters is accepted",
			text: "1# abcdefghij0123456789",
			want: []string{"PIN:ABCDEFGHIJ0123456789"},
		},
		{
			name: "not at start of line",
			text: "load 1# 111x58wpc",
			want: nil,
		},
		{
			name: "multiple lines",
			text: "Pickup list\n1# 111x58wpc\n2# 222y69xqd\nthanks",
			want: []string{"PIN:111X58WPC", "PIN:222Y69XQD"},
		},
		{
			name: "duplicates collapse",
			text: "1# 111x58wpc\n2# 111X58WPC",
			want: []string{"PIN:111X58WPC"},
		},
		{
			name: "trailing text after token",
			text: "1# 111x58wpc, dock 4",
			want: []string{"PIN:111X58WPC"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Identifiers(tt.text)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Identifiers(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIdentifiers_Deterministic(t *testing.T) {
	text := "2# zzzz9999\n1# aaaa1111"
	first := Identifiers(text)
	for range 5 {
		if got := Identifiers(text); !slices.Equal(got, first) {
			t.Fatalf("Identifiers() = %v, want %v", got, first)
		}
	}
	if first[0] != "PIN:AAAA1111" {
		t.Errorf("Identifiers()[0] = %q, want sorted output", first[0])
	}
}

func TestKey(t *testing.T) {
	if got := Key(KindPin, "abc123"); got != "PIN:ABC123" {
		t.Errorf("Key() = %q, want %q", got, "PIN:ABC123")
	}
}
