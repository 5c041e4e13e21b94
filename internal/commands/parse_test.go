package commands

import (
	"reflect"
	"testing"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{`/set standup "Daily standup" https://meet.example/abc`, []string{"/set", "standup", "Daily standup", "https://meet.example/abc"}},
		{`/set standup “Smart quotes” x`, []string{"/set", "standup", "Smart quotes", "x"}},
		{`/text standup don't forget`, []string{"/text", "standup", "don't", "forget"}},
		{`  /list  `, []string{"/list"}},
		{``, nil},
	}
	for _, tc := range cases {
		if got := tokenizeCommandLine(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("tokenize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"standup", "--text", "hi", "--link=https://x", "-5", "minutes", "--dry", "-v"})
	if !reflect.DeepEqual(pos, []string{"standup", "-5", "minutes"}) {
		t.Fatalf("pos = %q", pos)
	}
	if flags["text"] != "hi" || flags["link"] != "https://x" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["dry"] || !bools["v"] {
		t.Fatalf("bools = %v", bools)
	}

	_, flags, _ = parseFlags([]string{"--every", "-1", "--unit", "h"})
	if flags["every"] != "-1" || flags["unit"] != "h" {
		t.Fatalf("negative flag value: %v", flags)
	}
}

func TestIntervalArgs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in        []string
		mag, unit string
	}{
		{nil, "", ""},
		{[]string{"daily"}, "daily", ""},
		{[]string{"5", "minutes"}, "5", "minutes"},
		{[]string{"@every", "1h30m"}, "@every 1h30m", ""},
		{[]string{"@EVERY", "2h"}, "@every 2h", ""},
	}
	for _, tc := range cases {
		mag, unit := intervalArgs(tc.in)
		if mag != tc.mag || unit != tc.unit {
			t.Fatalf("intervalArgs(%q) = %q, %q; want %q, %q", tc.in, mag, unit, tc.mag, tc.unit)
		}
	}
}

func TestSanitizeMenuName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"list":         "list",
		"audit recent": "audit_recent",
		"Some-Thing":   "some_thing",
		"9lives":       "cmd_9lives",
		"!!!":          "",
	}
	for in, want := range cases {
		if got := sanitizeMenuName(in); got != want {
			t.Fatalf("sanitizeMenuName(%q) = %q, want %q", in, got, want)
		}
	}
}
