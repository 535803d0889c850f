package model

import (
	"strings"
	"testing"
	"time"
)

func TestPreviewTruncatesByRunes(t *testing.T) {
	long := strings.Repeat("é", PreviewMaxLen+40)
	m := &Message{Type: MessageText, Body: long}

	got := m.Preview()
	if n := len([]rune(got)); n != PreviewMaxLen {
		t.Fatalf("preview runes = %d, want %d", n, PreviewMaxLen)
	}
	if !strings.HasPrefix(long, got) {
		t.Fatal("preview is not a prefix of the body")
	}
}

func TestPreviewShortBodyUnchanged(t *testing.T) {
	m := &Message{Type: MessageText, Body: "hello"}
	if got := m.Preview(); got != "hello" {
		t.Fatalf("preview = %q, want %q", got, "hello")
	}
}

func TestPreviewNonTextTags(t *testing.T) {
	cases := []struct {
		typ  MessageType
		want string
	}{
		{MessageImage, "[image]"},
		{MessageFile, "[file]"},
	}
	for _, tc := range cases {
		m := &Message{Type: tc.typ, Body: "ignored"}
		if got := m.Preview(); got != tc.want {
			t.Fatalf("%s preview = %q, want %q", tc.typ, got, tc.want)
		}
	}
}

func TestMutedAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hour := now.Add(time.Hour)

	cases := []struct {
		name string
		m    Membership
		want bool
	}{
		{"not muted", Membership{}, false},
		{"muted forever", Membership{Muted: true}, true},
		{"muted until future", Membership{Muted: true, MutedUntil: &hour}, true},
		{"mute expired", Membership{Muted: true, MutedUntil: &now}, false},
	}
	for _, tc := range cases {
		if got := tc.m.MutedAt(now); got != tc.want {
			t.Fatalf("%s: MutedAt = %v, want %v", tc.name, got, tc.want)
		}
	}
}
