package messaging

import (
	"testing"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

func TestRenderNumbered(t *testing.T) {
	tests := []struct {
		name  string
		reply models.Reply
		want  string
	}{
		{"no keyboard", models.Reply{Text: "Hello"}, "Hello"},
		{
			"single row",
			models.Reply{Text: "Sex?", Keyboard: [][]string{{"Male", "Female"}}},
			"Sex?\n\n1. Male\n2. Female",
		},
		{
			"rows flattened in order",
			models.Reply{Text: "Pick", Keyboard: [][]string{{"a"}, {}, {"b", "c"}}},
			"Pick\n\n1. a\n2. b\n3. c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderNumbered(tt.reply); got != tt.want {
				t.Errorf("renderNumbered() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionMemoryResolve(t *testing.T) {
	m := newOptionMemory()
	m.remember("100", models.Reply{Text: "?", Keyboard: [][]string{{"Yes", "No"}}})

	tests := []struct {
		from, text, want string
	}{
		{"100", "1", "Yes"},
		{"100", " 2 ", "No"},
		{"100", "3", "3"},
		{"100", "0", "0"},
		{"100", "maybe", "maybe"},
		{"200", "1", "1"},
	}
	for _, tt := range tests {
		if got := m.resolve(tt.from, tt.text); got != tt.want {
			t.Errorf("resolve(%q, %q) = %q, want %q", tt.from, tt.text, got, tt.want)
		}
	}

	m.remember("100", models.Reply{Text: "plain"})
	if got := m.resolve("100", "1"); got != "Yes" {
		t.Errorf("plain reply should keep options, got %q", got)
	}
	m.remember("100", models.Reply{Text: "done", RemoveKeyboard: true})
	if got := m.resolve("100", "1"); got != "1" {
		t.Errorf("removed keyboard should clear options, got %q", got)
	}
}

func TestCanonicalPhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "15551234567", false},
		{"whatsapp", "", true},
		{"", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalPhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("canonicalPhone(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("canonicalPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInboxDropsAfterClose(t *testing.T) {
	b := newInbox("test")
	if !b.emit(models.Inbound{From: "1"}) {
		t.Fatal("emit before close should succeed")
	}
	b.close()
	b.close()
	if b.emit(models.Inbound{From: "2"}) {
		t.Error("emit after close should be dropped")
	}
	if in, ok := <-b.ch; !ok || in.From != "1" {
		t.Errorf("buffered message lost: %+v %v", in, ok)
	}
	if _, ok := <-b.ch; ok {
		t.Error("channel should be closed")
	}
}
