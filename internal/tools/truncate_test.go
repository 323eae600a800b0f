package tools

import (
	"strings"
	"testing"
)

func TestTruncate_NoCapWhenMaxZero(t *testing.T) {
	long := strings.Repeat("x", 1000)
	if got := Truncate(long, 0); got != long {
		t.Errorf("maxRunes 0: expected full output, got len %d", len(got))
	}
}

func TestTruncate_ShortStringUnchanged(t *testing.T) {
	if got := Truncate("hello", 100); got != "hello" {
		t.Errorf("short string changed: %q", got)
	}
}

func TestTruncate_CapsAndNotes(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := Truncate(long, 200)
	if !strings.Contains(got, "output truncated") {
		t.Errorf("expected truncation note: %q", got)
	}
	if !strings.Contains(got, "500 runes") {
		t.Errorf("note should state original size: %q", got)
	}
	if len([]rune(got)) > 200 {
		t.Errorf("result exceeds cap: %d runes", len([]rune(got)))
	}
}

func TestTruncate_MultibyteSafe(t *testing.T) {
	long := strings.Repeat("日", 300) // 3 bytes per rune
	got := Truncate(long, 150)
	if len([]rune(got)) > 150 {
		t.Errorf("rune cap exceeded: %d", len([]rune(got)))
	}
	// Must still be valid UTF-8 (no byte-level slicing).
	for _, r := range got {
		if r == '�' {
			t.Fatal("output contains replacement rune")
		}
	}
}
