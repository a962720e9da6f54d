package adapter

import (
	"strings"
	"testing"
)

func TestSplitTelegramTextShort(t *testing.T) {
	got := splitTelegramText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	line := strings.Repeat("a", 6)
	text := strings.Join([]string{line, line, line, line}, "\n")
	got := splitTelegramText(text, 20, "")
	if len(got) < 2 {
		t.Fatalf("got %d chunks, want several", len(got))
	}
	for _, c := range got {
		if len([]rune(c)) > 20 {
			t.Fatalf("chunk %q exceeds limit", c)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %q carries a dangling newline", c)
		}
	}
	if strings.Join(got, "\n") != text {
		t.Fatal("chunks do not reassemble into the input")
	}
}

func TestSplitTelegramTextAvoidsOpenTags(t *testing.T) {
	text := strings.Repeat("x", 15) + "<strong>bold</strong>"
	got := splitTelegramText(text, 18, "HTML")
	if strings.Contains(got[0], "<") {
		t.Fatalf("first chunk %q splits inside a tag", got[0])
	}
}
