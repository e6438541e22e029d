package format

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"punctuation", "Done. (2 files) - ok!", `Done\. \(2 files\) \- ok\!`},
		{"every special", "_*[]()~>#+-=|{}.!", `\_\*\[\]\(\)\~\>\#\+\-\=\|\{\}\.\!`},
		{"inline code untouched", "run `make test-all` now.", "run `make test-all` now\\."},
		{"fenced code untouched", "see:\n```go\nx := a.b(c)\n```\nend.", "see:\n```go\nx := a.b(c)\n```\nend\\."},
		{"lone backtick escaped", "it`s", "it\\`s"},
		{"unicode kept", "héllo — ok.", "héllo — ok\\."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EscapeMarkdownV2(tt.in); got != tt.want {
				t.Errorf("EscapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnescapeMarkdownV2(t *testing.T) {
	for _, in := range []string{
		"Done. (2 files) - ok!",
		"_*[]()~>#+-=|{}.!",
		"run `a.b` now.",
		"path C:\\temp",
	} {
		if got := UnescapeMarkdownV2(EscapeMarkdownV2(in)); got != in {
			t.Errorf("round trip of %q = %q", in, got)
		}
	}
}

func TestSplit_Short(t *testing.T) {
	got := Split("short", 10)
	if len(got) != 1 || got[0] != "short" {
		t.Errorf("Split() = %q", got)
	}
}

func TestSplit_PrefersBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		limit     int
		wantFirst string
	}{
		{
			name:      "paragraph",
			text:      strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60),
			limit:     100,
			wantFirst: strings.Repeat("a", 60),
		},
		{
			name:      "line beats sentence",
			text:      strings.Repeat("a", 55) + ". " + strings.Repeat("a", 10) + "\n" + strings.Repeat("c", 60),
			limit:     100,
			wantFirst: strings.Repeat("a", 55) + ". " + strings.Repeat("a", 10),
		},
		{
			name:      "sentence",
			text:      strings.Repeat("a", 70) + ". " + strings.Repeat("b", 60),
			limit:     100,
			wantFirst: strings.Repeat("a", 70) + ".",
		},
		{
			name:      "word",
			text:      strings.Repeat("a", 80) + " " + strings.Repeat("b", 60),
			limit:     100,
			wantFirst: strings.Repeat("a", 80),
		},
		{
			name:      "boundary too early is ignored",
			text:      strings.Repeat("a", 10) + "\n\n" + strings.Repeat("b", 200),
			limit:     100,
			wantFirst: strings.Repeat("a", 10) + "\n\n" + strings.Repeat("b", 88),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.limit)
			if got[0] != tt.wantFirst {
				t.Errorf("first part = %q\nwant         %q", got[0], tt.wantFirst)
			}
			for i, part := range got {
				if n := utf8.RuneCountInString(part); n > tt.limit {
					t.Errorf("part %d has %d runes", i, n)
				}
			}
		})
	}
}

func TestSplit_CountsRunes(t *testing.T) {
	text := strings.Repeat("é", 250)
	got := Split(text, 100)
	if len(got) != 3 {
		t.Fatalf("parts = %d, want 3", len(got))
	}
	if strings.Join(got, "") != text {
		t.Error("forced split lost characters")
	}
	for _, p := range got {
		if !utf8.ValidString(p) {
			t.Errorf("invalid UTF-8 in %q", p)
		}
	}
}

func TestSplit_KeepsEscapePairs(t *testing.T) {
	text := strings.Repeat("a", 99) + `\.` + strings.Repeat("b", 50)
	got := Split(text, 100)
	if strings.HasSuffix(got[0], `\`) {
		t.Errorf("escape split from its character: %q", got[0][90:])
	}
	if strings.Join(got, "") != text {
		t.Error("split lost characters")
	}
}

func TestForTelegram(t *testing.T) {
	got := ForTelegram("")
	if len(got) != 1 || got[0].Text != "No response" || got[0].ParseMode != ParsePlain {
		t.Errorf("ForTelegram(\"\") = %+v", got)
	}

	got = ForTelegram("All good.")
	if len(got) != 1 || got[0].Text != `All good\.` || got[0].ParseMode != ParseModeMarkdownV2 {
		t.Errorf("ForTelegram() = %+v", got)
	}

	long := strings.Repeat("word ", 2000)
	got = ForTelegram(long)
	if len(got) < 3 {
		t.Fatalf("parts = %d", len(got))
	}
	for _, m := range got {
		if utf8.RuneCountInString(m.Text) > MaxMessageLength {
			t.Errorf("message too long: %d", utf8.RuneCountInString(m.Text))
		}
	}
}

func TestPlain(t *testing.T) {
	got := Plain("a.b")
	if len(got) != 1 || got[0].Text != "a.b" || got[0].ParseMode != ParsePlain {
		t.Errorf("Plain() = %+v", got)
	}
}

func TestError(t *testing.T) {
	got := Error("No output for 30m.")
	if got.Text != "❌ Error: No output for 30m." || got.ParseMode != ParsePlain {
		t.Errorf("Error() = %+v", got)
	}
}
