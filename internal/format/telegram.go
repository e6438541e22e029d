package format

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is Telegram's per-message limit in characters.
const MaxMessageLength = 4096

// ParseMode names a Telegram parse mode. Empty means plain text.
type ParseMode string

const (
	ParseModeMarkdownV2 ParseMode = "MarkdownV2"
	ParsePlain          ParseMode = ""
)

// Message is one outbound Telegram message.
type Message struct {
	Text      string
	ParseMode ParseMode
}

const markdownV2Special = "_*[]()~`>#+-=|{}.!"

var codeSpan = regexp.MustCompile("(?s)```.*?```|`[^`]+`")

// EscapeMarkdownV2 escapes MarkdownV2 control characters outside inline and
// fenced code, which are passed through untouched.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/8)

	last := 0
	for _, loc := range codeSpan.FindAllStringIndex(text, -1) {
		escapeInto(&b, text[last:loc[0]])
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	escapeInto(&b, text[last:])
	return b.String()
}

func escapeInto(b *strings.Builder, s string) {
	for _, r := range s {
		if r < utf8.RuneSelf && strings.ContainsRune(markdownV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
}

// UnescapeMarkdownV2 reverses EscapeMarkdownV2 outside code spans.
func UnescapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, loc := range codeSpan.FindAllStringIndex(text, -1) {
		unescapeInto(&b, text[last:loc[0]])
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	unescapeInto(&b, text[last:])
	return b.String()
}

func unescapeInto(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte(markdownV2Special, s[i+1]) >= 0 {
			continue
		}
		b.WriteByte(s[i])
	}
}

var splitSeparators = []string{"\n\n", "\n", ". ", ", ", " "}

// Split breaks text into pieces of at most limit runes. It prefers
// paragraph, line, sentence, clause and word boundaries, but only when the
// boundary falls past half of the limit; otherwise it cuts at the limit.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	remaining := text
	for remaining != "" {
		if utf8.RuneCountInString(remaining) <= limit {
			parts = append(parts, remaining)
			break
		}
		cut := splitPoint(remaining, limit)
		if chunk := strings.TrimRight(remaining[:cut], " \t\r\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		remaining = strings.TrimLeft(remaining[cut:], " \t\r\n")
	}
	return parts
}

// splitPoint returns a byte offset to cut text at, given a limit in runes.
func splitPoint(text string, limit int) int {
	window := byteOffset(text, limit)
	half := byteOffset(text, limit/2)
	for _, sep := range splitSeparators {
		if pos := strings.LastIndex(text[:window], sep); pos > half {
			return pos + len(sep)
		}
	}
	// Keep an escape backslash with the character it escapes.
	if window > 1 && window < len(text) && text[window-1] == '\\' {
		return window - 1
	}
	return window
}

// byteOffset returns the byte index of the n-th rune, or len(s).
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}

// ForTelegram escapes text for MarkdownV2 and splits it to fit. Empty text
// becomes a plain "No response".
func ForTelegram(text string) []Message {
	if text == "" {
		return []Message{{Text: "No response", ParseMode: ParsePlain}}
	}
	pieces := Split(EscapeMarkdownV2(text), MaxMessageLength)
	out := make([]Message, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, Message{Text: p, ParseMode: ParseModeMarkdownV2})
	}
	return out
}

// Plain splits text into plain-text messages.
func Plain(text string) []Message {
	if text == "" {
		return []Message{{Text: "No response", ParseMode: ParsePlain}}
	}
	pieces := Split(text, MaxMessageLength)
	out := make([]Message, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, Message{Text: p, ParseMode: ParsePlain})
	}
	return out
}

// Error renders a run failure for the user.
func Error(detail string) Message {
	return Message{Text: "❌ Error: " + detail, ParseMode: ParsePlain}
}
