// Package format prepares agent output for Telegram.
package format

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Duration renders d compactly for user-facing text: "30m", "1h30m",
// "45s", "1.5s" or "250ms".
func Duration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return Seconds(float64(d.Milliseconds()), 1)
	}

	var b strings.Builder
	hours := int64(d / time.Hour)
	minutes := int64(d%time.Hour) / int64(time.Minute)
	seconds := int64(d%time.Minute) / int64(time.Second)
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dm", minutes)
	}
	if seconds > 0 {
		fmt.Fprintf(&b, "%ds", seconds)
	}
	return b.String()
}

// Seconds formats milliseconds as seconds with up to decimals places.
// Returns "unknown" for non-finite values.
func Seconds(ms float64, decimals int) string {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return "unknown"
	}
	if ms < 0 {
		ms = 0
	}
	if decimals <= 0 {
		decimals = 1
	}
	formatted := fmt.Sprintf("%.*f", decimals, ms/1000)
	return trimTrailingZeros(formatted) + "s"
}

// trimTrailingZeros removes trailing zeros after the decimal point.
// e.g., "1.50" -> "1.5", "2.00" -> "2"
func trimTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
