package heartbeat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 30 * time.Minute

var (
	intervalPart  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([dhms])`)
	intervalWhole = regexp.MustCompile(`^(\s*\d+(?:\.\d+)?\s*[dhms])+\s*$`)
)

var intervalUnits = map[string]time.Duration{
	"d": 24 * time.Hour,
	"h": time.Hour,
	"m": time.Minute,
	"s": time.Second,
}

// ParseInterval parses compact durations such as "30m", "1h30m", "1d12h" or
// "1.5h". Units are d, h, m and s; repeated units add up. An empty string
// yields DefaultInterval.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultInterval, nil
	}
	if strings.Contains(s, "-") {
		return 0, fmt.Errorf("interval %q: values must be positive", s)
	}
	if !intervalWhole.MatchString(s) {
		return 0, fmt.Errorf("interval %q: expected a form like 30m, 1h or 2h30m", s)
	}

	var total time.Duration
	for _, m := range intervalPart.FindAllStringSubmatch(s, -1) {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("interval %q: %w", s, err)
		}
		if value <= 0 {
			return 0, fmt.Errorf("interval %q: values must be positive, got %s%s", s, m[1], m[2])
		}
		total += time.Duration(value * float64(intervalUnits[m[2]]))
	}
	if total <= 0 {
		return 0, fmt.Errorf("interval %q must be positive", s)
	}
	return total, nil
}
