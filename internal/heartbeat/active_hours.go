package heartbeat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ActiveHours is a daily window, in minutes since midnight, evaluated in Location.
// A window whose end is at or before its start runs overnight.
type ActiveHours struct {
	Start    int
	End      int
	Location *time.Location
}

var windowPattern = regexp.MustCompile(`^(.+?)\s*-\s*(.+?)$`)

// ParseActiveHours parses windows such as "09:00-17:00", "9-17" or
// "22:00 - 06:00". tz names an IANA zone and defaults to UTC. An empty spec
// returns nil, which is always active.
func ParseActiveHours(spec, tz string) (*ActiveHours, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}

	m := windowPattern.FindStringSubmatch(spec)
	if m == nil {
		return nil, fmt.Errorf("invalid active hours %q: expected HH:MM-HH:MM", spec)
	}
	start, err := parseClock(m[1], false)
	if err != nil {
		return nil, fmt.Errorf("invalid active hours %q: %w", spec, err)
	}
	end, err := parseClock(m[2], true)
	if err != nil {
		return nil, fmt.Errorf("invalid active hours %q: %w", spec, err)
	}
	return &ActiveHours{Start: start, End: end, Location: loc}, nil
}

func loadLocation(tz string) (*time.Location, error) {
	switch strings.TrimSpace(tz) {
	case "", "UTC", "utc":
		return time.UTC, nil
	case "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// parseClock accepts "HH:MM" or a bare hour and returns minutes since
// midnight. 24:00 is only valid as an end time.
func parseClock(s string, allow24 bool) (int, error) {
	s = strings.TrimSpace(s)
	hourPart, minutePart, hasMinutes := strings.Cut(s, ":")

	hour, err := strconv.Atoi(hourPart)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	minute := 0
	if hasMinutes {
		if len(minutePart) != 2 {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		minute, err = strconv.Atoi(minutePart)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q", s)
		}
	}

	switch {
	case hour == 24 && minute == 0 && allow24:
		return 24 * 60, nil
	case hour < 0 || hour > 23:
		return 0, fmt.Errorf("invalid hour in %q", s)
	case minute < 0 || minute > 59:
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// Contains reports whether t falls inside the window. A nil window always
// contains t.
func (a *ActiveHours) Contains(t time.Time) bool {
	if a == nil {
		return true
	}
	local := t.In(a.Location)
	now := local.Hour()*60 + local.Minute()

	if a.End <= a.Start {
		return now >= a.Start || now < a.End
	}
	return now >= a.Start && now < a.End
}

// Overnight reports whether the window crosses midnight.
func (a *ActiveHours) Overnight() bool {
	return a != nil && a.End <= a.Start
}

func (a *ActiveHours) String() string {
	if a == nil {
		return "always"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d %s", a.Start/60, a.Start%60, a.End/60, a.End%60, a.Location)
}
