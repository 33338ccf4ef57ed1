package notify

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // recipient zones must resolve on minimal images
)

// TimeOfDay is a local wall-clock time in seconds since midnight.
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60)
}

// ClockOf returns the wall-clock time of t in t's location.
func ClockOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(h*3600 + m*60 + s)
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return ClockOf(t), nil
		}
	}
	return 0, fmt.Errorf("notify: invalid time of day %q", raw)
}

func (t TimeOfDay) String() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d", s/3600, (s%3600)/60)
}

// Preferences is a recipient's delivery configuration.
type Preferences struct {
	PushEnabled       bool
	QuietHoursEnabled bool
	QuietStart        TimeOfDay
	QuietEnd          TimeOfDay
	// TimeZone is an IANA zone name used to evaluate quiet hours; empty uses the dispatcher default.
	TimeZone string
	// Language is a BCP 47 tag for rendered copy; empty uses the dispatcher default.
	Language string
	// Flags holds explicit per-flag switches. A missing flag is enabled.
	Flags map[Flag]bool
}

// DefaultPreferences applies when a recipient has no stored preferences:
// everything enabled, quiet hours disabled.
func DefaultPreferences() Preferences {
	return Preferences{
		PushEnabled:       true,
		QuietHoursEnabled: false,
		QuietStart:        NewTimeOfDay(22, 0),
		QuietEnd:          NewTimeOfDay(8, 0),
	}
}

// FlagEnabled reports the effective value of f.
func (p Preferences) FlagEnabled(f Flag) bool {
	v, ok := p.Flags[f]
	return !ok || v
}

// AllowsKind reports whether the flag mapped to k (if any) is enabled.
func (p Preferences) AllowsKind(k Kind) bool {
	f, ok := FlagFor(k)
	if !ok {
		return true
	}
	return p.FlagEnabled(f)
}

// InQuietHours reports whether at falls into the quiet window, evaluated in the recipient's zone.
//
// start <= end: [start, end] on the same day.
// start >  end: [start, 24:00) U [00:00, end], wrapping midnight.
// Both boundaries are inclusive.
func (p Preferences) InQuietHours(at time.Time, fallback *time.Location) bool {
	if !p.QuietHoursEnabled {
		return false
	}
	now := ClockOf(at.In(p.location(fallback)))
	start, end := p.QuietStart, p.QuietEnd
	if start <= end {
		return start <= now && now <= end
	}
	return now >= start || now <= end
}

func (p Preferences) location(fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	name := strings.TrimSpace(p.TimeZone)
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}
