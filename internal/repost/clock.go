package repost

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // tenant zones must resolve on hosts without zoneinfo
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// ParseClock parses HH:MM (a single digit hour is accepted).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// ParseClocks parses every value and keeps order and duplicates.
func ParseClocks(values []string) ([]Clock, error) {
	out := make([]Clock, 0, len(values))
	for _, v := range values {
		c, err := ParseClock(v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// FormatClocks renders clocks as the comma separated column value.
func FormatClocks(cs []Clock) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

func splitClocks(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadTimezone resolves an IANA zone name. Empty and "Local" are rejected so a
// tenant can never pick up the host zone.
func LoadTimezone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// TruncateMinute returns t in UTC with seconds dropped.
func TruncateMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// Slots computes publish instants for days [0, days) after the calendar day of
// now in loc, at every clock. Results are UTC and keep input order.
func Slots(now time.Time, loc *time.Location, days int, clocks []Clock) []time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	out := make([]time.Time, 0, days*len(clocks))
	for day := 0; day < days; day++ {
		for _, c := range clocks {
			out = append(out, time.Date(y, m, d+day, c.Hour, c.Minute, 0, 0, loc).UTC())
		}
	}
	return out
}
