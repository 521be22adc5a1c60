// Package timeutil centralizes the timestamp handling the alert pipeline
// needs: canonical UTC instants for ledger comparisons, and the Pacific-time
// presentation the dispatch office reads alerts in.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

var pacific = mustLoad("America/Los_Angeles")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("timeutil: load %s: %v", name, err))
	}
	return loc
}

// ToUTC returns the canonical UTC instant for t.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// ParseUTC parses an ISO-8601 timestamp string into a UTC instant.
// Timestamps without an offset are assumed to already be UTC, which is how
// the inspection API reports completion dates.
func ParseUTC(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// FormatPacific renders a UTC instant the way the alert dashboard shows
// times, e.g. "December 13, 2024 - 07:30 AM PST".
func FormatPacific(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.In(pacific).Format("January 02, 2006 - 03:04 PM MST")
}

// Shift names the work shift the given instant falls into, in Pacific time.
func Shift(t time.Time) string {
	hour := t.In(pacific).Hour()
	switch {
	case hour >= 6 && hour < 14:
		return "Morning Shift (6AM - 2PM)"
	case hour >= 14 && hour < 22:
		return "Afternoon Shift (2PM - 10PM)"
	default:
		return "Night Shift (10PM - 6AM)"
	}
}

// FormatDuration renders an elapsed interval with the most relevant units:
// "2h 5m", "10m 30s", or "45s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// DescribeElapsed spells an interval out in words, e.g.
// "2 hours, 13 minutes, 5 seconds". Used in inspection status text.
func DescribeElapsed(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
