package printer

import (
	"fmt"
	"time"
)

// Age returns a compact age of t relative to now.
// Examples: "5s", "12m", "3h", "2d".
func Age(t time.Time) string {
	return age(time.Now(), t)
}

func age(now, t time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < 0:
		return "0s"
	case diff < time.Minute:
		return fmt.Sprintf("%ds", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd", int(diff.Hours()/24))
}

// FormatTimestamp returns a formatted timestamp string in UTC.
// Format: "2006-01-02 15:04:05 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// ShortID returns the first 12 characters of an engine ID.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
