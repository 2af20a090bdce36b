package stats

import (
	"fmt"
	"time"
)

// TimeInWords describes a distance in time, e.g. "3 minutes since now"
// for the future or "2 days ago" for the past
func TimeInWords(diff time.Duration) string {
	if diff > -time.Second && diff < time.Second {
		return "now"
	}

	suffix := "since now"
	if diff < 0 {
		suffix = "ago"
		diff = -diff
	}

	seconds := diff.Seconds()
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	months := days / 30
	years := days / 365

	switch {
	case seconds < 2:
		return fmt.Sprintf("%d second %s", 1, suffix)
	case seconds < 45:
		return fmt.Sprintf("%d seconds %s", int(seconds), suffix)
	case seconds < 90:
		return fmt.Sprintf("%d minute %s", 1, suffix)
	case minutes < 45:
		return fmt.Sprintf("%d minutes %s", int(minutes), suffix)
	case minutes < 90:
		return fmt.Sprintf("%d hour %s", 1, suffix)
	case hours < 24:
		return fmt.Sprintf("%d hours %s", int(hours), suffix)
	case hours < 42:
		return fmt.Sprintf("%d day %s", 1, suffix)
	case days < 30:
		return fmt.Sprintf("%d days %s", int(days), suffix)
	case days < 45:
		return fmt.Sprintf("%d month %s", 1, suffix)
	case days < 365:
		return fmt.Sprintf("%d months %s", int(months), suffix)
	case years < 1.5:
		return fmt.Sprintf("%d year %s", 1, suffix)
	default:
		return fmt.Sprintf("%d years %s", int(years), suffix)
	}
}
