// Package timespec parses the --since/--until values the CLI accepts.
package timespec

import (
	"fmt"
	"time"
)

// Parse parses a time value relative to now.
// Supports two formats:
//   - Go duration format: "1h", "30m", "1h30m" (meaning that long before now)
//   - RFC3339 timestamps: "2026-01-05T09:00:00Z"
func Parse(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("negative duration: %s", value)
		}
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time value: %s (use duration like '1h30m' or RFC3339 like '2026-01-05T09:00:00Z')", value)
}

// ParseRange parses both bounds. A zero time means that end is open.
// since must be before until when both are set.
func ParseRange(since, until string, now time.Time) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error

	if since != "" {
		from, err = Parse(since, now)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		to, err = Parse(until, now)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--since must be before --until")
	}
	return from, to, nil
}
