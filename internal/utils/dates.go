// Package utils provides small shared helpers.
package utils

import (
	"fmt"
	"time"
)

// DateLayout is the canonical date format used across the codebase.
const DateLayout = "2006-01-02"

// DateToUnix converts a "YYYY-MM-DD" date string to a UTC midnight Unix timestamp.
func DateToUnix(date string) (int64, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return 0, fmt.Errorf("failed to parse date %q: %w", date, err)
	}
	return t.Unix(), nil
}

// UnixToDate converts a Unix timestamp to a "YYYY-MM-DD" date string in UTC.
func UnixToDate(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(DateLayout)
}

// ParseDate parses a "YYYY-MM-DD" string to a UTC midnight time.Time.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", date, err)
	}
	return t, nil
}

// FormatDate renders a time as "YYYY-MM-DD" in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
