package utils

import (
	"fmt"
	"time"
)

const (
	// LogTimestampLayout is the on-disk event timestamp format (millisecond resolution, local time).
	LogTimestampLayout = "2006-01-02 15:04:05.000"
	// SessionIDLayout names a session after the second it started.
	SessionIDLayout = "20060102_150405"
)

// FormatLogTimestamp renders t in the event log layout.
func FormatLogTimestamp(t time.Time) string {
	return t.In(time.Local).Format(LogTimestampLayout)
}

// ParseLogTimestamp parses an event log timestamp in the local zone.
func ParseLogTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.ParseInLocation(LogTimestampLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// TruncateMillis drops sub-millisecond precision and the monotonic reading.
func TruncateMillis(t time.Time) time.Time {
	return t.Round(0).Truncate(time.Millisecond)
}

// SessionID derives the session identifier shared by every log of one session.
func SessionID(start time.Time) string {
	return start.In(time.Local).Format(SessionIDLayout)
}

// DurationSeconds converts a pair of timestamps into seconds, never negative.
func DurationSeconds(start, end time.Time) float64 {
	if end.Before(start) {
		return 0
	}
	return end.Sub(start).Seconds()
}
