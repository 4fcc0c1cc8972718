package clock

import "time"

// Layout is the wire timestamp format: UTC ISO-8601 with microseconds and
// a timezone suffix.
const Layout = "2006-01-02T15:04:05.000000Z07:00"

// NowTime returns the current UTC time.
func NowTime() time.Time { return time.Now().UTC() }

// Now returns the current UTC time in wire format.
func Now() string { return NowTime().Format(Layout) }

// NowDelta returns the wire timestamp d from now.
func NowDelta(d time.Duration) string { return NowTime().Add(d).Format(Layout) }

// Format renders t in wire format.
func Format(t time.Time) string { return t.UTC().Format(Layout) }

// Parse reads a wire-format timestamp.
func Parse(s string) (time.Time, error) { return time.Parse(Layout, s) }
