package engine

import "time"

// Clock supplies wall-clock timestamps for records. Timestamps are
// informational; ordering always comes from versions.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system clock, truncated to milliseconds (the
// storage resolution) and in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
