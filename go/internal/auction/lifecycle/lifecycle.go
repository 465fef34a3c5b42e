package lifecycle

import (
	"fmt"
	"time"
)

// Status is the derived phase of an item. It is never stored.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusLive     Status = "live"
	StatusEnded    Status = "ended"
)

func (s Status) String() string { return string(s) }

// Evaluate derives the status of an item at now.
// The start instant is live and the end instant is ended.
func Evaluate(now, start, end time.Time) Status {
	if !now.Before(end) {
		return StatusEnded
	}
	if now.Before(start) {
		return StatusUpcoming
	}
	return StatusLive
}

// TimeLeft is the time until end, clamped at zero.
func TimeLeft(now, end time.Time) time.Duration {
	d := end.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// FormatTimeLeft renders a countdown like "1h 2m 3s", or "Ended" once nothing is left.
func FormatTimeLeft(d time.Duration) string {
	if d <= 0 {
		return "Ended"
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// EndFromDuration returns start plus the given number of minutes.
func EndFromDuration(start time.Time, minutes int) time.Time {
	return start.Add(time.Duration(minutes) * time.Minute)
}
