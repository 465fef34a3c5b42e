package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	tests := []struct {
		name string
		now  time.Time
		want Status
	}{
		{"well before start", start.Add(-24 * time.Hour), StatusUpcoming},
		{"just before start", start.Add(-time.Nanosecond), StatusUpcoming},
		{"exactly at start", start, StatusLive},
		{"middle", start.Add(30 * time.Minute), StatusLive},
		{"just before end", end.Add(-time.Nanosecond), StatusLive},
		{"exactly at end", end, StatusEnded},
		{"after end", end.Add(time.Minute), StatusEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.now, start, end))
		})
	}
}

func TestEvaluateEndedWinsOverUpcoming(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Malformed window where end precedes start.
	end := start.Add(-time.Hour)

	assert.Equal(t, StatusEnded, Evaluate(start.Add(-2*time.Hour), start, end))
	assert.Equal(t, StatusEnded, Evaluate(start, start, start))
}

func TestFormatTimeLeft(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "Ended"},
		{-time.Second, "Ended"},
		{time.Second, "0h 0m 1s"},
		{61 * time.Second, "0h 1m 1s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
		{26*time.Hour + 500*time.Millisecond, "26h 0m 0s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTimeLeft(tt.d), "duration %s", tt.d)
	}
}

func TestTimeLeftClamps(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Duration(0), TimeLeft(end.Add(time.Minute), end))
	assert.Equal(t, time.Minute, TimeLeft(end.Add(-time.Minute), end))
	assert.Equal(t, end, EndFromDuration(end.Add(-90*time.Minute), 90))
}
