package engine

import (
	"log/slog"
	"time"
)

// timer logs the completion of each step, with the step and total run time when enabled.
type timer struct {
	enabled bool
	start   time.Time
	last    time.Time
}

func newTimer(enabled bool) *timer {
	now := time.Now()
	return &timer{
		enabled: enabled,
		start:   now,
		last:    now,
	}
}

func (t *timer) step(msg string, args ...any) {
	now := time.Now()
	if t.enabled {
		args = append(args,
			"step", now.Sub(t.last).Round(time.Millisecond),
			"elapsed", now.Sub(t.start).Round(time.Millisecond),
		)
	}
	t.last = now

	slog.Info(msg, args...)
}

func (t *timer) elapsed() time.Duration {
	return time.Since(t.start)
}
