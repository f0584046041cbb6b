package timer

import (
	"fmt"
	"time"
)

// SecondsLeft returns whole seconds until endsAt, never negative.
// ok is false when there is no timer.
func SecondsLeft(endsAt *time.Time, now time.Time) (seconds int, ok bool) {
	if endsAt == nil {
		return 0, false
	}
	d := endsAt.Sub(now)
	if d <= 0 {
		return 0, true
	}
	return int(d / time.Second), true
}

// Expired reports whether a timer is set and its end has been reached.
func Expired(endsAt *time.Time, now time.Time) bool {
	return endsAt != nil && !now.Before(*endsAt)
}

// FormatCountdown renders seconds as mm:ss, or --:-- without a timer.
func FormatCountdown(seconds int, ok bool) string {
	if !ok {
		return "--:--"
	}
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// StageDuration is the length of a timed stage: a base plus a share per player.
// A room with no players counts as one.
func StageDuration(baseSeconds, perUserSeconds, players int) time.Duration {
	if players < 1 {
		players = 1
	}
	return time.Duration(baseSeconds+perUserSeconds*players) * time.Second
}
