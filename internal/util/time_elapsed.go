package util

import (
	"fmt"
	"time"
)

// TimeElapsed renders the distance between now and t as a short human string
// ("just now", "5m ago", "3h ago", "2d ago"). Used by the session list so the
// operator can eyeball how stale a recoverable session is.
func TimeElapsed(now time.Time, t time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
