package pipeline

import (
	"fmt"
	"time"
)

// stageClock records how long each stage of a run took
type stageClock struct {
	start   time.Time
	current Stage
	since   time.Time
	elapsed map[Stage]time.Duration
}

func newStageClock() *stageClock {
	now := time.Now()
	return &stageClock{start: now, since: now, elapsed: make(map[Stage]time.Duration)}
}

// enter closes the running stage and starts the next one
func (c *stageClock) enter(s Stage) {
	now := time.Now()
	if c.current != StageNone {
		c.elapsed[c.current] += now.Sub(c.since)
	}
	c.current, c.since = s, now
}

// total closes the running stage and returns the time since the clock started
func (c *stageClock) total() time.Duration {
	c.enter(StageNone)
	return time.Since(c.start)
}

// FormatDuration formats a duration in a human-readable format
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats throughput as human-readable rows per second
func FormatThroughput(rowsPerSec float64) string {
	if rowsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM rows/s", rowsPerSec/1_000_000)
	}
	if rowsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK rows/s", rowsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f rows/s", rowsPerSec)
}

// FormatBytes formats bytes in a human-readable format
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
