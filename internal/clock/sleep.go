// Package clock provides cancellable pacing helpers shared by the workers.
package clock

import (
	"context"
	"fmt"
	"time"
)

// SleepWithContext waits for the duration or returns early if the context is canceled.
// A non-positive duration only checks the context.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FormatDelay renders a remaining delay the way the dashboard shows it.
func FormatDelay(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%d Hours %d Min %d Sec", hours, minutes, seconds)
}
