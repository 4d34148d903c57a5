package crawler

import (
	"context"
	"fmt"
	"time"
)

// DefaultPageDelay is the fixed pause between consecutive pages.
const DefaultPageDelay = 200 * time.Millisecond

// TimerPauser waits on a timer and returns early when the context ends.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
