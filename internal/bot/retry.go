package bot

import (
	"fmt"
	"time"

	"github.com/linyvhuo/webot/internal/cancel"
)

// retryStep is one step run with a bounded number of attempts
type retryStep struct {
	name        string
	maxAttempts int
	retryDelay  time.Duration
	// between runs after a failed attempt, before the delay, when another attempt follows
	between func(failed int) error
}

// run calls fn until it succeeds, the attempts are used up, or tok is cancelled.
// Cancellation is returned as is, exhaustion as the last attempt's error.
func (s retryStep) run(tok *cancel.Token, logf func(format string, args ...interface{}), fn func(attempt int) error) (int, error) {
	maxAttempts := s.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1 // Default: no retries
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := tok.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logf("Step '%s' succeeded on attempt %d/%d", s.name, attempt, maxAttempts)
			}
			return attempt, nil
		}
		if cancel.IsCancelled(err) {
			return attempt, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		logf("Step '%s' attempt %d/%d failed: %v, retrying in %v", s.name, attempt, maxAttempts, err, s.retryDelay)

		if s.between != nil {
			if err := s.between(attempt); err != nil {
				if cancel.IsCancelled(err) {
					return attempt, err
				}
				logf("Step '%s' corrective action failed: %v", s.name, err)
			}
		}
		if err := cancel.Wait(s.retryDelay, tok); err != nil {
			return attempt, err
		}
	}

	return maxAttempts, fmt.Errorf("step '%s' failed after %d attempts: %w", s.name, maxAttempts, lastErr)
}
