package cancel

import (
	"errors"
	"sync/atomic"
	"time"
)

// Slice is the longest single sleep taken by Wait before the token is checked again.
const Slice = 100 * time.Millisecond

// ErrCancelled is returned by every suspension point that observed a stop request
var ErrCancelled = errors.New("operation cancelled")

// Token is the cooperative stop flag shared between the control side and the worker.
// The zero value is ready to use.
type Token struct {
	requested atomic.Bool
}

// NewToken creates a new token in the not-requested state
func NewToken() *Token {
	return &Token{}
}

// Request marks the token as cancelled. Safe from any goroutine.
func (t *Token) Request() {
	t.requested.Store(true)
}

// Requested reports whether a stop was requested. A nil token is never cancelled.
func (t *Token) Requested() bool {
	if t == nil {
		return false
	}
	return t.requested.Load()
}

// Reset clears a previous request so the token can be reused by the next session
func (t *Token) Reset() {
	t.requested.Store(false)
}

// Err returns ErrCancelled once a stop was requested, nil otherwise
func (t *Token) Err() error {
	if t.Requested() {
		return ErrCancelled
	}
	return nil
}

// Wait sleeps for d in slices of at most Slice, checking tok before, between and after
// slices. It returns ErrCancelled as soon as a stop request is observed.
func Wait(d time.Duration, tok *Token) error {
	return WaitSliced(d, Slice, tok)
}

// WaitSliced is Wait with an explicit slice length
func WaitSliced(d, slice time.Duration, tok *Token) error {
	if err := tok.Err(); err != nil {
		return err
	}
	if slice <= 0 || slice > Slice {
		slice = Slice
	}

	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if remaining > slice {
			remaining = slice
		}
		time.Sleep(remaining)

		if err := tok.Err(); err != nil {
			return err
		}
	}

	return tok.Err()
}

// IsCancelled reports whether err is (or wraps) ErrCancelled
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
