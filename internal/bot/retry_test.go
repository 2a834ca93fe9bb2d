package bot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linyvhuo/webot/internal/cancel"
)

func nolog(string, ...interface{}) {}

func TestRetryStep(t *testing.T) {
	errFlaky := errors.New("flaky")

	tests := []struct {
		name         string
		maxAttempts  int
		succeedOn    int // 0 never
		wantAttempts int
		wantBetween  []int
		wantErr      bool
	}{
		{name: "first try", maxAttempts: 3, succeedOn: 1, wantAttempts: 1},
		{name: "third try", maxAttempts: 3, succeedOn: 3, wantAttempts: 3, wantBetween: []int{1, 2}},
		{name: "exhausted", maxAttempts: 3, wantAttempts: 3, wantBetween: []int{1, 2}, wantErr: true},
		{name: "zero attempts run once", maxAttempts: 0, wantAttempts: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var between []int
			step := retryStep{
				name:        "locate",
				maxAttempts: tt.maxAttempts,
				between: func(failed int) error {
					between = append(between, failed)
					return nil
				},
			}

			calls := 0
			n, err := step.run(cancel.NewToken(), nolog, func(attempt int) error {
				calls++
				if attempt != calls {
					t.Errorf("attempt %d passed on call %d", attempt, calls)
				}
				if attempt == tt.succeedOn {
					return nil
				}
				return errFlaky
			})

			if n != tt.wantAttempts || calls != tt.wantAttempts {
				t.Errorf("attempts = %d (calls %d), want %d", n, calls, tt.wantAttempts)
			}
			if len(between) != len(tt.wantBetween) {
				t.Errorf("between ran for %v, want %v", between, tt.wantBetween)
			}
			if tt.wantErr {
				if !errors.Is(err, errFlaky) {
					t.Errorf("err = %v, want wrapped flaky", err)
				}
				if !strings.Contains(err.Error(), "step 'locate' failed") {
					t.Errorf("err = %q does not name the step", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestRetryStepCorrectiveFailureIsNotFatal(t *testing.T) {
	step := retryStep{
		name:        "locate",
		maxAttempts: 2,
		between:     func(int) error { return errors.New("window gone") },
	}
	n, err := step.run(cancel.NewToken(), nolog, func(attempt int) error {
		if attempt == 2 {
			return nil
		}
		return errors.New("not yet")
	})
	if err != nil || n != 2 {
		t.Errorf("run = %d, %v, want success on attempt 2", n, err)
	}
}

func TestRetryStepCancellation(t *testing.T) {
	t.Run("during attempt", func(t *testing.T) {
		tok := cancel.NewToken()
		calls := 0
		_, err := retryStep{name: "s", maxAttempts: 5}.run(tok, nolog, func(int) error {
			calls++
			return cancel.ErrCancelled
		})
		if !cancel.IsCancelled(err) || calls != 1 {
			t.Errorf("err = %v after %d calls, want ErrCancelled after 1", err, calls)
		}
	})

	t.Run("during delay", func(t *testing.T) {
		tok := cancel.NewToken()
		step := retryStep{name: "s", maxAttempts: 5, retryDelay: time.Minute}

		started := time.Now()
		go func() {
			time.Sleep(20 * time.Millisecond)
			tok.Request()
		}()
		_, err := step.run(tok, nolog, func(int) error { return errors.New("fail") })
		if !cancel.IsCancelled(err) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
		if elapsed := time.Since(started); elapsed > time.Second {
			t.Errorf("cancellation took %v", elapsed)
		}
	})

	t.Run("already requested", func(t *testing.T) {
		tok := cancel.NewToken()
		tok.Request()
		n, err := retryStep{name: "s", maxAttempts: 3}.run(tok, nolog, func(int) error {
			t.Error("attempt ran after cancellation")
			return nil
		})
		if !cancel.IsCancelled(err) || n != 0 {
			t.Errorf("run = %d, %v, want 0 attempts and ErrCancelled", n, err)
		}
	})
}
