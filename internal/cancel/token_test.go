package cancel

import (
	"fmt"
	"testing"
	"time"
)

func TestWaitCompletes(t *testing.T) {
	tok := NewToken()

	start := time.Now()
	if err := Wait(30*time.Millisecond, tok); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Wait returned after %v, want at least 30ms", elapsed)
	}
}

func TestWaitAlreadyCancelled(t *testing.T) {
	tok := NewToken()
	tok.Request()

	start := time.Now()
	err := Wait(5*time.Second, tok)
	if !IsCancelled(err) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("Cancelled wait took %v", elapsed)
	}
}

func TestWaitObservesRequestWithinSlice(t *testing.T) {
	tok := NewToken()

	go func() {
		time.Sleep(50 * time.Millisecond)
		tok.Request()
	}()

	start := time.Now()
	err := Wait(10*time.Second, tok)
	elapsed := time.Since(start)

	if !IsCancelled(err) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
	// request lands at ~50ms, the next slice boundary is at most Slice later
	if elapsed > 50*time.Millisecond+Slice+100*time.Millisecond {
		t.Errorf("Stop latency too high: %v", elapsed)
	}
}

func TestTokenReset(t *testing.T) {
	tok := NewToken()
	tok.Request()
	if !tok.Requested() {
		t.Fatal("Expected token to be requested")
	}

	tok.Reset()
	if tok.Requested() {
		t.Error("Expected token to be cleared after Reset")
	}
	if err := Wait(time.Millisecond, tok); err != nil {
		t.Errorf("Wait after Reset returned %v", err)
	}
}

func TestNilTokenNeverCancels(t *testing.T) {
	var tok *Token
	if tok.Requested() {
		t.Error("nil token reported a request")
	}
	if err := Wait(time.Millisecond, tok); err != nil {
		t.Errorf("Wait with nil token returned %v", err)
	}
}

func TestIsCancelledWrapped(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"direct", ErrCancelled, true},
		{"wrapped", fmt.Errorf("click: %w", ErrCancelled), true},
		{"other", fmt.Errorf("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCancelled(tt.err); got != tt.want {
				t.Errorf("IsCancelled(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
