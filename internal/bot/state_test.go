package bot

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateStarting, true},
		{StateIdle, StateRunning, false},
		{StateStarting, StateRunning, true},
		{StateStarting, StateError, true},
		{StateStarting, StateCompleted, false},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateError, true},
		{StateRunning, StateStarting, false},
		{StateCompleted, StateStarting, true},
		{StateError, StateStarting, true},
		{StateError, StateRunning, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	// stop is always legal
	for _, s := range []State{StateIdle, StateStarting, StateRunning, StateCompleted, StateError} {
		if !canTransition(s, StateIdle) {
			t.Errorf("canTransition(%s, Idle) = false", s)
		}
	}
}

func TestStateBusy(t *testing.T) {
	busy := map[State]bool{
		StateIdle:      false,
		StateStarting:  true,
		StateRunning:   true,
		StateCompleted: false,
		StateError:     false,
	}
	for s, want := range busy {
		if s.Busy() != want {
			t.Errorf("%s.Busy() = %v, want %v", s, s.Busy(), want)
		}
	}
}

func TestStateBoxSwap(t *testing.T) {
	var b stateBox
	if b.load() != StateIdle {
		t.Fatalf("zero stateBox is %s, want Idle", b.load())
	}
	if b.swap(StateRunning, StateIdle) {
		t.Error("swap from the wrong state succeeded")
	}
	if !b.swap(StateIdle, StateStarting) || b.load() != StateStarting {
		t.Errorf("swap Idle -> Starting failed, state %s", b.load())
	}

	b.setProgress(2, 5)
	if cur, total := b.progress(); cur != 2 || total != 5 {
		t.Errorf("progress() = %d/%d, want 2/5", cur, total)
	}
}
