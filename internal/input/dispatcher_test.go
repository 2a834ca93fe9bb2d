package input

import (
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/linyvhuo/webot/internal/cancel"
	"github.com/linyvhuo/webot/internal/events"
)

func fastTiming() Timing {
	return Timing{
		Hold:      20 * time.Millisecond,
		KeyHold:   20 * time.Millisecond,
		PasteWait: 20 * time.Millisecond,
		DragSteps: 4,
		DragStep:  5 * time.Millisecond,
	}
}

func newTestDispatcher() (*Dispatcher, *RecordingBackend, *events.Recorder) {
	backend := NewRecordingBackend()
	rec := events.NewRecorder()
	return NewDispatcher(backend, fastTiming(), rec), backend, rec
}

func kinds(evts []Event) []EventKind {
	out := make([]EventKind, len(evts))
	for i, e := range evts {
		out[i] = e.Kind
	}
	return out
}

func TestClickAtSequence(t *testing.T) {
	d, backend, rec := newTestDispatcher()

	if err := d.ClickAt(image.Pt(300, 200), nil); err != nil {
		t.Fatalf("ClickAt returned error: %v", err)
	}

	evts := backend.Events()
	if len(evts) != 3 {
		t.Fatalf("got %d events, want move/down/up", len(evts))
	}
	if evts[0].Kind != KindMove || evts[0].Pos != image.Pt(300, 200) {
		t.Errorf("first event = %+v, want move to (300,200)", evts[0])
	}
	if evts[1].Kind != KindButton || !evts[1].Down || evts[2].Kind != KindButton || evts[2].Down {
		t.Errorf("button events = %+v %+v, want down then up", evts[1], evts[2])
	}
	if clicks := backend.Clicks(); len(clicks) != 1 || clicks[0] != image.Pt(300, 200) {
		t.Errorf("Clicks = %v", clicks)
	}
	if len(rec.OfType(events.EventTypeLog)) == 0 {
		t.Error("no debug event published for the click")
	}
}

func TestDoubleClickAt(t *testing.T) {
	d, backend, _ := newTestDispatcher()

	if err := d.DoubleClickAt(image.Pt(10, 20), nil); err != nil {
		t.Fatalf("DoubleClickAt returned error: %v", err)
	}
	if clicks := backend.Clicks(); len(clicks) != 2 {
		t.Errorf("Clicks = %v, want 2", clicks)
	}
	if held := backend.ButtonsHeld(); len(held) != 0 {
		t.Errorf("buttons still held: %v", held)
	}
}

func TestClickCancelledDuringHoldReleasesButton(t *testing.T) {
	d, backend, _ := newTestDispatcher()
	d.timing.Hold = 2 * time.Second

	tok := cancel.NewToken()
	backend.OnEvent(func(e Event) {
		if e.Kind == KindButton && e.Down {
			tok.Request()
		}
	})

	start := time.Now()
	err := d.ClickAt(image.Pt(50, 50), tok)
	if !errors.Is(err, cancel.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancel took %v", elapsed)
	}
	if held := backend.ButtonsHeld(); len(held) != 0 {
		t.Errorf("buttons still held after cancel: %v", held)
	}
}

func TestCancelledBeforeStartSendsNothing(t *testing.T) {
	tok := cancel.NewToken()
	tok.Request()

	ops := map[string]func(d *Dispatcher) error{
		"move":   func(d *Dispatcher) error { return d.MoveTo(image.Pt(1, 1), tok) },
		"click":  func(d *Dispatcher) error { return d.ClickAt(image.Pt(1, 1), tok) },
		"double": func(d *Dispatcher) error { return d.DoubleClickAt(image.Pt(1, 1), tok) },
		"drag":   func(d *Dispatcher) error { return d.Drag(image.Pt(1, 1), image.Pt(5, 5), tok) },
		"scroll": func(d *Dispatcher) error { return d.Scroll(image.Pt(1, 1), 3, tok) },
		"key":    func(d *Dispatcher) error { return d.PressKey(KeyEnter, tok) },
		"type":   func(d *Dispatcher) error { return d.TypeText("hello", tok) },
		"paste":  func(d *Dispatcher) error { return d.PasteText("hello", tok) },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			d, backend, _ := newTestDispatcher()
			if err := op(d); !errors.Is(err, cancel.ErrCancelled) {
				t.Errorf("error = %v, want ErrCancelled", err)
			}
			if n := len(backend.Events()); n != 0 {
				t.Errorf("%d events sent after cancel", n)
			}
		})
	}
}

func TestDragInterpolatesAndReleases(t *testing.T) {
	d, backend, _ := newTestDispatcher()

	if err := d.Drag(image.Pt(0, 0), image.Pt(100, 40), nil); err != nil {
		t.Fatalf("Drag returned error: %v", err)
	}

	want := []EventKind{KindMove, KindButton, KindMove, KindMove, KindMove, KindMove, KindButton}
	got := kinds(backend.Events())
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
	evts := backend.Events()
	if evts[5].Pos != image.Pt(100, 40) {
		t.Errorf("last move = %v, want (100,40)", evts[5].Pos)
	}
	if evts[2].Pos != image.Pt(25, 10) {
		t.Errorf("first step = %v, want (25,10)", evts[2].Pos)
	}
}

func TestDragCancelledMidwayReleases(t *testing.T) {
	d, backend, _ := newTestDispatcher()
	tok := cancel.NewToken()
	moves := 0
	backend.OnEvent(func(e Event) {
		if e.Kind == KindMove {
			moves++
			if moves == 3 {
				tok.Request()
			}
		}
	})

	if err := d.Drag(image.Pt(0, 0), image.Pt(100, 100), tok); !errors.Is(err, cancel.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if held := backend.ButtonsHeld(); len(held) != 0 {
		t.Errorf("buttons still held after cancel: %v", held)
	}
}

func TestScroll(t *testing.T) {
	tests := []struct {
		name    string
		notches int
		wheels  int
		delta   int
	}{
		{"up", 3, 3, WheelDelta},
		{"down", -2, 2, -WheelDelta},
		{"none", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, backend, _ := newTestDispatcher()
			if err := d.Scroll(image.Pt(5, 5), tt.notches, nil); err != nil {
				t.Fatalf("Scroll returned error: %v", err)
			}
			wheels := 0
			for _, e := range backend.Events() {
				if e.Kind == KindWheel {
					wheels++
					if e.Delta != tt.delta {
						t.Errorf("wheel delta = %d, want %d", e.Delta, tt.delta)
					}
				}
			}
			if wheels != tt.wheels {
				t.Errorf("wheel events = %d, want %d", wheels, tt.wheels)
			}
		})
	}
}

func TestPressComboOrder(t *testing.T) {
	d, backend, _ := newTestDispatcher()

	if err := d.PressCombo([]Key{KeyControl, KeyShift, KeyV}, nil); err != nil {
		t.Fatalf("PressCombo returned error: %v", err)
	}

	want := []Event{
		keyEvent(KeyControl, true), keyEvent(KeyShift, true), keyEvent(KeyV, true),
		keyEvent(KeyV, false), keyEvent(KeyShift, false), keyEvent(KeyControl, false),
	}
	got := backend.Events()
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPressComboCancelledReleasesKeys(t *testing.T) {
	d, backend, _ := newTestDispatcher()
	d.timing.KeyHold = 2 * time.Second

	tok := cancel.NewToken()
	backend.OnEvent(func(e Event) {
		if e.Kind == KindKey && e.Key == KeyShift && e.Down {
			tok.Request()
		}
	})

	if err := d.PressCombo([]Key{KeyControl, KeyShift, KeyV}, tok); !errors.Is(err, cancel.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if held := backend.Pressed(); len(held) != 0 {
		t.Errorf("keys still held after cancel: %v", held)
	}
	for _, e := range backend.Events() {
		if e.Key == KeyV {
			t.Error("V pressed after cancellation")
		}
	}
}

func TestTypeText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		units int
	}{
		{"ascii", "hi there", 8},
		{"cjk", "你好", 2},
		{"surrogate pair", "a😀", 3},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, backend, _ := newTestDispatcher()
			if err := d.TypeText(tt.text, nil); err != nil {
				t.Fatalf("TypeText returned error: %v", err)
			}
			if got := backend.Typed(); got != tt.text {
				t.Errorf("Typed = %q, want %q", got, tt.text)
			}
			downs := 0
			for _, e := range backend.Events() {
				if e.Kind == KindUnicode && e.Down {
					downs++
				}
			}
			if downs != tt.units {
				t.Errorf("unicode key downs = %d, want %d", downs, tt.units)
			}
		})
	}
}

func TestTypeTextNewlineUsesShiftEnter(t *testing.T) {
	d, backend, _ := newTestDispatcher()

	if err := d.TypeText("a\r\nb", nil); err != nil {
		t.Fatalf("TypeText returned error: %v", err)
	}
	if got := backend.Typed(); got != "a\nb" {
		t.Errorf("Typed = %q, want %q", got, "a\nb")
	}
	if held := backend.Pressed(); len(held) != 0 {
		t.Errorf("keys still held: %v", held)
	}
}

func TestTypeTextCancelledBetweenCharacters(t *testing.T) {
	d, backend, _ := newTestDispatcher()
	d.timing.CharDelay = time.Millisecond

	tok := cancel.NewToken()
	count := 0
	backend.OnEvent(func(e Event) {
		if e.Kind == KindUnicode && e.Down {
			count++
			if count == 3 {
				tok.Request()
			}
		}
	})

	if err := d.TypeText("abcdefgh", tok); !errors.Is(err, cancel.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if got := backend.Typed(); got != "abc" {
		t.Errorf("Typed = %q, want %q", got, "abc")
	}
}

func TestPasteTextRestoresClipboard(t *testing.T) {
	t.Run("previous text", func(t *testing.T) {
		d, backend, _ := newTestDispatcher()
		backend.SetClipboard("user data")

		if err := d.PasteText("question one", nil); err != nil {
			t.Fatalf("PasteText returned error: %v", err)
		}
		if pasted := backend.Pasted(); len(pasted) != 1 || pasted[0] != "question one" {
			t.Errorf("Pasted = %v", pasted)
		}
		if text, ok, _ := backend.ReadText(); !ok || text != "user data" {
			t.Errorf("clipboard = %q %v, want restored", text, ok)
		}
	})

	t.Run("empty clipboard", func(t *testing.T) {
		d, backend, _ := newTestDispatcher()

		if err := d.PasteText("x", nil); err != nil {
			t.Fatalf("PasteText returned error: %v", err)
		}
		if _, ok, _ := backend.ReadText(); ok {
			t.Error("clipboard should be empty again")
		}
	})

	t.Run("cancelled during combo", func(t *testing.T) {
		d, backend, _ := newTestDispatcher()
		d.timing.KeyHold = 2 * time.Second
		backend.SetClipboard("keep me")

		tok := cancel.NewToken()
		backend.OnEvent(func(e Event) {
			if e.Kind == KindKey && e.Key == KeyV && e.Down {
				tok.Request()
			}
		})

		if err := d.PasteText("secret", tok); !errors.Is(err, cancel.ErrCancelled) {
			t.Fatalf("error = %v, want ErrCancelled", err)
		}
		if text, _, _ := backend.ReadText(); text != "keep me" {
			t.Errorf("clipboard = %q, want restored", text)
		}
		if held := backend.Pressed(); len(held) != 0 {
			t.Errorf("keys still held: %v", held)
		}
	})

	t.Run("injection failure", func(t *testing.T) {
		d, backend, _ := newTestDispatcher()
		backend.SetClipboard("keep me")
		backend.DropEvents(1)

		var ie *InjectionError
		if err := d.PasteText("secret", nil); !errors.As(err, &ie) {
			t.Fatalf("error = %v, want InjectionError", err)
		}
		if text, _, _ := backend.ReadText(); text != "keep me" {
			t.Errorf("clipboard = %q, want restored", text)
		}
	})

	t.Run("image on clipboard", func(t *testing.T) {
		d, backend, _ := newTestDispatcher()
		dib := ClipboardFormat{ID: 8, Data: []byte{40, 0, 0, 0, 2, 0, 0, 0, 2, 0, 0, 0, 1, 0, 32, 0}}
		private := ClipboardFormat{ID: 0xC123, Data: []byte("app state")}
		backend.SetClipboardFormats(dib, private)

		if err := d.PasteText("question", nil); err != nil {
			t.Fatalf("PasteText returned error: %v", err)
		}
		if pasted := backend.Pasted(); len(pasted) != 1 || pasted[0] != "question" {
			t.Errorf("Pasted = %v", pasted)
		}

		got := backend.ClipboardFormats()
		if len(got) != 2 {
			t.Fatalf("clipboard has %d formats after paste, want 2", len(got))
		}
		for i, want := range []ClipboardFormat{dib, private} {
			if got[i].ID != want.ID || string(got[i].Data) != string(want.Data) {
				t.Errorf("format %d = %d %v, want %d %v", i, got[i].ID, got[i].Data, want.ID, want.Data)
			}
		}
		if _, ok, _ := backend.ReadText(); ok {
			t.Error("pasted text left on the clipboard")
		}
	})

	t.Run("clipboard unreadable", func(t *testing.T) {
		d, backend, _ := newTestDispatcher()
		backend.FailClipboard(errors.New("clipboard locked"))

		if err := d.PasteText("x", nil); err == nil {
			t.Fatal("expected error when clipboard cannot be saved")
		}
		if n := len(backend.Events()); n != 0 {
			t.Errorf("%d events sent without a saved clipboard", n)
		}
	})
}

func TestClipboardSnapshotText(t *testing.T) {
	snap := ClipboardSnapshot{
		{ID: 8, Data: []byte{1, 2, 3}},
		{ID: FormatUnicodeText, Data: encodeUnicodeText("héllo 😀")},
	}
	if text, ok := snap.Text(); !ok || text != "héllo 😀" {
		t.Errorf("Text() = %q %v", text, ok)
	}
	if _, ok := snap[:1].Text(); ok {
		t.Error("snapshot without a text format reported text")
	}
}

func completions(rec *events.Recorder) []string {
	var out []string
	for _, e := range rec.OfType(events.EventTypeLog) {
		msg := e.String("message")
		if e.String("level") == string(events.LevelDebug) && strings.HasSuffix(msg, " completed") {
			out = append(out, msg)
		}
	}
	return out
}

func TestGesturesReportCompletion(t *testing.T) {
	tests := []struct {
		name string
		run  func(d *Dispatcher) error
		want string
	}{
		{"move", func(d *Dispatcher) error { return d.MoveTo(image.Pt(1, 1), nil) }, "Input move completed"},
		{"click", func(d *Dispatcher) error { return d.ClickAt(image.Pt(1, 1), nil) }, "Input click completed"},
		{"double click", func(d *Dispatcher) error { return d.DoubleClickAt(image.Pt(1, 1), nil) }, "Input double click completed"},
		{"drag", func(d *Dispatcher) error { return d.Drag(image.Pt(0, 0), image.Pt(8, 8), nil) }, "Input drag completed"},
		{"scroll", func(d *Dispatcher) error { return d.Scroll(image.Pt(1, 1), -2, nil) }, "Input scroll completed"},
		{"key", func(d *Dispatcher) error { return d.PressKey(KeyEnter, nil) }, "Input key completed"},
		{"type", func(d *Dispatcher) error { return d.TypeText("hi", nil) }, "Input type completed"},
		{"paste", func(d *Dispatcher) error { return d.PasteText("hi", nil) }, "Input paste completed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, rec := newTestDispatcher()
			if err := tt.run(d); err != nil {
				t.Fatalf("Failed to run gesture: %v", err)
			}
			if got := completions(rec); len(got) != 1 || got[0] != tt.want {
				t.Errorf("completion events = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestFailedGestureReportsNoCompletion(t *testing.T) {
	d, backend, rec := newTestDispatcher()
	backend.DropEvents(1)

	if err := d.ClickAt(image.Pt(1, 1), nil); err == nil {
		t.Fatal("expected an injection error")
	}
	if got := completions(rec); len(got) != 0 {
		t.Errorf("failed click reported completion: %v", got)
	}

	tok := cancel.NewToken()
	tok.Request()
	backend.DropEvents(0)
	if err := d.TypeText("abc", tok); !errors.Is(err, cancel.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if got := completions(rec); len(got) != 0 {
		t.Errorf("cancelled typing reported completion: %v", got)
	}
}

func TestInjectionErrorPublishesWarning(t *testing.T) {
	d, backend, rec := newTestDispatcher()
	backend.DropEvents(1)

	err := d.ClickAt(image.Pt(1, 1), nil)
	var ie *InjectionError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want InjectionError", err)
	}
	if ie.Requested != 1 || ie.Sent != 0 {
		t.Errorf("InjectionError = %+v", ie)
	}

	warned := false
	for _, e := range rec.OfType(events.EventTypeLog) {
		if e.String("level") == string(events.LevelWarn) {
			warned = true
		}
	}
	if !warned {
		t.Error("no warning event for the short injection")
	}
}

func TestParseCombo(t *testing.T) {
	tests := []struct {
		in      string
		want    []Key
		wantErr bool
	}{
		{"ctrl+v", []Key{KeyControl, KeyV}, false},
		{"Ctrl + Shift + Enter", []Key{KeyControl, KeyShift, KeyEnter}, false},
		{"f5", []Key{KeyF5}, false},
		{"7", []Key{Key('7')}, false},
		{"ctrl+nope", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCombo(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCombo(%q) error = %v", tt.in, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseCombo(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("key %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
