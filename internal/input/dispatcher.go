package input

import (
	"fmt"
	"image"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/linyvhuo/webot/internal/cancel"
	"github.com/linyvhuo/webot/internal/events"
)

// WheelDelta is one notch of the mouse wheel
const WheelDelta = 120

// Timing holds the delays between sub-steps of a gesture
type Timing struct {
	Settle      time.Duration // after a move, before pressing
	Hold        time.Duration // between button down and up
	AfterClick  time.Duration // after the button is released
	DoubleClick time.Duration // between the two clicks of a double click
	KeyHold     time.Duration // between key down and up
	CharDelay   time.Duration // between characters in TypeText
	PasteWait   time.Duration // after Ctrl+V, before the clipboard is restored
	DragSteps   int           // intermediate moves of a drag
	DragStep    time.Duration // delay between drag moves
}

// DefaultTiming returns recommended delays
func DefaultTiming() Timing {
	return Timing{
		Settle:      40 * time.Millisecond,
		Hold:        60 * time.Millisecond,
		AfterClick:  150 * time.Millisecond,
		DoubleClick: 90 * time.Millisecond,
		KeyHold:     30 * time.Millisecond,
		CharDelay:   15 * time.Millisecond,
		PasteWait:   250 * time.Millisecond,
		DragSteps:   12,
		DragStep:    10 * time.Millisecond,
	}
}

// Dispatcher turns gestures into synthetic input events. Coordinates are absolute
// screen pixels. Gestures are serialized, one at a time.
type Dispatcher struct {
	backend Backend
	timing  Timing
	events  events.Sink
	mu      sync.Mutex
}

// NewDispatcher creates a dispatcher on top of a backend
func NewDispatcher(backend Backend, timing Timing, sink events.Sink) *Dispatcher {
	if timing.DragSteps <= 0 {
		timing.DragSteps = 1
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Dispatcher{backend: backend, timing: timing, events: sink}
}

func (d *Dispatcher) logf(level events.Level, format string, args ...interface{}) {
	d.events.Publish(events.NewLogEvent("input", level, fmt.Sprintf(format, args...), nil))
}

// send enqueues evts as one batch
func (d *Dispatcher) send(op string, evts ...Event) error {
	n, err := d.backend.Send(evts)
	if err != nil || n < len(evts) {
		ie := &InjectionError{Op: op, Requested: len(evts), Sent: n, Err: err}
		d.logf(events.LevelWarn, "%v", ie)
		return ie
	}
	return nil
}

// finish reports a completed gesture at debug level and passes err through. Failures
// are reported where they happen.
func (d *Dispatcher) finish(op string, err error) error {
	if err == nil {
		d.logf(events.LevelDebug, "Input %s completed", op)
	}
	return err
}

// wait sleeps cancellably
func (d *Dispatcher) wait(dur time.Duration, tok *cancel.Token) error {
	return cancel.Wait(dur, tok)
}

// MoveTo moves the cursor to p
func (d *Dispatcher) MoveTo(p image.Point, tok *cancel.Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := tok.Err(); err != nil {
		return err
	}
	d.logf(events.LevelDebug, "Move to (%d,%d)", p.X, p.Y)
	return d.finish("move", d.send("move", moveEvent(p)))
}

// ClickAt performs a left click at p
func (d *Dispatcher) ClickAt(p image.Point, tok *cancel.Token) error {
	return d.ClickButtonAt(p, ButtonLeft, tok)
}

// ClickButtonAt moves to p, presses and releases button
func (d *Dispatcher) ClickButtonAt(p image.Point, button Button, tok *cancel.Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logf(events.LevelDebug, "Click %s at (%d,%d)", button, p.X, p.Y)
	if err := d.click(p, button, tok); err != nil {
		return err
	}
	return d.finish("click", d.wait(d.timing.AfterClick, tok))
}

// DoubleClickAt performs two left clicks at p
func (d *Dispatcher) DoubleClickAt(p image.Point, tok *cancel.Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logf(events.LevelDebug, "Double click at (%d,%d)", p.X, p.Y)
	if err := d.click(p, ButtonLeft, tok); err != nil {
		return err
	}
	if err := d.wait(d.timing.DoubleClick, tok); err != nil {
		return err
	}
	if err := d.click(p, ButtonLeft, tok); err != nil {
		return err
	}
	return d.finish("double click", d.wait(d.timing.AfterClick, tok))
}

// click is move, settle, down, hold, up. A cancelled hold still releases the button.
func (d *Dispatcher) click(p image.Point, button Button, tok *cancel.Token) error {
	if err := tok.Err(); err != nil {
		return err
	}
	if err := d.send("click", moveEvent(p)); err != nil {
		return err
	}
	if err := d.wait(d.timing.Settle, tok); err != nil {
		return err
	}
	if err := d.send("click", buttonEvent(button, true)); err != nil {
		return err
	}
	if err := d.wait(d.timing.Hold, tok); err != nil {
		d.release("click", buttonEvent(button, false))
		return err
	}
	return d.send("click", buttonEvent(button, false))
}

// release sends cleanup events after cancellation. Failures are only logged since the
// caller already returns ErrCancelled.
func (d *Dispatcher) release(op string, evts ...Event) {
	if err := d.send(op, evts...); err != nil {
		d.logf(events.LevelWarn, "Failed to release after cancel: %v", err)
	}
}

// Drag presses the left button at from, moves to to in DragSteps steps and releases
func (d *Dispatcher) Drag(from, to image.Point, tok *cancel.Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := tok.Err(); err != nil {
		return err
	}
	d.logf(events.LevelDebug, "Drag (%d,%d) -> (%d,%d)", from.X, from.Y, to.X, to.Y)

	if err := d.send("drag", moveEvent(from)); err != nil {
		return err
	}
	if err := d.wait(d.timing.Settle, tok); err != nil {
		return err
	}
	if err := d.send("drag", buttonEvent(ButtonLeft, true)); err != nil {
		return err
	}

	steps := d.timing.DragSteps
	for i := 1; i <= steps; i++ {
		if err := d.wait(d.timing.DragStep, tok); err != nil {
			d.release("drag", buttonEvent(ButtonLeft, false))
			return err
		}
		p := image.Point{
			X: from.X + (to.X-from.X)*i/steps,
			Y: from.Y + (to.Y-from.Y)*i/steps,
		}
		if err := d.send("drag", moveEvent(p)); err != nil {
			d.release("drag", buttonEvent(ButtonLeft, false))
			return err
		}
	}

	if err := d.wait(d.timing.Settle, tok); err != nil {
		d.release("drag", buttonEvent(ButtonLeft, false))
		return err
	}
	return d.finish("drag", d.send("drag", buttonEvent(ButtonLeft, false)))
}

// Scroll moves to p and turns the wheel. Positive notches scroll up, negative down.
func (d *Dispatcher) Scroll(p image.Point, notches int, tok *cancel.Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := tok.Err(); err != nil {
		return err
	}
	d.logf(events.LevelDebug, "Scroll %d at (%d,%d)", notches, p.X, p.Y)

	if err := d.send("scroll", moveEvent(p)); err != nil {
		return err
	}
	if err := d.wait(d.timing.Settle, tok); err != nil {
		return err
	}

	step := 1
	if notches < 0 {
		step = -1
	}
	for i := 0; i != notches; i += step {
		if i != 0 {
			if err := d.wait(d.timing.DragStep, tok); err != nil {
				return err
			}
		}
		if err := d.send("scroll", wheelEvent(step*WheelDelta)); err != nil {
			return err
		}
	}
	return d.finish("scroll", nil)
}

// PressKey taps a single key
func (d *Dispatcher) PressKey(k Key, tok *cancel.Token) error {
	return d.PressCombo([]Key{k}, tok)
}

// PressCombo presses keys in order, holds, then releases them in reverse order.
// Keys already down are released if the token is cancelled part way.
func (d *Dispatcher) PressCombo(keys []Key, tok *cancel.Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logf(events.LevelDebug, "Press %v", keys)
	return d.finish("key", d.combo(keys, tok))
}

func (d *Dispatcher) combo(keys []Key, tok *cancel.Token) error {
	pressed := 0
	up := func() []Event {
		evts := make([]Event, 0, pressed)
		for i := pressed - 1; i >= 0; i-- {
			evts = append(evts, keyEvent(keys[i], false))
		}
		return evts
	}

	for _, k := range keys {
		if err := tok.Err(); err != nil {
			if pressed > 0 {
				d.release("key", up()...)
			}
			return err
		}
		if err := d.send("key", keyEvent(k, true)); err != nil {
			if pressed > 0 {
				d.release("key", up()...)
			}
			return err
		}
		pressed++
	}
	if pressed == 0 {
		return nil
	}

	if err := d.wait(d.timing.KeyHold, tok); err != nil {
		d.release("key", up()...)
		return err
	}
	return d.send("key", up()...)
}

// TypeText types s one character at a time as Unicode key events. Characters outside the
// BMP are sent as surrogate pairs. Newlines are typed as Shift+Enter so multi-line text
// does not submit a chat box early.
func (d *Dispatcher) TypeText(s string, tok *cancel.Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logf(events.LevelDebug, "Type %d characters", len([]rune(s)))

	first := true
	for _, r := range s {
		if r == '\r' {
			continue
		}
		if !first {
			if err := d.wait(d.timing.CharDelay, tok); err != nil {
				return err
			}
		} else if err := tok.Err(); err != nil {
			return err
		}
		first = false

		if r == '\n' {
			if err := d.send("type", keyEvent(KeyShift, true), keyEvent(KeyEnter, true), keyEvent(KeyEnter, false), keyEvent(KeyShift, false)); err != nil {
				return err
			}
			continue
		}

		if err := d.send("type", runeEvents(r)...); err != nil {
			return err
		}
	}
	return d.finish("type", nil)
}

// runeEvents returns down/up pairs for every UTF-16 unit of r
func runeEvents(r rune) []Event {
	units := utf16.Encode([]rune{r})
	evts := make([]Event, 0, 2*len(units))
	for _, u := range units {
		evts = append(evts, unicodeEvent(u, true), unicodeEvent(u, false))
	}
	return evts
}

// PasteText stages s on the clipboard and sends Ctrl+V. The previous clipboard content is
// restored before returning, on success, failure and cancellation alike.
func (d *Dispatcher) PasteText(s string, tok *cancel.Token) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := tok.Err(); err != nil {
		return err
	}

	// every format is kept, an image copied by the user survives the paste
	saved, err := d.backend.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to save clipboard: %w", err)
	}
	defer func() {
		if rerr := d.backend.Restore(saved); rerr != nil {
			d.logf(events.LevelWarn, "Failed to restore clipboard: %v", rerr)
		}
	}()

	d.logf(events.LevelDebug, "Paste %d characters", len([]rune(s)))
	if err := d.backend.WriteText(s); err != nil {
		return fmt.Errorf("failed to stage clipboard text: %w", err)
	}
	if err := d.combo([]Key{KeyControl, KeyV}, tok); err != nil {
		return err
	}
	return d.finish("paste", d.wait(d.timing.PasteWait, tok))
}
