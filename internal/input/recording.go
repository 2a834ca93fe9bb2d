package input

import (
	"image"
	"sync"
	"unicode/utf16"
)

// RecordingBackend records events instead of injecting them. It backs dry runs of the
// CLI and the tests of every package that drives input.
type RecordingBackend struct {
	mu         sync.Mutex
	events     []Event
	clip       ClipboardSnapshot
	clipLog    []string
	shortBy    int
	clipErr    error
	onEvent    func(Event)
	cursor     image.Point
	clicks     []image.Point
	pasteTexts []string
}

// NewRecordingBackend creates a recording backend with an empty clipboard
func NewRecordingBackend() *RecordingBackend {
	return &RecordingBackend{}
}

// Send records events. After DropEvents(n) each batch loses its last n events.
func (r *RecordingBackend) Send(evts []Event) (int, error) {
	r.mu.Lock()
	n := len(evts) - r.shortBy
	if n < 0 {
		n = 0
	}
	accepted := evts[:n]
	for _, e := range accepted {
		r.record(e)
	}
	hook := r.onEvent
	r.mu.Unlock()

	if hook != nil {
		for _, e := range accepted {
			hook(e)
		}
	}
	return n, nil
}

// record must be called with mu held
func (r *RecordingBackend) record(e Event) {
	r.events = append(r.events, e)
	switch e.Kind {
	case KindMove:
		r.cursor = e.Pos
	case KindButton:
		if e.Button == ButtonLeft && e.Down {
			r.clicks = append(r.clicks, r.cursor)
		}
	case KindKey:
		if e.Key == KeyV && e.Down && r.keyDown(KeyControl) {
			text, _ := r.clip.Text()
			r.pasteTexts = append(r.pasteTexts, text)
		}
	}
}

// keyDown reports whether k was pressed and not yet released. Must be called with mu held.
func (r *RecordingBackend) keyDown(k Key) bool {
	down := false
	for _, e := range r.events {
		if e.Kind == KindKey && e.Key == k {
			down = e.Down
		}
	}
	return down
}

// DropEvents makes every following Send accept n fewer events than requested
func (r *RecordingBackend) DropEvents(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shortBy = n
}

// OnEvent installs a hook called, outside the lock, for every accepted event
func (r *RecordingBackend) OnEvent(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = fn
}

// FailClipboard makes clipboard reads and snapshots fail with err (nil clears it)
func (r *RecordingBackend) FailClipboard(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clipErr = err
}

// Events returns a copy of every recorded event
func (r *RecordingBackend) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Clicks returns the cursor position of every left button press
func (r *RecordingBackend) Clicks() []image.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]image.Point, len(r.clicks))
	copy(out, r.clicks)
	return out
}

// Pasted returns the clipboard content at every Ctrl+V
func (r *RecordingBackend) Pasted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.pasteTexts))
	copy(out, r.pasteTexts)
	return out
}

// Typed reconstructs the text entered through Unicode events and Shift+Enter
func (r *RecordingBackend) Typed() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var units []uint16
	for _, e := range r.events {
		switch {
		case e.Kind == KindUnicode && e.Down:
			units = append(units, e.Unit)
		case e.Kind == KindKey && e.Key == KeyEnter && e.Down:
			units = append(units, '\n')
		}
	}
	return string(utf16.Decode(units))
}

// Pressed returns the keys that are currently held down
func (r *RecordingBackend) Pressed() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := make(map[Key]bool)
	var order []Key
	for _, e := range r.events {
		if e.Kind != KindKey {
			continue
		}
		if _, seen := state[e.Key]; !seen {
			order = append(order, e.Key)
		}
		state[e.Key] = e.Down
	}

	var held []Key
	for _, k := range order {
		if state[k] {
			held = append(held, k)
		}
	}
	return held
}

// ButtonsHeld returns the mouse buttons currently held down
func (r *RecordingBackend) ButtonsHeld() []Button {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := make(map[Button]bool)
	for _, e := range r.events {
		if e.Kind == KindButton {
			state[e.Button] = e.Down
		}
	}
	var held []Button
	for _, b := range []Button{ButtonLeft, ButtonRight, ButtonMiddle} {
		if state[b] {
			held = append(held, b)
		}
	}
	return held
}

// Reset clears recorded events but keeps the clipboard
func (r *RecordingBackend) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.clicks = nil
	r.pasteTexts = nil
}

// SetClipboard seeds the clipboard, as if another application copied text
func (r *RecordingBackend) SetClipboard(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clip = ClipboardSnapshot{{ID: FormatUnicodeText, Data: encodeUnicodeText(text)}}
}

// SetClipboardFormats seeds the clipboard with raw formats, such as a copied image
func (r *RecordingBackend) SetClipboardFormats(formats ...ClipboardFormat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clip = cloneSnapshot(formats)
}

// ClipboardFormats returns a copy of every format on the clipboard
func (r *RecordingBackend) ClipboardFormats() ClipboardSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSnapshot(r.clip)
}

// ClipboardWrites returns every text written through WriteText
func (r *RecordingBackend) ClipboardWrites() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.clipLog))
	copy(out, r.clipLog)
	return out
}

// ReadText implements Clipboard
func (r *RecordingBackend) ReadText() (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clipErr != nil {
		return "", false, r.clipErr
	}
	text, ok := r.clip.Text()
	return text, ok, nil
}

// WriteText implements Clipboard
func (r *RecordingBackend) WriteText(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clip = ClipboardSnapshot{{ID: FormatUnicodeText, Data: encodeUnicodeText(text)}}
	r.clipLog = append(r.clipLog, text)
	return nil
}

// Snapshot implements Clipboard
func (r *RecordingBackend) Snapshot() (ClipboardSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clipErr != nil {
		return nil, r.clipErr
	}
	return cloneSnapshot(r.clip), nil
}

// Restore implements Clipboard
func (r *RecordingBackend) Restore(snap ClipboardSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clip = cloneSnapshot(snap)
	return nil
}

func cloneSnapshot(snap ClipboardSnapshot) ClipboardSnapshot {
	if len(snap) == 0 {
		return nil
	}
	out := make(ClipboardSnapshot, len(snap))
	for i, f := range snap {
		out[i] = ClipboardFormat{ID: f.ID, Data: append([]byte(nil), f.Data...)}
	}
	return out
}
