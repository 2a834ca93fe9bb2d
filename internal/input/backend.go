package input

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"unicode/utf16"
)

// ErrUnsupportedPlatform is returned by the backend on platforms without input injection
var ErrUnsupportedPlatform = errors.New("input injection is only supported on windows")

// EventKind selects which fields of an Event are meaningful
type EventKind int

const (
	KindMove    EventKind = iota // Pos, absolute screen coordinates
	KindButton                   // Button, Down
	KindWheel                    // Delta, in wheel units (120 per notch)
	KindKey                      // Key, Down
	KindUnicode                  // Unit (one UTF-16 code unit), Down
)

func (k EventKind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindButton:
		return "button"
	case KindWheel:
		return "wheel"
	case KindKey:
		return "key"
	case KindUnicode:
		return "unicode"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one low-level synthetic input event
type Event struct {
	Kind   EventKind
	Pos    image.Point
	Button Button
	Key    Key
	Unit   uint16
	Delta  int
	Down   bool
}

func moveEvent(p image.Point) Event { return Event{Kind: KindMove, Pos: p} }
func buttonEvent(b Button, down bool) Event { return Event{Kind: KindButton, Button: b, Down: down} }
func wheelEvent(delta int) Event { return Event{Kind: KindWheel, Delta: delta} }
func keyEvent(k Key, down bool) Event { return Event{Kind: KindKey, Key: k, Down: down} }
func unicodeEvent(unit uint16, down bool) Event { return Event{Kind: KindUnicode, Unit: unit, Down: down} }

// FormatUnicodeText is the clipboard format holding NUL terminated UTF-16LE text
const FormatUnicodeText uint32 = 13

// ClipboardFormat is the raw content of one clipboard format
type ClipboardFormat struct {
	ID   uint32
	Data []byte
}

// ClipboardSnapshot is every format the clipboard held at one moment, in enumeration
// order. An empty snapshot is an empty clipboard.
type ClipboardSnapshot []ClipboardFormat

// Text returns the snapshot's Unicode text, if it has any
func (s ClipboardSnapshot) Text() (string, bool) {
	for _, f := range s {
		if f.ID == FormatUnicodeText {
			return decodeUnicodeText(f.Data), true
		}
	}
	return "", false
}

// Clipboard reads and writes the system clipboard
type Clipboard interface {
	// ReadText returns the clipboard text. ok is false when the clipboard holds no text.
	ReadText() (text string, ok bool, err error)
	// WriteText replaces the whole clipboard with text
	WriteText(text string) error
	// Snapshot copies every format the clipboard currently holds
	Snapshot() (ClipboardSnapshot, error)
	// Restore replaces the clipboard with the formats of a snapshot
	Restore(snap ClipboardSnapshot) error
}

func encodeUnicodeText(text string) []byte {
	units := utf16.Encode([]rune(text))
	out := make([]byte, 2*len(units)+2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[2*i:], u)
	}
	return out
}

// decodeUnicodeText stops at the first NUL
func decodeUnicodeText(data []byte) string {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		u := binary.LittleEndian.Uint16(data[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// Backend injects events into the OS input queue
type Backend interface {
	Clipboard

	// Send enqueues events in order and returns how many were accepted
	Send(events []Event) (int, error)
}

// InjectionError reports that the OS accepted fewer events than requested.
// Typically another process holds the input desktop (UIPI, secure desktop, lock screen).
type InjectionError struct {
	Op        string
	Requested int
	Sent      int
	Err       error
}

func (e *InjectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input %s: injected %d of %d events: %v", e.Op, e.Sent, e.Requested, e.Err)
	}
	return fmt.Sprintf("input %s: injected %d of %d events", e.Op, e.Sent, e.Requested)
}

func (e *InjectionError) Unwrap() error {
	return e.Err
}
