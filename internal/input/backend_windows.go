//go:build windows
// +build windows

package input

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                         = windows.NewLazySystemDLL("user32.dll")
	kernel32                       = windows.NewLazySystemDLL("kernel32.dll")
	procSendInput                  = user32.NewProc("SendInput")
	procGetSystemMetrics           = user32.NewProc("GetSystemMetrics")
	procOpenClipboard              = user32.NewProc("OpenClipboard")
	procCloseClipboard             = user32.NewProc("CloseClipboard")
	procEmptyClipboard             = user32.NewProc("EmptyClipboard")
	procGetClipboardData           = user32.NewProc("GetClipboardData")
	procSetClipboardData           = user32.NewProc("SetClipboardData")
	procIsClipboardFormatAvailable = user32.NewProc("IsClipboardFormatAvailable")
	procEnumClipboardFormats       = user32.NewProc("EnumClipboardFormats")
	procGlobalAlloc                = kernel32.NewProc("GlobalAlloc")
	procGlobalFree                 = kernel32.NewProc("GlobalFree")
	procGlobalLock                 = kernel32.NewProc("GlobalLock")
	procGlobalUnlock               = kernel32.NewProc("GlobalUnlock")
	procGlobalSize                 = kernel32.NewProc("GlobalSize")
)

const (
	INPUT_MOUSE    = 0
	INPUT_KEYBOARD = 1

	MOUSEEVENTF_MOVE        = 0x0001
	MOUSEEVENTF_LEFTDOWN    = 0x0002
	MOUSEEVENTF_LEFTUP      = 0x0004
	MOUSEEVENTF_RIGHTDOWN   = 0x0008
	MOUSEEVENTF_RIGHTUP     = 0x0010
	MOUSEEVENTF_MIDDLEDOWN  = 0x0020
	MOUSEEVENTF_MIDDLEUP    = 0x0040
	MOUSEEVENTF_WHEEL       = 0x0800
	MOUSEEVENTF_VIRTUALDESK = 0x4000
	MOUSEEVENTF_ABSOLUTE    = 0x8000

	KEYEVENTF_EXTENDEDKEY = 0x0001
	KEYEVENTF_KEYUP       = 0x0002
	KEYEVENTF_UNICODE     = 0x0004

	SM_XVIRTUALSCREEN  = 76
	SM_YVIRTUALSCREEN  = 77
	SM_CXVIRTUALSCREEN = 78
	SM_CYVIRTUALSCREEN = 79

	CF_BITMAP          = 2
	CF_METAFILEPICT    = 3
	CF_PALETTE         = 9
	CF_UNICODETEXT     = 13
	CF_ENHMETAFILE     = 14
	CF_OWNERDISPLAY    = 0x0080
	CF_DSPBITMAP       = 0x0082
	CF_DSPMETAFILEPICT = 0x0083
	CF_DSPENHMETAFILE  = 0x008E
	CF_GDIOBJFIRST     = 0x0300
	CF_GDIOBJLAST      = 0x03FF
	GMEM_MOVEABLE      = 0x0002
)

type mouseInput struct {
	dx          int32
	dy          int32
	mouseData   uint32
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

type keybdInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

// winInput mirrors INPUT. MOUSEINPUT is the largest member of the union, keyboard
// input is written over it.
type winInput struct {
	inputType uint32
	mi        mouseInput
}

func (in *winInput) keyboard() *keybdInput {
	return (*keybdInput)(unsafe.Pointer(&in.mi))
}

// SendInputBackend injects events with SendInput and uses the Win32 clipboard
type SendInputBackend struct{}

// NewBackend returns the platform input backend
func NewBackend() Backend {
	return &SendInputBackend{}
}

// Send converts events to INPUT structures and submits them in one SendInput call
func (b *SendInputBackend) Send(evts []Event) (int, error) {
	if len(evts) == 0 {
		return 0, nil
	}

	inputs := make([]winInput, len(evts))
	for i, e := range evts {
		if err := b.convert(e, &inputs[i]); err != nil {
			return 0, err
		}
	}

	n, _, callErr := procSendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]),
	)
	if int(n) < len(inputs) {
		return int(n), fmt.Errorf("SendInput: %w", callErr)
	}
	return int(n), nil
}

func (b *SendInputBackend) convert(e Event, in *winInput) error {
	switch e.Kind {
	case KindMove:
		in.inputType = INPUT_MOUSE
		in.mi.dx, in.mi.dy = normalize(e.Pos.X, e.Pos.Y)
		in.mi.dwFlags = MOUSEEVENTF_MOVE | MOUSEEVENTF_ABSOLUTE | MOUSEEVENTF_VIRTUALDESK
	case KindButton:
		in.inputType = INPUT_MOUSE
		in.mi.dwFlags = buttonFlags(e.Button, e.Down)
	case KindWheel:
		in.inputType = INPUT_MOUSE
		in.mi.dwFlags = MOUSEEVENTF_WHEEL
		in.mi.mouseData = uint32(int32(e.Delta))
	case KindKey:
		in.inputType = INPUT_KEYBOARD
		ki := in.keyboard()
		ki.wVk = uint16(e.Key)
		if e.Key.Extended() {
			ki.dwFlags |= KEYEVENTF_EXTENDEDKEY
		}
		if !e.Down {
			ki.dwFlags |= KEYEVENTF_KEYUP
		}
	case KindUnicode:
		in.inputType = INPUT_KEYBOARD
		ki := in.keyboard()
		ki.wScan = e.Unit
		ki.dwFlags = KEYEVENTF_UNICODE
		if !e.Down {
			ki.dwFlags |= KEYEVENTF_KEYUP
		}
	default:
		return fmt.Errorf("unknown input event kind %v", e.Kind)
	}
	return nil
}

func buttonFlags(b Button, down bool) uint32 {
	switch b {
	case ButtonRight:
		if down {
			return MOUSEEVENTF_RIGHTDOWN
		}
		return MOUSEEVENTF_RIGHTUP
	case ButtonMiddle:
		if down {
			return MOUSEEVENTF_MIDDLEDOWN
		}
		return MOUSEEVENTF_MIDDLEUP
	}
	if down {
		return MOUSEEVENTF_LEFTDOWN
	}
	return MOUSEEVENTF_LEFTUP
}

// normalize maps screen pixels to the 0..65535 absolute range over the virtual desktop
func normalize(x, y int) (int32, int32) {
	vx := metric(SM_XVIRTUALSCREEN)
	vy := metric(SM_YVIRTUALSCREEN)
	vw := max(metric(SM_CXVIRTUALSCREEN), 2)
	vh := max(metric(SM_CYVIRTUALSCREEN), 2)

	nx := ((x - vx) * 65535) / (vw - 1)
	ny := ((y - vy) * 65535) / (vh - 1)
	return int32(nx), int32(ny)
}

func metric(index int) int {
	v, _, _ := procGetSystemMetrics.Call(uintptr(index))
	return int(int32(v))
}

// openClipboard retries briefly since another process may hold the clipboard
func openClipboard() error {
	var lastErr error
	for i := 0; i < 10; i++ {
		r, _, err := procOpenClipboard.Call(0)
		if r != 0 {
			return nil
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("OpenClipboard: %w", lastErr)
}

// ReadText implements Clipboard
func (b *SendInputBackend) ReadText() (string, bool, error) {
	if err := openClipboard(); err != nil {
		return "", false, err
	}
	defer procCloseClipboard.Call()

	if r, _, _ := procIsClipboardFormatAvailable.Call(CF_UNICODETEXT); r == 0 {
		return "", false, nil
	}

	h, _, err := procGetClipboardData.Call(CF_UNICODETEXT)
	if h == 0 {
		return "", false, fmt.Errorf("GetClipboardData: %w", err)
	}
	p, _, err := procGlobalLock.Call(h)
	if p == 0 {
		return "", false, fmt.Errorf("GlobalLock: %w", err)
	}
	defer procGlobalUnlock.Call(h)

	return windows.UTF16PtrToString((*uint16)(unsafe.Pointer(p))), true, nil
}

// WriteText implements Clipboard
func (b *SendInputBackend) WriteText(text string) error {
	data, err := windows.UTF16FromString(text)
	if err != nil {
		return err
	}

	if err := openClipboard(); err != nil {
		return err
	}
	defer procCloseClipboard.Call()

	if r, _, err := procEmptyClipboard.Call(); r == 0 {
		return fmt.Errorf("EmptyClipboard: %w", err)
	}

	size := uintptr(len(data)) * unsafe.Sizeof(data[0])
	h, _, err := procGlobalAlloc.Call(GMEM_MOVEABLE, size)
	if h == 0 {
		return fmt.Errorf("GlobalAlloc: %w", err)
	}

	p, _, err := procGlobalLock.Call(h)
	if p == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("GlobalLock: %w", err)
	}
	copy(unsafe.Slice((*uint16)(unsafe.Pointer(p)), len(data)), data)
	procGlobalUnlock.Call(h)

	// The system owns h once SetClipboardData succeeds
	if r, _, err := procSetClipboardData.Call(CF_UNICODETEXT, h); r == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("SetClipboardData: %w", err)
	}
	return nil
}

// globalHandleFormat reports whether format's data is an HGLOBAL. GDI object formats are
// skipped; bitmaps come back through the CF_DIB the system synthesizes them from.
func globalHandleFormat(format uint32) bool {
	switch format {
	case CF_BITMAP, CF_METAFILEPICT, CF_PALETTE, CF_ENHMETAFILE,
		CF_OWNERDISPLAY, CF_DSPBITMAP, CF_DSPMETAFILEPICT, CF_DSPENHMETAFILE:
		return false
	}
	return format < CF_GDIOBJFIRST || format > CF_GDIOBJLAST
}

// Snapshot implements Clipboard
func (b *SendInputBackend) Snapshot() (ClipboardSnapshot, error) {
	if err := openClipboard(); err != nil {
		return nil, err
	}
	defer procCloseClipboard.Call()

	var snap ClipboardSnapshot
	format := uint32(0)
	for {
		next, _, err := procEnumClipboardFormats.Call(uintptr(format))
		if next == 0 {
			if err != nil && err != windows.ERROR_SUCCESS {
				return nil, fmt.Errorf("EnumClipboardFormats: %w", err)
			}
			return snap, nil
		}
		format = uint32(next)
		if !globalHandleFormat(format) {
			continue
		}

		data, err := copyGlobal(format)
		if err != nil {
			return nil, err
		}
		if data != nil {
			snap = append(snap, ClipboardFormat{ID: format, Data: data})
		}
	}
}

// copyGlobal copies the bytes behind one format. A delayed format whose owner can no
// longer render it yields nil.
func copyGlobal(format uint32) ([]byte, error) {
	h, _, _ := procGetClipboardData.Call(uintptr(format))
	if h == 0 {
		return nil, nil
	}
	size, _, _ := procGlobalSize.Call(h)
	if size == 0 {
		return nil, nil
	}
	p, _, err := procGlobalLock.Call(h)
	if p == 0 {
		return nil, fmt.Errorf("GlobalLock format %d: %w", format, err)
	}
	defer procGlobalUnlock.Call(h)

	data := make([]byte, size)
	copy(data, unsafe.Slice((*byte)(unsafe.Pointer(p)), size))
	return data, nil
}

// Restore implements Clipboard. Formats that fail to restore are reported together after
// the others have been put back.
func (b *SendInputBackend) Restore(snap ClipboardSnapshot) error {
	if err := openClipboard(); err != nil {
		return err
	}
	defer procCloseClipboard.Call()

	if r, _, err := procEmptyClipboard.Call(); r == 0 {
		return fmt.Errorf("EmptyClipboard: %w", err)
	}

	var errs []error
	for _, f := range snap {
		if err := setGlobal(f.ID, f.Data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func setGlobal(format uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	h, _, err := procGlobalAlloc.Call(GMEM_MOVEABLE, uintptr(len(data)))
	if h == 0 {
		return fmt.Errorf("GlobalAlloc format %d: %w", format, err)
	}
	p, _, err := procGlobalLock.Call(h)
	if p == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("GlobalLock format %d: %w", format, err)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(data)), data)
	procGlobalUnlock.Call(h)

	if r, _, err := procSetClipboardData.Call(uintptr(format), h); r == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("SetClipboardData format %d: %w", format, err)
	}
	return nil
}
