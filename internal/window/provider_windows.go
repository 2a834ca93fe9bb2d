//go:build windows
// +build windows

package window

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/linyvhuo/webot/internal/cv"
)

const (
	SW_MAXIMIZE   = 3
	SW_SHOWNORMAL = 1
	SW_RESTORE    = 9
	VK_MENU       = 0x12
	KEYUP         = 0x0002
)

type RECT struct {
	Left, Top, Right, Bottom int32
}

type POINT struct {
	X, Y int32
}

var (
	user32                   = windows.NewLazySystemDLL("user32.dll")
	shell32                  = windows.NewLazySystemDLL("shell32.dll")
	procEnumWindows          = user32.NewProc("EnumWindows")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
	procGetClassNameW        = user32.NewProc("GetClassNameW")
	procGetWindowRect        = user32.NewProc("GetWindowRect")
	procGetClientRect        = user32.NewProc("GetClientRect")
	procClientToScreen       = user32.NewProc("ClientToScreen")
	procIsWindow             = user32.NewProc("IsWindow")
	procIsWindowVisible      = user32.NewProc("IsWindowVisible")
	procIsIconic             = user32.NewProc("IsIconic")
	procShowWindow           = user32.NewProc("ShowWindow")
	procSetForegroundWindow  = user32.NewProc("SetForegroundWindow")
	procGetForegroundWindow  = user32.NewProc("GetForegroundWindow")
	procBringWindowToTop     = user32.NewProc("BringWindowToTop")
	procKeybdEvent           = user32.NewProc("keybd_event")
	procShellExecuteW        = shell32.NewProc("ShellExecuteW")
)

// enumWindows collects windows during one EnumWindows call. The callback is created once,
// the runtime only supports a limited number of them.
var (
	enumMu       sync.Mutex
	enumWindows  []Info
	enumCallback = syscall.NewCallback(func(hwnd syscall.Handle, lparam uintptr) uintptr {
		if visible, _, _ := procIsWindowVisible.Call(uintptr(hwnd)); visible == 0 {
			return 1
		}
		title := windowText(uintptr(hwnd))
		if title == "" {
			return 1
		}

		var rect RECT
		procGetWindowRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&rect)))

		enumWindows = append(enumWindows, Info{
			Handle: cv.WindowHandle(hwnd),
			Title:  title,
			Class:  className(uintptr(hwnd)),
			Bounds: image.Rect(int(rect.Left), int(rect.Top), int(rect.Right), int(rect.Bottom)),
		})
		return 1 // continue enumeration
	})
)

// Provider manages top-level windows through the Win32 API
type Provider struct{}

// NewProvider returns the platform window provider
func NewProvider() *Provider {
	return &Provider{}
}

// List returns every visible top-level window with a title
func (p *Provider) List() ([]Info, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumWindows              = nil
	procEnumWindows.Call(enumCallback, 0)
	out := enumWindows
	enumWindows              = nil
	return out, nil
}

// Find returns the handle of the window titled title
func (p *Provider) Find(title string) (cv.WindowHandle, error) {
	list, err := p.List()
	if err != nil {
		return 0, err
	}
	w, ok := matchTitle(list, title)
	if !ok {
		return 0, fmt.Errorf("%q: %w", title, ErrNotFound)
	}
	return w.Handle, nil
}

// Launch starts the executable without elevation so it runs at the user's integrity level
func (p *Provider) Launch(path, args string) error {
	filePtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	var argsPtr *uint16
	if args != "" {
		if argsPtr, err = windows.UTF16PtrFromString(args); err != nil {
			return err
		}
	}
	verbPtr, _ := windows.UTF16PtrFromString("open")
	dirPtr, err := windows.UTF16PtrFromString(filepath.Dir(path))
	if err != nil {
		return err
	}

	ret, _, _ := procShellExecuteW.Call(
		0,
		uintptr(unsafe.Pointer(verbPtr)),
		uintptr(unsafe.Pointer(filePtr)),
		uintptr(unsafe.Pointer(argsPtr)),
		uintptr(unsafe.Pointer(dirPtr)),
		SW_SHOWNORMAL,
	)

	// ShellExecute returns a value > 32 on success
	if ret <= 32 {
		return fmt.Errorf("failed to launch %s: ShellExecute error code %d", path, ret)
	}
	return nil
}

func (p *Provider) valid(h cv.WindowHandle, op string) error {
	if h == 0 {
		return &cv.CaptureError{Op: op, Err: cv.ErrInvalidHandle}
	}
	if ok, _, _ := procIsWindow.Call(uintptr(h)); ok == 0 {
		return &cv.CaptureError{Op: op, Handle: h, Err: cv.ErrInvalidHandle}
	}
	return nil
}

// Foreground restores a minimized window and brings it to the front
func (p *Provider) Foreground(h cv.WindowHandle) error {
	if err := p.valid(h, "foreground"); err != nil {
		return err
	}

	if iconic, _, _ := procIsIconic.Call(uintptr(h)); iconic != 0 {
		procShowWindow.Call(uintptr(h), SW_RESTORE)
	}

	if ok, _, _ := procSetForegroundWindow.Call(uintptr(h)); ok != 0 {
		return nil
	}

	// The foreground lock is lifted for the process that sent the last input event
	procKeybdEvent.Call(VK_MENU, 0, 0, 0)
	procKeybdEvent.Call(VK_MENU, 0, KEYUP, 0)
	procBringWindowToTop.Call(uintptr(h))
	procSetForegroundWindow.Call(uintptr(h))

	time.Sleep(50 * time.Millisecond)
	if !p.IsForeground(h) {
		return fmt.Errorf("window 0x%x refused to come to the foreground", uintptr(h))
	}
	return nil
}

// IsForeground reports whether h is the foreground window
func (p *Provider) IsForeground(h cv.WindowHandle) bool {
	fg, _, _ := procGetForegroundWindow.Call()
	return fg != 0 && cv.WindowHandle(fg) == h
}

// Maximize maximizes the window
func (p *Provider) Maximize(h cv.WindowHandle) error {
	if err := p.valid(h, "maximize"); err != nil {
		return err
	}
	procShowWindow.Call(uintptr(h), SW_MAXIMIZE)
	return nil
}

// ClientToScreen converts a client-area point to screen coordinates
func (p *Provider) ClientToScreen(h cv.WindowHandle, pt image.Point) (image.Point, error) {
	if err := p.valid(h, "client-to-screen"); err != nil {
		return image.Point{}, err
	}
	wp := POINT{X: int32(pt.X), Y: int32(pt.Y)}
	if ok, _, err := procClientToScreen.Call(uintptr(h), uintptr(unsafe.Pointer(&wp))); ok == 0 {
		return image.Point{}, &cv.CaptureError{Op: "client-to-screen", Handle: h, Err: err}
	}
	return image.Point{X: int(wp.X), Y: int(wp.Y)}, nil
}

// ClientSize returns the size of the client area
func (p *Provider) ClientSize(h cv.WindowHandle) (image.Point, error) {
	if err := p.valid(h, "client-size"); err != nil {
		return image.Point{}, err
	}
	var rect RECT
	if ok, _, err := procGetClientRect.Call(uintptr(h), uintptr(unsafe.Pointer(&rect))); ok == 0 {
		return image.Point{}, &cv.CaptureError{Op: "client-size", Handle: h, Err: err}
	}
	return image.Point{X: int(rect.Right - rect.Left), Y: int(rect.Bottom - rect.Top)}, nil
}

func windowText(hwnd uintptr) string {
	n, _, _ := procGetWindowTextLengthW.Call(hwnd)
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf)
}

func className(hwnd uintptr) string {
	buf := make([]uint16, 256)
	procGetClassNameW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf)
}
