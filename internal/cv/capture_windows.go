//go:build windows
// +build windows

package cv

import (
	"fmt"
	"image"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                     = windows.NewLazySystemDLL("user32.dll")
	gdi32                      = windows.NewLazySystemDLL("gdi32.dll")
	procGetDC                  = user32.NewProc("GetDC")
	procReleaseDC              = user32.NewProc("ReleaseDC")
	procGetClientRect          = user32.NewProc("GetClientRect")
	procIsWindow               = user32.NewProc("IsWindow")
	procGetSystemMetrics       = user32.NewProc("GetSystemMetrics")
	procEnumDisplayMonitors    = user32.NewProc("EnumDisplayMonitors")
	procGetMonitorInfoW        = user32.NewProc("GetMonitorInfoW")
	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
)

const (
	SRCCOPY        = 0x00CC0020
	CAPTUREBLT     = 0x40000000
	BI_RGB         = 0
	DIB_RGB_COLORS = 0

	SM_XVIRTUALSCREEN  = 76
	SM_YVIRTUALSCREEN  = 77
	SM_CXVIRTUALSCREEN = 78
	SM_CYVIRTUALSCREEN = 79
)

// RECT structure for Windows API
type RECT struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

func (r RECT) toRectangle() image.Rectangle {
	return image.Rect(int(r.Left), int(r.Top), int(r.Right), int(r.Bottom))
}

// BITMAPINFOHEADER structure
type BITMAPINFOHEADER struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// BITMAPINFO structure
type BITMAPINFO struct {
	BmiHeader BITMAPINFOHEADER
	BmiColors [1]uint32
}

type monitorInfo struct {
	CbSize    uint32
	RcMonitor RECT
	RcWork    RECT
	DwFlags   uint32
}

// GDICapture captures window client areas and virtual-desktop regions through GDI
type GDICapture struct{}

// NewCapturer returns the GDI capturer
func NewCapturer() Capturer {
	return &GDICapture{}
}

// ClientRect returns the client rectangle of a window (origin is always 0,0)
func ClientRect(h WindowHandle) (image.Rectangle, error) {
	if h == 0 {
		return image.Rectangle{}, ErrInvalidHandle
	}
	if ok, _, _ := procIsWindow.Call(uintptr(h)); ok == 0 {
		return image.Rectangle{}, ErrInvalidHandle
	}

	var rect RECT
	ret, _, err := procGetClientRect.Call(uintptr(h), uintptr(unsafe.Pointer(&rect)))
	if ret == 0 {
		return image.Rectangle{}, fmt.Errorf("failed to get client rect: %v", err)
	}
	return rect.toRectangle(), nil
}

// CaptureWindow captures the current client area of the window
func (c *GDICapture) CaptureWindow(h WindowHandle) (*image.RGBA, error) {
	rect, err := ClientRect(h)
	if err != nil {
		return nil, &CaptureError{Op: "window", Handle: h, Err: err}
	}
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil, &CaptureError{Op: "window", Handle: h, Err: fmt.Errorf("%w: %dx%d", ErrDegenerateRegion, rect.Dx(), rect.Dy())}
	}

	img, err := blit(uintptr(h), 0, 0, rect.Dx(), rect.Dy())
	if err != nil {
		return nil, &CaptureError{Op: "window", Handle: h, Err: err}
	}
	return img, nil
}

// CaptureRegion captures a rectangle of the virtual desktop. rect is relative to the
// selected monitor's top-left corner, or to the virtual-screen origin for AllScreens,
// which is negative when a monitor sits left of or above the primary one.
func (c *GDICapture) CaptureRegion(rect image.Rectangle, screenIndex int) (*image.RGBA, error) {
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil, &CaptureError{Op: "region", Err: ErrDegenerateRegion}
	}

	origin, bounds, err := screenBounds(screenIndex)
	if err != nil {
		return nil, &CaptureError{Op: "region", Err: err}
	}

	abs := rect.Add(origin).Intersect(bounds)
	if abs.Dx() <= 0 || abs.Dy() <= 0 {
		return nil, &CaptureError{Op: "region", Err: fmt.Errorf("%w: %v outside screen %v", ErrDegenerateRegion, rect, bounds)}
	}

	img, err := blit(0, abs.Min.X, abs.Min.Y, abs.Dx(), abs.Dy())
	if err != nil {
		return nil, &CaptureError{Op: "region", Err: err}
	}
	return img, nil
}

var (
	enumMu      sync.Mutex
	enumScreens []image.Rectangle

	// created once, the runtime caps the number of callbacks per process
	enumCallback = syscall.NewCallback(func(hMonitor, hdc, lprc, lparam uintptr) uintptr {
		var mi monitorInfo
		mi.CbSize = uint32(unsafe.Sizeof(mi))
		if ret, _, _ := procGetMonitorInfoW.Call(hMonitor, uintptr(unsafe.Pointer(&mi))); ret != 0 {
			enumScreens = append(enumScreens, mi.RcMonitor.toRectangle())
		}
		return 1
	})
)

// Screens returns the bounds of every monitor in virtual-screen coordinates
func Screens() ([]image.Rectangle, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumScreens = nil
	ret, _, err := procEnumDisplayMonitors.Call(0, 0, enumCallback, 0)
	if ret == 0 {
		return nil, fmt.Errorf("EnumDisplayMonitors failed: %v", err)
	}

	screens := make([]image.Rectangle, len(enumScreens))
	copy(screens, enumScreens)
	return screens, nil
}

func virtualScreen() image.Rectangle {
	x, _, _ := procGetSystemMetrics.Call(SM_XVIRTUALSCREEN)
	y, _, _ := procGetSystemMetrics.Call(SM_YVIRTUALSCREEN)
	w, _, _ := procGetSystemMetrics.Call(SM_CXVIRTUALSCREEN)
	h, _, _ := procGetSystemMetrics.Call(SM_CYVIRTUALSCREEN)
	// metrics come back as uintptr, the origin may be negative
	minX, minY := int(int32(x)), int(int32(y))
	return image.Rect(minX, minY, minX+int(int32(w)), minY+int(int32(h)))
}

func screenBounds(screenIndex int) (origin image.Point, bounds image.Rectangle, err error) {
	if screenIndex == AllScreens {
		vs := virtualScreen()
		return vs.Min, vs, nil
	}

	screens, err := Screens()
	if err != nil {
		return image.Point{}, image.Rectangle{}, err
	}
	if screenIndex < 0 || screenIndex >= len(screens) {
		return image.Point{}, image.Rectangle{}, fmt.Errorf("%w: %d of %d", ErrNoSuchScreen, screenIndex, len(screens))
	}
	return screens[screenIndex].Min, screens[screenIndex], nil
}

// blit copies width x height pixels at (x,y) of hwnd's DC (0 is the whole virtual screen)
// into a top-down RGBA buffer
func blit(hwnd uintptr, x, y, width, height int) (*image.RGBA, error) {
	hdcSrc, _, err := procGetDC.Call(hwnd)
	if hdcSrc == 0 {
		return nil, fmt.Errorf("failed to get DC: %v", err)
	}
	defer procReleaseDC.Call(hwnd, hdcSrc)

	hdcMem, _, err := procCreateCompatibleDC.Call(hdcSrc)
	if hdcMem == 0 {
		return nil, fmt.Errorf("failed to create compatible DC: %v", err)
	}
	defer procDeleteDC.Call(hdcMem)

	hBitmap, _, err := procCreateCompatibleBitmap.Call(hdcSrc, uintptr(width), uintptr(height))
	if hBitmap == 0 {
		return nil, fmt.Errorf("failed to create compatible bitmap: %v", err)
	}
	defer procDeleteObject.Call(hBitmap)

	old, _, _ := procSelectObject.Call(hdcMem, hBitmap)

	rop := uintptr(SRCCOPY)
	if hwnd == 0 {
		// include layered windows when copying from the screen
		rop |= CAPTUREBLT
	}
	ret, _, err := procBitBlt.Call(
		hdcMem,
		0, 0,
		uintptr(width), uintptr(height),
		hdcSrc,
		uintptr(int32(x)), uintptr(int32(y)),
		rop,
	)
	// GetDIBits requires the bitmap not to be selected into a DC
	procSelectObject.Call(hdcMem, old)
	if ret == 0 {
		return nil, fmt.Errorf("BitBlt failed: %v", err)
	}

	var bi BITMAPINFO
	bi.BmiHeader.Size = uint32(unsafe.Sizeof(bi.BmiHeader))
	bi.BmiHeader.Width = int32(width)
	bi.BmiHeader.Height = -int32(height) // Negative for top-down bitmap
	bi.BmiHeader.Planes = 1
	bi.BmiHeader.BitCount = 32
	bi.BmiHeader.Compression = BI_RGB

	img := image.NewRGBA(image.Rect(0, 0, width, height))

	ret, _, err = procGetDIBits.Call(
		hdcMem,
		hBitmap,
		0,
		uintptr(height),
		uintptr(unsafe.Pointer(&img.Pix[0])),
		uintptr(unsafe.Pointer(&bi)),
		DIB_RGB_COLORS,
	)
	if ret == 0 {
		return nil, fmt.Errorf("GetDIBits failed: %v", err)
	}
	if int(ret) != height {
		return nil, fmt.Errorf("GetDIBits copied %d of %d scan lines", ret, height)
	}

	// BGRA in place to RGBA, GDI leaves alpha at zero
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		img.Pix[i+3] = 255
	}

	return img, nil
}
