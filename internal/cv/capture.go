package cv

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

// WindowHandle is an opaque top-level window identifier supplied by the window provider.
// The engine never creates or destroys windows, it only reads through the handle.
type WindowHandle uintptr

// AllScreens selects the whole virtual desktop in CaptureRegion
const AllScreens = -1

var (
	ErrInvalidHandle       = errors.New("invalid window handle")
	ErrDegenerateRegion    = errors.New("capture region has zero width or height")
	ErrUnsupportedPlatform = errors.New("screen capture is only supported on windows")
	ErrNoSuchScreen        = errors.New("screen index out of range")
)

// CaptureError is returned for every capture failure. Capture calls never retry.
type CaptureError struct {
	Op     string
	Handle WindowHandle
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Handle != 0 {
		return fmt.Sprintf("capture %s (hwnd 0x%x): %v", e.Op, uintptr(e.Handle), e.Err)
	}
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// WindowCapturer captures the client area of a window. Every call is a fresh snapshot.
type WindowCapturer interface {
	CaptureWindow(h WindowHandle) (*image.RGBA, error)
}

// Capturer captures windows and arbitrary screen regions
type Capturer interface {
	WindowCapturer

	// CaptureRegion captures rect, given relative to the selected screen's top-left corner
	// (or to the virtual desktop origin for AllScreens)
	CaptureRegion(rect image.Rectangle, screenIndex int) (*image.RGBA, error)
}

// FrameSource is a scripted WindowCapturer. Each CaptureWindow call for a handle returns the
// next queued frame, the last frame repeats once the queue is exhausted. Used to replay
// recorded sessions and in tests.
type FrameSource struct {
	mu     sync.Mutex
	frames map[WindowHandle][]*image.RGBA
	errs   map[WindowHandle]error
	calls  map[WindowHandle]int
}

// NewFrameSource creates an empty frame source
func NewFrameSource() *FrameSource {
	return &FrameSource{
		frames: make(map[WindowHandle][]*image.RGBA),
		errs:   make(map[WindowHandle]error),
		calls:  make(map[WindowHandle]int),
	}
}

// Push queues frames for a handle
func (fs *FrameSource) Push(h WindowHandle, frames ...*image.RGBA) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.frames[h] = append(fs.frames[h], frames...)
}

// Set replaces the queue for a handle with a single static frame
func (fs *FrameSource) Set(h WindowHandle, frame *image.RGBA) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.frames[h] = []*image.RGBA{frame}
}

// Fail makes every capture of h return err until cleared with Fail(h, nil)
func (fs *FrameSource) Fail(h WindowHandle, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err == nil {
		delete(fs.errs, h)
		return
	}
	fs.errs[h] = err
}

// Calls returns how many captures were made for h
func (fs *FrameSource) Calls(h WindowHandle) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.calls[h]
}

// CaptureWindow returns the next scripted frame
func (fs *FrameSource) CaptureWindow(h WindowHandle) (*image.RGBA, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.calls[h]++
	if h == 0 {
		return nil, &CaptureError{Op: "window", Err: ErrInvalidHandle}
	}
	if err := fs.errs[h]; err != nil {
		return nil, &CaptureError{Op: "window", Handle: h, Err: err}
	}

	queue := fs.frames[h]
	if len(queue) == 0 {
		return nil, &CaptureError{Op: "window", Handle: h, Err: ErrInvalidHandle}
	}

	frame := queue[0]
	if len(queue) > 1 {
		fs.frames[h] = queue[1:]
	}
	return frame, nil
}
