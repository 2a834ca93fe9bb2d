package window

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/linyvhuo/webot/internal/cv"
)

// Fake is an in-memory window provider. Windows can be present up front or appear a number
// of Find calls after their executable is launched. Used by dry runs and tests.
type Fake struct {
	mu sync.Mutex

	windows  map[cv.WindowHandle]Info
	launched map[string]pendingWindow

	launches     []string
	launchErr    error
	foreground   cv.WindowHandle
	focusLosses  int
	foregrounds  map[cv.WindowHandle]int
	maximized    map[cv.WindowHandle]int
	clientOrigin image.Point
	clientSize   image.Point
}

type pendingWindow struct {
	info      Info
	remaining int // Find calls before the window shows up
	started   bool
}

// NewFake creates a fake provider whose client areas are size pixels large and sit at origin
// on the screen
func NewFake(origin, size image.Point) *Fake {
	return &Fake{
		windows:      make(map[cv.WindowHandle]Info),
		launched:     make(map[string]pendingWindow),
		foregrounds:  make(map[cv.WindowHandle]int),
		maximized:    make(map[cv.WindowHandle]int),
		clientOrigin: origin,
		clientSize:   size,
	}
}

// Add registers a window that already exists
func (f *Fake) Add(h cv.WindowHandle, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[h] = Info{Handle: h, Title: title, Bounds: image.Rectangle{Min: f.clientOrigin, Max: f.clientOrigin.Add(f.clientSize)}}
}

// AddOnLaunch registers a window that appears once path has been launched and Find has been
// called afterFinds more times
func (f *Fake) AddOnLaunch(path string, h cv.WindowHandle, title string, afterFinds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched[path] = pendingWindow{
		info:      Info{Handle: h, Title: title, Bounds: image.Rectangle{Min: f.clientOrigin, Max: f.clientOrigin.Add(f.clientSize)}},
		remaining: afterFinds,
	}
}

// FailLaunch makes every later Launch call return err
func (f *Fake) FailLaunch(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launchErr = err
}

// LoseFocus makes the next n IsForeground checks report false
func (f *Fake) LoseFocus(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focusLosses = n
}

// Close removes a window
func (f *Fake) Close(h cv.WindowHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, h)
	if f.foreground == h {
		f.foreground = 0
	}
}

// Launches returns every launched path in order
func (f *Fake) Launches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.launches...)
}

// ForegroundCalls returns how often h was brought to the foreground
func (f *Fake) ForegroundCalls(h cv.WindowHandle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.foregrounds[h]
}

// MaximizeCalls returns how often h was maximized
func (f *Fake) MaximizeCalls(h cv.WindowHandle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maximized[h]
}

// List returns the current windows ordered by handle
func (f *Fake) List() ([]Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listLocked(), nil
}

func (f *Fake) listLocked() []Info {
	out := make([]Info, 0, len(f.windows))
	for _, w := range f.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (f *Fake) Find(title string) (cv.WindowHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for path, p := range f.launched {
		if !p.started {
			continue
		}
		if p.remaining > 0 {
			p.remaining--
			f.launched[path] = p
			continue
		}
		f.windows[p.info.Handle] = p.info
		delete(f.launched, path)
	}

	w, ok := matchTitle(f.listLocked(), title)
	if !ok {
		return 0, fmt.Errorf("%q: %w", title, ErrNotFound)
	}
	return w.Handle, nil
}

func (f *Fake) Launch(path, args string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return f.launchErr
	}
	f.launches = append(f.launches, path)
	if p, ok := f.launched[path]; ok {
		p.started = true
		f.launched[path] = p
	}
	return nil
}

func (f *Fake) check(h cv.WindowHandle, op string) error {
	if _, ok := f.windows[h]; !ok || h == 0 {
		return &cv.CaptureError{Op: op, Handle: h, Err: cv.ErrInvalidHandle}
	}
	return nil
}

func (f *Fake) Foreground(h cv.WindowHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h, "foreground"); err != nil {
		return err
	}
	f.foregrounds[h]++
	f.foreground = h
	return nil
}

func (f *Fake) IsForeground(h cv.WindowHandle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.focusLosses > 0 {
		f.focusLosses--
		return false
	}
	return h != 0 && f.foreground == h
}

func (f *Fake) Maximize(h cv.WindowHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h, "maximize"); err != nil {
		return err
	}
	f.maximized[h]++
	return nil
}

func (f *Fake) ClientToScreen(h cv.WindowHandle, pt image.Point) (image.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h, "client-to-screen"); err != nil {
		return image.Point{}, err
	}
	return pt.Add(f.clientOrigin), nil
}

func (f *Fake) ClientSize(h cv.WindowHandle) (image.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h, "client-size"); err != nil {
		return image.Point{}, err
	}
	return f.clientSize, nil
}
