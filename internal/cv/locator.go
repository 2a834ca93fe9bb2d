package cv

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/linyvhuo/webot/internal/cancel"
	"github.com/linyvhuo/webot/internal/events"
	"github.com/linyvhuo/webot/pkg/templates"
)

var (
	ErrNotFound         = errors.New("no qualifying match")
	ErrStabilityTimeout = errors.New("content did not stabilize before timeout")
)

// DefaultDeadZone is the side of the square at the origin in which matches are ignored.
// A hit there almost always comes from a blank or transparent capture.
const DefaultDeadZone = 10

// TemplateSource is the part of the template store the locator needs
type TemplateSource interface {
	Get(name string) (*templates.Template, error)
	ResolveSize(name string, size image.Point) (*templates.Template, error)
}

// LocatorConfig configures the element locator
type LocatorConfig struct {
	Threshold float64 // Global correlation threshold, adjusted per family by the matcher
	DeadZone  int
	Probe     ProbeConfig
	DebugDir  string // When set, frames of failed locates are written here as PNG
}

// DefaultLocatorConfig returns recommended settings
func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{
		Threshold: 0.8,
		DeadZone:  DefaultDeadZone,
		Probe:     DefaultProbeConfig(),
	}
}

// windowState is everything remembered about one window. Owned by the automation worker.
type windowState struct {
	positions map[string]image.Point // last located centers
	sizes     map[string]image.Point // last template sizes observed
	failures  map[string]int         // consecutive locate failures
	probe     probeState
}

func newWindowState() *windowState {
	return &windowState{
		positions: make(map[string]image.Point),
		sizes:     make(map[string]image.Point),
		failures:  make(map[string]int),
	}
}

// Locator answers where, if anywhere, a template appears inside a window.
// It is not safe for concurrent use, the automation worker owns it.
type Locator struct {
	capture WindowCapturer
	matcher *Matcher
	store   TemplateSource
	cfg     LocatorConfig
	events  events.Sink

	windows map[WindowHandle]*windowState
}

// NewLocator wires capture, matching and the template store together
func NewLocator(capture WindowCapturer, matcher *Matcher, store TemplateSource, cfg LocatorConfig, sink events.Sink) *Locator {
	if cfg.DeadZone < 0 {
		cfg.DeadZone = 0
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultLocatorConfig().Threshold
	}
	cfg.Probe = cfg.Probe.withDefaults()
	if sink == nil {
		sink = events.Discard
	}
	return &Locator{
		capture: capture,
		matcher: matcher,
		store:   store,
		cfg:     cfg,
		events:  sink,
		windows: make(map[WindowHandle]*windowState),
	}
}

func (l *Locator) state(h WindowHandle) *windowState {
	st, ok := l.windows[h]
	if !ok {
		st = newWindowState()
		l.windows[h] = st
	}
	return st
}

func (l *Locator) logf(level events.Level, format string, args ...interface{}) {
	l.events.Publish(events.NewLogEvent("locator", level, fmt.Sprintf(format, args...), nil))
}

// Locate captures the window and returns the client-coordinate center of the best match.
// Not found, template too large and not loaded all come back as errors the caller may
// recover from; ErrNotFound is matched by errors.Is for every "no usable candidate" case.
func (l *Locator) Locate(h WindowHandle, name string) (image.Point, error) {
	tpl, err := l.store.Get(name)
	if err != nil {
		return image.Point{}, err
	}

	frame, err := l.capture.CaptureWindow(h)
	if err != nil {
		return image.Point{}, err
	}

	st := l.state(h)
	candidates, err := l.matcher.Match(frame, tpl, l.cfg.Threshold)
	if err != nil {
		st.failures[name]++
		l.logf(events.LevelWarn, "Template %s cannot be matched: %v", name, err)
		return image.Point{}, fmt.Errorf("%s: %w: %w", name, ErrNotFound, err)
	}

	best, ok := l.pick(candidates)
	if !ok {
		st.failures[name]++
		l.saveDebugFrame(h, name, frame)
		l.logf(events.LevelDebug, "Template %s not found (%d candidates, failures=%d)", name, len(candidates), st.failures[name])
		return image.Point{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	if !tpl.SizeResolved() {
		resolved, err := l.store.ResolveSize(name, tpl.NativeSize())
		if err != nil {
			l.logf(events.LevelWarn, "Resolved size of %s not persisted: %v", name, err)
		}
		if resolved != nil {
			tpl = resolved
		}
	}

	center := tpl.Center(best.Position)
	st.sizes[name] = tpl.KnownSize
	st.positions[name] = center
	st.failures[name] = 0

	l.logf(events.LevelDebug, "Located %s at (%d,%d) score=%.3f", name, center.X, center.Y, best.Score)
	return center, nil
}

// pick returns the first candidate outside the origin dead zone.
// When every candidate sits in the dead zone nothing is returned.
func (l *Locator) pick(candidates []MatchCandidate) (MatchCandidate, bool) {
	for _, c := range candidates {
		if c.Position.X < l.cfg.DeadZone && c.Position.Y < l.cfg.DeadZone {
			continue
		}
		return c, true
	}
	return MatchCandidate{}, false
}

// LastPosition returns the last center located for name in window h
func (l *Locator) LastPosition(h WindowHandle, name string) (image.Point, bool) {
	st, ok := l.windows[h]
	if !ok {
		return image.Point{}, false
	}
	p, ok := st.positions[name]
	return p, ok
}

// RememberPosition records a known position, e.g. a fallback that was clicked successfully
func (l *Locator) RememberPosition(h WindowHandle, name string, p image.Point) {
	l.state(h).positions[name] = p
}

// ObservedSize returns the template size last used for center math in window h
func (l *Locator) ObservedSize(h WindowHandle, name string) (image.Point, bool) {
	st, ok := l.windows[h]
	if !ok {
		return image.Point{}, false
	}
	p, ok := st.sizes[name]
	return p, ok
}

// Failures returns the consecutive locate failures of name in window h
func (l *Locator) Failures(h WindowHandle, name string) int {
	if st, ok := l.windows[h]; ok {
		return st.failures[name]
	}
	return 0
}

// ForgetWindow drops everything cached for one window
func (l *Locator) ForgetWindow(h WindowHandle) {
	delete(l.windows, h)
}

// Reset drops every per-window cache
func (l *Locator) Reset() {
	l.windows = make(map[WindowHandle]*windowState)
}

// WaitStable polls ProbeStability until the region above anchor settles, the timeout
// elapses, or tok is cancelled. The probe is re-primed first so earlier rounds never count.
func (l *Locator) WaitStable(h WindowHandle, anchor image.Point, timeout, interval time.Duration, tok *cancel.Token) error {
	l.ResetProbe(h)
	deadline := time.Now().Add(timeout)

	for {
		stable, err := l.ProbeStability(h, anchor)
		if err != nil {
			return err
		}
		if stable {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %v", ErrStabilityTimeout, timeout)
		}
		if err := cancel.Wait(interval, tok); err != nil {
			return err
		}
	}
}

func (l *Locator) saveDebugFrame(h WindowHandle, name string, frame *image.RGBA) {
	if l.cfg.DebugDir == "" || frame == nil {
		return
	}
	if err := os.MkdirAll(l.cfg.DebugDir, 0755); err != nil {
		l.logf(events.LevelWarn, "Failed to create debug directory: %v", err)
		return
	}

	path := filepath.Join(l.cfg.DebugDir, fmt.Sprintf("%s_%x_%s.png", name, uintptr(h), time.Now().Format("20060102_150405.000")))
	f, err := os.Create(path)
	if err != nil {
		l.logf(events.LevelWarn, "Failed to save debug frame: %v", err)
		return
	}
	defer f.Close()

	if err := png.Encode(f, frame); err != nil {
		l.logf(events.LevelWarn, "Failed to encode debug frame: %v", err)
	}
}
