package cv

import (
	"fmt"
	"image"

	"github.com/linyvhuo/webot/internal/events"
)

// ProbeConfig describes the region sampled above an anchor and what counts as a change
type ProbeConfig struct {
	RegionHeight      int   // Height of the sampled band above the anchor
	HalfWidth         int   // Horizontal reach on each side of the anchor
	Gap               int   // Rows skipped directly above the anchor (the input box itself)
	GridStep          int   // Sample every GridStep pixels in both directions
	PixelDelta        uint8 // Largest per-channel difference still considered unchanged
	MaxChangedSamples int   // Samples allowed to differ before the probe counts as changed
	StableProbes      int   // Consecutive unchanged probes required
}

// DefaultProbeConfig returns recommended settings
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		RegionHeight: 400,
		HalfWidth:    300,
		Gap:          30,
		GridStep:     8,
		PixelDelta:   24,
		StableProbes: 2,
	}
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	def := DefaultProbeConfig()
	if c.RegionHeight <= 0 {
		c.RegionHeight = def.RegionHeight
	}
	if c.HalfWidth <= 0 {
		c.HalfWidth = def.HalfWidth
	}
	if c.Gap < 0 {
		c.Gap = 0
	}
	if c.GridStep <= 0 {
		c.GridStep = def.GridStep
	}
	if c.StableProbes <= 0 {
		c.StableProbes = def.StableProbes
	}
	return c
}

// probeState is the content-stability baseline of one window
type probeState struct {
	primed     bool
	clientSize image.Point
	region     image.Rectangle
	baseline   *image.RGBA
	unchanged  int
}

// Region returns the rectangle sampled for an anchor inside a client area of the given size
func (c ProbeConfig) Region(anchor image.Point, client image.Point) image.Rectangle {
	r := image.Rect(
		anchor.X-c.HalfWidth,
		anchor.Y-c.Gap-c.RegionHeight,
		anchor.X+c.HalfWidth,
		anchor.Y-c.Gap,
	)
	return r.Intersect(image.Rect(0, 0, client.X, client.Y))
}

// ProbeStability takes one sample of the region above anchor. It reports stable once the
// region showed no change on StableProbes consecutive probes. The first probe of a window,
// and the first after its client area was resized, only records a new baseline.
func (l *Locator) ProbeStability(h WindowHandle, anchor image.Point) (bool, error) {
	frame, err := l.capture.CaptureWindow(h)
	if err != nil {
		return false, err
	}

	cfg := l.cfg.Probe
	size := frame.Bounds().Size()
	region := cfg.Region(anchor, size)
	if region.Empty() {
		return false, &CaptureError{Op: "probe", Handle: h, Err: fmt.Errorf("%w: anchor (%d,%d) in %dx%d", ErrDegenerateRegion, anchor.X, anchor.Y, size.X, size.Y)}
	}

	sample := CropRegion(frame, region.Add(frame.Bounds().Min))
	ps := &l.state(h).probe

	if !ps.primed || ps.clientSize != size || ps.region != region {
		if ps.primed && ps.clientSize != size {
			l.logf(events.LevelDebug, "Client area resized %v -> %v, re-priming probe", ps.clientSize, size)
		}
		*ps = probeState{
			primed:     true,
			clientSize: size,
			region:     region,
			baseline:   sample,
		}
		return false, nil
	}

	changed := changedSamples(ps.baseline, sample, cfg.GridStep, cfg.PixelDelta) > cfg.MaxChangedSamples
	ps.baseline = sample
	if changed {
		ps.unchanged = 0
		return false, nil
	}

	ps.unchanged++
	return ps.unchanged >= cfg.StableProbes, nil
}

// ResetProbe forgets the stability baseline of one window
func (l *Locator) ResetProbe(h WindowHandle) {
	if st, ok := l.windows[h]; ok {
		st.probe = probeState{}
	}
}

// changedSamples counts grid points where any RGB channel moved by more than delta
func changedSamples(a, b *image.RGBA, step int, delta uint8) int {
	w := min(a.Bounds().Dx(), b.Bounds().Dx())
	h := min(a.Bounds().Dy(), b.Bounds().Dy())

	n := 0
	for y := 0; y < h; y += step {
		for x := 0; x < w; x += step {
			ia := a.PixOffset(a.Bounds().Min.X+x, a.Bounds().Min.Y+y)
			ib := b.PixOffset(b.Bounds().Min.X+x, b.Bounds().Min.Y+y)
			for c := 0; c < 3; c++ {
				if absDiff(a.Pix[ia+c], b.Pix[ib+c]) > delta {
					n++
					break
				}
			}
		}
	}
	return n
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
