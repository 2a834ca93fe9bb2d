package cv

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/linyvhuo/webot/pkg/templates"
)

// MatchCandidate is one position where a template scored at or above the effective
// threshold. Position is the template's top-left corner in source-buffer coordinates.
type MatchCandidate struct {
	Position image.Point
	Score    float64 // normalized cross-correlation, always within [-1, 1]
}

// Error types
var (
	ErrTemplateTooLarge = errors.New("template larger than search image")
	ErrInvalidImage     = errors.New("invalid image provided")
)

// MatchConfig configures template matching
type MatchConfig struct {
	Thresholds     ThresholdTable
	MaxCandidates  int     // Candidates returned per call
	MaxSuppression float64 // Upper bound of the suppression radius in pixels
	PyramidLevels  int     // 0 (default) scans at full resolution only
	CoarseSlack    float64 // How far below the effective threshold coarse peaks may score
	MaxCoarsePeaks int
}

// DefaultMatchConfig returns recommended settings
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Thresholds:     DefaultThresholds(),
		MaxCandidates:  2,
		MaxSuppression: 50,
		CoarseSlack:    0.15,
		MaxCoarsePeaks: 8,
	}
}

// minPyramidSide is the smallest template side that still goes through the coarse search
const minPyramidSide = 16

// Matcher finds templates in frames by zero-mean normalized cross-correlation on grayscale
type Matcher struct {
	cfg MatchConfig
}

// NewMatcher creates a matcher, zero fields fall back to defaults
func NewMatcher(cfg MatchConfig) *Matcher {
	def := DefaultMatchConfig()
	if cfg.Thresholds == nil {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.MaxSuppression <= 0 {
		cfg.MaxSuppression = def.MaxSuppression
	}
	if cfg.CoarseSlack <= 0 {
		cfg.CoarseSlack = def.CoarseSlack
	}
	if cfg.MaxCoarsePeaks <= 0 {
		cfg.MaxCoarsePeaks = def.MaxCoarsePeaks
	}
	return &Matcher{cfg: cfg}
}

// Thresholds returns the threshold table in use
func (m *Matcher) Thresholds() ThresholdTable {
	return m.cfg.Thresholds
}

// SuppressionRadius is half the template's larger side, capped
func (m *Matcher) SuppressionRadius(size image.Point) float64 {
	r := float64(max(size.X, size.Y)) / 2
	return math.Min(r, m.cfg.MaxSuppression)
}

// Match returns up to MaxCandidates positions of tpl in source, best score first.
// A template larger than the source yields an empty list and ErrTemplateTooLarge.
func (m *Matcher) Match(source *image.RGBA, tpl *templates.Template, threshold float64) ([]MatchCandidate, error) {
	if source == nil || tpl == nil || tpl.Image == nil {
		return nil, ErrInvalidImage
	}
	effective := m.cfg.Thresholds.Effective(tpl.Family, threshold)
	return m.MatchImage(source, tpl.Image, effective, tpl.Region)
}

// MatchImage is Match for a raw template bitmap and an already effective threshold.
// region optionally restricts the search to part of the source.
func (m *Matcher) MatchImage(source, needle *image.RGBA, threshold float64, region *image.Rectangle) ([]MatchCandidate, error) {
	if source == nil || needle == nil {
		return nil, ErrInvalidImage
	}

	sb := source.Bounds()
	nb := needle.Bounds()
	if nb.Empty() || sb.Empty() {
		return nil, ErrInvalidImage
	}
	if nb.Dx() > sb.Dx() || nb.Dy() > sb.Dy() {
		return nil, fmt.Errorf("%w: %dx%d in %dx%d", ErrTemplateTooLarge, nb.Dx(), nb.Dy(), sb.Dx(), sb.Dy())
	}

	src := toGrayscale(source)
	tpl := toGrayscale(needle)

	// search area in buffer coordinates, as top-left positions
	area := image.Rect(0, 0, src.w, src.h)
	if region != nil {
		area = region.Sub(sb.Min).Intersect(area)
	}
	maxX := area.Max.X - tpl.w
	maxY := area.Max.Y - tpl.h
	if maxX < area.Min.X || maxY < area.Min.Y {
		// template doesn't fit in search region
		return nil, fmt.Errorf("%w: search region %v", ErrTemplateTooLarge, area)
	}
	positions := image.Rect(area.Min.X, area.Min.Y, maxX+1, maxY+1)

	radius := m.SuppressionRadius(image.Pt(tpl.w, tpl.h))

	var raw []MatchCandidate
	if m.usePyramid(tpl) {
		raw = m.coarseToFine(src, tpl, positions, threshold, radius)
	} else {
		raw = newCorrelator(src, tpl).scan(positions, threshold)
	}

	return suppress(raw, radius, m.cfg.MaxCandidates), nil
}

func (m *Matcher) usePyramid(tpl *grayImage) bool {
	if m.cfg.PyramidLevels <= 0 {
		return false
	}
	f := 1 << m.cfg.PyramidLevels
	return tpl.w >= minPyramidSide && tpl.h >= minPyramidSide && tpl.w/f >= minPyramidSide/2 && tpl.h/f >= minPyramidSide/2
}

// coarseToFine scans a downsampled copy with a relaxed threshold, then refines each coarse
// peak at full resolution inside a small neighbourhood. Fine detail flattens under the
// downsample, so when no peak survives refinement the exact scan runs instead.
func (m *Matcher) coarseToFine(src, tpl *grayImage, positions image.Rectangle, threshold, radius float64) []MatchCandidate {
	f := 1 << m.cfg.PyramidLevels
	csrc := src.downsample(f)
	ctpl := tpl.downsample(f)

	cpos := image.Rect(positions.Min.X/f, positions.Min.Y/f, (positions.Max.X-1)/f+1, (positions.Max.Y-1)/f+1).
		Intersect(image.Rect(0, 0, csrc.w-ctpl.w+1, csrc.h-ctpl.h+1))
	if cpos.Empty() {
		return newCorrelator(src, tpl).scan(positions, threshold)
	}

	coarse := newCorrelator(csrc, ctpl).scan(cpos, threshold-m.cfg.CoarseSlack)
	peaks := suppress(coarse, radius/float64(f), m.cfg.MaxCoarsePeaks)

	fine := newCorrelator(src, tpl)
	var out []MatchCandidate
	for _, p := range peaks {
		window := image.Rect(p.Position.X*f-f, p.Position.Y*f-f, p.Position.X*f+f+1, p.Position.Y*f+f+1).Intersect(positions)
		best, ok := fine.best(window)
		if ok && best.Score >= threshold {
			out = append(out, best)
		}
	}
	if len(out) == 0 {
		return fine.scan(positions, threshold)
	}
	return out
}

// suppress keeps the best candidates, discarding any within radius of an accepted one
func suppress(candidates []MatchCandidate, radius float64, limit int) []MatchCandidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	r2 := radius * radius
	var accepted []MatchCandidate
	for _, c := range candidates {
		if limit > 0 && len(accepted) >= limit {
			break
		}
		keep := true
		for _, a := range accepted {
			dx := float64(c.Position.X - a.Position.X)
			dy := float64(c.Position.Y - a.Position.Y)
			if dx*dx+dy*dy <= r2 {
				keep = false
				break
			}
		}
		if keep {
			accepted = append(accepted, c)
		}
	}
	return accepted
}

// grayImage is a single-channel luminance plane
type grayImage struct {
	w, h int
	pix  []uint8
}

// toGrayscale converts RGBA to luminance without touching the source
func toGrayscale(img *image.RGBA) *grayImage {
	b := img.Bounds()
	g := &grayImage{w: b.Dx(), h: b.Dy(), pix: make([]uint8, b.Dx()*b.Dy())}

	for y := 0; y < g.h; y++ {
		row := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < g.w; x++ {
			idx := row + x*4
			r := int(img.Pix[idx])
			gr := int(img.Pix[idx+1])
			bl := int(img.Pix[idx+2])

			// Luminance formula
			g.pix[y*g.w+x] = uint8((r*299 + gr*587 + bl*114) / 1000)
		}
	}

	return g
}

// downsample box-averages f x f blocks
func (g *grayImage) downsample(f int) *grayImage {
	w, h := g.w/f, g.h/f
	out := &grayImage{w: w, h: h, pix: make([]uint8, w*h)}
	area := f * f
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for dy := 0; dy < f; dy++ {
				row := (y*f + dy) * g.w
				for dx := 0; dx < f; dx++ {
					sum += int(g.pix[row+x*f+dx])
				}
			}
			out.pix[y*w+x] = uint8(sum / area)
		}
	}
	return out
}

// correlator evaluates the zero-mean NCC of one template at arbitrary source positions.
// Source window sums come from summed-area tables, so each score costs one pass over the
// template for the cross term only.
type correlator struct {
	src    *grayImage
	tpl    *grayImage
	tz     []float64 // template minus its mean
	tnorm  float64
	sum    []int64
	sumSq  []int64
	stride int
	n      float64
}

func newCorrelator(src, tpl *grayImage) *correlator {
	c := &correlator{
		src:    src,
		tpl:    tpl,
		tz:     make([]float64, len(tpl.pix)),
		stride: src.w + 1,
		n:      float64(tpl.w * tpl.h),
	}

	var total float64
	for _, v := range tpl.pix {
		total += float64(v)
	}
	mean := total / c.n
	var ss float64
	for i, v := range tpl.pix {
		d := float64(v) - mean
		c.tz[i] = d
		ss += d * d
	}
	c.tnorm = math.Sqrt(ss)

	c.sum = make([]int64, (src.w+1)*(src.h+1))
	c.sumSq = make([]int64, (src.w+1)*(src.h+1))
	for y := 0; y < src.h; y++ {
		var rowSum, rowSq int64
		for x := 0; x < src.w; x++ {
			v := int64(src.pix[y*src.w+x])
			rowSum += v
			rowSq += v * v
			i := (y+1)*c.stride + x + 1
			c.sum[i] = c.sum[i-c.stride] + rowSum
			c.sumSq[i] = c.sumSq[i-c.stride] + rowSq
		}
	}

	return c
}

func (c *correlator) windowSums(x, y int) (float64, float64) {
	x2, y2 := x+c.tpl.w, y+c.tpl.h
	a, b := y*c.stride+x, y*c.stride+x2
	d, e := y2*c.stride+x, y2*c.stride+x2
	s := c.sum[e] - c.sum[b] - c.sum[d] + c.sum[a]
	sq := c.sumSq[e] - c.sumSq[b] - c.sumSq[d] + c.sumSq[a]
	return float64(s), float64(sq)
}

// score returns the correlation at (x,y). Flat windows or templates score 0.
func (c *correlator) score(x, y int) float64 {
	if c.tnorm == 0 {
		return 0
	}
	s, sq := c.windowSums(x, y)
	variance := sq - s*s/c.n
	if variance <= 1e-9 {
		return 0
	}

	var cross float64
	for ty := 0; ty < c.tpl.h; ty++ {
		srow := (y+ty)*c.src.w + x
		trow := ty * c.tpl.w
		for tx := 0; tx < c.tpl.w; tx++ {
			cross += c.tz[trow+tx] * float64(c.src.pix[srow+tx])
		}
	}

	r := cross / (c.tnorm * math.Sqrt(variance))
	if r > 1 {
		return 1
	}
	if r < -1 {
		return -1
	}
	return r
}

// scan returns every position in positions scoring at or above threshold, in raster order
func (c *correlator) scan(positions image.Rectangle, threshold float64) []MatchCandidate {
	var out []MatchCandidate
	for y := positions.Min.Y; y < positions.Max.Y; y++ {
		for x := positions.Min.X; x < positions.Max.X; x++ {
			if s := c.score(x, y); s >= threshold {
				out = append(out, MatchCandidate{Position: image.Pt(x, y), Score: s})
			}
		}
	}
	return out
}

// best returns the highest scoring position inside window
func (c *correlator) best(window image.Rectangle) (MatchCandidate, bool) {
	var best MatchCandidate
	found := false
	for y := window.Min.Y; y < window.Max.Y; y++ {
		for x := window.Min.X; x < window.Max.X; x++ {
			s := c.score(x, y)
			if !found || s > best.Score {
				best = MatchCandidate{Position: image.Pt(x, y), Score: s}
				found = true
			}
		}
	}
	return best, found
}

// CropRegion extracts a rectangular region from an image
func CropRegion(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		src := img.PixOffset(rect.Min.X, y)
		dst := cropped.PixOffset(0, y-rect.Min.Y)
		copy(cropped.Pix[dst:dst+rect.Dx()*4], img.Pix[src:src+rect.Dx()*4])
	}

	return cropped
}
