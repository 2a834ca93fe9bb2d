package cv

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/linyvhuo/webot/pkg/templates"
)

// noiseImage fills an image with deterministic pseudo-random texture. cell > 1 produces
// blocky texture that survives downsampling.
func noiseImage(w, h, cell int, seed uint32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := seed ^ uint32(x/cell)*73856093 ^ uint32(y/cell)*19349663
			s = s*1664525 + 1013904223
			s ^= s >> 13
			s *= 2654435761
			v := uint8(s >> 24)
			img.SetRGBA(x, y, color.RGBA{v, v ^ 0x5a, v / 2, 255})
		}
	}
	return img
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func paste(dst, src *image.RGBA, at image.Point) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.SetRGBA(at.X+x, at.Y+y, src.RGBAAt(b.Min.X+x, b.Min.Y+y))
		}
	}
}

func newTemplate(name, family string, img *image.RGBA) *templates.Template {
	return &templates.Template{Name: name, Family: family, Image: img}
}

func exactMatcher() *Matcher {
	return NewMatcher(MatchConfig{})
}

func TestMatchFindsExactPosition(t *testing.T) {
	source := noiseImage(200, 120, 1, 1)
	needle := noiseImage(20, 12, 1, 99)
	paste(source, needle, image.Pt(57, 41))

	candidates, err := exactMatcher().Match(source, newTemplate("btn", "", needle), 0.8)
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if len(candidates) == 0 {
		t.Fatal("Expected a candidate")
	}
	if candidates[0].Position != image.Pt(57, 41) {
		t.Errorf("Position = %v, want (57,41)", candidates[0].Position)
	}
	if math.Abs(candidates[0].Score-1) > 1e-9 {
		t.Errorf("Score = %v, want 1", candidates[0].Score)
	}
}

func TestMatchTemplateTooLarge(t *testing.T) {
	tests := []struct {
		name   string
		source image.Point
		needle image.Point
	}{
		{"wider", image.Pt(10, 50), image.Pt(11, 5)},
		{"taller", image.Pt(50, 10), image.Pt(5, 11)},
		{"both", image.Pt(4, 4), image.Pt(40, 40)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := noiseImage(tt.source.X, tt.source.Y, 1, 3)
			needle := noiseImage(tt.needle.X, tt.needle.Y, 1, 4)

			candidates, err := exactMatcher().Match(source, newTemplate("big", "", needle), 0.5)
			if !errors.Is(err, ErrTemplateTooLarge) {
				t.Errorf("error = %v, want ErrTemplateTooLarge", err)
			}
			if len(candidates) != 0 {
				t.Errorf("got %d candidates, want none", len(candidates))
			}
		})
	}
}

func TestMatchSameSizeAsSource(t *testing.T) {
	img := noiseImage(16, 16, 1, 5)
	candidates, err := exactMatcher().Match(img, newTemplate("full", "", img), 0.9)
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Position != (image.Point{}) {
		t.Errorf("candidates = %+v, want single match at origin", candidates)
	}
}

func TestMatchScoresBoundedAndSuppressed(t *testing.T) {
	source := noiseImage(240, 160, 1, 7)
	needle := noiseImage(24, 14, 1, 8)
	for _, at := range []image.Point{{20, 20}, {150, 30}, {90, 120}} {
		paste(source, needle, at)
	}

	m := exactMatcher()
	radius := m.SuppressionRadius(image.Pt(24, 14))
	if radius != 12 {
		t.Fatalf("SuppressionRadius = %v, want 12", radius)
	}

	for _, threshold := range []float64{-1, 0, 0.5, 0.8} {
		candidates, err := m.Match(source, newTemplate("x", "", needle), threshold)
		if err != nil {
			t.Fatalf("Match(%v) returned error: %v", threshold, err)
		}
		if len(candidates) > 2 {
			t.Errorf("threshold %v: got %d candidates, cap is 2", threshold, len(candidates))
		}
		for i, c := range candidates {
			if c.Score < -1 || c.Score > 1 {
				t.Errorf("threshold %v: score %v out of [-1,1]", threshold, c.Score)
			}
			if c.Score < threshold {
				t.Errorf("threshold %v: candidate below threshold: %v", threshold, c.Score)
			}
			for _, other := range candidates[i+1:] {
				dx := float64(c.Position.X - other.Position.X)
				dy := float64(c.Position.Y - other.Position.Y)
				if math.Hypot(dx, dy) <= radius {
					t.Errorf("threshold %v: %v and %v within suppression radius", threshold, c.Position, other.Position)
				}
			}
		}
	}
}

func TestSuppressionRadiusCapped(t *testing.T) {
	m := exactMatcher()
	if r := m.SuppressionRadius(image.Pt(300, 40)); r != 50 {
		t.Errorf("SuppressionRadius = %v, want 50", r)
	}
}

func TestMatchFlatTemplate(t *testing.T) {
	source := noiseImage(100, 100, 1, 9)
	needle := solidImage(10, 10, color.RGBA{200, 200, 200, 255})
	paste(source, needle, image.Pt(30, 30))

	candidates, err := exactMatcher().Match(source, newTemplate("flat", "", needle), 0.5)
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("flat template produced %d candidates", len(candidates))
	}
}

func TestMatchSearchRegion(t *testing.T) {
	source := noiseImage(200, 100, 1, 10)
	needle := noiseImage(12, 12, 1, 11)
	paste(source, needle, image.Pt(10, 10))
	paste(source, needle, image.Pt(150, 60))

	region := image.Rect(100, 40, 200, 100)
	tpl := newTemplate("x", "", needle)
	tpl.Region = &region

	candidates, err := exactMatcher().Match(source, tpl, 0.9)
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Position != image.Pt(150, 60) {
		t.Errorf("candidates = %+v, want only (150,60)", candidates)
	}
}

func TestMatchPyramidAgreesWithExactScan(t *testing.T) {
	source := noiseImage(320, 200, 4, 12)
	needle := noiseImage(40, 32, 4, 13)
	paste(source, needle, image.Pt(120, 80))

	exact, err := NewMatcher(MatchConfig{}).Match(source, newTemplate("x", "", needle), 0.9)
	if err != nil {
		t.Fatalf("exact Match returned error: %v", err)
	}
	coarse, err := NewMatcher(MatchConfig{PyramidLevels: 1}).Match(source, newTemplate("x", "", needle), 0.9)
	if err != nil {
		t.Fatalf("pyramid Match returned error: %v", err)
	}

	if len(exact) == 0 || len(coarse) == 0 {
		t.Fatalf("exact=%v pyramid=%v, both should find the template", exact, coarse)
	}
	if exact[0].Position != coarse[0].Position {
		t.Errorf("pyramid position %v differs from exact %v", coarse[0].Position, exact[0].Position)
	}
}

// checkerboard alternates single pixels, texture a 2x box downsample flattens completely
func checkerboard(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(30)
			if (x+y)%2 == 0 {
				v = 220
			}
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func TestMatchFinePixelTexture(t *testing.T) {
	tests := []struct {
		name string
		cfg  MatchConfig
	}{
		{"default config", DefaultMatchConfig()},
		{"pyramid enabled", MatchConfig{PyramidLevels: 1}},
		{"two pyramid levels", MatchConfig{PyramidLevels: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := solidImage(200, 120, color.RGBA{128, 128, 128, 255})
			needle := checkerboard(32, 32)
			paste(source, needle, image.Pt(61, 37))

			candidates, err := NewMatcher(tt.cfg).Match(source, newTemplate("glyph", "", needle), 0.8)
			if err != nil {
				t.Fatalf("Match returned error: %v", err)
			}
			if len(candidates) == 0 {
				t.Fatal("Expected the pasted template to be found")
			}
			if candidates[0].Position != image.Pt(61, 37) || candidates[0].Score < 0.99 {
				t.Errorf("best candidate = %+v, want (61,37) with score ~1", candidates[0])
			}
		})
	}
}

func TestMatchDoesNotMutateSource(t *testing.T) {
	source := noiseImage(60, 40, 1, 14)
	before := make([]uint8, len(source.Pix))
	copy(before, source.Pix)

	_, _ = exactMatcher().Match(source, newTemplate("x", "", noiseImage(8, 8, 1, 15)), 0.8)

	for i := range before {
		if before[i] != source.Pix[i] {
			t.Fatalf("source modified at byte %d", i)
		}
	}
}

func TestEffectiveThreshold(t *testing.T) {
	table := DefaultThresholds()

	tests := []struct {
		family string
		global float64
		want   float64
	}{
		{FamilyDefault, 0.8, 0.8},
		{"unknown", 0.7, 0.7},
		{FamilySendButton, 0.8, 0.88},
		{FamilySendButton, 0.95, 0.95},
		{FamilyNavigation, 0.8, 0.85},
		{FamilyInputBox, 0.8, 0.75},
		{FamilyInputBox, 0.5, 0.6},
		{FamilySendButton, 1.2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			if got := table.Effective(tt.family, tt.global); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Effective(%q, %v) = %v, want %v", tt.family, tt.global, got, tt.want)
			}
		})
	}
}

func TestParseThresholdRule(t *testing.T) {
	tests := []struct {
		in      string
		want    ThresholdRule
		wantErr bool
	}{
		{"0.9", ThresholdRule{Floor: 0.9}, false},
		{"0.6, -0.05", ThresholdRule{Floor: 0.6, Offset: -0.05}, false},
		{"abc", ThresholdRule{}, true},
		{"0.6,x", ThresholdRule{}, true},
		{"1,2,3", ThresholdRule{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseThresholdRule(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseThresholdRule(%q) error = %v", tt.in, err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseThresholdRule(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCropRegionClamps(t *testing.T) {
	img := noiseImage(20, 20, 1, 16)
	crop := CropRegion(img, image.Rect(15, 15, 40, 40))
	if crop.Bounds() != image.Rect(0, 0, 5, 5) {
		t.Errorf("crop bounds = %v, want 5x5 at origin", crop.Bounds())
	}
	if crop.RGBAAt(0, 0) != img.RGBAAt(15, 15) {
		t.Error("crop content does not match source")
	}
}
