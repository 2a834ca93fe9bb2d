package templates

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// UnresolvedSize is the sentinel known size of a template whose on-screen size has not
// been derived from its bitmap yet
var UnresolvedSize = image.Point{}

var (
	ErrTemplateNotLoaded = errors.New("template not loaded")
	ErrEmptyImage        = errors.New("template image is empty")
)

// Template is an immutable reference bitmap. The store replaces it wholesale on reload
// or size resolution, callers never mutate a returned template.
type Template struct {
	Name      string
	Path      string
	Family    string
	Mandatory bool
	Image     *image.RGBA
	KnownSize image.Point
	Region    *image.Rectangle // Optional search region in client coordinates
}

// SizeResolved reports whether KnownSize holds real dimensions
func (t *Template) SizeResolved() bool {
	return t.KnownSize.X > 0 && t.KnownSize.Y > 0
}

// NativeSize returns the bitmap dimensions
func (t *Template) NativeSize() image.Point {
	if t.Image == nil {
		return image.Point{}
	}
	return t.Image.Bounds().Size()
}

// Center returns the logical center of an element whose top-left corner is at topLeft.
// Unresolved templates fall back to the bitmap size.
func (t *Template) Center(topLeft image.Point) image.Point {
	size := t.KnownSize
	if !t.SizeResolved() {
		size = t.NativeSize()
	}
	return image.Point{X: topLeft.X + size.X/2, Y: topLeft.Y + size.Y/2}
}

// withSize returns a copy of t carrying a new known size
func (t *Template) withSize(size image.Point) *Template {
	cp := *t
	cp.KnownSize = size
	return &cp
}

// FormatSize renders a size the way it is persisted in Settings.ini ("WxH")
func FormatSize(p image.Point) string {
	return fmt.Sprintf("%dx%d", p.X, p.Y)
}

// ParseSize parses "WxH". Empty input, "0x0" and malformed values are unresolved.
func ParseSize(s string) (image.Point, bool) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return UnresolvedSize, false
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return UnresolvedSize, false
	}
	return image.Point{X: w, Y: h}, true
}
