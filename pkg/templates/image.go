package templates

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
)

// decodeFile loads any registered image format and converts it to RGBA
func decodeFile(path string) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", path, err)
	}

	rgba := ToRGBA(img)
	if rgba.Bounds().Empty() {
		return nil, fmt.Errorf("%s (%s): %w", path, format, ErrEmptyImage)
	}
	return rgba, nil
}

// ToRGBA converts any image to an RGBA buffer whose bounds start at (0,0)
func ToRGBA(img image.Image) *image.RGBA {
	if r, ok := img.(*image.RGBA); ok && r.Bounds().Min == (image.Point{}) {
		return r
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// Scale resizes a template bitmap by factor using Catmull-Rom interpolation.
// A factor of 0 or 1 returns the input unchanged.
func Scale(img *image.RGBA, factor float64) *image.RGBA {
	if factor <= 0 || factor == 1 {
		return img
	}

	b := img.Bounds()
	w := int(float64(b.Dx())*factor + 0.5)
	h := int(float64(b.Dy())*factor + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
