//go:build !windows
// +build !windows

package window

import (
	"image"

	"github.com/linyvhuo/webot/internal/cv"
)

// Provider is unavailable off Windows; every call fails with ErrUnsupportedPlatform
type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) List() ([]Info, error)                     { return nil, ErrUnsupportedPlatform }
func (p *Provider) Find(title string) (cv.WindowHandle, error) { return 0, ErrUnsupportedPlatform }
func (p *Provider) Launch(path, args string) error            { return ErrUnsupportedPlatform }
func (p *Provider) Foreground(h cv.WindowHandle) error        { return ErrUnsupportedPlatform }
func (p *Provider) IsForeground(h cv.WindowHandle) bool       { return false }
func (p *Provider) Maximize(h cv.WindowHandle) error          { return ErrUnsupportedPlatform }

func (p *Provider) ClientToScreen(h cv.WindowHandle, pt image.Point) (image.Point, error) {
	return image.Point{}, ErrUnsupportedPlatform
}

func (p *Provider) ClientSize(h cv.WindowHandle) (image.Point, error) {
	return image.Point{}, ErrUnsupportedPlatform
}
