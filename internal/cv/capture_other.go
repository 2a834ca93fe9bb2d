//go:build !windows
// +build !windows

package cv

import "image"

type unsupportedCapture struct{}

// NewCapturer returns a capturer that fails every call outside Windows
func NewCapturer() Capturer {
	return unsupportedCapture{}
}

// ClientRect is only available on Windows
func ClientRect(h WindowHandle) (image.Rectangle, error) {
	return image.Rectangle{}, ErrUnsupportedPlatform
}

func (unsupportedCapture) CaptureWindow(h WindowHandle) (*image.RGBA, error) {
	return nil, &CaptureError{Op: "window", Handle: h, Err: ErrUnsupportedPlatform}
}

func (unsupportedCapture) CaptureRegion(rect image.Rectangle, screenIndex int) (*image.RGBA, error) {
	return nil, &CaptureError{Op: "region", Err: ErrUnsupportedPlatform}
}
