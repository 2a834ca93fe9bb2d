//go:build !windows
// +build !windows

package input

type unsupportedBackend struct{}

// NewBackend returns the platform input backend
func NewBackend() Backend {
	return unsupportedBackend{}
}

func (unsupportedBackend) Send(evts []Event) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func (unsupportedBackend) ReadText() (string, bool, error) {
	return "", false, ErrUnsupportedPlatform
}

func (unsupportedBackend) WriteText(string) error {
	return ErrUnsupportedPlatform
}

func (unsupportedBackend) Snapshot() (ClipboardSnapshot, error) {
	return nil, ErrUnsupportedPlatform
}

func (unsupportedBackend) Restore(ClipboardSnapshot) error {
	return ErrUnsupportedPlatform
}
