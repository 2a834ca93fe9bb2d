package window

import (
	"errors"
	"image"
	"strings"

	"github.com/linyvhuo/webot/internal/cv"
)

var (
	ErrNotFound            = errors.New("window not found")
	ErrUnsupportedPlatform = errors.New("window management is only supported on windows")
)

// Info describes a top-level window
type Info struct {
	Handle cv.WindowHandle
	Title  string
	Class  string
	Bounds image.Rectangle // outer window rectangle in screen coordinates
}

// matchTitle picks the window whose title equals title, falling back to the first whose
// title contains it (case-insensitive). Chat clients often append unread counts.
func matchTitle(windows []Info, title string) (Info, bool) {
	for _, w := range windows {
		if w.Title == title {
			return w, true
		}
	}
	needle := strings.ToLower(title)
	for _, w := range windows {
		if needle != "" && strings.Contains(strings.ToLower(w.Title), needle) {
			return w, true
		}
	}
	return Info{}, false
}
