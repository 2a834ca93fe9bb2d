package input

import (
	"fmt"
	"strings"
)

// Key is a Windows virtual-key code
type Key uint16

const (
	KeyBackspace Key = 0x08
	KeyTab       Key = 0x09
	KeyEnter     Key = 0x0D
	KeyShift     Key = 0x10
	KeyControl   Key = 0x11
	KeyAlt       Key = 0x12
	KeyEscape    Key = 0x1B
	KeySpace     Key = 0x20
	KeyPageUp    Key = 0x21
	KeyPageDown  Key = 0x22
	KeyEnd       Key = 0x23
	KeyHome      Key = 0x24
	KeyLeft      Key = 0x25
	KeyUp        Key = 0x26
	KeyRight     Key = 0x27
	KeyDown      Key = 0x28
	KeyDelete    Key = 0x2E
	KeyA         Key = 0x41
	KeyC         Key = 0x43
	KeyV         Key = 0x56
	KeyF5        Key = 0x74
)

var keyNames = map[string]Key{
	"backspace": KeyBackspace,
	"tab":       KeyTab,
	"enter":     KeyEnter,
	"return":    KeyEnter,
	"shift":     KeyShift,
	"ctrl":      KeyControl,
	"control":   KeyControl,
	"alt":       KeyAlt,
	"esc":       KeyEscape,
	"escape":    KeyEscape,
	"space":     KeySpace,
	"pageup":    KeyPageUp,
	"pagedown":  KeyPageDown,
	"end":       KeyEnd,
	"home":      KeyHome,
	"left":      KeyLeft,
	"up":        KeyUp,
	"right":     KeyRight,
	"down":      KeyDown,
	"delete":    KeyDelete,
	"del":       KeyDelete,
	"f5":        KeyF5,
}

// keyLabels holds the canonical name of each named key, aliases excluded
var keyLabels = func() map[Key]string {
	aliases := map[string]bool{"return": true, "control": true, "escape": true, "del": true}
	labels := make(map[Key]string, len(keyNames))
	for name, k := range keyNames {
		if !aliases[name] {
			labels[k] = name
		}
	}
	return labels
}()

// Extended reports whether the key needs KEYEVENTF_EXTENDEDKEY
func (k Key) Extended() bool {
	switch k {
	case KeyPageUp, KeyPageDown, KeyEnd, KeyHome, KeyLeft, KeyUp, KeyRight, KeyDown, KeyDelete:
		return true
	}
	return false
}

func (k Key) String() string {
	if name, ok := keyLabels[k]; ok {
		return name
	}
	if (k >= '0' && k <= '9') || (k >= 'A' && k <= 'Z') {
		return strings.ToLower(string(rune(k)))
	}
	return fmt.Sprintf("vk(0x%02X)", uint16(k))
}

// ParseKey parses a key name ("enter", "ctrl", "v", "f5")
func ParseKey(name string) (Key, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if k, ok := keyNames[n]; ok {
		return k, nil
	}
	if len(n) == 1 {
		c := n[0]
		switch {
		case c >= 'a' && c <= 'z':
			return Key(c - 'a' + 'A'), nil
		case c >= '0' && c <= '9':
			return Key(c), nil
		}
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// ParseCombo parses "ctrl+shift+v" into keys in press order
func ParseCombo(combo string) ([]Key, error) {
	parts := strings.Split(combo, "+")
	keys := make([]Key, 0, len(parts))
	for _, p := range parts {
		k, err := ParseKey(p)
		if err != nil {
			return nil, fmt.Errorf("combo %q: %w", combo, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Button is a mouse button
type Button int

const (
	ButtonLeft Button = iota
	ButtonRight
	ButtonMiddle
)

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	}
	return fmt.Sprintf("button(%d)", int(b))
}
