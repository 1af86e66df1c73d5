package keycode

import (
	"fmt"
	"strings"
)

// Usage is a HID Keyboard/Keypad page usage ID.
type Usage uint8

const (
	UsageA      Usage = 0x04
	UsageZ      Usage = 0x1D
	Usage1      Usage = 0x1E
	Usage9      Usage = 0x26
	Usage0      Usage = 0x27
	UsageEnter  Usage = 0x28
	UsageEscape Usage = 0x29
	UsageBspc   Usage = 0x2A
	UsageTab    Usage = 0x2B
	UsageSpace  Usage = 0x2C
	UsageF1     Usage = 0x3A
	UsageF12    Usage = 0x45
	UsagePscr   Usage = 0x46
	UsageF13    Usage = 0x68
	UsageF24    Usage = 0x73
)

var namedUsages = map[string]Usage{
	"ENTER":     UsageEnter,
	"ENT":       UsageEnter,
	"ESCAPE":    UsageEscape,
	"ESC":       UsageEscape,
	"BSPC":      UsageBspc,
	"BACKSPACE": UsageBspc,
	"TAB":       UsageTab,
	"SPACE":     UsageSpace,
	"SPC":       UsageSpace,
	"MINUS":     0x2D,
	"EQUAL":     0x2E,
	"LBRC":      0x2F,
	"RBRC":      0x30,
	"BSLS":      0x31,
	"SCLN":      0x33,
	"QUOTE":     0x34,
	"QUOT":      0x34,
	"GRAVE":     0x35,
	"GRV":       0x35,
	"COMMA":     0x36,
	"COMM":      0x36,
	"DOT":       0x37,
	"SLASH":     0x38,
	"SLSH":      0x38,
	"CAPS":      0x39,
	"PSCR":      UsagePscr,
	"SCRL":      0x47,
	"PAUS":      0x48,
	"INS":       0x49,
	"HOME":      0x4A,
	"PGUP":      0x4B,
	"DELETE":    0x4C,
	"DEL":       0x4C,
	"END":       0x4D,
	"PGDN":      0x4E,
	"RIGHT":     0x4F,
	"LEFT":      0x50,
	"DOWN":      0x51,
	"UP":        0x52,
}

var usageNames map[Usage]string

func init() {
	usageNames = make(map[Usage]string, 128)
	for u := UsageA; u <= UsageZ; u++ {
		usageNames[u] = string(rune('A' + int(u-UsageA)))
	}
	for u := Usage1; u <= Usage9; u++ {
		usageNames[u] = string(rune('1' + int(u-Usage1)))
	}
	usageNames[Usage0] = "0"
	for u := UsageF1; u <= UsageF12; u++ {
		usageNames[u] = fmt.Sprintf("F%d", 1+int(u-UsageF1))
	}
	for u := UsageF13; u <= UsageF24; u++ {
		usageNames[u] = fmt.Sprintf("F%d", 13+int(u-UsageF13))
	}
	// First alias listed wins for String; keep the short QMK names canonical.
	for _, name := range []string{
		"ENTER", "ESCAPE", "BSPC", "TAB", "SPACE", "MINUS", "EQUAL", "LBRC",
		"RBRC", "BSLS", "SCLN", "QUOTE", "GRAVE", "COMMA", "DOT", "SLASH",
		"CAPS", "PSCR", "SCRL", "PAUS", "INS", "HOME", "PGUP", "DELETE", "END",
		"PGDN", "RIGHT", "LEFT", "DOWN", "UP",
	} {
		usageNames[namedUsages[name]] = name
	}
}

// LookupUsage resolves a key name such as "KC_L", "l", "KC_3" or "PSCR".
func LookupUsage(name string) (Usage, bool) {
	n := strings.TrimPrefix(strings.ToUpper(name), "KC_")
	if u, ok := namedUsages[n]; ok {
		return u, true
	}
	for u, s := range usageNames {
		if s == n {
			return u, true
		}
	}
	return 0, false
}

// String returns the QMK keycode name, or a hex literal for unnamed usages.
func (u Usage) String() string {
	if s, ok := usageNames[u]; ok {
		return "KC_" + s
	}
	return fmt.Sprintf("0x%02X", uint8(u))
}
