// Package keycode describes virtual key combinations: a set of modifiers plus
// at most one HID keyboard usage, written QMK-style as e.g. "LCTL(LGUI(KC_Q))".
package keycode

import (
	"fmt"
	"strings"
)

// Mod is a bitmask of keyboard modifiers in boot-report byte order.
type Mod uint8

const (
	ModLCtrl  Mod = 0x01
	ModLShift Mod = 0x02
	ModLAlt   Mod = 0x04
	ModLGui   Mod = 0x08
	ModRCtrl  Mod = 0x10
	ModRShift Mod = 0x20
	ModRAlt   Mod = 0x40
	ModRGui   Mod = 0x80
)

var modNames = []struct {
	mod  Mod
	name string
}{
	{ModLCtrl, "LCTL"},
	{ModLShift, "LSFT"},
	{ModLAlt, "LALT"},
	{ModLGui, "LGUI"},
	{ModRCtrl, "RCTL"},
	{ModRShift, "RSFT"},
	{ModRAlt, "RALT"},
	{ModRGui, "RGUI"},
}

// Combo is one virtual key combination. Key is a HID keyboard usage ID; zero
// means modifiers only.
type Combo struct {
	Mods Mod   `json:"mods"`
	Key  Usage `json:"key"`
}

// IsZero reports whether the combo carries neither key nor modifiers.
func (c Combo) IsZero() bool {
	return c.Mods == 0 && c.Key == 0
}

// String renders the combo in the same nested form Parse accepts.
func (c Combo) String() string {
	inner := "KC_NO"
	if c.Key != 0 {
		inner = c.Key.String()
	}
	// Outermost wrapper is the lowest bit so Parse(String()) is stable.
	for i := len(modNames) - 1; i >= 0; i-- {
		if c.Mods&modNames[i].mod != 0 {
			inner = modNames[i].name + "(" + inner + ")"
		}
	}
	return inner
}

// MarshalText implements encoding.TextMarshaler.
func (c Combo) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Combo) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Parse reads a QMK-style combo: modifier wrappers around one keycode,
// e.g. "RGUI(KC_L)", "KC_PSCR", "LGUI(RSFT(KC_3))". The KC_ prefix is
// optional and names are case-insensitive.
func Parse(s string) (Combo, error) {
	var c Combo
	rest := strings.ToUpper(strings.TrimSpace(s))
	if rest == "" {
		return c, fmt.Errorf("keycode: empty combo")
	}

	for {
		open := strings.IndexByte(rest, '(')
		if open < 0 {
			break
		}
		if !strings.HasSuffix(rest, ")") {
			return Combo{}, fmt.Errorf("keycode: unbalanced parentheses in %q", s)
		}
		mod, ok := lookupMod(strings.TrimSpace(rest[:open]))
		if !ok {
			return Combo{}, fmt.Errorf("keycode: unknown modifier %q in %q", rest[:open], s)
		}
		c.Mods |= mod
		rest = strings.TrimSpace(rest[open+1 : len(rest)-1])
	}
	if strings.ContainsRune(rest, ')') {
		return Combo{}, fmt.Errorf("keycode: unbalanced parentheses in %q", s)
	}

	if mod, ok := lookupModKey(rest); ok {
		c.Mods |= mod
		return c, nil
	}
	if rest == "KC_NO" || rest == "NO" {
		return c, nil
	}
	key, ok := LookupUsage(rest)
	if !ok {
		return Combo{}, fmt.Errorf("keycode: unknown key %q in %q", rest, s)
	}
	c.Key = key
	return c, nil
}

// MustParse is Parse for static tables; it panics on error.
func MustParse(s string) Combo {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func lookupMod(name string) (Mod, bool) {
	for _, m := range modNames {
		if m.name == name {
			return m.mod, true
		}
	}
	return 0, false
}

// lookupModKey maps bare modifier keycodes such as KC_LEFT_GUI to modifier
// bits, since they travel in the modifier byte rather than a key slot.
func lookupModKey(name string) (Mod, bool) {
	switch strings.TrimPrefix(name, "KC_") {
	case "LCTL", "LEFT_CTRL":
		return ModLCtrl, true
	case "LSFT", "LEFT_SHIFT":
		return ModLShift, true
	case "LALT", "LEFT_ALT":
		return ModLAlt, true
	case "LGUI", "LEFT_GUI":
		return ModLGui, true
	case "RCTL", "RIGHT_CTRL":
		return ModRCtrl, true
	case "RSFT", "RIGHT_SHIFT":
		return ModRShift, true
	case "RALT", "RIGHT_ALT":
		return ModRAlt, true
	case "RGUI", "RIGHT_GUI":
		return ModRGui, true
	}
	return 0, false
}
