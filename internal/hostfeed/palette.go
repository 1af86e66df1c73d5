package hostfeed

import (
	"fmt"
	"strings"
)

// Palette assigns a hue to each band: bass, mid, treble.
type Palette struct {
	Name string   `json:"name"`
	Hues [3]uint8 `json:"hues"`
}

// Palettes lists the built-in palettes in cycling order.
var Palettes = []Palette{
	{"Cyberpunk", [3]uint8{160, 200, 240}},
	{"NeonPop", [3]uint8{230, 140, 20}},
	{"BlackGold", [3]uint8{30, 45, 60}},
	{"EDM Arena", [3]uint8{170, 0, 120}},
	{"Magma", [3]uint8{0, 30, 60}},
	{"Oceanic", [3]uint8{140, 160, 180}},
	{"Forest", [3]uint8{80, 100, 140}},
	{"Vaporwave", [3]uint8{190, 250, 40}},
	{"Matrix", [3]uint8{85, 100, 120}},
	{"Sunset", [3]uint8{10, 200, 150}},
}

// LookupPalette finds a palette by name, ignoring case.
func LookupPalette(name string) (Palette, error) {
	for _, p := range Palettes {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return Palette{}, fmt.Errorf("unknown palette %q", name)
}

// NextPalette returns the palette after name, wrapping around. An unknown
// name yields the first palette.
func NextPalette(name string) Palette {
	for i, p := range Palettes {
		if strings.EqualFold(p.Name, name) {
			return Palettes[(i+1)%len(Palettes)]
		}
	}
	return Palettes[0]
}
