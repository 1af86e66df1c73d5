// Package preview shows what a visualizer record would look like on the
// keyboard's 72 LEDs. It visualizes the record directly: bands map onto
// radial zones from the inner edge of each half, with no firmware smoothing,
// decay or beat effects.
package preview

import (
	"github.com/musicviz/musicviz/internal/vizstate"
)

// LEDCount is the number of per-key LEDs, 36 per half.
const LEDCount = 72

// RGB is one LED color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Point is an LED position in QMK matrix units.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Layout holds the Moonlander LED coordinates, left half (0-35) then right
// half (36-71).
var Layout = [LEDCount]Point{
	// left
	{0, 4}, {0, 20}, {0, 36}, {0, 52}, {0, 68},
	{16, 3}, {16, 19}, {16, 35}, {16, 51}, {16, 67},
	{32, 1}, {32, 17}, {32, 33}, {32, 49}, {32, 65},
	{48, 0}, {48, 16}, {48, 32}, {48, 48}, {48, 64},
	{64, 1}, {64, 17}, {64, 33}, {64, 49}, {64, 65},
	{80, 3}, {80, 19}, {80, 35}, {80, 51},
	{96, 4}, {96, 20}, {96, 36},
	{88, 69}, {100, 80}, {112, 91}, {108, 69},
	// right
	{240, 4}, {240, 20}, {240, 36}, {240, 52}, {240, 68},
	{224, 3}, {224, 19}, {224, 35}, {224, 51}, {224, 67},
	{208, 1}, {208, 17}, {208, 33}, {208, 49}, {208, 65},
	{192, 0}, {192, 16}, {192, 32}, {192, 48}, {192, 64},
	{176, 1}, {176, 17}, {176, 33}, {176, 49}, {176, 65},
	{160, 3}, {160, 19}, {160, 35}, {160, 51},
	{144, 4}, {144, 20}, {144, 36},
	{152, 69}, {140, 80}, {128, 91}, {132, 69},
}

const (
	halfCount = LEDCount / 2
	maxDist   = 112.0

	innerEdge = 0.33
	outerEdge = 0.66
)

var leftInnerX, rightInnerX = innerEdges()

func innerEdges() (left, right int) {
	right = Layout[halfCount].X
	for i, p := range Layout {
		if i < halfCount {
			left = max(left, p.X)
		} else {
			right = min(right, p.X)
		}
	}
	return left, right
}

// Distance returns how far LED i sits from the inner edge of its half,
// normalised to [0, 1].
func Distance(i int) float64 {
	p := Layout[i]
	var dx int
	if i < halfCount {
		dx = leftInnerX - p.X
	} else {
		dx = p.X - rightInnerX
	}
	return min(float64(dx)/maxDist, 1.0)
}

// Level returns the brightness and hue for LED i before HSV conversion.
// Inner LEDs follow bass, middle LEDs mid and outer LEDs treble, blending
// into the next band across each zone. Master gain scales the result.
func Level(rec vizstate.Record, i int) (brightness, hue uint8) {
	d := Distance(i)
	var b int
	switch {
	case d < innerEdge:
		blend := d / innerEdge
		b = int(float64(rec.Bass)*(1-blend*0.5) + float64(rec.Mid)*blend*0.5)
		hue = rec.HueBass
	case d < outerEdge:
		blend := (d - innerEdge) / innerEdge
		b = int(float64(rec.Mid)*(1-blend*0.5) + float64(rec.Treble)*blend*0.5)
		hue = rec.HueMid
	default:
		b = int(rec.Treble)
		hue = rec.HueTreble
	}
	return uint8(b * int(rec.MasterGain) / 255), hue
}

// Render converts a snapshot into LED colors. A snapshot with no report yet
// or with the visualizer disabled renders dark.
func Render(s vizstate.Snapshot) [LEDCount]RGB {
	var leds [LEDCount]RGB
	if !s.Received || !s.Enabled {
		return leds
	}
	sat := boostSaturation(s.Saturation)
	for i := range leds {
		v, h := Level(s.Record, i)
		leds[i] = HSVToRGB(h, sat, v)
	}
	return leds
}

// boostSaturation lifts saturation by 30% so on-screen colors read closer to
// the LEDs.
func boostSaturation(s uint8) uint8 {
	return uint8(min(255, int(s)*13/10))
}

// HSVToRGB converts with the same integer math as the QMK firmware, all
// components on a 0-255 scale.
func HSVToRGB(h, s, v uint8) RGB {
	if s == 0 {
		return RGB{v, v, v}
	}
	hi, si, vi := int(h), int(s), int(v)

	region := hi / 43
	remainder := (hi - region*43) * 6

	p := uint8((vi * (255 - si)) >> 8)
	q := uint8((vi * (255 - ((si * remainder) >> 8))) >> 8)
	t := uint8((vi * (255 - ((si * (255 - remainder)) >> 8))) >> 8)

	switch region % 6 {
	case 0:
		return RGB{v, t, p}
	case 1:
		return RGB{q, v, p}
	case 2:
		return RGB{p, v, t}
	case 3:
		return RGB{p, q, v}
	case 4:
		return RGB{t, p, v}
	default:
		return RGB{v, p, q}
	}
}
