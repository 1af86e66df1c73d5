// Package hostfeed builds visualizer reports on the host side: audio features
// in the 0-1 range are mapped onto the 32-byte report the keyboard decodes.
package hostfeed

import (
	"math"

	"github.com/musicviz/musicviz/internal/hidproto"
	"github.com/musicviz/musicviz/internal/vizstate"
)

// Features are per-frame audio levels, each in [0, 1].
type Features struct {
	LoudnessRMS  float64 `json:"loudness_rms"`
	LoudnessPeak float64 `json:"loudness_peak"`
	Bass         float64 `json:"bass"`
	Mid          float64 `json:"mid"`
	Treble       float64 `json:"treble"`
	Beat         float64 `json:"beat"`
}

// Constants carried in every host report.
const (
	DefaultFxSpeed = 128
	// DefaultBeatRefractory is in firmware units of 4 ms (120 ms).
	DefaultBeatRefractory = 30

	minGain    = 10
	maxSparkle = 200
)

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func scale(v, max float64) uint8 {
	return uint8(clamp01(v) * max)
}

// MasterGain maps RMS loudness onto brightness with a square curve, so quiet
// passages stay dim (about 20 at rms 0.2) and full loudness reaches 255.
func MasterGain(rms float64) uint8 {
	rms = clamp01(rms)
	return uint8(minGain + rms*rms*(255-minGain))
}

// BuildRecord maps one frame of features and the palette colors onto a record.
// The record is always enabled with the safety limit set and strobe off.
func BuildRecord(f Features, hues [3]uint8, saturation uint8) vizstate.Record {
	return vizstate.Record{
		Enabled:     true,
		SafetyLimit: true,

		MasterGain:   MasterGain(f.LoudnessRMS),
		LoudnessRMS:  scale(f.LoudnessRMS, 255),
		LoudnessPeak: scale(f.LoudnessPeak, 255),
		Bass:         scale(f.Bass, 255),
		Mid:          scale(f.Mid, 255),
		Treble:       scale(f.Treble, 255),
		Beat:         scale(f.Beat, 255),

		HueBass:    hues[0],
		HueMid:     hues[1],
		HueTreble:  hues[2],
		Saturation: saturation,

		FxSpeed:           DefaultFxSpeed,
		ShockwaveStrength: scale(f.Beat, 255),
		PerimeterSparkle:  scale(f.Treble, maxSparkle),
		BeatRefractoryMs:  DefaultBeatRefractory,
	}
}

// BuildReport is BuildRecord followed by the wire encoding.
func BuildReport(f Features, p Palette, saturation uint8) [hidproto.ReportSize]byte {
	return hidproto.Encode(BuildRecord(f, p.Hues, saturation))
}
