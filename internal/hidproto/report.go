// Package hidproto decodes the fixed 32-byte visualizer reports sent by the
// host and publishes accepted ones to the shared visualizer state.
//
// Report layout:
//
//	[0]     magic 0x4D ('M')
//	[1]     protocol version 0x01
//	[2]     flags: bit0 enabled, bit1 strobe_enable, bit2 safety_limit
//	[3]     master_gain
//	[4]     loudness_rms
//	[5]     loudness_peak
//	[6]     bass
//	[7]     mid
//	[8]     treble
//	[9]     beat
//	[10]    hue_bass
//	[11]    hue_mid
//	[12]    hue_treble
//	[13]    saturation
//	[14]    fx_speed
//	[15]    shockwave_strength
//	[16]    perimeter_sparkle
//	[17]    beat_refractory_ms
//	[18:32] reserved
package hidproto

import (
	"errors"
	"fmt"

	"github.com/musicviz/musicviz/internal/vizstate"
)

const (
	// ReportSize is the fixed raw HID report length.
	ReportSize = 32

	Magic   = 0x4D
	Version = 0x01

	FlagEnabled      = 0x01
	FlagStrobeEnable = 0x02
	FlagSafetyLimit  = 0x04
)

const (
	offMagic = iota
	offVersion
	offFlags
	offMasterGain
	offLoudnessRMS
	offLoudnessPeak
	offBass
	offMid
	offTreble
	offBeat
	offHueBass
	offHueMid
	offHueTreble
	offSaturation
	offFxSpeed
	offShockwaveStrength
	offPerimeterSparkle
	offBeatRefractoryMs
)

// ErrRejected is wrapped by every decode rejection.
var ErrRejected = errors.New("report rejected")

var (
	ErrTooShort   = fmt.Errorf("%w: shorter than %d bytes", ErrRejected, ReportSize)
	ErrBadMagic   = fmt.Errorf("%w: bad magic", ErrRejected)
	ErrBadVersion = fmt.Errorf("%w: unsupported version", ErrRejected)
)

// Decode validates one report and unpacks it. nowMs becomes LastRxMs.
// LastBeatMs is left zero; the Decoder carries it over from the previous
// record. Numeric fields are accepted as-is over their full byte range.
func Decode(buf []byte, nowMs uint32) (vizstate.Record, error) {
	if len(buf) < ReportSize {
		return vizstate.Record{}, ErrTooShort
	}
	if buf[offMagic] != Magic {
		return vizstate.Record{}, ErrBadMagic
	}
	// Unknown versions may have a different layout, so they are never parsed.
	if buf[offVersion] != Version {
		return vizstate.Record{}, ErrBadVersion
	}

	flags := buf[offFlags]
	return vizstate.Record{
		Enabled:      flags&FlagEnabled != 0,
		StrobeEnable: flags&FlagStrobeEnable != 0,
		SafetyLimit:  flags&FlagSafetyLimit != 0,

		MasterGain:   buf[offMasterGain],
		LoudnessRMS:  buf[offLoudnessRMS],
		LoudnessPeak: buf[offLoudnessPeak],
		Bass:         buf[offBass],
		Mid:          buf[offMid],
		Treble:       buf[offTreble],
		Beat:         buf[offBeat],

		HueBass:    buf[offHueBass],
		HueMid:     buf[offHueMid],
		HueTreble:  buf[offHueTreble],
		Saturation: buf[offSaturation],

		FxSpeed:           buf[offFxSpeed],
		ShockwaveStrength: buf[offShockwaveStrength],
		PerimeterSparkle:  buf[offPerimeterSparkle],
		BeatRefractoryMs:  buf[offBeatRefractoryMs],

		LastRxMs: nowMs,
	}, nil
}

// Encode builds the on-wire report for rec. Timestamps are not transmitted
// and the reserved tail is zero.
func Encode(rec vizstate.Record) [ReportSize]byte {
	var out [ReportSize]byte
	out[offMagic] = Magic
	out[offVersion] = Version

	var flags byte
	if rec.Enabled {
		flags |= FlagEnabled
	}
	if rec.StrobeEnable {
		flags |= FlagStrobeEnable
	}
	if rec.SafetyLimit {
		flags |= FlagSafetyLimit
	}
	out[offFlags] = flags

	out[offMasterGain] = rec.MasterGain
	out[offLoudnessRMS] = rec.LoudnessRMS
	out[offLoudnessPeak] = rec.LoudnessPeak
	out[offBass] = rec.Bass
	out[offMid] = rec.Mid
	out[offTreble] = rec.Treble
	out[offBeat] = rec.Beat
	out[offHueBass] = rec.HueBass
	out[offHueMid] = rec.HueMid
	out[offHueTreble] = rec.HueTreble
	out[offSaturation] = rec.Saturation
	out[offFxSpeed] = rec.FxSpeed
	out[offShockwaveStrength] = rec.ShockwaveStrength
	out[offPerimeterSparkle] = rec.PerimeterSparkle
	out[offBeatRefractoryMs] = rec.BeatRefractoryMs
	return out
}

// Verdict names the outcome of a decode for logs, stats and captures.
func Verdict(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrTooShort):
		return "too_short"
	case errors.Is(err, ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, ErrBadVersion):
		return "bad_version"
	default:
		return "unknown"
	}
}
