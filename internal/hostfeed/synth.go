package hostfeed

import (
	"math"
	"math/rand"
	"time"
)

// Synth generates plausible audio features without any audio input: slow
// sine envelopes per band, a beat pulse at a fixed tempo and a little noise.
// The same seed and the same sequence of Next calls give the same output.
type Synth struct {
	// Configuration
	BPM        float64       // beats per minute
	BeatDecay  time.Duration // time for a beat pulse to fall to 1/e
	Noise      float64       // peak noise added to each band
	BandPeriod time.Duration // period of the slowest band envelope

	rng *rand.Rand
}

// NewSynth returns a generator at 120 BPM.
func NewSynth(seed int64) *Synth {
	return &Synth{
		BPM:        120,
		BeatDecay:  80 * time.Millisecond,
		Noise:      0.05,
		BandPeriod: 8 * time.Second,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Next returns the features at elapsed time since the feed started.
func (s *Synth) Next(elapsed time.Duration) Features {
	t := elapsed.Seconds()
	period := s.BandPeriod.Seconds()
	if period <= 0 {
		period = 8
	}

	beat := s.beatAt(elapsed)
	// Bass follows the kick; mid and treble drift on their own envelopes.
	bass := 0.35 + 0.25*math.Sin(2*math.Pi*t/period) + 0.4*beat
	mid := 0.45 + 0.3*math.Sin(2*math.Pi*t/(period*0.75)+1.1)
	treble := 0.3 + 0.25*math.Sin(2*math.Pi*t/(period*0.5)+2.3)

	bass = clamp01(bass + s.noise())
	mid = clamp01(mid + s.noise())
	treble = clamp01(treble + s.noise())

	rms := clamp01(0.5*bass + 0.3*mid + 0.2*treble)
	peak := clamp01(math.Max(rms, math.Max(bass, math.Max(mid, treble))) + 0.05)

	return Features{
		LoudnessRMS:  rms,
		LoudnessPeak: peak,
		Bass:         bass,
		Mid:          mid,
		Treble:       treble,
		Beat:         beat,
	}
}

// beatAt is 1 on each beat and decays exponentially until the next one.
func (s *Synth) beatAt(elapsed time.Duration) float64 {
	if s.BPM <= 0 {
		return 0
	}
	interval := time.Duration(float64(time.Minute) / s.BPM)
	since := elapsed % interval
	decay := s.BeatDecay
	if decay <= 0 {
		decay = 80 * time.Millisecond
	}
	return math.Exp(-since.Seconds() / decay.Seconds())
}

func (s *Synth) noise() float64 {
	if s.Noise <= 0 {
		return 0
	}
	return (s.rng.Float64()*2 - 1) * s.Noise
}
