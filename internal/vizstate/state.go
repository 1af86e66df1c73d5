// Package vizstate holds the latest audio-visualizer parameters received from
// the host. A single Writer replaces the record; any number of readers take
// immutable snapshots of it.
package vizstate

import (
	"sync/atomic"

	"github.com/musicviz/musicviz/internal/timeutil"
)

// Record is the decoded audio/visual parameter set. Levels, hues and effect
// intensities are raw 0-255 bytes; timestamps are device uptime milliseconds.
type Record struct {
	Enabled      bool `json:"enabled"`
	StrobeEnable bool `json:"strobe_enable"`
	SafetyLimit  bool `json:"safety_limit"`

	MasterGain   uint8 `json:"master_gain"`
	LoudnessRMS  uint8 `json:"loudness_rms"`
	LoudnessPeak uint8 `json:"loudness_peak"`
	Bass         uint8 `json:"bass"`
	Mid          uint8 `json:"mid"`
	Treble       uint8 `json:"treble"`
	Beat         uint8 `json:"beat"`

	HueBass    uint8 `json:"hue_bass"`
	HueMid     uint8 `json:"hue_mid"`
	HueTreble  uint8 `json:"hue_treble"`
	Saturation uint8 `json:"saturation"`

	FxSpeed           uint8 `json:"fx_speed"`
	ShockwaveStrength uint8 `json:"shockwave_strength"`
	PerimeterSparkle  uint8 `json:"perimeter_sparkle"`

	// BeatRefractoryMs is the minimum beat spacing requested by the host,
	// truncated to one byte. It is carried as-is; nothing here enforces it.
	BeatRefractoryMs uint8 `json:"beat_refractory_ms"`

	LastRxMs   uint32 `json:"last_rx_ms"`
	LastBeatMs uint32 `json:"last_beat_ms"`
}

// Snapshot is a reader's copy of the record at one point in time.
type Snapshot struct {
	Record
	// Received reports whether any report has been accepted yet.
	Received bool `json:"received"`
	// Seq counts accepted writes since startup.
	Seq uint64 `json:"seq"`
}

// AgeMs returns how long ago the last report was accepted, measured against
// the same uptime counter that stamped LastRxMs.
func (s Snapshot) AgeMs(nowMs uint32) uint32 {
	return timeutil.ElapsedMillis(nowMs, s.LastRxMs)
}

// Stale reports whether the feed has been silent for longer than limitMs, or
// has never delivered a report. It only reports; callers decide what to do.
func (s Snapshot) Stale(nowMs, limitMs uint32) bool {
	if !s.Received {
		return true
	}
	return s.AgeMs(nowMs) > limitMs
}

// State is the shared record. Readers never observe a mix of two writes: each
// write publishes a fresh immutable copy through an atomic pointer.
type State struct {
	current atomic.Pointer[Snapshot]
}

// Writer is the only handle able to replace the record.
type Writer struct {
	state *State
	seq   uint64
}

// New returns an empty state and its single writer handle.
func New() (*State, *Writer) {
	s := &State{}
	s.current.Store(&Snapshot{})
	return s, &Writer{state: s}
}

// Read returns the latest snapshot. It is safe to call from any goroutine.
func (s *State) Read() Snapshot {
	return *s.current.Load()
}

// Write publishes rec as the new record.
func (w *Writer) Write(rec Record) {
	w.seq++
	w.state.current.Store(&Snapshot{Record: rec, Received: true, Seq: w.seq})
}

// Last returns the record most recently written through this handle.
func (w *Writer) Last() Record {
	return w.state.current.Load().Record
}

// MarkBeat stamps LastBeatMs on the current record. The beat acceptance
// policy (refractory window, thresholds) belongs to the caller.
func (w *Writer) MarkBeat(nowMs uint32) {
	cur := w.state.current.Load()
	if !cur.Received {
		return
	}
	rec := cur.Record
	rec.LastBeatMs = nowMs
	w.Write(rec)
}
