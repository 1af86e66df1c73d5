package hidproto

import (
	"errors"
	"sync/atomic"

	"github.com/musicviz/musicviz/internal/monitoring"
	"github.com/musicviz/musicviz/internal/vizstate"
)

// Millis is a monotonic millisecond source, normally *timeutil.Uptime.
type Millis interface {
	Millis() uint32
}

// Observer is told about every report the decoder sees, accepted or not.
// It runs on the receive path and must not block.
type Observer func(buf []byte, rxMs uint32, err error)

// Stats counts decoder outcomes since startup.
type Stats struct {
	Accepted   uint64 `json:"accepted"`
	TooShort   uint64 `json:"too_short"`
	BadMagic   uint64 `json:"bad_magic"`
	BadVersion uint64 `json:"bad_version"`
}

// Rejected is the total number of dropped reports.
func (s Stats) Rejected() uint64 {
	return s.TooShort + s.BadMagic + s.BadVersion
}

// Decoder is the single writer of the visualizer state. Receive is meant to
// be called from one goroutine, the transport's receive loop.
type Decoder struct {
	writer   *vizstate.Writer
	clock    Millis
	observer Observer

	accepted   atomic.Uint64
	tooShort   atomic.Uint64
	badMagic   atomic.Uint64
	badVersion atomic.Uint64
}

// NewDecoder binds a decoder to the state writer and clock.
func NewDecoder(w *vizstate.Writer, clock Millis) *Decoder {
	return &Decoder{writer: w, clock: clock}
}

// SetObserver installs an observer. Call before the receive loop starts.
func (d *Decoder) SetObserver(o Observer) {
	d.observer = o
}

// Receive decodes one report. Malformed or unsupported reports are dropped
// without any reply to the sender and the previous state is kept.
func (d *Decoder) Receive(buf []byte) {
	now := d.clock.Millis()
	rec, err := Decode(buf, now)
	if d.observer != nil {
		d.observer(buf, now, err)
	}
	if err != nil {
		d.countReject(err)
		monitoring.Debugf("hidproto: dropped %d-byte report: %v", len(buf), err)
		return
	}

	rec.LastBeatMs = d.writer.Last().LastBeatMs
	d.writer.Write(rec)
	d.accepted.Add(1)
}

func (d *Decoder) countReject(err error) {
	switch {
	case errors.Is(err, ErrTooShort):
		d.tooShort.Add(1)
	case errors.Is(err, ErrBadMagic):
		d.badMagic.Add(1)
	case errors.Is(err, ErrBadVersion):
		d.badVersion.Add(1)
	}
}

// Stats returns the current counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Accepted:   d.accepted.Load(),
		TooShort:   d.tooShort.Load(),
		BadMagic:   d.badMagic.Load(),
		BadVersion: d.badVersion.Load(),
	}
}
