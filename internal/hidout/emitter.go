// Package hidout delivers virtual key combinations to the host: as boot
// keyboard reports, as MIDI notes, or just to the log.
package hidout

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/musicviz/musicviz/internal/keycode"
	"github.com/musicviz/musicviz/internal/monitoring"
)

// Emitter is the input-injection primitive used by gesture actions.
type Emitter interface {
	Press(c keycode.Combo) error
	Release(c keycode.Combo) error
}

// BootReportSize is the length of a HID boot keyboard input report.
const BootReportSize = 8

const maxKeySlots = 6

var ErrNoFreeSlot = errors.New("hidout: all six key slots in use")

// ReportEmitter keeps the current keyboard state and writes a full boot
// report (modifiers, reserved, six key slots) to w on every change.
type ReportEmitter struct {
	mu   sync.Mutex
	w    io.Writer
	mods keycode.Mod
	keys []keycode.Usage
}

// NewReportEmitter writes reports to w.
func NewReportEmitter(w io.Writer) *ReportEmitter {
	return &ReportEmitter{w: w, keys: make([]keycode.Usage, 0, maxKeySlots)}
}

// Press adds the combo's modifiers and key to the report.
func (e *ReportEmitter) Press(c keycode.Combo) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c.Key != 0 && !e.hasKey(c.Key) {
		if len(e.keys) >= maxKeySlots {
			return ErrNoFreeSlot
		}
		e.keys = append(e.keys, c.Key)
	}
	e.mods |= c.Mods
	return e.flush()
}

// Release removes the combo's modifiers and key from the report.
func (e *ReportEmitter) Release(c keycode.Combo) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c.Key != 0 {
		for i, k := range e.keys {
			if k == c.Key {
				e.keys = append(e.keys[:i], e.keys[i+1:]...)
				break
			}
		}
	}
	e.mods &^= c.Mods
	return e.flush()
}

func (e *ReportEmitter) hasKey(k keycode.Usage) bool {
	for _, have := range e.keys {
		if have == k {
			return true
		}
	}
	return false
}

// Report returns the report that was last written.
func (e *ReportEmitter) Report() [BootReportSize]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report()
}

func (e *ReportEmitter) report() [BootReportSize]byte {
	var r [BootReportSize]byte
	r[0] = byte(e.mods)
	for i, k := range e.keys {
		r[2+i] = byte(k)
	}
	return r
}

func (e *ReportEmitter) flush() error {
	r := e.report()
	n, err := e.w.Write(r[:])
	if err != nil {
		return fmt.Errorf("hidout: write report: %w", err)
	}
	if n != BootReportSize {
		return fmt.Errorf("hidout: short report write (%d of %d bytes)", n, BootReportSize)
	}
	return nil
}

// LogEmitter only logs combos. It is the default when no output is wired.
type LogEmitter struct{}

func (LogEmitter) Press(c keycode.Combo) error {
	monitoring.Logf("hidout: press %s", c)
	return nil
}

func (LogEmitter) Release(c keycode.Combo) error {
	monitoring.Logf("hidout: release %s", c)
	return nil
}

// Multi sends every combo to all emitters and joins their errors.
type Multi []Emitter

func (m Multi) Press(c keycode.Combo) error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.Press(c))
	}
	return errors.Join(errs...)
}

func (m Multi) Release(c keycode.Combo) error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.Release(c))
	}
	return errors.Join(errs...)
}
