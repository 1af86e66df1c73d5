package hidout

import (
	"fmt"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/musicviz/musicviz/internal/keycode"
)

// ModifierController is the controller number (General Purpose 1) whose
// value, sent just before each note on, holds the right-hand modifiers.
const ModifierController = 16

// MIDIEmitter turns combos into note on/off pairs so a DAW or a bridge on
// the host can react to gestures. The note is the combo's key usage unless
// an explicit mapping is set. The modifier byte is split in two nibbles:
// the note on velocity is 0x40 plus the left-hand modifiers, and the
// ModifierController value before it is the right-hand modifiers.
type MIDIEmitter struct {
	mu      sync.Mutex
	send    func(midi.Message) error
	channel uint8
	notes   map[keycode.Combo]uint8
}

// NewMIDIEmitter sends through send on the given channel (0-15).
func NewMIDIEmitter(send func(midi.Message) error, channel uint8) *MIDIEmitter {
	return &MIDIEmitter{send: send, channel: channel & 0x0f, notes: map[keycode.Combo]uint8{}}
}

// OpenMIDIEmitter finds an output port whose name contains portName. A MIDI
// driver must be registered by the caller (e.g. rtmididrv imported for side
// effects in main).
func OpenMIDIEmitter(portName string, channel uint8) (*MIDIEmitter, drivers.Out, error) {
	out, err := midi.FindOutPort(portName)
	if err != nil {
		return nil, nil, fmt.Errorf("hidout: find MIDI output %q: %w", portName, err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, nil, fmt.Errorf("hidout: open MIDI output %q: %w", portName, err)
	}
	return NewMIDIEmitter(send, channel), out, nil
}

// MapNote pins a combo to a specific note number, as set by the midi.notes
// config.
func (m *MIDIEmitter) MapNote(c keycode.Combo, note uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[c] = note & 0x7f
}

func (m *MIDIEmitter) noteFor(c keycode.Combo) uint8 {
	if n, ok := m.notes[c]; ok {
		return n
	}
	return uint8(c.Key) & 0x7f
}

func (m *MIDIEmitter) Press(c keycode.Combo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mods := uint8(c.Mods)
	if err := m.send(midi.ControlChange(m.channel, ModifierController, mods>>4)); err != nil {
		return err
	}
	return m.send(midi.NoteOn(m.channel, m.noteFor(c), 0x40|mods&0x0f))
}

func (m *MIDIEmitter) Release(c keycode.Combo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send(midi.NoteOff(m.channel, m.noteFor(c)))
}
