//go:build cgo

package main

// The RtMidi driver registers itself with gomidi; without cgo the MIDI
// output is unavailable and OpenMIDIEmitter reports no matching port.
import _ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
