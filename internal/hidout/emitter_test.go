package hidout

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/musicviz/musicviz/internal/keycode"
)

func TestReportEmitter_PressRelease(t *testing.T) {
	var buf bytes.Buffer
	e := NewReportEmitter(&buf)

	lock := keycode.MustParse("LCTL(LGUI(KC_Q))")
	require.NoError(t, e.Press(lock))
	assert.Equal(t, [BootReportSize]byte{0x09, 0, 0x14, 0, 0, 0, 0, 0}, e.Report())

	require.NoError(t, e.Release(lock))
	assert.Equal(t, [BootReportSize]byte{}, e.Report())

	// Two full reports were written.
	require.Equal(t, 2*BootReportSize, buf.Len())
	assert.Equal(t, []byte{0x09, 0, 0x14, 0, 0, 0, 0, 0}, buf.Bytes()[:BootReportSize])
	assert.Equal(t, make([]byte, BootReportSize), buf.Bytes()[BootReportSize:])
}

func TestReportEmitter_SlotsAndDuplicates(t *testing.T) {
	var buf bytes.Buffer
	e := NewReportEmitter(&buf)

	for u := keycode.UsageA; u < keycode.UsageA+6; u++ {
		require.NoError(t, e.Press(keycode.Combo{Key: u}))
	}
	// Same key again does not need a slot.
	require.NoError(t, e.Press(keycode.Combo{Key: keycode.UsageA}))
	assert.ErrorIs(t, e.Press(keycode.Combo{Key: keycode.UsageZ}), ErrNoFreeSlot)

	require.NoError(t, e.Release(keycode.Combo{Key: keycode.UsageA + 2}))
	r := e.Report()
	assert.Equal(t, []byte{0x04, 0x05, 0x07, 0x08, 0x09, 0x00}, r[2:])
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) - 1, nil }

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("device gone") }

func TestReportEmitter_WriteErrors(t *testing.T) {
	assert.ErrorContains(t, NewReportEmitter(shortWriter{}).Press(keycode.Combo{Key: keycode.UsagePscr}), "short report write")
	assert.ErrorContains(t, NewReportEmitter(failWriter{}).Press(keycode.Combo{Key: keycode.UsagePscr}), "device gone")
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	a := &Recorder{}
	b := &Recorder{Err: errors.New("b failed")}
	m := Multi{a, b, LogEmitter{}}

	c := keycode.MustParse("KC_PSCR")
	err := m.Press(c)
	assert.ErrorContains(t, err, "b failed")
	require.NoError(t, Multi{a}.Release(c))

	assert.Equal(t, []Call{{Press: true, Combo: c}, {Press: false, Combo: c}}, a.Calls())
	assert.Equal(t, []Call{{Press: true, Combo: c}}, b.Calls())

	a.Reset()
	assert.Empty(t, a.Calls())
}

func TestMIDIEmitter(t *testing.T) {
	var sent []midi.Message
	m := NewMIDIEmitter(func(msg midi.Message) error {
		sent = append(sent, msg)
		return nil
	}, 3)

	screenshot := keycode.MustParse("KC_PSCR")
	lock := keycode.MustParse("LCTL(LGUI(KC_Q))")
	m.MapNote(lock, 60)

	require.NoError(t, m.Press(screenshot))
	require.NoError(t, m.Release(screenshot))
	require.NoError(t, m.Press(lock))
	require.Len(t, sent, 5)

	var ch, key, vel, cc, val uint8
	require.True(t, sent[0].GetControlChange(&ch, &cc, &val))
	assert.Equal(t, uint8(3), ch)
	assert.Equal(t, uint8(ModifierController), cc)
	assert.Equal(t, uint8(0), val)
	require.True(t, sent[1].GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, uint8(3), ch)
	assert.Equal(t, uint8(keycode.UsagePscr), key)
	assert.Equal(t, uint8(0x40), vel)

	require.True(t, sent[2].GetNoteOff(&ch, &key, &vel))
	assert.Equal(t, uint8(keycode.UsagePscr), key)

	require.True(t, sent[4].GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, uint8(60), key)
	assert.Equal(t, uint8(0x49), vel)
}

// Every modifier bit survives, so combos on one key never collide.
func TestMIDIEmitter_ModifiersDistinct(t *testing.T) {
	type wire struct{ right, vel uint8 }
	var sent []midi.Message
	m := NewMIDIEmitter(func(msg midi.Message) error {
		sent = append(sent, msg)
		return nil
	}, 0)

	seen := map[wire]keycode.Mod{}
	for mods := 0; mods < 256; mods++ {
		sent = sent[:0]
		require.NoError(t, m.Press(keycode.Combo{Mods: keycode.Mod(mods), Key: keycode.UsageA}))
		require.Len(t, sent, 2)

		var ch, cc, key uint8
		var w wire
		require.True(t, sent[0].GetControlChange(&ch, &cc, &w.right))
		require.True(t, sent[1].GetNoteOn(&ch, &key, &w.vel))
		assert.NotZero(t, w.vel, "velocity 0 reads as note off")
		if prev, dup := seen[w]; dup {
			t.Fatalf("mods %#x and %#x encode the same", prev, mods)
		}
		seen[w] = keycode.Mod(mods)
	}

	plain := keycode.MustParse("KC_L")
	rgui := keycode.MustParse("RGUI(KC_L)")
	sent = sent[:0]
	require.NoError(t, m.Press(plain))
	require.NoError(t, m.Press(rgui))
	assert.NotEqual(t, sent[0], sent[2])
}

func TestMIDIEmitter_SendError(t *testing.T) {
	m := NewMIDIEmitter(func(midi.Message) error { return errors.New("unplugged") }, 0)
	assert.ErrorContains(t, m.Press(keycode.MustParse("KC_A")), "unplugged")
}
