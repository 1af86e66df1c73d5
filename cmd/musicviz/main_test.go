package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/musicviz/musicviz/internal/config"
	"github.com/musicviz/musicviz/internal/hidout"
	"github.com/musicviz/musicviz/internal/hidproto"
	"github.com/musicviz/musicviz/internal/hostfeed"
	"github.com/musicviz/musicviz/internal/keycode"
	"github.com/musicviz/musicviz/internal/serialmux"
)

func TestSynthReports_Decode(t *testing.T) {
	palette, err := hostfeed.LookupPalette("Oceanic")
	require.NoError(t, err)
	gen := synthReports(palette)

	for range 5 {
		rec, err := hidproto.Decode(gen(), 0)
		require.NoError(t, err)
		assert.True(t, rec.Enabled)
		assert.Equal(t, palette.Hues[0], rec.HueBass)
	}
}

func TestOpenPort_EmptyPathDisablesLink(t *testing.T) {
	mux, err := openPort("", serialmux.PortOptions{})
	require.NoError(t, err)
	defer mux.Close()
	assert.IsType(t, &serialmux.DisabledReportMux{}, mux)
}

func TestResolvePort(t *testing.T) {
	path := "/dev/ttyACM0"
	cfg := &config.Config{SerialPort: &path}
	assert.Equal(t, path, resolvePort(cfg))

	*port = "/dev/ttyUSB1"
	t.Cleanup(func() { *port = "" })
	assert.Equal(t, "/dev/ttyUSB1", resolvePort(cfg))

	*mock = true
	t.Cleanup(func() { *mock = false })
	assert.Equal(t, mockPortPath, resolvePort(cfg))
}

func TestApplyMIDINotes(t *testing.T) {
	var sent []midi.Message
	m := hidout.NewMIDIEmitter(func(msg midi.Message) error {
		sent = append(sent, msg)
		return nil
	}, 0)
	cfg := &config.Config{MIDI: &config.MIDIConfig{Port: "IAC", Notes: map[string]int{"LCTL(LGUI(KC_Q))": 60}}}
	require.NoError(t, applyMIDINotes(m, cfg))

	require.NoError(t, m.Press(keycode.MustParse("LCTL(LGUI(KC_Q))")))
	require.NoError(t, m.Press(keycode.MustParse("KC_Q")))
	require.Len(t, sent, 4)
	var ch, key, vel uint8
	require.True(t, sent[1].GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, uint8(60), key)
	require.True(t, sent[3].GetNoteOn(&ch, &key, &vel))
	assert.Equal(t, uint8(keycode.MustParse("KC_Q").Key), key)

	bad := &config.Config{MIDI: &config.MIDIConfig{Notes: map[string]int{"KC_A": 200}}}
	assert.Error(t, applyMIDINotes(m, bad))
}
