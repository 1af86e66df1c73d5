package hidproto

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musicviz/musicviz/internal/timeutil"
	"github.com/musicviz/musicviz/internal/vizstate"
)

func validReport() []byte {
	buf := make([]byte, ReportSize)
	buf[0] = Magic
	buf[1] = Version
	buf[2] = 0x05
	for i := 3; i <= 17; i++ {
		buf[i] = byte(i * 10)
	}
	return buf
}

func newTestDecoder() (*Decoder, *vizstate.State, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	state, writer := vizstate.New()
	return NewDecoder(writer, timeutil.NewUptime(clock)), state, clock
}

func TestDecode_Layout(t *testing.T) {
	rec, err := Decode(validReport(), 777)
	require.NoError(t, err)

	want := vizstate.Record{
		Enabled:           true,
		StrobeEnable:      false,
		SafetyLimit:       true,
		MasterGain:        30,
		LoudnessRMS:       40,
		LoudnessPeak:      50,
		Bass:              60,
		Mid:               70,
		Treble:            80,
		Beat:              90,
		HueBass:           100,
		HueMid:            110,
		HueTreble:         120,
		Saturation:        130,
		FxSpeed:           140,
		ShockwaveStrength: 150,
		PerimeterSparkle:  160,
		BeatRefractoryMs:  170,
		LastRxMs:          777,
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Flags(t *testing.T) {
	tests := []struct {
		flags  byte
		en     bool
		strobe bool
		safety bool
	}{
		{0x00, false, false, false},
		{0x01, true, false, false},
		{0x02, false, true, false},
		{0x04, false, false, true},
		{0x05, true, false, true},
		{0x07, true, true, true},
		{0xF8, false, false, false}, // reserved bits only
		{0xFF, true, true, true},
	}
	for _, tt := range tests {
		buf := validReport()
		buf[2] = tt.flags
		rec, err := Decode(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, tt.en, rec.Enabled, "flags %#02x enabled", tt.flags)
		assert.Equal(t, tt.strobe, rec.StrobeEnable, "flags %#02x strobe", tt.flags)
		assert.Equal(t, tt.safety, rec.SafetyLimit, "flags %#02x safety", tt.flags)
	}
}

func TestDecode_Rejections(t *testing.T) {
	badMagic := validReport()
	badMagic[0] = 'X'
	badVersion := validReport()
	badVersion[1] = 0x02

	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"nil", nil, ErrTooShort},
		{"31 bytes", validReport()[:31], ErrTooShort},
		{"bad magic", badMagic, ErrBadMagic},
		{"bad version", badVersion, ErrBadVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf, 0)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrRejected)
		})
	}
}

func TestDecode_IgnoresTailBytes(t *testing.T) {
	a := validReport()
	b := validReport()
	for i := 18; i < ReportSize; i++ {
		b[i] = 0xEE
	}
	b = append(b, 1, 2, 3)

	ra, err := Decode(a, 5)
	require.NoError(t, err)
	rb, err := Decode(b, 5)
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	recs := []vizstate.Record{
		{},
		{Enabled: true, SafetyLimit: true, MasterGain: 255, Bass: 1, Mid: 2, Treble: 3, Beat: 4},
		{
			StrobeEnable: true, MasterGain: 10, LoudnessRMS: 11, LoudnessPeak: 12,
			Bass: 13, Mid: 14, Treble: 15, Beat: 16, HueBass: 17, HueMid: 18,
			HueTreble: 19, Saturation: 20, FxSpeed: 21, ShockwaveStrength: 22,
			PerimeterSparkle: 23, BeatRefractoryMs: 24,
		},
	}
	for _, rec := range recs {
		frame := Encode(rec)
		got, err := Decode(frame[:], 9000)
		require.NoError(t, err)

		want := rec
		want.LastRxMs = 9000
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncode_ReservedTailZero(t *testing.T) {
	frame := Encode(vizstate.Record{Enabled: true, Bass: 9})
	for i := 18; i < ReportSize; i++ {
		assert.Zero(t, frame[i], "byte %d", i)
	}
	assert.Equal(t, byte(Magic), frame[0])
	assert.Equal(t, byte(Version), frame[1])
}

func TestVerdict(t *testing.T) {
	assert.Equal(t, "accepted", Verdict(nil))
	assert.Equal(t, "too_short", Verdict(ErrTooShort))
	assert.Equal(t, "bad_magic", Verdict(ErrBadMagic))
	assert.Equal(t, "bad_version", Verdict(ErrBadVersion))
	assert.Equal(t, "unknown", Verdict(errors.New("other")))
}
