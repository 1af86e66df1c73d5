package gesture

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musicviz/musicviz/internal/hidout"
	"github.com/musicviz/musicviz/internal/keycode"
	"github.com/musicviz/musicviz/internal/monitoring"
	"github.com/musicviz/musicviz/internal/timeutil"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(name string) (*Engine, *hidout.Recorder, *timeutil.MockClock) {
	var b Binding
	for _, def := range DefaultBindings() {
		if def.Name == name {
			b = def
		}
	}
	rec := &hidout.Recorder{}
	clock := timeutil.NewMockClock(t0)
	return NewEngine(b, rec, clock, DefaultSettleDelay), rec, clock
}

func TestEngine_DoubleTapPressThenRelease(t *testing.T) {
	e, rec, clock := newTestEngine("dance2")
	lock := keycode.MustParse("LCTL(LGUI(KC_Q))")

	got := e.OnFinish(Observation{Count: 2})
	assert.Equal(t, DoubleTap, got)
	assert.Equal(t, DoubleTap, e.Step())
	assert.Equal(t, []hidout.Call{{Press: true, Combo: lock}}, rec.Calls())

	e.OnReset()
	assert.Equal(t, []hidout.Call{{Press: true, Combo: lock}, {Press: false, Combo: lock}}, rec.Calls())
	assert.Equal(t, None, e.Step())
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, t0.Add(10*time.Millisecond), clock.Now())
}

func TestEngine_SingleHoldHasNoAction(t *testing.T) {
	e, rec, _ := newTestEngine("dance0")

	assert.Equal(t, SingleHold, e.OnFinish(Observation{Count: 1, Pressed: true}))
	assert.Equal(t, SingleHold, e.Step())
	e.OnReset()

	assert.Empty(t, rec.Calls())
	assert.Equal(t, None, e.Step())
}

func TestEngine_SecondResetIsNoop(t *testing.T) {
	e, rec, clock := newTestEngine("dance1")

	e.OnFinish(Observation{Count: 2})
	e.OnReset()
	e.OnReset()

	assert.Len(t, rec.Calls(), 2)
	assert.Len(t, clock.Sleeps(), 1)
	assert.Equal(t, None, e.Step())
}

func TestEngine_RetryWithoutResetReleasesFirst(t *testing.T) {
	e, rec, _ := newTestEngine("dance0")
	c := keycode.MustParse("RGUI(KC_L)")

	e.OnFinish(Observation{Count: 2})
	e.OnFinish(Observation{Count: 2})
	e.OnReset()

	assert.Equal(t, []hidout.Call{
		{Press: true, Combo: c},
		{Press: false, Combo: c},
		{Press: true, Combo: c},
		{Press: false, Combo: c},
	}, rec.Calls())
}

func TestEngine_RetryWithOtherClassStillReleases(t *testing.T) {
	e, rec, _ := newTestEngine("dance3")
	c := keycode.MustParse("LGUI(RSFT(KC_3))")

	e.OnFinish(Observation{Count: 2})
	e.OnFinish(Observation{Count: 3})
	assert.Equal(t, MoreTaps, e.Step())
	e.OnReset()

	assert.Equal(t, []hidout.Call{{Press: true, Combo: c}, {Press: false, Combo: c}}, rec.Calls())
}

func TestEngine_EmitterErrorsAreLogged(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	e, rec, _ := newTestEngine("dance1")
	rec.Err = errors.New("usb stalled")

	e.OnFinish(Observation{Count: 2})
	e.OnReset()

	assert.Equal(t, None, e.Step())
	assert.Len(t, rec.Calls(), 2)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "press KC_PSCR: usb stalled")
	assert.Contains(t, lines[1], "release KC_PSCR: usb stalled")
}

func TestEngine_ReleaseHeld(t *testing.T) {
	e, rec, clock := newTestEngine("dance2")
	lock := keycode.MustParse("LCTL(LGUI(KC_Q))")
	var events []Event
	e.SetObserver(func(ev Event) { events = append(events, ev) })

	assert.False(t, e.ReleaseHeld())

	e.OnFinish(Observation{Count: 2})
	assert.True(t, e.ReleaseHeld())
	assert.Equal(t, []hidout.Call{{Press: true, Combo: lock}, {Press: false, Combo: lock}}, rec.Calls())
	assert.Equal(t, None, e.Step())
	assert.Empty(t, clock.Sleeps())
	require.Len(t, events, 2)
	assert.Equal(t, PhaseReset, events[1].Phase)
	assert.Equal(t, lock, events[1].Combo)

	// The reset that would have followed has nothing left to do.
	e.OnReset()
	assert.Len(t, rec.Calls(), 2)
	assert.False(t, e.ReleaseHeld())
}

func TestEngine_Observer(t *testing.T) {
	e, _, _ := newTestEngine("dance1")
	var events []Event
	e.SetObserver(func(ev Event) { events = append(events, ev) })

	e.OnFinish(Observation{Count: 2})
	e.OnReset()

	require.Len(t, events, 2)
	assert.Equal(t, PhaseFinish, events[0].Phase)
	assert.Equal(t, DoubleTap, events[0].Class)
	assert.Equal(t, keycode.MustParse("KC_PSCR"), events[0].Combo)
	assert.Equal(t, t0, events[0].At)

	assert.Equal(t, PhaseReset, events[1].Phase)
	assert.Equal(t, DoubleTap, events[1].Class)
	assert.Equal(t, keycode.MustParse("KC_PSCR"), events[1].Combo)
	assert.Equal(t, t0.Add(DefaultSettleDelay), events[1].At)
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(Binding{Name: "x", Key: "x"}, nil, nil, -1)
	assert.Equal(t, DefaultSettleDelay, e.settle)
	assert.IsType(t, timeutil.RealClock{}, e.clock)
	assert.IsType(t, hidout.LogEmitter{}, e.emitter)
}
