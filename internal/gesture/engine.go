package gesture

import (
	"sync"
	"time"

	"github.com/musicviz/musicviz/internal/hidout"
	"github.com/musicviz/musicviz/internal/keycode"
	"github.com/musicviz/musicviz/internal/monitoring"
	"github.com/musicviz/musicviz/internal/timeutil"
)

// DefaultSettleDelay is how long OnReset waits before releasing.
const DefaultSettleDelay = 10 * time.Millisecond

// Binding ties a physical tap-dance key to the combos fired per class.
type Binding struct {
	Name    string                  `json:"name" yaml:"name"`
	Key     string                  `json:"key" yaml:"key"`
	Actions map[Class]keycode.Combo `json:"actions" yaml:"actions"`
}

// DefaultBindings mirrors the stock keymap: four tap-dance keys, each firing
// one combo on a double tap.
func DefaultBindings() []Binding {
	return []Binding{
		{Name: "dance0", Key: "dance0", Actions: map[Class]keycode.Combo{DoubleTap: keycode.MustParse("RGUI(KC_L)")}},
		{Name: "dance1", Key: "dance1", Actions: map[Class]keycode.Combo{DoubleTap: keycode.MustParse("KC_PSCR")}},
		{Name: "dance2", Key: "dance2", Actions: map[Class]keycode.Combo{DoubleTap: keycode.MustParse("LCTL(LGUI(KC_Q))")}},
		{Name: "dance3", Key: "dance3", Actions: map[Class]keycode.Combo{DoubleTap: keycode.MustParse("LGUI(RSFT(KC_3))")}},
	}
}

// Phase distinguishes the two halves of a gesture in an Event.
type Phase string

const (
	PhaseFinish Phase = "finish"
	PhaseReset  Phase = "reset"
)

// Event describes one finish or reset, for capture and debugging.
type Event struct {
	Binding string
	Phase   Phase
	Class   Class
	Obs     Observation
	// Combo is the combo pressed (finish) or released (reset), zero if none.
	Combo keycode.Combo
	At    time.Time
}

// Engine holds the gesture state of one key. OnFinish and OnReset must not
// run concurrently with each other; Runner guarantees that.
type Engine struct {
	binding Binding
	emitter hidout.Emitter
	clock   timeutil.Clock
	settle  time.Duration

	mu       sync.Mutex
	step     Class
	held     keycode.Combo
	holding  bool
	observer func(Event)
}

// NewEngine builds an engine. A nil clock selects the real clock and a
// negative settle delay selects DefaultSettleDelay.
func NewEngine(b Binding, e hidout.Emitter, clock timeutil.Clock, settle time.Duration) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if settle < 0 {
		settle = DefaultSettleDelay
	}
	if e == nil {
		e = hidout.LogEmitter{}
	}
	return &Engine{binding: b, emitter: e, clock: clock, settle: settle}
}

func (e *Engine) Name() string { return e.binding.Name }
func (e *Engine) Key() string  { return e.binding.Key }

// Binding returns a copy of the engine's binding.
func (e *Engine) Binding() Binding {
	b := e.binding
	b.Actions = make(map[Class]keycode.Combo, len(e.binding.Actions))
	for k, v := range e.binding.Actions {
		b.Actions[k] = v
	}
	return b
}

// SetObserver installs a hook called after every finish and reset.
func (e *Engine) SetObserver(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

// Step returns the class stored by the last finish, or None after a reset.
func (e *Engine) Step() Class {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

// OnFinish classifies obs, stores the class and presses its bound combo.
// A press still outstanding from an earlier finish is released first.
func (e *Engine) OnFinish(obs Observation) Class {
	class := Classify(obs)

	e.mu.Lock()
	if e.holding {
		e.release(e.held)
		e.holding = false
	}
	e.step = class
	combo, bound := e.binding.Actions[class]
	if bound {
		if err := e.emitter.Press(combo); err != nil {
			monitoring.Logf("gesture %s: press %s: %v", e.binding.Name, combo, err)
		}
		// Held even on a failed press so the release is still attempted.
		e.held = combo
		e.holding = true
	} else {
		combo = keycode.Combo{}
	}
	obsFn := e.observer
	e.mu.Unlock()

	monitoring.Debugf("gesture %s: finish %s (count=%d pressed=%t interrupted=%t)",
		e.binding.Name, class, obs.Count, obs.Pressed, obs.Interrupted)
	if obsFn != nil {
		obsFn(Event{Binding: e.binding.Name, Phase: PhaseFinish, Class: class, Obs: obs, Combo: combo, At: e.clock.Now()})
	}
	return class
}

// OnReset waits the settle delay, releases the outstanding combo and clears
// the step. It is a no-op when the step is already None.
func (e *Engine) OnReset() {
	e.mu.Lock()
	if e.step == None && !e.holding {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.clock.Sleep(e.settle)

	e.mu.Lock()
	class := e.step
	var released keycode.Combo
	if e.holding {
		released = e.held
		e.release(e.held)
		e.holding = false
		e.held = keycode.Combo{}
	}
	e.step = None
	obsFn := e.observer
	e.mu.Unlock()

	if obsFn != nil {
		obsFn(Event{Binding: e.binding.Name, Phase: PhaseReset, Class: class, Combo: released, At: e.clock.Now()})
	}
}

// ReleaseHeld releases an outstanding combo at once, without the settle
// delay, and clears the step. It reports whether anything was released.
func (e *Engine) ReleaseHeld() bool {
	e.mu.Lock()
	if !e.holding {
		e.mu.Unlock()
		return false
	}
	class, released := e.step, e.held
	e.release(e.held)
	e.holding = false
	e.held = keycode.Combo{}
	e.step = None
	obsFn := e.observer
	e.mu.Unlock()

	monitoring.Debugf("gesture %s: released %s on shutdown", e.binding.Name, released)
	if obsFn != nil {
		obsFn(Event{Binding: e.binding.Name, Phase: PhaseReset, Class: class, Combo: released, At: e.clock.Now()})
	}
	return true
}

func (e *Engine) release(c keycode.Combo) {
	if err := e.emitter.Release(c); err != nil {
		monitoring.Logf("gesture %s: release %s: %v", e.binding.Name, c, err)
	}
}
