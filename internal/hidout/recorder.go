package hidout

import (
	"sync"

	"github.com/musicviz/musicviz/internal/keycode"
)

// Call is one recorded emitter invocation.
type Call struct {
	Press bool
	Combo keycode.Combo
}

// Recorder is an Emitter that remembers every call. Tests and the debug API
// use it to inspect what gestures fired.
type Recorder struct {
	mu    sync.Mutex
	calls []Call

	// Err, when set, is returned from every call after it is recorded.
	Err error
}

func (r *Recorder) Press(c keycode.Combo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Press: true, Combo: c})
	return r.Err
}

func (r *Recorder) Release(c keycode.Combo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Press: false, Combo: c})
	return r.Err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Reset forgets all recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
