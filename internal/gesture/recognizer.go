package gesture

import (
	"slices"
	"sync"
	"time"
)

// DefaultTappingTerm is the window after the last press within which
// another tap extends the sequence.
const DefaultTappingTerm = 200 * time.Millisecond

// KeyEvent is a raw press or release of a named key.
type KeyEvent struct {
	Key     string
	Pressed bool
	At      time.Time
}

type tapState struct {
	count       int
	pressed     bool
	interrupted bool
	finished    bool
	lastPress   time.Time
}

// Recognizer turns key events into finish/reset calls on the sink bound to
// each tap-dance key. A sequence finishes when the tapping term elapses
// after the last press, or when any other key is pressed (interrupted). It
// resets once the key is up after finishing.
type Recognizer struct {
	term  time.Duration
	sinks map[string]Sink

	mu     sync.Mutex
	states map[string]*tapState
}

// NewRecognizer watches the keys in sinks. term <= 0 selects
// DefaultTappingTerm.
func NewRecognizer(sinks map[string]Sink, term time.Duration) *Recognizer {
	if term <= 0 {
		term = DefaultTappingTerm
	}
	return &Recognizer{term: term, sinks: sinks, states: make(map[string]*tapState)}
}

func (r *Recognizer) Term() time.Duration { return r.term }

// HandleEvent feeds one key event.
func (r *Recognizer) HandleEvent(ev KeyEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Pressed {
		for _, key := range r.activeKeys() {
			if key == ev.Key {
				continue
			}
			st := r.states[key]
			if st.finished {
				continue
			}
			st.interrupted = true
			r.finish(key, st)
		}
	}

	sink, ok := r.sinks[ev.Key]
	if !ok {
		return
	}
	st := r.states[ev.Key]

	if !ev.Pressed {
		if st == nil {
			return
		}
		st.pressed = false
		if st.finished {
			delete(r.states, ev.Key)
			sink.Reset()
		}
		return
	}

	if st != nil && st.finished {
		// Finished while held and pressed again without a release we saw.
		delete(r.states, ev.Key)
		sink.Reset()
		st = nil
	}
	if st == nil {
		st = &tapState{}
		r.states[ev.Key] = st
	}
	st.count++
	st.pressed = true
	st.lastPress = ev.At
}

// Tick finishes every sequence whose tapping term has elapsed at now.
func (r *Recognizer) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.activeKeys() {
		st := r.states[key]
		if st.finished || now.Sub(st.lastPress) < r.term {
			continue
		}
		r.finish(key, st)
	}
}

// finish delivers the observation and, if the key is already up, the reset.
func (r *Recognizer) finish(key string, st *tapState) {
	st.finished = true
	sink := r.sinks[key]
	sink.Finish(Observation{Count: st.count, Pressed: st.pressed, Interrupted: st.interrupted})
	if !st.pressed {
		delete(r.states, key)
		sink.Reset()
	}
}

func (r *Recognizer) activeKeys() []string {
	keys := make([]string, 0, len(r.states))
	for k := range r.states {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Pending reports how many sequences are in progress or waiting for release.
func (r *Recognizer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
