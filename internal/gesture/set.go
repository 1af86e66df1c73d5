package gesture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/musicviz/musicviz/internal/hidout"
	"github.com/musicviz/musicviz/internal/keycode"
	"github.com/musicviz/musicviz/internal/timeutil"
)

var ErrDuplicateBinding = errors.New("gesture: duplicate binding")

// Set is the fixed collection of engines built at startup, one per
// tap-dance key. Engines never share state.
type Set struct {
	runners []*Runner
	byKey   map[string]*Runner
	byName  map[string]*Runner
}

// NewSet builds one engine and runner per binding. Names and keys must be
// unique and non-empty.
func NewSet(bindings []Binding, e hidout.Emitter, clock timeutil.Clock, settle time.Duration) (*Set, error) {
	s := &Set{
		byKey:  make(map[string]*Runner, len(bindings)),
		byName: make(map[string]*Runner, len(bindings)),
	}
	for _, b := range bindings {
		if b.Name == "" || b.Key == "" {
			return nil, fmt.Errorf("gesture: binding needs a name and a key (got name=%q key=%q)", b.Name, b.Key)
		}
		if _, ok := s.byName[b.Name]; ok {
			return nil, fmt.Errorf("%w: name %q", ErrDuplicateBinding, b.Name)
		}
		if _, ok := s.byKey[b.Key]; ok {
			return nil, fmt.Errorf("%w: key %q", ErrDuplicateBinding, b.Key)
		}
		r := NewRunner(NewEngine(b, e, clock, settle))
		s.runners = append(s.runners, r)
		s.byKey[b.Key] = r
		s.byName[b.Name] = r
	}
	return s, nil
}

// Start launches every runner.
func (s *Set) Start(ctx context.Context) {
	for _, r := range s.runners {
		r.Start(ctx)
	}
}

// Wait blocks until every runner has exited.
func (s *Set) Wait() {
	for _, r := range s.runners {
		r.Wait()
	}
}

// Sync waits for all queued finishes and resets to be applied.
func (s *Set) Sync(ctx context.Context) error {
	for _, r := range s.runners {
		if err := r.Sync(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SetObserver installs fn on every engine.
func (s *Set) SetObserver(fn func(Event)) {
	for _, r := range s.runners {
		r.engine.SetObserver(fn)
	}
}

// ByKey returns the runner bound to a physical key.
func (s *Set) ByKey(key string) (*Runner, bool) {
	r, ok := s.byKey[key]
	return r, ok
}

// ByName returns the runner for a binding name.
func (s *Set) ByName(name string) (*Runner, bool) {
	r, ok := s.byName[name]
	return r, ok
}

// Sinks maps each tap-dance key to its runner, for the Recognizer.
func (s *Set) Sinks() map[string]Sink {
	out := make(map[string]Sink, len(s.byKey))
	for k, r := range s.byKey {
		out[k] = r
	}
	return out
}

// Status is a point-in-time view of one engine.
type Status struct {
	Name    string            `json:"name"`
	Key     string            `json:"key"`
	Step    Class             `json:"step"`
	Actions map[string]string `json:"actions"`
}

// Status reports every engine in binding order.
func (s *Set) Status() []Status {
	out := make([]Status, 0, len(s.runners))
	for _, r := range s.runners {
		b := r.engine.Binding()
		st := Status{Name: b.Name, Key: b.Key, Step: r.engine.Step(), Actions: make(map[string]string, len(b.Actions))}
		for class, combo := range b.Actions {
			st.Actions[class.String()] = combo.String()
		}
		out = append(out, st)
	}
	return out
}

// ParseActions converts class-name → combo-string pairs, as stored in
// configuration, into an action map.
func ParseActions(in map[string]string) (map[Class]keycode.Combo, error) {
	out := make(map[Class]keycode.Combo, len(in))
	for name, spec := range in {
		class, err := ParseClass(name)
		if err != nil {
			return nil, err
		}
		if class == None {
			return nil, fmt.Errorf("gesture: cannot bind an action to %q", name)
		}
		combo, err := keycode.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("gesture: action for %s: %w", name, err)
		}
		out[class] = combo
	}
	return out, nil
}
