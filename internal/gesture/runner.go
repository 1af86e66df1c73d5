package gesture

import (
	"context"
	"sync"
)

// Sink receives the terminal events of a tap sequence.
type Sink interface {
	Finish(obs Observation)
	Reset()
}

type opKind uint8

const (
	opFinish opKind = iota
	opReset
	opSync
)

type op struct {
	kind opKind
	obs  Observation
	done chan struct{}
}

// Runner is the single owner of an Engine. Finish and Reset are queued and
// applied in order by one goroutine, so a reset (and its settle delay)
// always runs after the finish that preceded it.
type Runner struct {
	engine *Engine
	ops    chan op

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewRunner wraps e. Call Start before queuing work.
func NewRunner(e *Engine) *Runner {
	return &Runner{engine: e, ops: make(chan op, 16)}
}

func (r *Runner) Engine() *Engine { return r.engine }

// Start launches the goroutine. It exits when ctx is cancelled, after
// applying whatever was already queued and releasing a combo still held.
func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.loop(ctx)
	})
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case o := <-r.ops:
			r.apply(o)
		case <-ctx.Done():
			for {
				select {
				case o := <-r.ops:
					r.apply(o)
				default:
					r.engine.ReleaseHeld()
					return
				}
			}
		}
	}
}

func (r *Runner) apply(o op) {
	switch o.kind {
	case opFinish:
		r.engine.OnFinish(o.obs)
	case opReset:
		r.engine.OnReset()
	}
	if o.done != nil {
		close(o.done)
	}
}

// Finish queues OnFinish.
func (r *Runner) Finish(obs Observation) {
	r.ops <- op{kind: opFinish, obs: obs}
}

// Reset queues OnReset.
func (r *Runner) Reset() {
	r.ops <- op{kind: opReset}
}

// Sync blocks until everything queued before it has been applied, or ctx
// is done.
func (r *Runner) Sync(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case r.ops <- op{kind: opSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the goroutine started by Start has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}
