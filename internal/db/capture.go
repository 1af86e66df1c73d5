package db

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/musicviz/musicviz/internal/gesture"
	"github.com/musicviz/musicviz/internal/hidproto"
	"github.com/musicviz/musicviz/internal/monitoring"
	"github.com/musicviz/musicviz/internal/timeutil"
)

// CaptureWriter moves report and gesture capture off the hot paths: the
// decoder and gesture engines enqueue, one goroutine writes to sqlite. When
// the queue is full new items are dropped and counted.
type CaptureWriter struct {
	db        *DB
	sessionID string
	clock     timeutil.Clock
	queue     chan captureItem
	dropped   atomic.Uint64
	written   atomic.Uint64

	wg sync.WaitGroup
}

// NewCaptureWriter writes into the given session. A nil clock selects the
// real clock.
func NewCaptureWriter(db *DB, sessionID string, clock timeutil.Clock, queueSize int) *CaptureWriter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &CaptureWriter{db: db, sessionID: sessionID, clock: clock, queue: make(chan captureItem, queueSize)}
}

type captureItem struct {
	write func() error
	done  chan struct{}
}

// ObserveReport has the hidproto.Observer signature.
func (w *CaptureWriter) ObserveReport(buf []byte, rxMs uint32, err error) {
	c := Capture{
		SessionID:  w.sessionID,
		RxMs:       rxMs,
		Verdict:    hidproto.Verdict(err),
		Raw:        bytes.Clone(buf),
		RecordedAt: w.clock.Now(),
	}
	if err == nil {
		if rec, decErr := hidproto.Decode(buf, rxMs); decErr == nil {
			c.Record = &rec
		}
	}
	w.enqueue(captureItem{write: func() error { return w.db.RecordReport(c) }})
}

// ObserveGesture has the gesture observer signature.
func (w *CaptureWriter) ObserveGesture(ev gesture.Event) {
	w.enqueue(captureItem{write: func() error { return w.db.RecordGesture(w.sessionID, ev) }})
}

func (w *CaptureWriter) enqueue(item captureItem) {
	select {
	case w.queue <- item:
	default:
		if w.dropped.Add(1) == 1 {
			monitoring.Logf("capture queue full, dropping writes")
		}
	}
}

// Start launches the writer goroutine. It writes queued items until ctx is
// done, then drains what is left.
func (w *CaptureWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *CaptureWriter) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case item := <-w.queue:
			w.write(item)
		case <-ctx.Done():
			for {
				select {
				case item := <-w.queue:
					w.write(item)
				default:
					return
				}
			}
		}
	}
}

func (w *CaptureWriter) write(item captureItem) {
	if item.done != nil {
		close(item.done)
		return
	}
	if err := item.write(); err != nil {
		monitoring.Logf("capture write failed: %v", err)
		return
	}
	w.written.Add(1)
}

// Flush blocks until every item queued before the call has been written,
// or ctx is done. Start must have been called.
func (w *CaptureWriter) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case w.queue <- captureItem{done: done}:
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

// Wait blocks until the writer goroutine has exited.
func (w *CaptureWriter) Wait() { w.wg.Wait() }

// CaptureStats counts capture writes.
type CaptureStats struct {
	SessionID string `json:"session_id"`
	Written   uint64 `json:"written"`
	Dropped   uint64 `json:"dropped"`
}

func (w *CaptureWriter) Stats() CaptureStats {
	return CaptureStats{SessionID: w.sessionID, Written: w.written.Load(), Dropped: w.dropped.Load()}
}

// SessionID returns the session the writer records into.
func (w *CaptureWriter) SessionID() string { return w.sessionID }
