package serialmux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledReportMux is a no-op ReportMux used when no report link is
// configured. It lets the daemon and admin routes run without a device.
// Subscribers are tracked so their channels are deterministically closed on
// Unsubscribe() or Close(), allowing readers to unblock during shutdown.
type DisabledReportMux struct {
	mu          sync.Mutex
	subscribers map[string]chan []byte
	closing     bool
}

func NewDisabledReportMux() *DisabledReportMux {
	return &DisabledReportMux{
		subscribers: make(map[string]chan []byte),
	}
}

func (d *DisabledReportMux) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledReportMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledReportMux) SendReport([]byte) error { return nil }

func (d *DisabledReportMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledReportMux) Stats() Stats { return Stats{} }

func (d *DisabledReportMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledReportMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("serial disabled"))
	})
}
