package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDisabledReportMux_UnsubscribeClosesChannel(t *testing.T) {
	d := NewDisabledReportMux()
	id, ch := d.Subscribe()

	done := make(chan struct{})
	go func() {
		_, ok := <-ch
		if ok {
			t.Errorf("expected channel to be closed on unsubscribe")
		}
		close(done)
	}()

	d.Unsubscribe(id)

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for subscriber to be unblocked after Unsubscribe")
	}
}

func TestDisabledReportMux_CloseClosesAllChannels(t *testing.T) {
	d := NewDisabledReportMux()
	_, ch1 := d.Subscribe()
	_, ch2 := d.Subscribe()

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, ch := range []chan []byte{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Errorf("channel %d still open after Close", i)
		}
	}

	// Second close is a no-op, later subscribers get a closed channel.
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	_, late := d.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected closed channel after Close")
	}
}

func TestDisabledReportMux_NoOps(t *testing.T) {
	var _ ReportMuxInterface = NewDisabledReportMux()
	var _ ReportMuxInterface = NewReportMux(NewTestableSerialPort())

	d := NewDisabledReportMux()
	if err := d.SendReport([]byte{1}); err != nil {
		t.Errorf("SendReport: %v", err)
	}
	if d.Stats() != (Stats{}) {
		t.Errorf("Stats = %+v", d.Stats())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor = %v", err)
	}

	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/serial-disabled", nil))
	if w.Code != http.StatusOK || w.Body.String() != "serial disabled" {
		t.Errorf("serial-disabled: %d %q", w.Code, w.Body.String())
	}
}
