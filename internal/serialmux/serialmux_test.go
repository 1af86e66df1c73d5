package serialmux

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/musicviz/musicviz/internal/hidproto"
)

func testReport(fill byte) []byte {
	r := make([]byte, hidproto.ReportSize)
	r[0] = hidproto.Magic
	r[1] = hidproto.Version
	for i := 2; i < len(r); i++ {
		r[i] = fill
	}
	return r
}

func runMonitor(t *testing.T, mux *ReportMux[*TestableSerialPort]) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()
	return cancel, errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Monitor to return")
		return nil
	}
}

func TestNewReportMux(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewReportMux(port)

	if mux.port != port {
		t.Error("ReportMux port not set correctly")
	}
	if mux.size != hidproto.ReportSize {
		t.Errorf("size = %d, want %d", mux.size, hidproto.ReportSize)
	}
	if mux.subscribers == nil {
		t.Error("ReportMux subscribers map not initialised")
	}
}

func TestReportMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewReportMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == id2 {
		t.Error("Subscription IDs should be unique")
	}
	if len(mux.subscribers) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(mux.subscribers))
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
	if len(mux.subscribers) != 1 {
		t.Errorf("expected 1 subscriber, got %d", len(mux.subscribers))
	}

	// Unknown IDs are ignored.
	mux.Unsubscribe("nope")
}

func TestReportMux_MonitorSplitsReports(t *testing.T) {
	port := NewTestableSerialPort()
	var stream bytes.Buffer
	stream.Write(testReport(0x11))
	stream.Write(testReport(0x22))
	stream.Write(testReport(0x33))
	port.AddReadData(stream.Bytes())

	mux := NewReportMux(port)
	_, ch := mux.Subscribe()
	cancel, errCh := runMonitor(t, mux)
	defer cancel()

	for _, fill := range []byte{0x11, 0x22, 0x33} {
		select {
		case got := <-ch:
			if !bytes.Equal(got, testReport(fill)) {
				t.Errorf("report = %x, want fill %#x", got, fill)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for report %#x", fill)
		}
	}

	// EOF on a report boundary is a clean end of stream.
	if err := waitErr(t, errCh); err != nil {
		t.Errorf("Monitor returned %v, want nil", err)
	}
	if got := mux.Stats().Reports; got != 3 {
		t.Errorf("Stats().Reports = %d, want 3", got)
	}
}

func TestReportMux_MonitorPartialReport(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData(testReport(0x01)[:10])

	mux := NewReportMux(port)
	cancel, errCh := runMonitor(t, mux)
	defer cancel()

	if err := waitErr(t, errCh); !errors.Is(err, ErrPartialReport) {
		t.Errorf("Monitor returned %v, want ErrPartialReport", err)
	}
}

func TestReportMux_MonitorRealignsAfterShortMessage(t *testing.T) {
	port := NewTestableSerialPort()
	var stream bytes.Buffer
	stream.Write(testReport(0x55)[:20])
	fills := []byte{0x11, 0x22, 0x33, 0x44, 0x66}
	for _, fill := range fills {
		stream.Write(testReport(fill))
	}
	port.AddReadData(stream.Bytes())

	mux := NewReportMux(port)
	_, ch := mux.Subscribe()
	cancel, errCh := runMonitor(t, mux)
	defer cancel()

	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("Monitor returned %v, want nil", err)
	}

	var accepted, tooShort int
	var got [][]byte
	for len(ch) > 0 {
		report := <-ch
		switch _, err := hidproto.Decode(report, 0); {
		case err == nil:
			accepted++
			got = append(got, report)
		case errors.Is(err, hidproto.ErrTooShort):
			tooShort++
		default:
			t.Errorf("unexpected rejection %v for %x", err, report)
		}
	}
	if accepted != len(fills) || tooShort != 1 {
		t.Fatalf("accepted=%d tooShort=%d, want %d and 1", accepted, tooShort, len(fills))
	}
	for i, fill := range fills {
		if !bytes.Equal(got[i], testReport(fill)) {
			t.Errorf("report %d = %x, want fill %#x", i, got[i], fill)
		}
	}
}

func TestReportMux_MonitorSkipsNoise(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte{0x00, 0xff, hidproto.Magic})
	port.AddReadData(testReport(0x11))

	mux := NewReportMux(port)
	_, ch := mux.Subscribe()
	cancel, errCh := runMonitor(t, mux)
	defer cancel()

	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("Monitor returned %v, want nil", err)
	}
	if len(ch) != 1 {
		t.Fatalf("got %d reports, want 1", len(ch))
	}
	if got := <-ch; !bytes.Equal(got, testReport(0x11)) {
		t.Errorf("report = %x, want fill 0x11", got)
	}
	if got := mux.Stats().Skipped; got != 3 {
		t.Errorf("Stats().Skipped = %d, want 3", got)
	}
}

func TestReportMux_MonitorReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("device unplugged")

	mux := NewReportMux(port)
	cancel, errCh := runMonitor(t, mux)
	defer cancel()

	err := waitErr(t, errCh)
	if err == nil || err.Error() != "device unplugged" {
		t.Errorf("Monitor returned %v, want device unplugged", err)
	}
}

func TestReportMux_MonitorContextCancel(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true

	mux := NewReportMux(port)
	cancel, errCh := runMonitor(t, mux)
	cancel()

	if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor returned %v, want context.Canceled", err)
	}
	port.Close()
}

func TestReportMux_CloseStopsMonitor(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true

	mux := NewReportMux(port)
	_, ch := mux.Subscribe()
	cancel, errCh := runMonitor(t, mux)
	defer cancel()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel to be closed")
	}
	if err := waitErr(t, errCh); err != nil {
		t.Errorf("Monitor returned %v after Close, want nil", err)
	}
	if !port.Closed {
		t.Error("port was not closed")
	}

	// Subscribing after close hands back a closed channel.
	_, late := mux.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected closed channel after Close")
	}
}

func TestReportMux_SlowSubscriberDrops(t *testing.T) {
	port := NewTestableSerialPort()
	for i := 0; i < subscriberBuffer+4; i++ {
		port.AddReadData(testReport(byte(i)))
	}

	mux := NewReportMux(port)
	_, ch := mux.Subscribe()
	cancel, errCh := runMonitor(t, mux)
	defer cancel()

	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if got := len(ch); got != subscriberBuffer {
		t.Errorf("buffered reports = %d, want %d", got, subscriberBuffer)
	}
	if got := mux.Stats().Dropped; got != 4 {
		t.Errorf("Stats().Dropped = %d, want 4", got)
	}
}

func TestReportMux_SendReport(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewReportMux(port)

	report := testReport(0x7f)
	if err := mux.SendReport(report); err != nil {
		t.Fatalf("SendReport: %v", err)
	}
	if !bytes.Equal(port.GetWrittenData(), report) {
		t.Errorf("written = %x, want %x", port.GetWrittenData(), report)
	}
	if got := mux.Stats().Sent; got != 1 {
		t.Errorf("Stats().Sent = %d, want 1", got)
	}

	if err := mux.SendReport(report[:31]); !errors.Is(err, ErrReportSize) {
		t.Errorf("short report: got %v, want ErrReportSize", err)
	}

	port.ShortWrite = true
	if err := mux.SendReport(report); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("short write: got %v, want ErrWriteFailed", err)
	}
	port.ShortWrite = false

	port.WriteError = errors.New("io error")
	if err := mux.SendReport(report); err == nil {
		t.Error("expected write error")
	}
}

func TestParseHexReport(t *testing.T) {
	got, err := ParseHexReport("4d 01 05\n80", hidproto.ReportSize)
	if err != nil {
		t.Fatalf("ParseHexReport: %v", err)
	}
	want := make([]byte, hidproto.ReportSize)
	copy(want, []byte{0x4d, 0x01, 0x05, 0x80})
	if !bytes.Equal(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}

	if _, err := ParseHexReport("zz", hidproto.ReportSize); err == nil {
		t.Error("expected error for invalid hex")
	}
	if _, err := ParseHexReport(string(bytes.Repeat([]byte("00"), 33)), hidproto.ReportSize); !errors.Is(err, ErrReportSize) {
		t.Errorf("oversized: got %v, want ErrReportSize", err)
	}
}

func TestNewMockReportMux(t *testing.T) {
	mux := NewMockReportMux(func() []byte { return testReport(0x42) }, 5*time.Millisecond)
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	select {
	case got := <-ch:
		if !bytes.Equal(got, testReport(0x42)) {
			t.Errorf("report = %x", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for mock report")
	}
	if err := mux.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewReportMuxWith(t *testing.T) {
	port := NewTestableSerialPort()
	var gotPath string
	var gotOpts PortOptions
	open := func(path string, opts PortOptions) (SerialPorter, error) {
		gotPath, gotOpts = path, opts
		return port, nil
	}

	mux, err := NewReportMuxWith(open, "/dev/ttyACM0", PortOptions{BaudRate: 9600})
	if err != nil {
		t.Fatalf("NewReportMuxWith: %v", err)
	}
	if gotPath != "/dev/ttyACM0" || gotOpts.BaudRate != 9600 {
		t.Errorf("opener called with %q %+v", gotPath, gotOpts)
	}
	if err := mux.SendReport(testReport(0)); err != nil {
		t.Errorf("SendReport: %v", err)
	}

	failing := func(string, PortOptions) (SerialPorter, error) { return nil, errors.New("busy") }
	if _, err := NewReportMuxWith(failing, "/dev/null", PortOptions{}); err == nil {
		t.Error("expected opener error")
	}
}
