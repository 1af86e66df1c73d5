package serialmux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// MockSerialPort is a SerialPorter whose reads come from a pipe and whose
// writes are discarded.
type MockSerialPort struct {
	io.Reader
	w      *io.PipeWriter
	cancel context.CancelFunc
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func (m *MockSerialPort) Close() error {
	m.cancel()
	return m.w.Close()
}

// NewMockReportMux creates a ReportMux fed by gen every interval, standing
// in for a host sender when no device is attached.
func NewMockReportMux(gen func() []byte, interval time.Duration) *ReportMux[*MockSerialPort] {
	r, w := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	mockPort := &MockSerialPort{Reader: r, w: w, cancel: cancel}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.Write(gen()); err != nil {
					return
				}
			}
		}
	}()

	return NewReportMux(mockPort)
}

// TestableSerialPort is an in-memory SerialPorter for tests. Reads drain
// whatever AddReadData queued, writes accumulate for GetWrittenData, and the
// error fields fail the next matching call once.
type TestableSerialPort struct {
	mu       sync.Mutex
	readable *sync.Cond
	in       bytes.Buffer
	out      bytes.Buffer

	ReadError  error
	WriteError error
	// ShortWrite reports one byte fewer than was written.
	ShortWrite bool
	// BlockReads parks Read on an empty buffer until data arrives or the
	// port is closed, like an idle device.
	BlockReads bool
	Closed     bool
}

var errPortClosed = errors.New("serial port closed")

func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.readable = sync.NewCond(&t.mu)
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ReadError; err != nil {
		t.ReadError = nil
		return 0, err
	}
	for t.BlockReads && !t.Closed && t.in.Len() == 0 {
		t.readable.Wait()
	}
	if t.Closed {
		return 0, errPortClosed
	}
	return t.in.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return 0, errPortClosed
	}
	if err := t.WriteError; err != nil {
		t.WriteError = nil
		return 0, err
	}
	n, err := t.out.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.readable.Broadcast()
	return nil
}

// AddReadData queues bytes for the reader, as if the host had sent them.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.in.Write(data)
	t.readable.Broadcast()
}

// GetWrittenData returns a copy of everything written so far.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.out.Bytes())
}
