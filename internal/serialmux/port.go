package serialmux

import "io"

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortOpener opens a serial port at path. Commands take one so tests
// can substitute a TestableSerialPort for real hardware.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)
