package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerialPort opens a real serial port with go.bug.st/serial.
func OpenSerialPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// NewRealReportMux creates a ReportMux backed by a real serial port at the
// given path using the provided serial options.
func NewRealReportMux(path string, opts PortOptions) (*ReportMux[SerialPorter], error) {
	return NewReportMuxWith(OpenSerialPort, path, opts)
}

// NewReportMuxWith opens path with open and wraps the port in a ReportMux.
func NewReportMuxWith(open SerialPortOpener, path string, opts PortOptions) (*ReportMux[SerialPorter], error) {
	port, err := open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewReportMux(port), nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
