package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalise_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	want := PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}
	if got != want {
		t.Errorf("Normalise() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalise_ExplicitValues(t *testing.T) {
	got, err := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	want := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}
	if got != want {
		t.Errorf("Normalise() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalise_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"non-standard baud", PortOptions{BaudRate: 12345}},
		{"data bits too low", PortOptions{DataBits: 4}},
		{"data bits too high", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "mark"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.opts.Normalise(); err == nil {
				t.Errorf("Normalise(%+v) expected error", tt.opts)
			}
		})
	}
}

func TestPortOptions_Normalise_NegativeBaudRate(t *testing.T) {
	got, err := PortOptions{BaudRate: -5}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	if got.BaudRate != DefaultBaudRate {
		t.Errorf("negative baud rate should default to %d, got %d", DefaultBaudRate, got.BaudRate)
	}
}

func TestPortOptions_Equal(t *testing.T) {
	if !(PortOptions{}).Equal(PortOptions{BaudRate: DefaultBaudRate, Parity: "none"}) {
		t.Error("defaults should equal their explicit form")
	}
	if (PortOptions{BaudRate: 9600}).Equal(PortOptions{BaudRate: 19200}) {
		t.Error("different baud rates should not be equal")
	}
	if (PortOptions{Parity: "X"}).Equal(PortOptions{Parity: "X"}) {
		t.Error("invalid options should never be equal")
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	tests := []struct {
		opts PortOptions
		want serial.Mode
	}{
		{PortOptions{}, serial.Mode{BaudRate: DefaultBaudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}},
		{PortOptions{BaudRate: 9600, Parity: "O", StopBits: 2}, serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.OddParity, StopBits: serial.TwoStopBits}},
		{PortOptions{Parity: "E", DataBits: 7}, serial.Mode{BaudRate: DefaultBaudRate, DataBits: 7, Parity: serial.EvenParity, StopBits: serial.OneStopBit}},
	}
	for _, tt := range tests {
		mode, err := tt.opts.SerialMode()
		if err != nil {
			t.Fatalf("SerialMode(%+v) error = %v", tt.opts, err)
		}
		if mode.BaudRate != tt.want.BaudRate || mode.DataBits != tt.want.DataBits ||
			mode.Parity != tt.want.Parity || mode.StopBits != tt.want.StopBits {
			t.Errorf("SerialMode(%+v) = %+v, want %+v", tt.opts, *mode, tt.want)
		}
	}

	if _, err := (PortOptions{DataBits: 12}).SerialMode(); err == nil {
		t.Error("expected error for invalid options")
	}
}
