package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities. A read
// that times out returns (0, nil), matching go.bug.st/serial.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortFactory defines an interface for creating serial ports.
// The line reader reopens the device through it after every failure, so a
// microcontroller that is unplugged and reconnected resumes without a restart.
type SerialPortFactory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts PortOptions) (TimeoutSerialPorter, error)
}

// SerialPortOpener adapts a plain function to SerialPortFactory.
type SerialPortOpener func(path string, opts PortOptions) (TimeoutSerialPorter, error)

// Open calls f.
func (f SerialPortOpener) Open(path string, opts PortOptions) (TimeoutSerialPorter, error) {
	return f(path, opts)
}
