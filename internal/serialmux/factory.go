package serialmux

import (
	"go.bug.st/serial"
)

// RealSerialPortFactory opens hardware serial ports with go.bug.st/serial.
type RealSerialPortFactory struct{}

// NewRealSerialPortFactory returns a factory for hardware serial ports.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens the serial device at path.
func (RealSerialPortFactory) Open(path string, opts PortOptions) (TimeoutSerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}
