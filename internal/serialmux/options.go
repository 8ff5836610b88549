package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the hive firmware prints its readings at.
const DefaultBaudRate = 9600

var standardBaudRates = map[int]bool{
	300: true, 1200: true, 2400: true, 4800: true, 9600: true, 14400: true,
	19200: true, 38400: true, 57600: true, 115200: true, 230400: true,
}

// canonical parity letter for every accepted spelling
var parityNames = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

var serialParity = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var serialStopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// PortOptions is the line discipline of the microcontroller link. Zero
// values mean 9600 8N1.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalise fills in defaults and rejects settings the port cannot use.
// Parity comes back as a single letter.
func (o PortOptions) Normalise() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	_, stopOK := serialStopBits[o.StopBits]
	parity, parityOK := parityNames[strings.ToUpper(strings.TrimSpace(o.Parity))]

	switch {
	case !standardBaudRates[o.BaudRate]:
		return o, fmt.Errorf("invalid baud rate %d: not a standard rate", o.BaudRate)
	case o.DataBits < 5 || o.DataBits > 8:
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	case !stopOK:
		return o, fmt.Errorf("invalid stop bits %d: must be 1 or 2", o.StopBits)
	case !parityOK:
		return o, fmt.Errorf("unsupported parity %q: expected N, E or O", o.Parity)
	}
	o.Parity = parity
	return o, nil
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalise()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: serialStopBits[n.StopBits],
		Parity:   serialParity[n.Parity],
	}, nil
}
