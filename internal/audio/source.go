// Package audio captures fixed-size blocks of 16-bit microphone samples and
// reduces them to a dominant frequency and a loudness estimate.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCapture wraps every failure to obtain a block from the capture device
// (device busy, disconnected microphone, short read).
var ErrCapture = errors.New("audio capture failed")

// Format describes the capture stream.
type Format struct {
	SampleRate int
	Channels   int
	BlockSize  int
}

// DefaultFormat matches the hive microphone: 44.1kHz mono, 1024-sample blocks.
func DefaultFormat() Format {
	return Format{SampleRate: 44100, Channels: 1, BlockSize: 1024}
}

// Validate checks that every field is positive.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BlockSize <= 0 {
		return fmt.Errorf("invalid audio format %+v: all fields must be positive", f)
	}
	return nil
}

// Source yields blocks of mono signed 16-bit samples.
type Source interface {
	// Capture returns exactly n samples or an error wrapping ErrCapture.
	Capture(ctx context.Context, n int) ([]int16, error)
	// Close releases the device.
	Close() error
}

// DecodeS16LE decodes interleaved little-endian signed 16-bit frames and
// returns the first channel of each frame.
func DecodeS16LE(data []byte, channels int) ([]int16, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	frame := 2 * channels
	if len(data)%frame != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames", ErrCapture, len(data), frame)
	}
	samples := make([]int16, len(data)/frame)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*frame:]))
	}
	return samples, nil
}
