package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ArecordSource captures from an ALSA device by running arecord for each
// block. Each capture opens and releases the device, so a microphone that was
// busy or unplugged is retried on the next cycle.
type ArecordSource struct {
	Device string
	Format Format
	// Binary is the arecord executable; empty means "arecord" on PATH.
	Binary string
}

// NewArecordSource returns a source reading from the given ALSA device.
func NewArecordSource(device string, format Format) (*ArecordSource, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if device == "" {
		device = "default"
	}
	return &ArecordSource{Device: device, Format: format}, nil
}

func (s *ArecordSource) args(n int) []string {
	return []string{
		"-q",
		"-D", s.Device,
		"-f", "S16_LE",
		"-c", strconv.Itoa(s.Format.Channels),
		"-r", strconv.Itoa(s.Format.SampleRate),
		"-t", "raw",
		"-s", strconv.Itoa(n),
	}
}

// Capture records n frames and returns the first channel of each.
func (s *ArecordSource) Capture(ctx context.Context, n int) ([]int16, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: invalid block size %d", ErrCapture, n)
	}

	// the block itself plus generous device start-up time
	blockDuration := time.Duration(float64(n) / float64(s.Format.SampleRate) * float64(time.Second))
	ctx, cancel := context.WithTimeout(ctx, blockDuration+3*time.Second)
	defer cancel()

	bin := s.Binary
	if bin == "" {
		bin = "arecord"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, s.args(n)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrCapture, s.Device, msg)
	}

	want := n * 2 * s.Format.Channels
	if stdout.Len() < want {
		return nil, fmt.Errorf("%w: short read from %s: got %d bytes, want %d", ErrCapture, s.Device, stdout.Len(), want)
	}
	return DecodeS16LE(stdout.Bytes()[:want], s.Format.Channels)
}

// Close is a no-op; the device is only held while arecord runs.
func (s *ArecordSource) Close() error { return nil }
