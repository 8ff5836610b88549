package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeS16LE(t *testing.T) {
	data := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0xff, 0x7f}

	mono, err := DecodeS16LE(data, 1)
	require.NoError(t, err)
	if diff := cmp.Diff([]int16{1, -1, -32768, 32767}, mono); diff != "" {
		t.Errorf("mono mismatch (-want +got):\n%s", diff)
	}

	stereo, err := DecodeS16LE(data, 2)
	require.NoError(t, err)
	if diff := cmp.Diff([]int16{1, -32768}, stereo); diff != "" {
		t.Errorf("stereo mismatch (-want +got):\n%s", diff)
	}

	_, err = DecodeS16LE(data[:3], 1)
	assert.ErrorIs(t, err, ErrCapture)

	_, err = DecodeS16LE(data, 0)
	assert.Error(t, err)
}

func TestFormatValidate(t *testing.T) {
	assert.NoError(t, DefaultFormat().Validate())
	assert.Error(t, Format{SampleRate: 44100, Channels: 1}.Validate())
}

func TestMockSource(t *testing.T) {
	m := &MockSource{Block: []int16{1, 2, 3}}
	got, err := m.Capture(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2, 3, 1, 2}, got)

	m.Err = errors.New("device busy")
	_, err = m.Capture(context.Background(), 5)
	assert.ErrorIs(t, err, ErrCapture)
	assert.Equal(t, 2, m.Calls)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed)
}

func TestSineSource(t *testing.T) {
	s := SineSource{Frequency: 250, Amplitude: 30000, SampleRate: 44100}
	block, err := s.Capture(context.Background(), 1024)
	require.NoError(t, err)
	assert.Len(t, block, 1024)
	assert.Equal(t, int16(0), block[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Capture(ctx, 16)
	assert.ErrorIs(t, err, ErrCapture)
}

func TestArecordSource_Args(t *testing.T) {
	s, err := NewArecordSource("", DefaultFormat())
	require.NoError(t, err)
	assert.Equal(t, "default", s.Device)
	assert.Equal(t,
		[]string{"-q", "-D", "default", "-f", "S16_LE", "-c", "1", "-r", "44100", "-t", "raw", "-s", "1024"},
		s.args(1024))

	_, err = NewArecordSource("hw:1", Format{})
	assert.Error(t, err)
}

func TestArecordSource_MissingBinary(t *testing.T) {
	s, err := NewArecordSource("hw:9", DefaultFormat())
	require.NoError(t, err)
	s.Binary = filepath.Join(t.TempDir(), "no-such-arecord")

	_, err = s.Capture(context.Background(), 16)
	assert.ErrorIs(t, err, ErrCapture)
}

func TestArecordSource_ShortRead(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "arecord")
	// emits a single byte regardless of the requested length
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf 'x'\n"), 0o755))

	s, err := NewArecordSource("hw:0", DefaultFormat())
	require.NoError(t, err)
	s.Binary = script

	_, err = s.Capture(context.Background(), 16)
	assert.ErrorIs(t, err, ErrCapture)
	assert.Contains(t, err.Error(), "short read")
}
