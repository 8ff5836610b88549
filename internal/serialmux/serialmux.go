// Package serialmux owns the serial link to the hive microcontroller. It reads
// one line per sampling cycle with a bounded timeout, reopens the device after
// failures, and fans every line it reads out to debug subscribers.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/hivemind/internal/monitoring"
)

var (
	// ErrReadTimeout is returned when no complete line arrives before the
	// read timeout.
	ErrReadTimeout = errors.New("serial read timed out")
	// ErrDisconnected wraps open and read failures of the underlying device.
	ErrDisconnected = errors.New("serial device unavailable")
	// ErrClosed is returned by ReadLine after Close.
	ErrClosed = errors.New("serial reader closed")
)

const (
	// pollInterval bounds a single device read so context cancellation and
	// the overall deadline are observed promptly.
	pollInterval = 100 * time.Millisecond
	// maxPending caps buffered bytes without a newline; a device spewing
	// garbage cannot grow memory without bound.
	maxPending = 4096
)

// SerialMux reads lines from a single serial device. ReadLine is meant to be
// called from one owner (the update task); Subscribe lets debug tooling watch
// the same lines without stealing them.
type SerialMux struct {
	path    string
	opts    PortOptions
	timeout time.Duration
	factory SerialPortFactory

	readMu  sync.Mutex
	port    TimeoutSerialPorter
	pending []byte
	closed  bool

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
	lastLine     string
	lastLineAt   time.Time
}

// NewSerialMux creates a reader for the device at path. The device is not
// opened until the first ReadLine.
func NewSerialMux(path string, opts PortOptions, timeout time.Duration, factory SerialPortFactory) *SerialMux {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SerialMux{
		path:        path,
		opts:        opts,
		timeout:     timeout,
		factory:     factory,
		subscribers: make(map[string]chan string),
	}
}

func (s *SerialMux) String() string {
	return fmt.Sprintf("serial(%s @ %d baud)", s.path, s.opts.BaudRate)
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Open opens the device eagerly. It is optional: ReadLine opens on demand.
func (s *SerialMux) Open() error {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	return s.ensureOpen()
}

func (s *SerialMux) ensureOpen() error {
	if s.closed {
		return ErrClosed
	}
	if s.port != nil {
		return nil
	}
	port, err := s.factory.Open(s.path, s.opts)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrDisconnected, s.path, err)
	}
	poll := pollInterval
	if s.timeout < poll {
		poll = s.timeout
	}
	if err := port.SetReadTimeout(poll); err != nil {
		port.Close()
		return fmt.Errorf("%w: set read timeout on %s: %v", ErrDisconnected, s.path, err)
	}
	s.port = port
	s.pending = s.pending[:0]
	monitoring.Logf("opened serial device %s", s.path)
	return nil
}

// dropPort closes the current port so the next ReadLine reopens it.
func (s *SerialMux) dropPort() {
	if s.port == nil {
		return
	}
	if err := s.port.Close(); err != nil {
		monitoring.Logf("warning: closing serial device %s: %v", s.path, err)
	}
	s.port = nil
	s.pending = s.pending[:0]
}

// ReadLine returns the most recent complete line received from the device,
// waiting at most the configured timeout. Input the device has already
// buffered is drained first, so older complete lines queued since the
// previous call are discarded and each sample reflects current conditions.
func (s *SerialMux) ReadLine(ctx context.Context) (string, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return "", err
	}

	deadline := time.Now().Add(s.timeout)
	chunk := make([]byte, 256)
	// a full chunk means the device may hold more; keep reading before
	// picking a line, unless the deadline has passed
	draining := true
	for {
		expired := !time.Now().Before(deadline)
		if !draining || expired {
			if line, ok := s.takeLine(); ok {
				s.publish(line)
				return line, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if expired {
			return "", fmt.Errorf("%w after %s", ErrReadTimeout, s.timeout)
		}

		n, err := s.port.Read(chunk)
		if n > 0 {
			s.pending = append(s.pending, chunk[:n]...)
			if len(s.pending) > maxPending && bytes.IndexByte(s.pending, '\n') < 0 {
				monitoring.Logf("warning: discarded %d bytes without a line terminator from %s", len(s.pending), s.path)
				s.pending = s.pending[:0]
			}
		}
		if err != nil {
			s.dropPort()
			return "", fmt.Errorf("%w: read %s: %v", ErrDisconnected, s.path, err)
		}
		draining = n == len(chunk)
	}
}

// takeLine extracts the last non-blank complete line from the pending buffer,
// keeping any trailing partial line for the next read.
func (s *SerialMux) takeLine() (string, bool) {
	last := bytes.LastIndexByte(s.pending, '\n')
	if last < 0 {
		return "", false
	}
	var line string
	lines := bytes.Split(s.pending[:last], []byte{'\n'})
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := bytes.TrimSpace(lines[i]); len(trimmed) > 0 {
			line = string(trimmed)
			break
		}
	}
	s.pending = append(s.pending[:0], s.pending[last+1:]...)
	return line, line != ""
}

// publish records the line and forwards it to subscribers without blocking.
func (s *SerialMux) publish(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.lastLine = line
	s.lastLineAt = time.Now()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// if the channel is full/blocking skip so as not to block the reader
		}
	}
}

// LastLine returns the most recent line read and when it was read.
func (s *SerialMux) LastLine() (string, time.Time) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	return s.lastLine, s.lastLineAt
}

// Subscribe creates a new channel receiving every line ReadLine returns. The
// channel ID is used to identify the unique channel when unsubscribing.
func (s *SerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 8)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Close closes all subscribed channels and the serial port. It waits for an
// in-flight ReadLine, which is bounded by the read timeout.
func (s *SerialMux) Close() error {
	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()

	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.closed = true
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
