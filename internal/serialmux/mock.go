package serialmux

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestableSerialPort is an in-memory port. Reads on an empty buffer wait up
// to ReadTimeout for AddReadData and then return (0, nil) like a real port
// whose read deadline passed.
type TestableSerialPort struct {
	mu sync.Mutex

	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer
	ReadError   error // returned once by the next Read
	CloseError  error
	Closed      bool
	ReadCalls   int
	ReadTimeout time.Duration

	dataReady chan struct{}
}

func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		dataReady:   make(chan struct{}, 1),
	}
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	t.ReadCalls++
	if t.Closed {
		t.mu.Unlock()
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		t.mu.Unlock()
		return 0, err
	}
	if t.ReadBuffer.Len() > 0 {
		defer t.mu.Unlock()
		return t.ReadBuffer.Read(p)
	}
	timeout := t.ReadTimeout
	t.mu.Unlock()

	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}
	select {
	case <-t.dataReady:
	case <-time.After(timeout):
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	return t.WriteBuffer.Write(p)
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return t.CloseError
}

func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// AddReadData queues data for Read and wakes a waiting reader.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	t.ReadBuffer.Write(data)
	t.mu.Unlock()
	select {
	case t.dataReady <- struct{}{}:
	default:
	}
}

// SetReadError makes the next Read fail with err.
func (t *TestableSerialPort) SetReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
}

func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// MockSerialPortFactory hands out its Ports in order, reusing the last one,
// and records every Open.
type MockSerialPortFactory struct {
	mu        sync.Mutex
	Ports     []*TestableSerialPort
	Error     error
	OpenCalls []MockOpenCall
}

type MockOpenCall struct {
	Path string
	Opts PortOptions
}

func NewMockSerialPortFactory(ports ...*TestableSerialPort) *MockSerialPortFactory {
	return &MockSerialPortFactory{Ports: ports}
}

func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (TimeoutSerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Opts: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	if len(f.Ports) == 0 {
		return nil, errors.New("no mock serial port configured")
	}
	port := f.Ports[0]
	if len(f.Ports) > 1 {
		f.Ports = f.Ports[1:]
	}
	return port, nil
}

func (f *MockSerialPortFactory) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Error = err
}

func (f *MockSerialPortFactory) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.OpenCalls)
}

// NewFixtureSerialPortFactory returns a factory whose port replays line every
// interval, simulating a microcontroller in dev mode.
func NewFixtureSerialPortFactory(line []byte, interval time.Duration) SerialPortFactory {
	if !bytes.HasSuffix(line, []byte("\n")) {
		line = append(append([]byte(nil), line...), '\n')
	}
	return SerialPortOpener(func(string, PortOptions) (TimeoutSerialPorter, error) {
		port := NewTestableSerialPort()
		port.AddReadData(line)
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for range ticker.C {
				if port.IsClosed() {
					return
				}
				port.AddReadData(line)
			}
		}()
		return port, nil
	})
}
