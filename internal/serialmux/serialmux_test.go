package serialmux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hivemind/internal/monitoring"
	"github.com/banshee-data/hivemind/internal/testutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func newTestMux(t *testing.T, timeout time.Duration, ports ...*TestableSerialPort) (*SerialMux, *MockSerialPortFactory) {
	t.Helper()
	factory := NewMockSerialPortFactory(ports...)
	mux := NewSerialMux("/dev/ttyTEST0", PortOptions{BaudRate: 9600}, timeout, factory)
	t.Cleanup(func() { mux.Close() })
	return mux, factory
}

func TestSerialMux_ReadLine(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("{\"Internal_C\": 35}\r\n"))
	mux, factory := newTestMux(t, time.Second, port)

	line, err := mux.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"Internal_C": 35}`, line)

	require.Equal(t, 1, factory.OpenCount())
	assert.Equal(t, "/dev/ttyTEST0", factory.OpenCalls[0].Path)
	assert.Equal(t, 9600, factory.OpenCalls[0].Opts.BaudRate)
	assert.Equal(t, 100*time.Millisecond, port.ReadTimeout, "poll interval should bound each device read")
}

func TestSerialMux_ReadLine_ReturnsNewestCompleteLine(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("{\"a\": 1}\n{\"a\": 2}\n\n{\"a\": 3}\n{\"a\": 4"))
	mux, _ := newTestMux(t, time.Second, port)

	line, err := mux.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"a": 3}`, line)

	// the partial line is completed by the next chunk
	port.AddReadData([]byte("}\n"))
	line, err = mux.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"a": 4}`, line)
}

func TestSerialMux_ReadLine_DrainsBacklogBeforeTakingLine(t *testing.T) {
	port := NewTestableSerialPort()
	var backlog []byte
	for i := 0; i < 60; i++ {
		backlog = append(backlog, fmt.Sprintf("{\"n\": %d}\n", i)...)
	}
	require.Greater(t, len(backlog), 512, "backlog must span several device reads")
	port.AddReadData(backlog)
	mux, _ := newTestMux(t, time.Second, port)

	line, err := mux.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"n": 59}`, line)
	assert.Zero(t, port.ReadBuffer.Len(), "device buffer should be drained")
}

func TestSerialMux_ReadLine_AssemblesSplitLine(t *testing.T) {
	port := NewTestableSerialPort()
	mux, _ := newTestMux(t, time.Second, port)

	go func() {
		port.AddReadData([]byte(`{"External_C": `))
		time.Sleep(20 * time.Millisecond)
		port.AddReadData([]byte("150}\n"))
	}()

	line, err := mux.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"External_C": 150}`, line)
}

func TestSerialMux_ReadLine_Timeout(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("no terminator"))
	mux, _ := newTestMux(t, 50*time.Millisecond, port)

	start := time.Now()
	_, err := mux.ReadLine(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadTimeout))
	assert.Less(t, time.Since(start), time.Second, "read must be bounded by the timeout")
	assert.False(t, port.IsClosed(), "a timeout keeps the port open")
}

func TestSerialMux_ReadLine_ContextCancelled(t *testing.T) {
	port := NewTestableSerialPort()
	mux, _ := newTestMux(t, 10*time.Second, port)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := mux.ReadLine(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSerialMux_ReopensAfterReadError(t *testing.T) {
	first := NewTestableSerialPort()
	first.SetReadError(errors.New("device unplugged"))
	second := NewTestableSerialPort()
	second.AddReadData([]byte("{\"x\": 1}\n"))
	mux, factory := newTestMux(t, time.Second, first, second)

	_, err := mux.ReadLine(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDisconnected))
	assert.True(t, first.IsClosed(), "failed port should be closed")

	line, err := mux.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"x": 1}`, line)
	assert.Equal(t, 2, factory.OpenCount())
}

func TestSerialMux_OpenFailureIsRetriedNextCall(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("{\"x\": 2}\n"))
	mux, factory := newTestMux(t, time.Second, port)
	factory.SetError(errors.New("no such device"))

	_, err := mux.ReadLine(context.Background())
	require.ErrorIs(t, err, ErrDisconnected)

	factory.SetError(nil)
	line, err := mux.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"x": 2}`, line)
}

func TestSerialMux_SubscribeReceivesLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("{\"x\": 3}\n"))
	mux, _ := newTestMux(t, time.Second, port)

	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	_, err := mux.ReadLine(context.Background())
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, `{"x": 3}`, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive line")
	}

	line, at := mux.LastLine()
	assert.Equal(t, `{"x": 3}`, line)
	assert.False(t, at.IsZero())
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux("/dev/ttyTEST0", PortOptions{}, time.Second, NewMockSerialPortFactory(port))
	require.NoError(t, mux.Open())

	_, ch := mux.Subscribe()
	require.NoError(t, mux.Close())

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel should be closed")
	assert.True(t, port.IsClosed())

	_, err := mux.ReadLine(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFixtureSerialPortFactory(t *testing.T) {
	factory := NewFixtureSerialPortFactory([]byte(`{"internal_temperature": 34}`), 10*time.Millisecond)
	mux := NewSerialMux("fixture", PortOptions{}, time.Second, factory)
	defer mux.Close()

	for i := 0; i < 2; i++ {
		line, err := mux.ReadLine(context.Background())
		require.NoError(t, err)
		assert.Equal(t, `{"internal_temperature": 34}`, line)
	}
}

func TestAttachAdminRoutes_SerialLast(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("{\"x\": 5}\n"))
	mux, _ := newTestMux(t, time.Second, port)
	_, err := mux.ReadLine(context.Background())
	require.NoError(t, err)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, testutil.NewLocalRequest(http.MethodGet, "/debug/serial-last"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `{\"x\": 5}`)
	assert.Contains(t, rec.Body.String(), "/dev/ttyTEST0")
}
