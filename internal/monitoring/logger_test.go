package monitoring

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	assert.True(t, called, "custom logger was not called")

	// nil installs a no-op
	called = false
	SetLogger(nil)
	Logf("test message")
	assert.False(t, called)
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("test message: %s", "value")
}

func TestUseSlog(t *testing.T) {
	original := Logf
	originalDefault := slog.Default()
	defer func() {
		Logf = original
		slog.SetDefault(originalDefault)
	}()

	var buf bytes.Buffer
	UseSlog(NewLogger(&buf, slog.LevelWarn, false))

	Logf("appended record %s", "abc")
	assert.Empty(t, buf.String(), "info messages are below the configured level")

	Logf("warning: serial read failed: %v", "timeout")
	assert.Contains(t, buf.String(), "serial read failed: timeout")
	assert.Contains(t, buf.String(), "WRN")
}

func TestLevelOf(t *testing.T) {
	tests := []struct {
		msg  string
		want slog.Level
	}{
		{"error: store append failed", slog.LevelError},
		{"Warning: clamped", slog.LevelWarn},
		{"warn: short read", slog.LevelWarn},
		{"exported 12 rows", slog.LevelInfo},
	}
	for _, tc := range tests {
		t.Run(tc.msg, func(t *testing.T) {
			assert.Equal(t, tc.want, levelOf(tc.msg))
		})
	}
}
