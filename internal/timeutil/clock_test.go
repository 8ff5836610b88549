package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	d := clock.Since(time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, d, time.Second)
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(500 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(15 * time.Second)

	clock.Advance(10 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	clock.Advance(5 * time.Second)
	select {
	case got := <-ticker.C():
		assert.Equal(t, start.Add(15*time.Second), got)
	default:
		t.Fatal("ticker did not fire after its interval elapsed")
	}
	assert.Equal(t, 15*time.Second, clock.Since(start))
}

func TestMockClock_StoppedTickerDoesNotFire(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()

	clock.Advance(2 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_WaitForTickers(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		clock.WaitForTickers(2)
		close(done)
	}()

	clock.NewTicker(time.Second)
	clock.NewTicker(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForTickers did not return")
	}
}

func TestMockTicker_TriggerDropsWhenFull(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second).(*MockTicker)

	ticker.Trigger(time.Unix(1, 0))
	ticker.Trigger(time.Unix(2, 0))

	got := <-ticker.C()
	require.Equal(t, time.Unix(1, 0), got)
	select {
	case <-ticker.C():
		t.Fatal("second trigger should have been dropped")
	default:
	}
}

func TestUnixSeconds(t *testing.T) {
	tm := time.Date(2026, 5, 1, 12, 0, 0, 500_000_000, time.UTC)
	assert.Equal(t, 1777636800.5, UnixSeconds(tm))
	assert.Equal(t, 0.0, UnixSeconds(time.Unix(0, 0)))

	back := FromUnixSeconds(UnixSeconds(tm))
	assert.True(t, back.Equal(tm), "round trip: %v", back)
	assert.True(t, FromUnixSeconds(1.25).Equal(time.Unix(1, 250_000_000)))
}

func TestMockClock_NonPositiveIntervalPanics(t *testing.T) {
	assert.Panics(t, func() { NewMockClock(time.Unix(0, 0)).NewTicker(0) })
}
