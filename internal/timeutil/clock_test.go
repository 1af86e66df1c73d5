package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Sleep(t *testing.T) {
	clock := RealClock{}
	start := clock.Now()
	clock.Sleep(5 * time.Millisecond)

	if d := time.Since(start); d < 5*time.Millisecond {
		t.Errorf("Sleep returned after %v, expected >= 5ms", d)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(time.Hour)
	expected := start.Add(time.Hour)

	if !clock.Now().Equal(expected) {
		t.Errorf("got %v, want %v", clock.Now(), expected)
	}
}

func TestMockClock_SleepAdvancesAndRecords(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Sleep(10 * time.Millisecond)
	clock.Sleep(5 * time.Millisecond)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 10*time.Millisecond || sleeps[1] != 5*time.Millisecond {
		t.Errorf("Sleeps() = %v, want [10ms 5ms]", sleeps)
	}
	if got := clock.Now().Sub(start); got != 15*time.Millisecond {
		t.Errorf("clock advanced %v, want 15ms", got)
	}
}

func TestMockTicker_FiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(time.Second)

	clock.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after interval")
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestUptime_Millis(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	up := NewUptime(clock)

	if got := up.Millis(); got != 0 {
		t.Errorf("Millis() at boot = %d, want 0", got)
	}
	clock.Advance(1234 * time.Millisecond)
	if got := up.Millis(); got != 1234 {
		t.Errorf("Millis() = %d, want 1234", got)
	}
}

func TestUptime_Wraps(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	up := NewUptime(clock)

	clock.Advance(time.Duration(1<<32+7) * time.Millisecond)
	if got := up.Millis(); got != 7 {
		t.Errorf("Millis() after wrap = %d, want 7", got)
	}
}

func TestElapsedMillis_AcrossWrap(t *testing.T) {
	if got := ElapsedMillis(5, 0xFFFFFFFB); got != 10 {
		t.Errorf("ElapsedMillis across wrap = %d, want 10", got)
	}
	if got := ElapsedMillis(300, 100); got != 200 {
		t.Errorf("ElapsedMillis = %d, want 200", got)
	}
}
