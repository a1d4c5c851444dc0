package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		RSSBudget:      1000,
		WarnFraction:   0.70,
		RejectFraction: 0.90,
		PauseFloor:     500,
		EmergencyFloor: 100,
		SampleInterval: 5 * time.Millisecond,
	}
}

func TestClassifyNormal(t *testing.T) {
	w := New(testConfig(), nil, nil, nil)
	require.Equal(t, LevelNormal, w.classify(100, 10000))
}

func TestClassifyWarn(t *testing.T) {
	w := New(testConfig(), nil, nil, nil)
	require.Equal(t, LevelWarn, w.classify(750, 10000))
}

func TestClassifyReject(t *testing.T) {
	w := New(testConfig(), nil, nil, nil)
	require.Equal(t, LevelReject, w.classify(950, 10000))
}

func TestClassifyPauseOverridesRSS(t *testing.T) {
	w := New(testConfig(), nil, nil, nil)
	require.Equal(t, LevelPause, w.classify(0, 400))
}

func TestClassifyEmergencyOverridesEverything(t *testing.T) {
	w := New(testConfig(), nil, nil, nil)
	require.Equal(t, LevelEmergency, w.classify(0, 50))
}

func TestClassifyZeroBudgetIsAlwaysNormalAboveFloors(t *testing.T) {
	cfg := testConfig()
	cfg.RSSBudget = 0
	w := New(cfg, nil, nil, nil)
	require.Equal(t, LevelNormal, w.classify(999999, 10000))
}

func TestStartInvokesOnChangeOnTransition(t *testing.T) {
	samples := []struct{ rss, free uint64 }{
		{100, 10000}, // normal
		{950, 10000}, // reject
		{950, 10000}, // reject again: no further callback
	}
	idx := 0
	sample := func() (uint64, uint64) {
		s := samples[idx]
		if idx < len(samples)-1 {
			idx++
		}
		return s.rss, s.free
	}

	changes := make(chan Level, 10)
	w := New(testConfig(), sample, func(l Level) { changes <- l }, nil)
	w.Start()
	defer w.Stop()

	select {
	case level := <-changes:
		require.Equal(t, LevelReject, level)
	case <-time.After(time.Second):
		t.Fatal("expected a level transition callback")
	}
}

func TestCurrentDefaultsToNormal(t *testing.T) {
	w := New(testConfig(), nil, nil, nil)
	require.Equal(t, LevelNormal, w.Current())
}

func TestStopIsIdempotentBeforeStart(t *testing.T) {
	w := New(testConfig(), nil, nil, nil)
	require.NotPanics(t, func() {
		w.Stop()
		w.Stop()
	})
}

func TestStopIsIdempotentAfterStart(t *testing.T) {
	w := New(testConfig(), func() (uint64, uint64) { return 0, 10000 }, nil, nil)
	w.Start()
	require.NotPanics(t, func() {
		w.Stop()
		w.Stop()
	})
}

func TestStartTwiceIsANoOp(t *testing.T) {
	w := New(testConfig(), func() (uint64, uint64) { return 0, 10000 }, nil, nil)
	w.Start()
	w.Start()
	w.Stop()
}
