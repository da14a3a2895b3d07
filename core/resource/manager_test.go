package resource

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/soverin/bindery/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSampler replays memory readings in order, repeating the last.
type scriptedSampler struct {
	memory   []float64
	cpu      float64
	totalGiB float64
	calls    int
}

func (s *scriptedSampler) Sample() (float64, float64, error) {
	idx := s.calls
	if idx >= len(s.memory) {
		idx = len(s.memory) - 1
	}
	s.calls++
	return s.memory[idx], s.cpu, nil
}

func (s *scriptedSampler) TotalMemoryGiB() float64 {
	return s.totalGiB
}

// recordingLock captures UpdateLock calls without a database.
type recordingLock struct {
	maxParallel    int
	throttleDelay  time.Duration
	currentWorkers int
	updates        int
}

func (l *recordingLock) SelectLock() (*model.ProcessingLock, error) {
	return &model.ProcessingLock{MaxParallel: l.maxParallel, ThrottleDelay: l.throttleDelay.Seconds()}, nil
}

func (l *recordingLock) UpdateLock(maxParallel int, throttleDelay time.Duration, currentWorkers int) error {
	l.maxParallel = maxParallel
	l.throttleDelay = throttleDelay
	l.currentWorkers = currentWorkers
	l.updates++
	return nil
}

func (l *recordingLock) SetProcessing(isProcessing bool) error { return nil }

func (l *recordingLock) UpdateState(state *model.RunState) error { return nil }

func testManager(t *testing.T, sampler *scriptedSampler, workers int) (*Manager, *recordingLock) {
	t.Helper()
	lock := &recordingLock{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := NewManager(model.DefaultRunConfig(), sampler, func() (int, error) { return workers, nil }, lock, logger)
	require.NoError(t, err)
	return manager, lock
}

func TestThresholdsForMemory(t *testing.T) {
	tests := []struct {
		name     string
		totalGiB float64
		want     Thresholds
	}{
		{"Large host", 64, Thresholds{Low: 70, High: 90, Critical: 95, Recover: 80}},
		{"Exactly 32 GiB", 32, Thresholds{Low: 70, High: 90, Critical: 95, Recover: 80}},
		{"Medium host", 24, Thresholds{Low: 65, High: 87, Critical: 92, Recover: 75}},
		{"Small host", 16, Thresholds{Low: 60, High: 85, Critical: 90, Recover: 70}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ThresholdsForMemory(tt.totalGiB))
		})
	}
}

func TestManagerTick(t *testing.T) {
	t.Run("High memory increases throttle up to the cap", func(t *testing.T) {
		sampler := &scriptedSampler{memory: []float64{88}, totalGiB: 16}
		manager, lock := testManager(t, sampler, 2)

		for i := 0; i < 12; i++ {
			require.NoError(t, manager.Tick())
		}

		assert.Equal(t, 2*time.Second, manager.ThrottleDelay(), "Expected throttle clamped at the cap")
		assert.Equal(t, 2, manager.MaxParallel(), "Expected ceiling untouched by throttling")
		assert.Equal(t, 2*time.Second, lock.throttleDelay, "Expected throttle persisted to the lock")
	})

	t.Run("Critical memory lowers the ceiling before anything else", func(t *testing.T) {
		sampler := &scriptedSampler{memory: []float64{96}, totalGiB: 16}
		manager, lock := testManager(t, sampler, 2)

		require.NoError(t, manager.Tick())

		assert.Equal(t, 1, manager.MaxParallel(), "Expected ceiling lowered on critical pressure")
		assert.Equal(t, time.Duration(0), manager.ThrottleDelay(), "Expected no throttle adjustment in the same tick")
		assert.Equal(t, 1, lock.maxParallel, "Expected new ceiling persisted")
	})

	t.Run("Ceiling never goes below the minimum", func(t *testing.T) {
		sampler := &scriptedSampler{memory: []float64{99}, totalGiB: 16}
		manager, _ := testManager(t, sampler, 1)

		for i := 0; i < 10; i++ {
			require.NoError(t, manager.Tick())
		}

		assert.Equal(t, 1, manager.MaxParallel(), "Expected ceiling clamped at the minimum")
	})

	t.Run("Recovered memory unwinds the throttle to zero", func(t *testing.T) {
		sampler := &scriptedSampler{memory: []float64{88, 88, 88, 40, 40, 40, 40, 40}, totalGiB: 16}
		manager, _ := testManager(t, sampler, 1)

		for i := 0; i < 8; i++ {
			require.NoError(t, manager.Tick())
		}

		assert.Equal(t, time.Duration(0), manager.ThrottleDelay(), "Expected throttle fully unwound")
	})

	t.Run("Ceiling rises only under proven demand", func(t *testing.T) {
		sampler := &scriptedSampler{memory: []float64{30}, totalGiB: 16}
		manager, _ := testManager(t, sampler, 0)

		// Idle instance: low memory but no workers near the ceiling.
		require.NoError(t, manager.Tick())
		assert.Equal(t, 2, manager.MaxParallel(), "Expected no raise without demand")
	})

	t.Run("Ceiling rises when workers run at the ceiling", func(t *testing.T) {
		sampler := &scriptedSampler{memory: []float64{30}, totalGiB: 16}
		manager, lock := testManager(t, sampler, 2)

		require.NoError(t, manager.Tick())
		assert.Equal(t, 3, manager.MaxParallel(), "Expected raise with low memory and saturated workers")
		assert.Equal(t, 3, lock.maxParallel)
	})

	t.Run("Ceiling never exceeds the configured maximum", func(t *testing.T) {
		sampler := &scriptedSampler{memory: []float64{30}, totalGiB: 16}
		config := model.DefaultRunConfig()
		config.MaxParallel = 3
		config.InitialParallel = 3
		lock := &recordingLock{}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		manager, err := NewManager(config, sampler, func() (int, error) { return 3, nil }, lock, logger)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			require.NoError(t, manager.Tick())
		}

		assert.Equal(t, 3, manager.MaxParallel(), "Expected ceiling clamped at the hard maximum")
	})

	t.Run("Moving average smooths a single spike", func(t *testing.T) {
		sampler := &scriptedSampler{memory: []float64{50, 50, 98}, totalGiB: 16}
		manager, _ := testManager(t, sampler, 0)

		for i := 0; i < 3; i++ {
			require.NoError(t, manager.Tick())
		}

		// Average of the window is 66, below the high threshold.
		assert.Equal(t, 2, manager.MaxParallel(), "Expected spike absorbed by the moving average")
		assert.Equal(t, time.Duration(0), manager.ThrottleDelay())
	})

	t.Run("Every tick persists to the shared lock", func(t *testing.T) {
		sampler := &scriptedSampler{memory: []float64{50}, totalGiB: 16}
		manager, lock := testManager(t, sampler, 1)

		require.NoError(t, manager.Tick())
		require.NoError(t, manager.Tick())

		assert.Equal(t, 2, lock.updates, "Expected one lock update per tick")
		assert.Equal(t, 1, lock.currentWorkers, "Expected live worker count persisted")
	})
}

func TestNewManagerValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sampler := &scriptedSampler{memory: []float64{50}, totalGiB: 16}
	lock := &recordingLock{}
	workerCount := func() (int, error) { return 0, nil }

	t.Run("Nil dependencies are rejected", func(t *testing.T) {
		_, err := NewManager(model.DefaultRunConfig(), nil, workerCount, lock, logger)
		assert.Error(t, err)
	})

	t.Run("Invalid bounds are rejected", func(t *testing.T) {
		config := model.DefaultRunConfig()
		config.MinParallel = 5
		config.MaxParallel = 2
		_, err := NewManager(config, sampler, workerCount, lock, logger)
		assert.Error(t, err)
	})

	t.Run("Initial parallelism is clamped into bounds", func(t *testing.T) {
		config := model.DefaultRunConfig()
		config.InitialParallel = 99
		manager, err := NewManager(config, sampler, workerCount, lock, logger)
		require.NoError(t, err)
		assert.Equal(t, config.MaxParallel, manager.MaxParallel(), "Expected initial ceiling clamped to the maximum")
	})
}
