package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soverin/bindery/database"
	"github.com/soverin/bindery/helper"
	"github.com/soverin/bindery/model"
)

const sampleWindowSize = 3

// Thresholds are the memory-utilization bands driving the control loop,
// in percent. Derived from total memory at startup.
type Thresholds struct {
	Low      float64
	High     float64
	Critical float64
	Recover  float64
}

// ThresholdsForMemory scales the hysteresis bands to the host's total
// memory. Larger hosts tolerate higher utilization before throttling.
func ThresholdsForMemory(totalGiB float64) Thresholds {
	switch {
	case totalGiB >= 32:
		return Thresholds{Low: 70, High: 90, Critical: 95, Recover: 80}
	case totalGiB >= 24:
		return Thresholds{Low: 65, High: 87, Critical: 92, Recover: 75}
	default:
		return Thresholds{Low: 60, High: 85, Critical: 90, Recover: 70}
	}
}

// WorkerCountFunc reports the current live worker count.
type WorkerCountFunc func() (int, error)

// Manager is the adaptive resource controller. Each instance runs its
// own control loop and persists its conclusions to the shared processing
// lock so peers schedule against the shared ceiling, never a local copy.
// All state lives on the manager, constructed once per run.
type Manager struct {
	mu sync.Mutex

	maxParallel   int
	throttleDelay time.Duration
	window        []float64

	minParallel  int
	hardMax      int
	throttleStep time.Duration
	throttleCap  time.Duration
	thresholds   Thresholds
	interval     time.Duration

	sampler     Sampler
	workerCount WorkerCountFunc
	lock        database.LockDBHandlerFunctions
	logger      *slog.Logger

	lastMemPercent float64
	lastCPUPercent float64
}

// NewManager creates a resource manager for one run. Thresholds are
// derived from the sampler's reported total memory.
func NewManager(
	config model.RunConfig,
	sampler Sampler,
	workerCount WorkerCountFunc,
	lock database.LockDBHandlerFunctions,
	logger *slog.Logger,
) (*Manager, error) {
	if sampler == nil || workerCount == nil || lock == nil {
		return nil, helper.NewError("resource manager validation", fmt.Errorf("sampler, worker count and lock handler are required"))
	}
	if config.MinParallel < 1 || config.MaxParallel < config.MinParallel {
		return nil, helper.NewError("resource manager validation", fmt.Errorf("invalid parallelism bounds [%d, %d]", config.MinParallel, config.MaxParallel))
	}
	if logger == nil {
		logger = slog.Default()
	}

	initial := config.InitialParallel
	if initial < config.MinParallel {
		initial = config.MinParallel
	}
	if initial > config.MaxParallel {
		initial = config.MaxParallel
	}

	return &Manager{
		maxParallel:  initial,
		minParallel:  config.MinParallel,
		hardMax:      config.MaxParallel,
		throttleStep: config.ThrottleStep,
		throttleCap:  config.ThrottleCap,
		thresholds:   ThresholdsForMemory(sampler.TotalMemoryGiB()),
		interval:     config.MonitorInterval,
		sampler:      sampler,
		workerCount:  workerCount,
		lock:         lock,
		logger:       logger,
	}, nil
}

// MaxParallel returns the current local ceiling.
func (m *Manager) MaxParallel() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxParallel
}

// ThrottleDelay returns the delay applied between task starts.
func (m *Manager) ThrottleDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throttleDelay
}

// Metrics returns the last observed utilization.
func (m *Manager) Metrics() (memPercent, cpuPercent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMemPercent, m.lastCPUPercent
}

// Thresholds returns the active hysteresis bands.
func (m *Manager) Thresholds() Thresholds {
	return m.thresholds
}

// Tick executes one control-loop step: sample, adjust, persist. The
// critical rule has priority over every other adjustment, and the
// ceiling is only raised under proven demand: low average utilization,
// no active throttle, and the instance already running near its ceiling.
func (m *Manager) Tick() error {
	memPercent, cpuPercent, err := m.sampler.Sample()
	if err != nil {
		return helper.NewError("sample resources", err)
	}

	liveWorkers, err := m.workerCount()
	if err != nil {
		return helper.NewError("read live worker count", err)
	}

	m.mu.Lock()

	m.lastMemPercent = memPercent
	m.lastCPUPercent = cpuPercent

	m.window = append(m.window, memPercent)
	if len(m.window) > sampleWindowSize {
		m.window = m.window[1:]
	}
	avg := average(m.window)

	switch {
	case avg > m.thresholds.Critical:
		if m.maxParallel > m.minParallel {
			m.maxParallel--
			m.logger.Warn("Memory critical, lowering parallelism ceiling",
				slog.Float64("avg_percent", avg),
				slog.Int("max_parallel", m.maxParallel),
			)
		}

	case avg > m.thresholds.High:
		if m.throttleDelay < m.throttleCap {
			m.throttleDelay += m.throttleStep
			if m.throttleDelay > m.throttleCap {
				m.throttleDelay = m.throttleCap
			}
			m.logger.Info("Memory high, increasing throttle",
				slog.Float64("avg_percent", avg),
				slog.Duration("throttle", m.throttleDelay),
			)
		}

	case avg < m.thresholds.Recover && m.throttleDelay > 0:
		m.throttleDelay -= m.throttleStep
		if m.throttleDelay < 0 {
			m.throttleDelay = 0
		}

	case avg < m.thresholds.Low && m.throttleDelay == 0 && liveWorkers >= m.maxParallel-1:
		if m.maxParallel < m.hardMax {
			m.maxParallel++
			m.logger.Info("Headroom confirmed under load, raising parallelism ceiling",
				slog.Float64("avg_percent", avg),
				slog.Int("max_parallel", m.maxParallel),
			)
		}
	}

	maxParallel := m.maxParallel
	throttle := m.throttleDelay
	m.mu.Unlock()

	// Peers read this value before launching new tasks.
	if err := m.lock.UpdateLock(maxParallel, throttle, liveWorkers); err != nil {
		return helper.NewError("persist parallelism ceiling", err)
	}

	return nil
}

// Run executes the control loop until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	// Seed the lock row immediately so admission sees this run's starting
	// ceiling instead of whatever the previous run left behind.
	if err := m.Tick(); err != nil {
		m.logger.Error("Resource control tick failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(); err != nil {
				m.logger.Error("Resource control tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

func average(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}
