// Package memmon keeps the process memory footprint bounded by sizing
// the cache engine from system memory telemetry: each tick it reads
// available memory, derives a capacity target, and resizes the engine.
package memmon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/objcache/objcache/pkg/types"
)

// Defaults for monitor configuration.
const (
	DefaultInterval = 5 * time.Second
	DefaultFraction = 0.6
	DefaultFloor    = 64 * 1024 * 1024       // 64MB
	DefaultCeiling  = 8 * 1024 * 1024 * 1024 // 8GB

	// defaultMinResizeDelta is the relative change in target below
	// which a resize is skipped as noise.
	defaultMinResizeDelta = 0.05
)

// Config configures the memory monitor.
type Config struct {
	// Floor and Ceiling bound the derived capacity target, in bytes.
	Floor   int64
	Ceiling int64

	// Fraction of available system memory to target.
	Fraction float64

	// Interval between telemetry samples.
	Interval time.Duration

	// MinResizeDelta is the relative target change required before
	// the engine is resized. Zero uses the default.
	MinResizeDelta float64

	// AvailableMemory reads currently available system memory.
	// Defaults to SystemAvailableMemory.
	AvailableMemory types.AvailableMemoryFunc

	// NewTicker builds the tick source; injectable so tests advance
	// virtual time. Defaults to time.NewTicker.
	NewTicker func(time.Duration) (<-chan time.Time, func())

	// Logger for monitor events. Defaults to slog.Default().
	Logger *slog.Logger
}

// SystemAvailableMemory reports available system memory via gopsutil.
func SystemAvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Monitor periodically derives a cache capacity target from system
// memory and applies it to the engine. Single writer: only the monitor
// task mutates its state.
type Monitor struct {
	config Config
	cache  types.ByteCache
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32

	mu            sync.RWMutex
	lastAvailable uint64
	lastTarget    int64
	haveReading   bool
	ticks         uint64
}

// New creates a memory monitor resizing cache. Zero config fields fall
// back to defaults.
func New(cache types.ByteCache, cfg Config) *Monitor {
	if cfg.Floor <= 0 {
		cfg.Floor = DefaultFloor
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.Fraction <= 0 {
		cfg.Fraction = DefaultFraction
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MinResizeDelta <= 0 {
		cfg.MinResizeDelta = defaultMinResizeDelta
	}
	if cfg.AvailableMemory == nil {
		cfg.AvailableMemory = SystemAvailableMemory
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Monitor{
		config: cfg,
		cache:  cache,
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins monitoring. The first sample is taken immediately so
// the cache is sized before the first interval elapses.
func (m *Monitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.active, 0, 1) {
		return fmt.Errorf("memory monitor already running")
	}

	m.logger.Info("starting memory monitor",
		"interval", m.config.Interval,
		"fraction", m.config.Fraction,
		"floor", m.config.Floor,
		"ceiling", m.config.Ceiling)

	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

// Stop stops future ticks. An in-flight tick completes before Stop
// returns. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	if !atomic.CompareAndSwapInt32(&m.active, 1, 0) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	tick, stop := m.config.NewTicker(m.config.Interval)
	defer stop()

	m.tick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-tick:
			m.tick()
		}
	}
}

// tick samples available memory, derives the clamped target, and
// resizes the engine when the target moved meaningfully.
func (m *Monitor) tick() {
	target, err := m.deriveTarget()
	if err != nil {
		m.logger.Warn("memory telemetry unavailable, keeping last target",
			"error", err, "target", target)
	}

	m.mu.Lock()
	m.lastTarget = target
	m.ticks++
	m.mu.Unlock()

	current := m.cache.Capacity()
	if !m.meaningfulChange(current, target) {
		return
	}

	m.logger.Debug("resizing cache capacity", "from", current, "to", target)
	m.cache.SetCapacity(target)
}

// deriveTarget computes clamp(available*fraction, floor, ceiling).
// On telemetry failure it falls back to the last-known target, or the
// floor if none was ever observed; the monitor keeps ticking.
func (m *Monitor) deriveTarget() (int64, error) {
	available, err := m.config.AvailableMemory()
	if err != nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.haveReading {
			return m.lastTarget, err
		}
		return m.config.Floor, err
	}

	m.mu.Lock()
	m.lastAvailable = available
	m.haveReading = true
	m.mu.Unlock()

	target := int64(float64(available) * m.config.Fraction)
	if target < m.config.Floor {
		target = m.config.Floor
	}
	if target > m.config.Ceiling {
		target = m.config.Ceiling
	}
	return target, nil
}

func (m *Monitor) meaningfulChange(current, target int64) bool {
	if current <= 0 {
		return true
	}
	delta := float64(target-current) / float64(current)
	if delta < 0 {
		delta = -delta
	}
	return delta >= m.config.MinResizeDelta
}

// LastReading returns the last observed available-memory value and
// whether any reading has succeeded yet.
func (m *Monitor) LastReading() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAvailable, m.haveReading
}

// Target returns the most recently derived capacity target.
func (m *Monitor) Target() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTarget
}

// Ticks returns how many samples the monitor has taken.
func (m *Monitor) Ticks() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ticks
}
