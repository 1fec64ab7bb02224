package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/fleetglass/livemap/internal/sched"
)

// Policy bundles the capacity numbers for both pool types plus the
// maintenance cadence. Policies are swapped whole: SetPolicy applies
// every cap before returning, never a partial mix of two policies.
type Policy struct {
	Name            string
	AssetMaxEntries int
	AssetMaxBytes   int64
	ObjectCaps      map[Tier]int
	SweepInterval   time.Duration
}

// Named policy presets.
func StandardPolicy() Policy {
	return Policy{
		Name:            "standard",
		AssetMaxEntries: 256,
		AssetMaxBytes:   64 << 20,
		ObjectCaps: map[Tier]int{
			TierSmall:  512,
			TierMedium: 256,
			TierLarge:  64,
		},
		SweepInterval: 5 * time.Minute,
	}
}

func LowMemoryPolicy() Policy {
	return Policy{
		Name:            "low",
		AssetMaxEntries: 64,
		AssetMaxBytes:   16 << 20,
		ObjectCaps: map[Tier]int{
			TierSmall:  128,
			TierMedium: 64,
			TierLarge:  16,
		},
		SweepInterval: 2 * time.Minute,
	}
}

func HighCapacityPolicy() Policy {
	return Policy{
		Name:            "high",
		AssetMaxEntries: 1024,
		AssetMaxBytes:   256 << 20,
		ObjectCaps: map[Tier]int{
			TierSmall:  2048,
			TierMedium: 1024,
			TierLarge:  256,
		},
		SweepInterval: 10 * time.Minute,
	}
}

// PolicyByName resolves a preset name.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "standard", "":
		return StandardPolicy(), nil
	case "low":
		return LowMemoryPolicy(), nil
	case "high":
		return HighCapacityPolicy(), nil
	default:
		return Policy{}, fmt.Errorf("unknown memory policy %q", name)
	}
}

// Manager owns the two pools and the active memory policy. Maintenance
// work is queued on a frame budget and only runs when the render loop
// reports spare time, so sweeps never compete with rendering.
type Manager struct {
	logger *slog.Logger

	Assets  *AssetPool[any]
	Objects *ObjectPool

	budget *sched.FrameBudget

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	started   bool
	policy    Policy
	baseline  uint64 // heap bytes at start, for heapGrowth
	cleanups  int64
	lastSweep time.Time
}

// Diagnostics merges both pools' counters with sweep bookkeeping.
type Diagnostics struct {
	Policy       string
	HitRate      float64
	ReuseRate    float64
	HeapGrowth   int64
	CleanupCount int64
	Assets       AssetStats
	Objects      ObjectStats
	Frame        sched.FrameStats
}

// NewManager creates a pool manager under the given starting policy.
func NewManager(policy Policy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger:  logger,
		Assets:  NewAssetPool[any](policy.AssetMaxEntries, policy.AssetMaxBytes, logger),
		Objects: NewObjectPool(policy.ObjectCaps, logger),
		budget:  sched.NewFrameBudget(),
		policy:  policy,
	}
}

// Start launches the sweep scheduler.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.baseline = ms.HeapAlloc
	m.mu.Unlock()

	m.wg.Add(1)
	go m.sweepLoop()

	m.logger.Info("pool manager started",
		"policy", m.policy.Name,
		"sweep_interval", m.policy.SweepInterval,
	)
	return nil
}

// Stop shuts the sweep scheduler down.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("pool manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPolicy swaps the active memory policy. All caps reconfigure
// before this returns; entries beyond the new caps are evicted
// immediately, oldest first.
func (m *Manager) SetPolicy(policy Policy) {
	m.mu.Lock()
	old := m.policy.Name
	m.policy = policy
	m.mu.Unlock()

	m.Assets.Resize(policy.AssetMaxEntries, policy.AssetMaxBytes)
	m.Objects.Resize(policy.ObjectCaps)

	m.logger.Info("memory policy switched", "from", old, "to", policy.Name)
}

// Policy returns the active policy.
func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// GrantFrameTime runs queued maintenance inside the spare time the
// render loop reports for the current frame.
func (m *Manager) GrantFrameTime(spare time.Duration) int {
	return m.budget.RunFor(spare)
}

// Diagnostics returns the merged pool counters.
func (m *Manager) Diagnostics() Diagnostics {
	assets := m.Assets.Stats()
	objects := m.Objects.Stats()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.RLock()
	defer m.mu.RUnlock()

	return Diagnostics{
		Policy:       m.policy.Name,
		HitRate:      assets.HitRate,
		ReuseRate:    objects.ReuseRate,
		HeapGrowth:   int64(ms.HeapAlloc) - int64(m.baseline),
		CleanupCount: m.cleanups,
		Assets:       assets,
		Objects:      objects,
		Frame:        m.budget.Stats(),
	}
}

// sweepLoop queues idle maintenance at the policy cadence.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	for {
		m.mu.RLock()
		interval := m.policy.SweepInterval
		m.mu.RUnlock()
		if interval <= 0 {
			interval = StandardPolicy().SweepInterval
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(interval):
			m.budget.Submit(m.sweep)
		}
	}
}

// sweep performs one round of idle cleanup and emits diagnostics.
func (m *Manager) sweep() {
	trimmed := m.Objects.TrimIdle(16)

	m.mu.Lock()
	m.cleanups++
	m.lastSweep = time.Now()
	cleanups := m.cleanups
	m.mu.Unlock()

	diag := m.Diagnostics()
	m.logger.Debug("pool sweep complete",
		"cleanups", cleanups,
		"trimmed", trimmed,
		"hit_rate", diag.HitRate,
		"reuse_rate", diag.ReuseRate,
		"heap_growth", diag.HeapGrowth,
	)
}
