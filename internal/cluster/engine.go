package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetglass/livemap/internal/geo"
	"github.com/fleetglass/livemap/internal/model"
	"github.com/fleetglass/livemap/internal/notify"
	"github.com/fleetglass/livemap/internal/sched"
)

// SnapshotFunc returns the current entity snapshot for one pass. The
// engine treats the returned slice as its own value copy.
type SnapshotFunc func() []model.ClusterableEntity

// EngineConfig configures the reactive clustering engine.
type EngineConfig struct {
	Cluster  Config
	Debounce time.Duration // Trigger coalescing window (default 250ms)
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Cluster:  DefaultConfig(),
		Debounce: 250 * time.Millisecond,
	}
}

// computeRequest is the message passed to the clustering worker. All
// fields are value copies; nothing is shared across the boundary.
type computeRequest struct {
	entities []model.ClusterableEntity
	zoom     float64
	viewport geo.Bounds
	cfg      Config
	reply    chan []model.ClusterResult
}

// Engine recomputes the render-ready cluster list on zoom, viewport,
// or entity-set changes, debounced to survive continuous gestures.
// Passes over the async threshold run on a dedicated worker goroutine
// via one-shot message passing; if the worker is unavailable the pass
// falls back to the synchronous path rather than failing.
type Engine struct {
	logger   *slog.Logger
	snapshot SnapshotFunc

	debouncer *sched.Debouncer
	changed   *notify.Broadcaster
	requests  chan computeRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	started  bool
	cfg      EngineConfig
	zoom     float64
	viewport geo.Bounds
	results  []model.ClusterResult

	passes       int64
	asyncPasses  int64
	syncPasses   int64
	fallbacks    int64
	lastDuration time.Duration
	lastEntities int
	lastResults  int
}

// EngineStats provides counters for diagnostics.
type EngineStats struct {
	Passes       int64
	AsyncPasses  int64
	SyncPasses   int64
	Fallbacks    int64
	LastDuration time.Duration
	LastEntities int
	LastResults  int
	Debounce     sched.DebounceStats
}

// NewEngine creates a clustering engine over the given snapshot
// source.
func NewEngine(cfg EngineConfig, snapshot SnapshotFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultEngineConfig().Debounce
	}
	if cfg.Cluster.AsyncThreshold == 0 {
		cfg.Cluster.AsyncThreshold = DefaultConfig().AsyncThreshold
	}

	e := &Engine{
		logger:   logger,
		snapshot: snapshot,
		changed:  notify.NewBroadcaster(),
		requests: make(chan computeRequest),
		cfg:      cfg,
		zoom:     cfg.Cluster.MinZoom,
	}
	e.debouncer = sched.NewDebouncer(cfg.Debounce, e.recompute)
	return e
}

// Start launches the clustering worker.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.wg.Add(1)
	go e.workerLoop()

	e.logger.Info("cluster engine started",
		"async_threshold", e.cfg.Cluster.AsyncThreshold,
		"debounce", e.cfg.Debounce,
	)
	return nil
}

// Stop shuts the engine down.
func (e *Engine) Stop(ctx context.Context) error {
	e.debouncer.Stop()

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("cluster engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetZoom records a zoom change and schedules a recompute.
func (e *Engine) SetZoom(zoom float64) {
	e.mu.Lock()
	e.zoom = zoom
	e.mu.Unlock()
	e.debouncer.Trigger()
}

// SetViewport records a viewport change and schedules a recompute.
func (e *Engine) SetViewport(viewport geo.Bounds) {
	e.mu.Lock()
	e.viewport = viewport
	e.mu.Unlock()
	e.debouncer.Trigger()
}

// NotifyEntitiesChanged schedules a recompute after an entity-set or
// position change.
func (e *Engine) NotifyEntitiesChanged() {
	e.debouncer.Trigger()
}

// SetConfig swaps the clustering thresholds. Takes effect on the next
// recompute.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	e.cfg.Cluster = cfg
	e.mu.Unlock()
	e.debouncer.Trigger()
}

// Results returns the latest render-ready list.
func (e *Engine) Results() []model.ClusterResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.ClusterResult, len(e.results))
	copy(out, e.results)
	return out
}

// Subscribe returns the results-changed signal.
func (e *Engine) Subscribe() *notify.Subscription {
	return e.changed.Subscribe()
}

// Stats returns engine counters.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EngineStats{
		Passes:       e.passes,
		AsyncPasses:  e.asyncPasses,
		SyncPasses:   e.syncPasses,
		Fallbacks:    e.fallbacks,
		LastDuration: e.lastDuration,
		LastEntities: e.lastEntities,
		LastResults:  e.lastResults,
		Debounce:     e.debouncer.Stats(),
	}
}

// workerLoop serves async compute requests. The request carries value
// copies in and the reply carries the result list out; no mutable
// state crosses the boundary.
func (e *Engine) workerLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case req := <-e.requests:
			req.reply <- Compute(req.entities, req.zoom, req.viewport, req.cfg)
		}
	}
}

// recompute runs one clustering pass.
func (e *Engine) recompute() {
	e.mu.RLock()
	zoom := e.zoom
	viewport := e.viewport
	cfg := e.cfg.Cluster
	started := e.started
	e.mu.RUnlock()

	entities := e.snapshot()
	start := time.Now()

	var results []model.ClusterResult
	async := false

	if started && len(entities) > cfg.AsyncThreshold {
		req := computeRequest{
			entities: entities,
			zoom:     zoom,
			viewport: viewport,
			cfg:      cfg,
			reply:    make(chan []model.ClusterResult, 1),
		}
		select {
		case e.requests <- req:
			results = <-req.reply
			async = true
		default:
			// Worker busy or not running: degrade to the inline path.
			results = Compute(entities, zoom, viewport, cfg)
			e.mu.Lock()
			e.fallbacks++
			e.mu.Unlock()
		}
	} else {
		results = Compute(entities, zoom, viewport, cfg)
	}

	e.mu.Lock()
	e.results = results
	e.passes++
	if async {
		e.asyncPasses++
	} else {
		e.syncPasses++
	}
	e.lastDuration = time.Since(start)
	e.lastEntities = len(entities)
	e.lastResults = len(results)
	e.mu.Unlock()

	e.changed.Notify()
}
