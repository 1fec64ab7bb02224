package track

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/fleetglass/livemap/internal/cluster"
	"github.com/fleetglass/livemap/internal/config"
	"github.com/fleetglass/livemap/internal/connection"
	"github.com/fleetglass/livemap/internal/entity"
	"github.com/fleetglass/livemap/internal/geo"
	"github.com/fleetglass/livemap/internal/model"
	"github.com/fleetglass/livemap/internal/motion"
	"github.com/fleetglass/livemap/internal/notify"
	"github.com/fleetglass/livemap/internal/pool"
	"github.com/fleetglass/livemap/internal/stream"
)

// Service is the explicitly owned composition of the livemap core:
// connection manager feeding the demux, memoizer, motion engine, and
// clustering engine, with the pool manager and entity registry
// alongside. It is constructed, started, and stopped by the embedding
// application; nothing here is a process-wide singleton.
type Service struct {
	cfg    *config.TrackerConfig
	logger *slog.Logger

	manager  connection.Manager
	demux    *stream.Demux
	memo     *stream.Memoizer
	registry *entity.Registry
	motion   *motion.Engine
	clusters *cluster.Engine
	pools    *pool.Manager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	tracked  map[string]*trackedEntity
	viewport geo.Bounds
	zoom     float64
}

type trackedEntity struct {
	handle *stream.Handle
	done   chan struct{}
}

// NewService wires the core from configuration.
func NewService(cfg *config.TrackerConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	manager := connection.NewManager(connection.ManagerConfig{
		URL:                cfg.Feed.URL,
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
		ResumeDebounce:     cfg.Feed.ResumeDebounce,
		PingTimeout:        cfg.Feed.PingTimeout,
		WriteTimeout:       cfg.Feed.WriteTimeout,
		BufferSize:         cfg.Feed.BufferSize,
	}, logger.With("component", "connection"))

	demux := stream.NewDemux(manager.Samples(), logger.With("component", "demux"))
	memo := stream.NewMemoizer(demux, cfg.Stream.ReleaseGrace, logger.With("component", "memoizer"))
	registry := entity.NewRegistry(manager.Metadata(), logger.With("component", "registry"))

	engine := motion.NewEngine(motion.Config{
		TickInterval:         cfg.Motion.TickInterval,
		AnimDuration:         cfg.Motion.AnimDuration,
		ExtrapolateMinSpeed:  cfg.Motion.ExtrapolateMinSpeed,
		ExtrapolationHorizon: cfg.Motion.ExtrapolationHorizon,
	}, logger.With("component", "motion"))

	policy, err := pool.PolicyByName(cfg.Pools.Policy)
	if err != nil {
		logger.Warn("unknown pool policy, using standard", "policy", cfg.Pools.Policy)
		policy = pool.StandardPolicy()
	}
	if cfg.Pools.SweepInterval > 0 {
		policy.SweepInterval = cfg.Pools.SweepInterval
	}
	pools := pool.NewManager(policy, logger.With("component", "pools"))

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		manager:  manager,
		demux:    demux,
		memo:     memo,
		registry: registry,
		motion:   engine,
		pools:    pools,
		tracked:  make(map[string]*trackedEntity),
		zoom:     cfg.Cluster.MinZoom,
	}

	s.clusters = cluster.NewEngine(cluster.EngineConfig{
		Cluster: cluster.Config{
			ViewportMargin: cfg.Cluster.ViewportMargin,
			MinZoom:        cfg.Cluster.MinZoom,
			MaxZoom:        cfg.Cluster.MaxZoom,
			RadiusAtMin:    cfg.Cluster.RadiusAtMin,
			RadiusAtMax:    cfg.Cluster.RadiusAtMax,
			AsyncThreshold: cfg.Cluster.AsyncThreshold,
		},
		Debounce: cfg.Cluster.Debounce,
	}, s.snapshotEntities, logger.With("component", "cluster"))

	demux.OnNewKey(s.trackEntity)

	return s
}

// Start brings every component up, feed last so no sample arrives
// before its consumers exist.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.pools.Start(s.ctx); err != nil {
		return err
	}
	if err := s.motion.Start(s.ctx); err != nil {
		return err
	}
	if err := s.clusters.Start(s.ctx); err != nil {
		return err
	}
	if err := s.registry.Start(s.ctx); err != nil {
		return err
	}
	if err := s.demux.Start(s.ctx); err != nil {
		return err
	}
	if err := s.manager.Connect(s.ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("track service started")
	return nil
}

// Stop tears the core down in reverse order.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.manager.Stop(ctx); err != nil {
		s.logger.Warn("connection manager stop", "error", err)
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	for id, t := range s.tracked {
		close(t.done)
		t.handle.Release()
		delete(s.tracked, id)
	}
	s.mu.Unlock()

	s.memo.Close()

	if err := s.demux.Stop(ctx); err != nil {
		return err
	}
	if err := s.registry.Stop(ctx); err != nil {
		return err
	}
	if err := s.clusters.Stop(ctx); err != nil {
		return err
	}
	if err := s.motion.Stop(ctx); err != nil {
		return err
	}
	if err := s.pools.Stop(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	s.logger.Info("track service stopped")
	return nil
}

// Resume forwards to the connection manager.
func (s *Service) Resume() { s.manager.Resume() }

// Suspend forwards to the connection manager.
func (s *Service) Suspend() { s.manager.Suspend() }

// SetViewport records the live viewport and zoom, triggers a cluster
// recompute, and evicts motion state for entities no viewport
// references.
func (s *Service) SetViewport(viewport geo.Bounds, zoom float64) {
	s.mu.Lock()
	s.viewport = viewport
	s.zoom = zoom
	s.mu.Unlock()

	s.clusters.SetViewport(viewport)
	s.clusters.SetZoom(zoom)
	s.applyRetention(viewport, zoom)
}

// SetClusterConfig swaps clustering thresholds at runtime.
func (s *Service) SetClusterConfig(cfg cluster.Config) {
	s.clusters.SetConfig(cfg)
}

// SetMemoryPolicy swaps the pool memory policy at runtime.
func (s *Service) SetMemoryPolicy(policy pool.Policy) {
	s.pools.SetPolicy(policy)
}

// Results returns the latest render-ready cluster list.
func (s *Service) Results() []model.ClusterResult {
	return s.clusters.Results()
}

// ResultsChanged returns the render-list change signal.
func (s *Service) ResultsChanged() *notify.Subscription {
	return s.clusters.Subscribe()
}

// CurrentValue returns an entity's animated position.
func (s *Service) CurrentValue(entityID string) (geo.Point, bool) {
	return s.motion.CurrentValue(entityID)
}

// Pools exposes the pool manager for the render layer.
func (s *Service) Pools() *pool.Manager { return s.pools }

// Metadata exposes the entity registry for display consumers.
func (s *Service) Metadata() *entity.Registry { return s.registry }

// trackEntity opens the memoizer subscription for a newly seen entity
// and pumps its samples into the motion engine.
func (s *Service) trackEntity(key string) {
	s.mu.Lock()
	if _, ok := s.tracked[key]; ok {
		s.mu.Unlock()
		return
	}

	handle, err := s.memo.Subscribe(key)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("subscribe failed", "key", key, "error", err)
		return
	}

	t := &trackedEntity{handle: handle, done: make(chan struct{})}
	s.tracked[key] = t
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pumpLoop(t)
}

// pumpLoop feeds one entity's conflated samples to the motion engine.
func (s *Service) pumpLoop(t *trackedEntity) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.done:
			return
		case <-t.handle.Ready():
			if sample, ok := t.handle.Latest(); ok {
				s.motion.UpdatePosition(sample)
			}
		}
	}
}

// tickLoop reacts to motion ticks: one cluster recompute trigger per
// tick and one frame-time grant for pool maintenance.
func (s *Service) tickLoop() {
	defer s.wg.Done()

	sub := s.motion.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-sub.C:
			s.clusters.NotifyEntitiesChanged()
			s.pools.GrantFrameTime(s.cfg.Pools.FrameBudget)
		}
	}
}

// snapshotEntities builds the clustering snapshot: animated positions
// joined with display metadata.
func (s *Service) snapshotEntities() []model.ClusterableEntity {
	entities := s.motion.Snapshot()
	for i := range entities {
		if meta, ok := s.registry.Get(entities[i].EntityID); ok {
			entities[i].Meta = meta
		}
	}
	return entities
}

// applyRetention keeps motion state only for entities inside the
// expanded viewport. Out-of-view entities snap back in on their next
// sample.
func (s *Service) applyRetention(viewport geo.Bounds, zoom float64) {
	if viewport.Width() <= 0 || viewport.Height() <= 0 {
		return
	}

	margin := s.cfg.Cluster.ViewportMargin / math.Exp2(zoom)
	expanded := viewport.Expand(margin)

	keep := make(map[string]struct{})
	for _, e := range s.motion.Snapshot() {
		if expanded.Contains(e.Pos) {
			keep[e.EntityID] = struct{}{}
		}
	}
	s.motion.Retain(keep)
}

// Diagnostics merges every component's counters for observability.
func (s *Service) Diagnostics() Diagnostics {
	s.mu.Lock()
	tracked := len(s.tracked)
	s.mu.Unlock()

	return Diagnostics{
		GeneratedAt: time.Now(),
		Tracked:     tracked,
		Connection:  s.manager.Stats(),
		Backoff:     s.manager.BackoffState(),
		Demux:       s.demux.Stats(),
		Memoizer:    s.memo.Diagnostics(),
		Registry:    s.registry.Stats(),
		Motion:      s.motion.Stats(),
		Clusters:    s.clusters.Stats(),
		Pools:       s.pools.Diagnostics(),
	}
}

// Diagnostics is the merged observability snapshot.
type Diagnostics struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Tracked     int                        `json:"tracked_entities"`
	Connection  connection.ManagerStats    `json:"connection"`
	Backoff     connection.BackoffState    `json:"backoff"`
	Demux       stream.DemuxStats          `json:"demux"`
	Memoizer    stream.MemoizerDiagnostics `json:"memoizer"`
	Registry    entity.Stats               `json:"registry"`
	Motion      motion.EngineStats         `json:"motion"`
	Clusters    cluster.EngineStats        `json:"clusters"`
	Pools       pool.Diagnostics           `json:"pools"`
}
