package motion

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tanema/gween/ease"

	"github.com/fleetglass/livemap/internal/geo"
	"github.com/fleetglass/livemap/internal/model"
	"github.com/fleetglass/livemap/internal/notify"
)

// Config holds interpolation engine settings.
type Config struct {
	TickInterval         time.Duration // Animation tick cadence (default 200ms)
	AnimDuration         time.Duration // Time to ease onto a new target (default 1200ms)
	ExtrapolateMinSpeed  float64       // Minimum speed (m/s) for dead-reckoning (default 3.0)
	ExtrapolationHorizon time.Duration // Max dead-reckoning time before freezing (default 8s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:         200 * time.Millisecond,
		AnimDuration:         1200 * time.Millisecond,
		ExtrapolateMinSpeed:  3.0,
		ExtrapolationHorizon: 8 * time.Second,
	}
}

// phase is the per-entity animation state.
type phase int

const (
	phaseIdle phase = iota
	phaseAnimating
	phaseExtrapolating
	phaseFrozen // extrapolated past the horizon, waiting for a sample
)

// motionState is the mutable animation state for one entity. Exactly
// one exists per live entity id; only UpdatePosition and the tick
// mutate it.
type motionState struct {
	lastSample model.PositionSample // last confirmed sample (owned copy)

	current   geo.Point // current animated position
	animFrom  geo.Point // animation start position
	animTo    geo.Point // animation target position
	animStart time.Time // animation start time

	eligible bool // extrapolation eligibility (speed threshold)
	phase    phase
}

// Engine converts discrete position updates into continuously sampled,
// eased positions, with short-horizon dead-reckoning while updates are
// delayed.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	tickSignal *notify.Broadcaster

	// now is a test hook; defaults to time.Now.
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	states  map[string]*motionState

	updates int64
	snaps   int64
	ticks   int64
	evicted int64
}

// EngineStats provides counters for diagnostics.
type EngineStats struct {
	Entities      int
	Animating     int
	Extrapolating int
	Frozen        int
	Ticks         int64
	Updates       int64
	Snaps         int64
	Evicted       int64
}

// NewEngine creates an interpolation engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.TickInterval == 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.AnimDuration == 0 {
		cfg.AnimDuration = def.AnimDuration
	}
	if cfg.ExtrapolateMinSpeed == 0 {
		cfg.ExtrapolateMinSpeed = def.ExtrapolateMinSpeed
	}
	if cfg.ExtrapolationHorizon == 0 {
		cfg.ExtrapolationHorizon = def.ExtrapolationHorizon
	}

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		tickSignal: notify.NewBroadcaster(),
		now:        time.Now,
		states:     make(map[string]*motionState),
	}
}

// Start begins the animation tick.
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
	go e.tickLoop()

	e.logger.Info("motion engine started",
		"tick_interval", e.cfg.TickInterval,
		"anim_duration", e.cfg.AnimDuration,
	)
	return nil
}

// Stop cancels the tick timer and releases all motion state.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

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
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	e.states = make(map[string]*motionState)
	e.started = false
	e.mu.Unlock()

	e.logger.Info("motion engine stopped")
	return nil
}

// UpdatePosition ingests a confirmed sample for an entity. The current
// animated position becomes the new animation start and the sample
// position the target.
func (e *Engine) UpdatePosition(sample model.PositionSample) {
	sample = sample.Clone()
	target := sample.Point()
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.updates++

	st, ok := e.states[sample.EntityID]
	if !ok {
		// First sample for this entity: snap, no animation.
		e.states[sample.EntityID] = &motionState{
			lastSample: sample,
			current:    target,
			animFrom:   target,
			animTo:     target,
			animStart:  now,
			eligible:   sample.Speed >= e.cfg.ExtrapolateMinSpeed,
			phase:      phaseIdle,
		}
		e.snaps++
		return
	}

	// Out-of-order sample: it arrived after the animation (or
	// extrapolation) already advanced past its measurement time.
	// Snap straight to it rather than easing backwards.
	stale := !sample.Timestamp.After(st.lastSample.Timestamp)

	st.lastSample = sample
	st.eligible = sample.Speed >= e.cfg.ExtrapolateMinSpeed

	if stale || e.cfg.AnimDuration <= 0 {
		st.current = target
		st.animFrom = target
		st.animTo = target
		st.animStart = now
		st.phase = phaseIdle
		e.snaps++
		return
	}

	if target == st.current {
		// No-op animation: the fraction jumps straight to 1 and the
		// next tick resolves the follow-on phase.
		st.animFrom = target
		st.animTo = target
		st.animStart = now.Add(-e.cfg.AnimDuration)
		st.phase = phaseAnimating
		return
	}

	st.animFrom = st.current
	st.animTo = target
	st.animStart = now
	st.phase = phaseAnimating
}

// CurrentValue returns the entity's current animated position. Pure
// read; no state changes.
func (e *Engine) CurrentValue(entityID string) (geo.Point, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.states[entityID]
	if !ok {
		return geo.Point{}, false
	}
	return st.current, true
}

// Subscribe returns the coalesced per-tick change signal: one
// notification per tick in which at least one entity moved.
func (e *Engine) Subscribe() *notify.Subscription {
	return e.tickSignal.Subscribe()
}

// Snapshot returns a read-only copy of every entity's animated
// position, taken under one lock so it is consistent within a tick.
func (e *Engine) Snapshot() []model.ClusterableEntity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.ClusterableEntity, 0, len(e.states))
	for id, st := range e.states {
		out = append(out, model.ClusterableEntity{
			EntityID: id,
			Pos:      st.current,
		})
	}
	return out
}

// Retain evicts motion state for entities absent from keep. Eviction
// is reference-driven (entities no live viewport cares about), never
// time-driven.
func (e *Engine) Retain(keep map[string]struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id := range e.states {
		if _, ok := keep[id]; !ok {
			delete(e.states, id)
			e.evicted++
		}
	}
}

// Stats returns engine counters.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := EngineStats{
		Entities: len(e.states),
		Ticks:    e.ticks,
		Updates:  e.updates,
		Snaps:    e.snaps,
		Evicted:  e.evicted,
	}
	for _, st := range e.states {
		switch st.phase {
		case phaseAnimating:
			stats.Animating++
		case phaseExtrapolating:
			stats.Extrapolating++
		case phaseFrozen:
			stats.Frozen++
		}
	}
	return stats
}

// tickLoop drives the animation at the configured cadence.
func (e *Engine) tickLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick(e.now())
		}
	}
}

// tick advances all active entities using the same now, so relative
// motion stays consistent across entities within one tick.
func (e *Engine) tick(now time.Time) {
	e.mu.Lock()

	e.ticks++
	active := false

	for _, st := range e.states {
		switch st.phase {
		case phaseAnimating:
			f := fraction(now.Sub(st.animStart), e.cfg.AnimDuration)
			st.current = lerp(st.animFrom, st.animTo, easeOutCubic(f))
			active = true

			if f >= 1 {
				if st.eligible {
					st.phase = phaseExtrapolating
				} else {
					st.phase = phaseIdle
				}
			}

		case phaseExtrapolating:
			animEnd := st.animStart.Add(e.cfg.AnimDuration)
			elapsed := now.Sub(animEnd)
			if elapsed < 0 {
				elapsed = 0
			}
			if elapsed >= e.cfg.ExtrapolationHorizon {
				elapsed = e.cfg.ExtrapolationHorizon
				st.phase = phaseFrozen
			}
			st.current = deadReckon(st.animTo, st.lastSample, elapsed)
			active = true
		}
	}

	e.mu.Unlock()

	if active {
		e.tickSignal.Notify()
	}
}

// fraction returns elapsed/duration clamped to [0, 1]; a non-positive
// duration snaps to 1.
func fraction(elapsed, duration time.Duration) float64 {
	if duration <= 0 {
		return 1
	}
	f := float64(elapsed) / float64(duration)
	return math.Max(0, math.Min(1, f))
}

// easeOutCubic is the monotonic ease-out curve 1-(1-f)^3.
func easeOutCubic(f float64) float64 {
	return float64(ease.OutCubic(float32(f), 0, 1, 1))
}

// lerp interpolates between two projected points.
func lerp(from, to geo.Point, f float64) geo.Point {
	return geo.Point{
		X: from.X + (to.X-from.X)*f,
		Y: from.Y + (to.Y-from.Y)*f,
	}
}

// deadReckon advances base along the sample's heading at its speed for
// elapsed time, in projected world units.
func deadReckon(base geo.Point, sample model.PositionSample, elapsed time.Duration) geo.Point {
	meters := sample.Speed * elapsed.Seconds()
	dist := geo.MetersToWorld(meters, sample.Lat)
	rad := sample.Heading * math.Pi / 180

	// North is -Y in Mercator world coordinates.
	return geo.Point{
		X: base.X + dist*math.Sin(rad),
		Y: base.Y - dist*math.Cos(rad),
	}
}
