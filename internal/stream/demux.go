package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fleetglass/livemap/internal/model"
)

// Demux splits the manager's merged sample stream into per-entity
// upstream subscriptions for the Memoizer. At most one registration
// exists per key; samples for unregistered keys are counted and
// dropped.
type Demux struct {
	logger *slog.Logger
	input  <-chan model.PositionSample

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	routes   map[string]*demuxRoute
	onNewKey func(key string)

	received  int64
	routed    int64
	unclaimed int64
	seen      map[string]struct{}
}

type demuxRoute struct {
	key string
	ch  chan model.PositionSample
}

// NewDemux creates a Demux reading from input.
func NewDemux(input <-chan model.PositionSample, logger *slog.Logger) *Demux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Demux{
		logger: logger,
		input:  input,
		routes: make(map[string]*demuxRoute),
		seen:   make(map[string]struct{}),
	}
}

// OnNewKey registers a callback invoked once per entity key the first
// time a sample for it arrives. Must be set before Start.
func (d *Demux) OnNewKey(fn func(key string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onNewKey = fn
}

// Start begins routing samples.
func (d *Demux) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.routeLoop()

	d.logger.Info("sample demux started")
	return nil
}

// Stop gracefully shuts down the demux.
func (d *Demux) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("sample demux stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe opens the single upstream registration for key. It
// implements the Memoizer's Source contract.
func (d *Demux) Subscribe(key string) (Upstream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.routes[key]; exists {
		return nil, ErrAlreadySubscribed
	}

	route := &demuxRoute{
		key: key,
		ch:  make(chan model.PositionSample, 1),
	}
	d.routes[key] = route

	return &demuxUpstream{d: d, route: route}, nil
}

// Stats returns routing counters.
func (d *Demux) Stats() DemuxStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DemuxStats{
		Routes:    len(d.routes),
		Received:  d.received,
		Routed:    d.routed,
		Unclaimed: d.unclaimed,
	}
}

// DemuxStats contains Demux counters.
type DemuxStats struct {
	Routes    int
	Received  int64
	Routed    int64
	Unclaimed int64
}

// routeLoop is the main routing goroutine.
func (d *Demux) routeLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case sample, ok := <-d.input:
			if !ok {
				d.logger.Info("sample input closed")
				return
			}
			d.route(sample)
		}
	}
}

// route delivers one sample to its key's registration, if any.
func (d *Demux) route(sample model.PositionSample) {
	d.mu.Lock()
	d.received++

	var newKey func(string)
	if _, known := d.seen[sample.EntityID]; !known {
		d.seen[sample.EntityID] = struct{}{}
		newKey = d.onNewKey
	}

	route, exists := d.routes[sample.EntityID]
	if exists {
		d.routed++
	} else {
		d.unclaimed++
	}
	d.mu.Unlock()

	if newKey != nil {
		newKey(sample.EntityID)
	}

	if !exists {
		return
	}

	// Per-key channel has capacity 1; replace any pending sample so
	// the newest always wins.
	for {
		select {
		case route.ch <- sample:
			return
		default:
		}
		select {
		case <-route.ch:
		default:
		}
	}
}

// demuxUpstream adapts one route to the Upstream interface.
type demuxUpstream struct {
	d     *Demux
	route *demuxRoute

	closeOnce sync.Once
}

func (u *demuxUpstream) Samples() <-chan model.PositionSample {
	return u.route.ch
}

func (u *demuxUpstream) Close() error {
	u.closeOnce.Do(func() {
		u.d.mu.Lock()
		if current, ok := u.d.routes[u.route.key]; ok && current == u.route {
			delete(u.d.routes, u.route.key)
		}
		u.d.mu.Unlock()
	})
	return nil
}
