package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetglass/livemap/internal/model"
	"github.com/fleetglass/livemap/internal/sched"
)

// Manager owns the one logical subscription to the position feed. It
// dials, watches for unexpected closure, and reconnects with
// exponential backoff forever; only Stop halts retries. Suspension and
// resumption are explicit calls so the embedding application decides
// when reconnection attempts run.
type Manager interface {
	// Connect starts the feed connection loop.
	Connect(ctx context.Context) error

	// Resume restarts connection attempts after Suspend. Idempotent;
	// calls within the debounce window of a previous accepted call
	// coalesce into a logged no-op.
	Resume()

	// Suspend drops the connection and pauses reconnection attempts.
	Suspend()

	// Stop shuts the manager down and cancels pending reconnect timers.
	Stop(ctx context.Context) error

	// Samples returns the stream of parsed position updates.
	Samples() <-chan model.PositionSample

	// Metadata returns the stream of out-of-band metadata updates.
	Metadata() <-chan model.MetadataUpdate

	// BackoffState exposes the reconnect schedule for diagnostics.
	BackoffState() BackoffState

	// Stats returns connection counters.
	Stats() ManagerStats
}

// ManagerStats provides counters for diagnostics.
type ManagerStats struct {
	Connected        bool
	Suspended        bool
	Connects         int64 // successful connections
	Failures         int64 // failed attempts and unexpected closures
	FramesReceived   int64
	ParseErrors      int64
	FramesDropped    int64
	ResumesCoalesced int64
	Backoff          BackoffState
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	samples  chan model.PositionSample
	metadata chan model.MetadataUpdate

	resumeGate *sched.Gate
	resumeCh   chan struct{}
	suspendCh  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Test hook; defaults to NewClient.
	newClient func(cfg ClientConfig, logger *slog.Logger) Client

	mu        sync.RWMutex
	started   bool
	connected bool
	suspended bool
	attempt   int

	connects      int64
	failures      int64
	frames        int64
	parseErrors   int64
	framesDropped int64
}

// NewManager creates a connection manager for the given feed.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBaseDelay == 0 {
		cfg.ReconnectBaseDelay = DefaultManagerConfig().ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay == 0 {
		cfg.ReconnectMaxDelay = DefaultManagerConfig().ReconnectMaxDelay
	}
	if cfg.ResumeDebounce == 0 {
		cfg.ResumeDebounce = DefaultManagerConfig().ResumeDebounce
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultManagerConfig().BufferSize
	}

	return &manager{
		cfg:        cfg,
		logger:     logger,
		samples:    make(chan model.PositionSample, cfg.BufferSize),
		metadata:   make(chan model.MetadataUpdate, 256),
		resumeGate: sched.NewGate(cfg.ResumeDebounce),
		resumeCh:   make(chan struct{}, 1),
		suspendCh:  make(chan struct{}, 1),
		newClient:  NewClient,
	}
}

// Connect starts the connection loop.
func (m *manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()

	m.logger.Info("connection manager started", "url", m.cfg.URL)
	return nil
}

// Resume restarts connection attempts after a Suspend.
func (m *manager) Resume() {
	if !m.resumeGate.Allow() {
		m.logger.Debug("resume coalesced")
		return
	}

	m.mu.Lock()
	wasSuspended := m.suspended
	m.suspended = false
	m.mu.Unlock()

	if !wasSuspended {
		return
	}

	select {
	case m.resumeCh <- struct{}{}:
	default:
	}

	m.logger.Info("feed resumed")
}

// Suspend drops the connection and pauses retries.
func (m *manager) Suspend() {
	m.mu.Lock()
	if m.suspended {
		m.mu.Unlock()
		return
	}
	m.suspended = true
	m.mu.Unlock()

	select {
	case m.suspendCh <- struct{}{}:
	default:
	}

	m.logger.Info("feed suspended")
}

// Stop shuts down the manager.
func (m *manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

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
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Samples returns the parsed position stream.
func (m *manager) Samples() <-chan model.PositionSample {
	return m.samples
}

// Metadata returns the parsed metadata stream.
func (m *manager) Metadata() <-chan model.MetadataUpdate {
	return m.metadata
}

// BackoffState exposes the reconnect schedule.
func (m *manager) BackoffState() BackoffState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backoffStateLocked()
}

// backoffStateLocked reports the currently scheduled reconnect wait:
// the base delay while connected, otherwise the wait that follows the
// most recent failed attempt.
func (m *manager) backoffStateLocked() BackoffState {
	next := m.cfg.ReconnectBaseDelay
	if m.attempt > 0 {
		next = backoffDelay(m.attempt, m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay)
	}
	return BackoffState{Attempt: m.attempt, NextDelay: next}
}

// Stats returns connection counters.
func (m *manager) Stats() ManagerStats {
	gate := m.resumeGate.Stats()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return ManagerStats{
		Connected:        m.connected,
		Suspended:        m.suspended,
		Connects:         m.connects,
		Failures:         m.failures,
		FramesReceived:   m.frames,
		ParseErrors:      m.parseErrors,
		FramesDropped:    m.framesDropped,
		ResumesCoalesced: gate.Coalesced,
		Backoff:          m.backoffStateLocked(),
	}
}

// backoffDelay returns the wait before the given attempt number
// (1-based): base, 2*base, 4*base, ... capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		d = max
	}
	return d
}

// run is the connection loop: dial, consume, back off, repeat.
func (m *manager) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if m.isSuspended() {
			select {
			case <-m.ctx.Done():
				return
			case <-m.resumeCh:
			}
			continue
		}

		client := m.newClient(ClientConfig{
			URL:          m.cfg.URL,
			PingTimeout:  m.cfg.PingTimeout,
			WriteTimeout: m.cfg.WriteTimeout,
			BufferSize:   m.cfg.BufferSize,
		}, m.logger)

		if err := client.Connect(m.ctx); err != nil {
			client.Close()
			delay := m.recordFailure()
			m.logger.Warn("feed connect failed",
				"error", err,
				"attempt", m.currentAttempt(),
				"next_delay", delay,
			)
			if !m.waitBackoff(delay) {
				return
			}
			continue
		}

		m.markConnected()
		m.logger.Info("feed connected", "url", m.cfg.URL)

		closedUnexpectedly := m.consume(client)
		client.Close()
		m.markDisconnected()

		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if m.isSuspended() {
			continue
		}

		if closedUnexpectedly {
			delay := m.recordFailure()
			m.logger.Warn("feed connection lost",
				"attempt", m.currentAttempt(),
				"next_delay", delay,
			)
			if !m.waitBackoff(delay) {
				return
			}
		}
	}
}

// consume drains frames from the client until closure, suspension, or
// shutdown. Returns true if the connection ended unexpectedly.
func (m *manager) consume(client Client) bool {
	for {
		select {
		case <-m.ctx.Done():
			return false

		case <-m.suspendCh:
			return false

		case err := <-client.Errors():
			m.logger.Debug("feed connection error", "error", err)
			return true

		case msg, ok := <-client.Messages():
			if !ok {
				return true
			}
			m.handleFrame(msg)
		}
	}
}

// waitBackoff sleeps for delay; returns false on shutdown.
func (m *manager) waitBackoff(delay time.Duration) bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-m.suspendCh:
		return true
	case <-time.After(delay):
		return true
	}
}

// handleFrame parses a raw frame and emits the typed record.
func (m *manager) handleFrame(msg TimestampedMessage) {
	m.mu.Lock()
	m.frames++
	m.mu.Unlock()

	kind, err := frameType(msg.Data)
	if err != nil {
		m.recordParseError("frame envelope", err)
		return
	}

	switch kind {
	case "position":
		var wire positionWire
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			m.recordParseError("position frame", err)
			return
		}
		sample := model.PositionSample{
			EntityID:   wire.EntityID,
			Lat:        wire.Lat,
			Lon:        wire.Lon,
			Timestamp:  time.UnixMilli(wire.Ts),
			Speed:      wire.Speed,
			Heading:    wire.Heading,
			Attributes: wire.Attributes,
		}
		select {
		case m.samples <- sample:
		default:
			m.mu.Lock()
			m.framesDropped++
			m.mu.Unlock()
		}

	case "metadata":
		var wire metadataWire
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			m.recordParseError("metadata frame", err)
			return
		}
		update := model.MetadataUpdate{
			EntityID:   wire.EntityID,
			Attributes: wire.Attributes,
			UpdatedAt:  time.UnixMilli(wire.Ts),
		}
		select {
		case m.metadata <- update:
		default:
			m.mu.Lock()
			m.framesDropped++
			m.mu.Unlock()
		}

	default:
		m.logger.Debug("skipping frame type", "type", kind)
	}
}

func (m *manager) recordParseError(what string, err error) {
	m.mu.Lock()
	m.parseErrors++
	m.mu.Unlock()
	m.logger.Warn("failed to parse "+what, "error", err)
}

func (m *manager) recordFailure() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.attempt++
	return backoffDelay(m.attempt, m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay)
}

func (m *manager) markConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.connects++
	m.attempt = 0
}

func (m *manager) markDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *manager) isSuspended() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.suspended
}

func (m *manager) currentAttempt() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempt
}
