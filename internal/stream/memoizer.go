package stream

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetglass/livemap/internal/model"
)

// Errors
var (
	ErrAlreadySubscribed = errors.New("key already subscribed")
	ErrAlreadyReleased   = errors.New("handle already released")
	ErrClosed            = errors.New("memoizer closed")
)

// Source opens upstream subscriptions on demand. The Memoizer calls
// Subscribe at most once per key while any handle for that key lives.
type Source interface {
	Subscribe(key string) (Upstream, error)
}

// Upstream is one live upstream subscription.
type Upstream interface {
	// Samples delivers updates until Close.
	Samples() <-chan model.PositionSample

	// Close tears the subscription down.
	Close() error
}

// Memoizer guarantees at most one upstream subscription per key
// regardless of subscriber count. Subscribing bumps a reference count;
// the first reference opens the upstream and every received sample fans
// out to all live handles. Releasing the last handle closes the
// upstream after a grace delay, so subscribe/release churn from UI
// rebuilds does not thrash the upstream.
type Memoizer struct {
	src    Source
	grace  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	entries map[string]*memoEntry

	opened      int64
	closedCount int64
}

type memoEntry struct {
	key        string
	refs       int
	upstream   Upstream
	handles    map[uuid.UUID]*Handle
	done       chan struct{}
	graceTimer *time.Timer
}

// Handle is one subscriber's capability to receive updates for a key.
type Handle struct {
	// ID uniquely identifies this handle for diagnostics.
	ID uuid.UUID

	key string
	m   *Memoizer
	box *Mailbox[model.PositionSample]

	mu       sync.Mutex
	released bool
}

// MemoizerDiagnostics describes the memoizer cache for observability.
type MemoizerDiagnostics struct {
	CacheSize int
	Keys      []string
	Opened    int64
	Closed    int64
}

// NewMemoizer creates a Memoizer over src. grace is the delay between
// the last release for a key and the upstream teardown.
func NewMemoizer(src Source, grace time.Duration, logger *slog.Logger) *Memoizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memoizer{
		src:     src,
		grace:   grace,
		logger:  logger,
		entries: make(map[string]*memoEntry),
	}
}

// Subscribe returns a handle receiving updates for key. The first
// subscriber for a key opens the upstream; later subscribers share it.
func (m *Memoizer) Subscribe(key string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	entry, ok := m.entries[key]
	if !ok {
		upstream, err := m.src.Subscribe(key)
		if err != nil {
			return nil, err
		}

		entry = &memoEntry{
			key:      key,
			upstream: upstream,
			handles:  make(map[uuid.UUID]*Handle),
			done:     make(chan struct{}),
		}
		m.entries[key] = entry
		m.opened++

		go m.fanoutLoop(entry)

		m.logger.Debug("upstream opened", "key", key)
	}

	// A pending grace teardown is cancelled by a new subscriber.
	if entry.graceTimer != nil {
		entry.graceTimer.Stop()
		entry.graceTimer = nil
	}

	h := &Handle{
		ID:  uuid.New(),
		key: key,
		m:   m,
		box: NewMailbox[model.PositionSample](),
	}
	entry.refs++
	entry.handles[h.ID] = h

	return h, nil
}

// Diagnostics returns the current cache shape.
func (m *Memoizer) Diagnostics() MemoizerDiagnostics {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return MemoizerDiagnostics{
		CacheSize: len(m.entries),
		Keys:      keys,
		Opened:    m.opened,
		Closed:    m.closedCount,
	}
}

// Close releases every entry immediately, ignoring grace delays.
func (m *Memoizer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for key, entry := range m.entries {
		if entry.graceTimer != nil {
			entry.graceTimer.Stop()
		}
		close(entry.done)
		entry.upstream.Close()
		m.closedCount++
		delete(m.entries, key)
	}
}

// fanoutLoop forwards upstream samples to every live handle.
func (m *Memoizer) fanoutLoop(entry *memoEntry) {
	for {
		select {
		case <-entry.done:
			return
		case sample, ok := <-entry.upstream.Samples():
			if !ok {
				return
			}
			m.fanout(entry, sample)
		}
	}
}

func (m *Memoizer) fanout(entry *memoEntry, sample model.PositionSample) {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(entry.handles))
	for _, h := range entry.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.box.Put(sample.Clone())
	}
}

// Key returns the entity key this handle subscribes to.
func (h *Handle) Key() string { return h.key }

// Ready signals when a new sample is pending.
func (h *Handle) Ready() <-chan struct{} { return h.box.Ready() }

// Latest returns the newest pending sample, if any. Intermediate
// samples the caller never saw are conflated away.
func (h *Handle) Latest() (model.PositionSample, bool) {
	return h.box.Take()
}

// Release drops this handle's reference. Releasing the last handle for
// a key schedules the upstream teardown after the grace delay.
// Releasing twice is a caller lifecycle bug and reports an error.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return ErrAlreadyReleased
	}
	h.released = true
	h.mu.Unlock()

	m := h.m
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[h.key]
	if !ok {
		return nil
	}

	delete(entry.handles, h.ID)
	entry.refs--

	if entry.refs > 0 {
		return nil
	}

	// Last reference: tear down after grace, unless someone
	// resubscribes first.
	key := h.key
	entry.graceTimer = time.AfterFunc(m.grace, func() {
		m.teardown(key)
	})

	return nil
}

// teardown closes the upstream for key if it is still unreferenced.
func (m *Memoizer) teardown(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || entry.refs > 0 {
		return
	}

	close(entry.done)
	entry.upstream.Close()
	delete(m.entries, key)
	m.closedCount++

	m.logger.Debug("upstream closed", "key", key)
}
