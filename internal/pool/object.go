package pool

import (
	"container/list"
	"errors"
	"log/slog"
	"sync"

	"github.com/fleetglass/livemap/internal/geo"
)

// Errors
var (
	// ErrNotInUse reports a Release of an object the pool does not
	// consider in use: a double release or a foreign object. It
	// signals a lifecycle bug in the caller.
	ErrNotInUse = errors.New("object not in use")
)

// Tier is a visual-weight class of renderable marker, pooled
// separately from the other classes.
type Tier int

const (
	TierSmall Tier = iota
	TierMedium
	TierLarge
)

// Tiers lists all tiers in ascending weight order.
var Tiers = []Tier{TierSmall, TierMedium, TierLarge}

func (t Tier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierMedium:
		return "medium"
	case TierLarge:
		return "large"
	default:
		return "unknown"
	}
}

// Marker is a reusable renderable marker object. The pool owns idle
// markers; callers borrow via Acquire and must Release when done.
type Marker struct {
	Tier Tier

	// Render state, reset on reuse.
	Key   string
	Pos   geo.Point
	Attrs map[string]string

	seq int64 // construction sequence, for diagnostics
}

func (m *Marker) reset(key string) {
	m.Key = key
	m.Pos = geo.Point{}
	m.Attrs = nil
}

// ObjectPool reuses Markers per tier. Acquire returns an idle object
// or constructs a fresh one; exhaustion never fails. Release returns
// an object to the idle set; when a tier's idle set exceeds its cap
// the least-recently-used idle object is discarded. In-use objects are
// never evicted.
type ObjectPool struct {
	logger *slog.Logger

	mu    sync.Mutex
	tiers map[Tier]*tierState
	seq   int64

	constructed int64
	reused      int64
	releases    int64
	evictions   int64
	badReleases int64
}

type tierState struct {
	cap   int
	idle  *list.List // front = most recently released
	inUse map[*Marker]struct{}
}

// ObjectStats describes pool occupancy and reuse effectiveness.
type ObjectStats struct {
	Idle        map[string]int
	InUse       map[string]int
	Caps        map[string]int
	Constructed int64
	Reused      int64
	Releases    int64
	Evictions   int64
	BadReleases int64
	ReuseRate   float64
}

// NewObjectPool creates an object pool with the given per-tier caps.
func NewObjectPool(caps map[Tier]int, logger *slog.Logger) *ObjectPool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &ObjectPool{
		logger: logger,
		tiers:  make(map[Tier]*tierState),
	}
	for _, t := range Tiers {
		p.tiers[t] = &tierState{
			cap:   caps[t],
			idle:  list.New(),
			inUse: make(map[*Marker]struct{}),
		}
	}
	return p
}

// Acquire returns a marker for the given tier, reusing an idle one
// when available. Never fails: an exhausted tier constructs fresh.
func (p *ObjectPool) Acquire(tier Tier, key string) *Marker {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.tiers[tier]

	if el := ts.idle.Front(); el != nil {
		ts.idle.Remove(el)
		m := el.Value.(*Marker)
		m.reset(key)
		ts.inUse[m] = struct{}{}
		p.reused++
		return m
	}

	p.seq++
	m := &Marker{Tier: tier, Key: key, seq: p.seq}
	ts.inUse[m] = struct{}{}
	p.constructed++
	return m
}

// Release returns a marker to its tier's idle set. Releasing an object
// that is not in use is a caller lifecycle bug and returns ErrNotInUse.
func (p *ObjectPool) Release(m *Marker) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.tiers[m.Tier]
	if _, ok := ts.inUse[m]; !ok {
		p.badReleases++
		p.logger.Warn("release of object not in use", "tier", m.Tier.String())
		return ErrNotInUse
	}

	delete(ts.inUse, m)
	ts.idle.PushFront(m)
	p.releases++

	p.evictTierLocked(ts)
	return nil
}

// Resize swaps the per-tier caps, evicting surplus idle objects
// oldest-first.
func (p *ObjectPool) Resize(caps map[Tier]int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range Tiers {
		ts := p.tiers[t]
		ts.cap = caps[t]
		p.evictTierLocked(ts)
	}
}

// TrimIdle discards up to n idle objects per tier beyond half the cap.
// Used by sweep maintenance to return memory after load spikes.
func (p *ObjectPool) TrimIdle(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	trimmed := 0
	for _, t := range Tiers {
		ts := p.tiers[t]
		keep := ts.cap / 2
		for i := 0; i < n && ts.idle.Len() > keep; i++ {
			back := ts.idle.Back()
			if back == nil {
				break
			}
			ts.idle.Remove(back)
			p.evictions++
			trimmed++
		}
	}
	return trimmed
}

// Stats returns pool counters.
func (p *ObjectPool) Stats() ObjectStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := ObjectStats{
		Idle:        make(map[string]int, len(Tiers)),
		InUse:       make(map[string]int, len(Tiers)),
		Caps:        make(map[string]int, len(Tiers)),
		Constructed: p.constructed,
		Reused:      p.reused,
		Releases:    p.releases,
		Evictions:   p.evictions,
		BadReleases: p.badReleases,
	}
	for _, t := range Tiers {
		ts := p.tiers[t]
		stats.Idle[t.String()] = ts.idle.Len()
		stats.InUse[t.String()] = len(ts.inUse)
		stats.Caps[t.String()] = ts.cap
	}
	total := p.constructed + p.reused
	if total > 0 {
		stats.ReuseRate = float64(p.reused) / float64(total)
	}
	return stats
}

// evictTierLocked discards LRU idle objects while over cap. In-use
// objects are never candidates.
func (p *ObjectPool) evictTierLocked(ts *tierState) {
	if ts.cap <= 0 {
		return
	}
	for ts.idle.Len() > ts.cap {
		back := ts.idle.Back()
		if back == nil {
			return
		}
		ts.idle.Remove(back)
		p.evictions++
	}
}
