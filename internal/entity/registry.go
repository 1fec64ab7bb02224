package entity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fleetglass/livemap/internal/model"
	"github.com/fleetglass/livemap/internal/notify"
)

// Registry caches out-of-band entity metadata (display attributes)
// delivered alongside the position stream. It is the explicit,
// injected service object consumers read display attributes from;
// there is no implicit process-wide instance.
type Registry struct {
	logger *slog.Logger
	input  <-chan model.MetadataUpdate

	changed *notify.Broadcaster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	entities map[string]record

	upserts int64
}

type record struct {
	attrs     map[string]string
	updatedAt time.Time
}

// Stats provides registry counters.
type Stats struct {
	Entities int
	Upserts  int64
}

// NewRegistry creates a Registry fed from input.
func NewRegistry(input <-chan model.MetadataUpdate, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		input:    input,
		changed:  notify.NewBroadcaster(),
		entities: make(map[string]record),
	}
}

// Start begins consuming metadata updates.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.consumeLoop()

	r.logger.Info("entity registry started")
	return nil
}

// Stop gracefully shuts the registry down.
func (r *Registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("entity registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upsert merges one metadata update into the registry.
func (r *Registry) Upsert(update model.MetadataUpdate) {
	r.mu.Lock()
	rec, ok := r.entities[update.EntityID]
	if !ok {
		rec = record{attrs: make(map[string]string)}
	}
	for k, v := range update.Attributes {
		rec.attrs[k] = v
	}
	rec.updatedAt = update.UpdatedAt
	r.entities[update.EntityID] = rec
	r.upserts++
	r.mu.Unlock()

	r.changed.Notify()
}

// Get returns a copy of the entity's display attributes.
func (r *Registry) Get(entityID string) (map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.entities[entityID]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(rec.attrs))
	for k, v := range rec.attrs {
		out[k] = v
	}
	return out, true
}

// Known returns all entity ids with metadata, sorted.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Subscribe returns the metadata-changed signal.
func (r *Registry) Subscribe() *notify.Subscription {
	return r.changed.Subscribe()
}

// Stats returns registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Entities: len(r.entities), Upserts: r.upserts}
}

// consumeLoop drains the metadata channel.
func (r *Registry) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case update, ok := <-r.input:
			if !ok {
				r.logger.Info("metadata input closed")
				return
			}
			r.Upsert(update)
		}
	}
}
