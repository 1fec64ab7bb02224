package cluster

import (
	"math"

	"github.com/fleetglass/livemap/internal/geo"
	"github.com/fleetglass/livemap/internal/model"
)

// Config holds clustering parameters.
type Config struct {
	// ViewportMargin pads the viewport filter, in pixels at the
	// current zoom, so markers just off-screen are still animated in.
	ViewportMargin float64

	// Cluster radius in pixels, interpolated linearly between
	// RadiusAtMin at MinZoom and RadiusAtMax at MaxZoom and clamped
	// outside that range. Radius shrinks as zoom grows.
	MinZoom     float64
	MaxZoom     float64
	RadiusAtMin float64
	RadiusAtMax float64

	// AsyncThreshold is the entity count above which a pass runs on
	// the worker instead of inline (default 800: beyond that a
	// synchronous pass risks exceeding a frame budget).
	AsyncThreshold int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ViewportMargin: 64,
		MinZoom:        1,
		MaxZoom:        13,
		RadiusAtMin:    120,
		RadiusAtMax:    30,
		AsyncThreshold: 800,
	}
}

// RadiusForZoom returns the pixel-distance threshold at the given
// zoom: monotonically non-increasing in zoom.
func RadiusForZoom(cfg Config, zoom float64) float64 {
	if zoom <= cfg.MinZoom {
		return cfg.RadiusAtMin
	}
	if zoom >= cfg.MaxZoom {
		return cfg.RadiusAtMax
	}
	f := (zoom - cfg.MinZoom) / (cfg.MaxZoom - cfg.MinZoom)
	return cfg.RadiusAtMin + f*(cfg.RadiusAtMax-cfg.RadiusAtMin)
}

// Compute aggregates entities into clusters for one zoom/viewport.
// Pure and deterministic: identical input yields an identical result
// list, including ordering. O(n) via grid bucketing; entities sharing
// a grid cell sized to the pixel threshold form one cluster.
//
// The result partitions the viewport-filtered entity set: every
// filtered entity appears in exactly one result. Clusters of size 1
// are re-emitted as unclustered entities.
func Compute(entities []model.ClusterableEntity, zoom float64, viewport geo.Bounds, cfg Config) []model.ClusterResult {
	scale := math.Exp2(zoom)

	// Viewport filter, margin converted from pixels to world units.
	vp := viewport.Expand(cfg.ViewportMargin / scale)
	visible := make([]model.ClusterableEntity, 0, len(entities))
	for _, e := range entities {
		if vp.Contains(e.Pos) {
			visible = append(visible, e)
		}
	}
	if len(visible) == 0 {
		return nil
	}

	// Grid cell size in world units at this zoom.
	cell := RadiusForZoom(cfg, zoom) / scale
	if cell <= 0 {
		cell = math.SmallestNonzeroFloat64
	}

	type bucketKey struct{ cx, cy int }

	// Buckets keep first-appearance order so output order is stable
	// across runs with identical input. math.Floor assigns an entity
	// exactly on a boundary to the lower-index cell.
	buckets := make(map[bucketKey][]model.ClusterableEntity)
	order := make([]bucketKey, 0, len(visible))
	for _, e := range visible {
		key := bucketKey{
			cx: int(math.Floor(e.Pos.X / cell)),
			cy: int(math.Floor(e.Pos.Y / cell)),
		}
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], e)
	}

	results := make([]model.ClusterResult, 0, len(order))
	for _, key := range order {
		members := buckets[key]
		if len(members) == 1 {
			results = append(results, model.ClusterResult{
				IsCluster: false,
				Entity:    members[0],
			})
			continue
		}

		var cx, cy float64
		ids := make([]string, len(members))
		for i, m := range members {
			cx += m.Pos.X
			cy += m.Pos.Y
			ids[i] = m.EntityID
		}
		n := float64(len(members))

		results = append(results, model.ClusterResult{
			IsCluster:   true,
			Centroid:    geo.Point{X: cx / n, Y: cy / n},
			MemberIDs:   ids,
			MemberCount: len(members),
		})
	}

	return results
}
