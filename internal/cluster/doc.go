// Package cluster implements the Adaptive Clustering Engine.
//
// Compute is a pure, deterministic grid-clustering pass: entities are
// bucketed into cells sized to a zoom-dependent pixel threshold and
// each occupied cell becomes one cluster (singletons stay unclustered).
// Engine wraps it reactively with debounced triggers and a worker
// boundary for large entity counts.
package cluster
