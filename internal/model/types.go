package model

import (
	"time"

	"github.com/fleetglass/livemap/internal/geo"
)

// PositionSample is a single position update for an entity as received
// from the feed. Samples are immutable; the motion engine copies them
// on ingest so no two consumers alias the same attribute map.
type PositionSample struct {
	EntityID   string            // Stable entity identifier
	Lat        float64           // WGS84 latitude
	Lon        float64           // WGS84 longitude
	Timestamp  time.Time         // When the position was measured
	Speed      float64           // Ground speed (m/s)
	Heading    float64           // Degrees clockwise from north
	Attributes map[string]string // Optional raw attributes from the feed
}

// Clone returns a deep copy of the sample. The attribute map is copied
// so the clone can outlive the original without aliasing.
func (s PositionSample) Clone() PositionSample {
	out := s
	if s.Attributes != nil {
		out.Attributes = make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Point returns the sample position in projected world coordinates.
func (s PositionSample) Point() geo.Point {
	return geo.Project(geo.LatLon{Lat: s.Lat, Lon: s.Lon})
}

// MetadataUpdate is an out-of-band entity metadata record (display
// name, icon, category) delivered on the same feed as positions.
type MetadataUpdate struct {
	EntityID   string
	Attributes map[string]string
	UpdatedAt  time.Time
}

// ClusterableEntity is a read-only snapshot of one entity taken once
// per clustering pass.
type ClusterableEntity struct {
	EntityID string
	Pos      geo.Point         // Current animated position
	Meta     map[string]string // Display attributes (not interpreted here)
}

// ClusterResult is one element of a clustering pass output: either an
// aggregated cluster or a single unclustered entity.
type ClusterResult struct {
	IsCluster bool

	// Cluster fields (IsCluster == true)
	Centroid    geo.Point
	MemberIDs   []string
	MemberCount int

	// Entity field (IsCluster == false)
	Entity ClusterableEntity
}
