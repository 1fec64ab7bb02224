package geo

import "math"

// WorldSize is the width and height of the projected world at zoom 0.
const WorldSize = 256.0

// EarthCircumference at the equator, in meters.
const EarthCircumference = 40075016.686

// LatLon is a WGS84 coordinate pair.
type LatLon struct {
	Lat float64
	Lon float64
}

// Point is a position in projected world coordinates at zoom 0
// (both axes in [0, WorldSize)). Y grows southward.
type Point struct {
	X float64
	Y float64
}

// Bounds is an axis-aligned rectangle in world coordinates.
type Bounds struct {
	Min Point
	Max Point
}

// Project converts a lat/lon pair to Web Mercator world coordinates.
// Latitude is clamped to the Mercator limit (~85.05°).
func Project(ll LatLon) Point {
	lat := clampLat(ll.Lat)
	sin := math.Sin(lat * math.Pi / 180)

	x := (ll.Lon + 180) / 360 * WorldSize
	y := (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * WorldSize

	return Point{X: x, Y: y}
}

// Unproject converts world coordinates back to lat/lon.
func Unproject(p Point) LatLon {
	lon := p.X/WorldSize*360 - 180

	n := math.Pi - 2*math.Pi*p.Y/WorldSize
	lat := 180 / math.Pi * math.Atan(0.5*(math.Exp(n)-math.Exp(-n)))

	return LatLon{Lat: lat, Lon: lon}
}

// AtZoom scales a world point to pixel coordinates at the given zoom.
func (p Point) AtZoom(zoom float64) Point {
	scale := math.Exp2(zoom)
	return Point{X: p.X * scale, Y: p.Y * scale}
}

// DistanceTo returns the Euclidean distance between two world points.
func (p Point) DistanceTo(q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// MetersToWorld converts a distance in meters at the given latitude to
// world units at zoom 0. Mercator stretches distances away from the
// equator, hence the cosine correction.
func MetersToWorld(meters, lat float64) float64 {
	metersPerUnit := EarthCircumference * math.Cos(clampLat(lat)*math.Pi/180) / WorldSize
	if metersPerUnit <= 0 {
		return 0
	}
	return meters / metersPerUnit
}

// Contains reports whether p lies within b (inclusive of Min, exclusive
// of Max, so adjacent viewports partition the plane).
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X < b.Max.X && p.Y >= b.Min.Y && p.Y < b.Max.Y
}

// Expand grows the bounds by margin on every side.
func (b Bounds) Expand(margin float64) Bounds {
	return Bounds{
		Min: Point{X: b.Min.X - margin, Y: b.Min.Y - margin},
		Max: Point{X: b.Max.X + margin, Y: b.Max.Y + margin},
	}
}

// Width returns the horizontal extent of the bounds.
func (b Bounds) Width() float64 { return b.Max.X - b.Min.X }

// Height returns the vertical extent of the bounds.
func (b Bounds) Height() float64 { return b.Max.Y - b.Min.Y }

func clampLat(lat float64) float64 {
	const limit = 85.05112878
	return math.Max(-limit, math.Min(limit, lat))
}
