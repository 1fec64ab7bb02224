package motion

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/fleetglass/livemap/internal/geo"
	"github.com/fleetglass/livemap/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEngine returns an engine with a controllable clock. The tick is
// driven directly so tests never sleep.
func testEngine(cfg Config) (*Engine, *time.Time) {
	e := NewEngine(cfg, testLogger())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, &now
}

func sampleAt(id string, ll geo.LatLon, ts time.Time, speed, heading float64) model.PositionSample {
	return model.PositionSample{
		EntityID:  id,
		Lat:       ll.Lat,
		Lon:       ll.Lon,
		Timestamp: ts,
		Speed:     speed,
		Heading:   heading,
	}
}

func TestFirstSampleSnaps(t *testing.T) {
	e, now := testEngine(Config{})

	ll := geo.LatLon{Lat: 47.6, Lon: -122.3}
	e.UpdatePosition(sampleAt("v1", ll, *now, 0, 0))

	got, ok := e.CurrentValue("v1")
	if !ok {
		t.Fatal("no state for v1")
	}
	want := geo.Project(ll)
	if got != want {
		t.Errorf("CurrentValue = %v, want snapped %v", got, want)
	}
	if e.Stats().Snaps != 1 {
		t.Errorf("Snaps = %d, want 1", e.Stats().Snaps)
	}
}

func TestAnimationEasesOutCubic(t *testing.T) {
	e, now := testEngine(Config{AnimDuration: 1200 * time.Millisecond})

	start := *now
	from := geo.LatLon{Lat: 0, Lon: 0}
	to := geo.LatLon{Lat: 0, Lon: 10}

	e.UpdatePosition(sampleAt("v1", from, start, 0, 0))
	e.UpdatePosition(sampleAt("v1", to, start.Add(time.Second), 0, 0))

	fromPt := geo.Project(from)
	toPt := geo.Project(to)

	tests := []struct {
		elapsed  time.Duration
		wantFrac float64 // eased progress along the segment
	}{
		{0, 0},
		{600 * time.Millisecond, 0.875}, // 1-(1-0.5)^3
		{1200 * time.Millisecond, 1},
		{2 * time.Second, 1}, // clamped past the end
	}

	for _, tt := range tests {
		*now = start.Add(tt.elapsed)
		e.tick(*now)

		got, _ := e.CurrentValue("v1")
		wantX := fromPt.X + (toPt.X-fromPt.X)*tt.wantFrac
		if math.Abs(got.X-wantX) > 1e-6 {
			t.Errorf("at %v: X = %v, want %v", tt.elapsed, got.X, wantX)
		}
		if math.Abs(got.Y-fromPt.Y) > 1e-6 {
			t.Errorf("at %v: Y = %v, want %v (east-west move)", tt.elapsed, got.Y, fromPt.Y)
		}
	}
}

func TestNewSampleRestartsFromCurrent(t *testing.T) {
	e, now := testEngine(Config{AnimDuration: time.Second})

	start := *now
	e.UpdatePosition(sampleAt("v1", geo.LatLon{Lat: 0, Lon: 0}, start, 0, 0))
	e.UpdatePosition(sampleAt("v1", geo.LatLon{Lat: 0, Lon: 10}, start.Add(time.Second), 0, 0))

	// Halfway through, a fresh sample arrives. The animation must
	// restart from the current animated position, not jump.
	*now = start.Add(500 * time.Millisecond)
	e.tick(*now)
	mid, _ := e.CurrentValue("v1")

	e.UpdatePosition(sampleAt("v1", geo.LatLon{Lat: 0, Lon: 20}, start.Add(2*time.Second), 0, 0))

	// Immediately after the restart the position is unchanged.
	e.tick(*now)
	got, _ := e.CurrentValue("v1")
	if math.Abs(got.X-mid.X) > 1e-9 {
		t.Errorf("restart jumped: X = %v, want %v", got.X, mid.X)
	}
}

func TestStaleSampleSnapsWithoutAnimation(t *testing.T) {
	e, now := testEngine(Config{AnimDuration: time.Second})

	start := *now
	e.UpdatePosition(sampleAt("v1", geo.LatLon{Lat: 0, Lon: 0}, start, 0, 0))
	e.UpdatePosition(sampleAt("v1", geo.LatLon{Lat: 0, Lon: 10}, start.Add(2*time.Second), 0, 0))

	// A sample older than the last confirmed one snaps straight there.
	late := geo.LatLon{Lat: 0, Lon: 5}
	e.UpdatePosition(sampleAt("v1", late, start.Add(time.Second), 0, 0))

	got, _ := e.CurrentValue("v1")
	want := geo.Project(late)
	if got != want {
		t.Errorf("CurrentValue = %v, want snapped %v", got, want)
	}
}

func TestZeroDurationSnaps(t *testing.T) {
	e, now := testEngine(Config{AnimDuration: -1})

	start := *now
	e.UpdatePosition(sampleAt("v1", geo.LatLon{Lat: 0, Lon: 0}, start, 0, 0))
	e.UpdatePosition(sampleAt("v1", geo.LatLon{Lat: 0, Lon: 10}, start.Add(time.Second), 0, 0))

	got, _ := e.CurrentValue("v1")
	want := geo.Project(geo.LatLon{Lat: 0, Lon: 10})
	if got != want {
		t.Errorf("CurrentValue = %v, want immediate %v", got, want)
	}
}

func TestExtrapolationAndHorizonFreeze(t *testing.T) {
	cfg := Config{
		AnimDuration:         time.Second,
		ExtrapolateMinSpeed:  3.0,
		ExtrapolationHorizon: 8 * time.Second,
	}
	e, now := testEngine(cfg)

	start := *now
	ll := geo.LatLon{Lat: 0, Lon: 0}
	// 10 m/s heading due east, above the eligibility threshold.
	e.UpdatePosition(sampleAt("v1", ll, start, 10, 90))
	e.UpdatePosition(sampleAt("v1", ll, start.Add(time.Second), 10, 90))

	base := geo.Project(ll)

	// Animation completes; the phase hands over to extrapolation.
	*now = start.Add(time.Second)
	e.tick(*now)
	if got := e.Stats().Extrapolating; got != 1 {
		t.Fatalf("Extrapolating = %d, want 1", got)
	}

	// 5s past the animation end: advanced 50m due east.
	*now = start.Add(5 * time.Second)
	e.tick(*now)
	got, _ := e.CurrentValue("v1")
	wantX := base.X + geo.MetersToWorld(50, 0)
	if math.Abs(got.X-wantX) > 1e-9 {
		t.Errorf("extrapolated X = %v, want %v", got.X, wantX)
	}
	if math.Abs(got.Y-base.Y) > 1e-9 {
		t.Errorf("extrapolated Y = %v, want %v (due east)", got.Y, base.Y)
	}

	// Far past the horizon: clamped at 8s of travel and frozen.
	*now = start.Add(time.Minute)
	e.tick(*now)
	got, _ = e.CurrentValue("v1")
	wantX = base.X + geo.MetersToWorld(80, 0)
	if math.Abs(got.X-wantX) > 1e-9 {
		t.Errorf("frozen X = %v, want horizon-clamped %v", got.X, wantX)
	}
	if e.Stats().Frozen != 1 {
		t.Errorf("Frozen = %d, want 1", e.Stats().Frozen)
	}

	// Frozen entities stop generating tick activity.
	sub := e.Subscribe()
	*now = start.Add(2 * time.Minute)
	e.tick(*now)
	select {
	case <-sub.C:
		t.Error("frozen entity still signalled a change")
	default:
	}

	// A fresh sample revives animation.
	e.UpdatePosition(sampleAt("v1", geo.LatLon{Lat: 0, Lon: 1}, start.Add(3*time.Minute), 10, 90))
	e.tick(*now)
	select {
	case <-sub.C:
	default:
		t.Error("revived entity did not signal")
	}
}

func TestSlowEntityDoesNotExtrapolate(t *testing.T) {
	cfg := Config{
		AnimDuration:        time.Second,
		ExtrapolateMinSpeed: 3.0,
	}
	e, now := testEngine(cfg)

	start := *now
	ll := geo.LatLon{Lat: 0, Lon: 0}
	e.UpdatePosition(sampleAt("v1", ll, start, 1.0, 90)) // below threshold
	e.UpdatePosition(sampleAt("v1", geo.LatLon{Lat: 0, Lon: 1}, start.Add(time.Second), 1.0, 90))

	*now = start.Add(2 * time.Second)
	e.tick(*now)
	*now = start.Add(10 * time.Second)
	e.tick(*now)

	stats := e.Stats()
	if stats.Extrapolating != 0 || stats.Frozen != 0 {
		t.Errorf("slow entity extrapolated: %+v", stats)
	}

	// Position stays pinned at the last confirmed target.
	got, _ := e.CurrentValue("v1")
	want := geo.Project(geo.LatLon{Lat: 0, Lon: 1})
	if math.Abs(got.X-want.X) > 1e-9 {
		t.Errorf("idle X = %v, want %v", got.X, want.X)
	}
}

func TestRetainEvictsUnreferenced(t *testing.T) {
	e, now := testEngine(Config{})

	for _, id := range []string{"a", "b", "c"} {
		e.UpdatePosition(sampleAt(id, geo.LatLon{Lat: 1, Lon: 1}, *now, 0, 0))
	}

	e.Retain(map[string]struct{}{"b": {}})

	if _, ok := e.CurrentValue("a"); ok {
		t.Error("a survived retention")
	}
	if _, ok := e.CurrentValue("b"); !ok {
		t.Error("b was evicted")
	}

	stats := e.Stats()
	if stats.Entities != 1 {
		t.Errorf("Entities = %d, want 1", stats.Entities)
	}
	if stats.Evicted != 2 {
		t.Errorf("Evicted = %d, want 2", stats.Evicted)
	}

	// An evicted entity's next sample snaps like a first sighting.
	e.UpdatePosition(sampleAt("a", geo.LatLon{Lat: 2, Lon: 2}, now.Add(time.Minute), 0, 0))
	got, ok := e.CurrentValue("a")
	if !ok || got != geo.Project(geo.LatLon{Lat: 2, Lon: 2}) {
		t.Errorf("revived a at %v", got)
	}
}

func TestEaseOutCubic(t *testing.T) {
	tests := []struct {
		f    float64
		want float64
	}{
		{0, 0},
		{0.5, 0.875},
		{1, 1},
	}
	for _, tt := range tests {
		if got := easeOutCubic(tt.f); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("easeOutCubic(%v) = %v, want %v", tt.f, got, tt.want)
		}
	}

	// Monotonic over [0, 1].
	prev := -1.0
	for f := 0.0; f <= 1.0; f += 0.01 {
		got := easeOutCubic(f)
		if got < prev {
			t.Fatalf("easeOutCubic not monotonic at %v", f)
		}
		prev = got
	}
}
