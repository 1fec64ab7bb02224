package track

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetglass/livemap/internal/config"
	"github.com/fleetglass/livemap/internal/geo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFeed serves a scripted sequence of frames to every client.
func testFeed(t *testing.T, frames []string) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}

		// Hold the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func testConfig(feedURL string) *config.TrackerConfig {
	return &config.TrackerConfig{
		Instance: config.InstanceConfig{ID: "test"},
		Feed: config.FeedConfig{
			URL:                feedURL,
			ReconnectBaseDelay: 10 * time.Millisecond,
			ReconnectMaxDelay:  100 * time.Millisecond,
			ResumeDebounce:     20 * time.Millisecond,
			PingTimeout:        time.Minute,
			WriteTimeout:       time.Second,
			BufferSize:         64,
		},
		Stream: config.StreamConfig{ReleaseGrace: 50 * time.Millisecond},
		Motion: config.MotionConfig{
			TickInterval:         10 * time.Millisecond,
			AnimDuration:         40 * time.Millisecond,
			ExtrapolateMinSpeed:  3.0,
			ExtrapolationHorizon: time.Second,
		},
		Cluster: config.ClusterConfig{
			Debounce:       10 * time.Millisecond,
			AsyncThreshold: 800,
			ViewportMargin: 64,
			MinZoom:        1,
			MaxZoom:        13,
			RadiusAtMin:    120,
			RadiusAtMax:    30,
		},
		Pools: config.PoolsConfig{
			Policy:        "standard",
			SweepInterval: time.Minute,
			FrameBudget:   time.Millisecond,
		},
		Diagnostics: config.DiagnosticsConfig{Port: 0, Path: "/debug/livemap"},
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestServiceIngestsFeedEndToEnd(t *testing.T) {
	now := time.Now().UnixMilli()
	srv := testFeed(t, []string{
		fmt.Sprintf(`{"type":"metadata","entity_id":"veh-1","ts":%d,"attributes":{"label":"Bus 7"}}`, now),
		fmt.Sprintf(`{"type":"position","entity_id":"veh-1","lat":47.6,"lon":-122.3,"ts":%d,"speed":5,"heading":90}`, now),
		fmt.Sprintf(`{"type":"position","entity_id":"veh-1","lat":47.61,"lon":-122.29,"ts":%d,"speed":5,"heading":90}`, now+1000),
		fmt.Sprintf(`{"type":"position","entity_id":"veh-2","lat":47.65,"lon":-122.35,"ts":%d,"speed":0,"heading":0}`, now),
	})
	defer srv.Close()

	svc := NewService(testConfig(wsURL(srv)), testLogger())

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	// Both entities become tracked with animated positions.
	waitFor(t, "entity positions", func() bool {
		_, ok1 := svc.CurrentValue("veh-1")
		_, ok2 := svc.CurrentValue("veh-2")
		return ok1 && ok2
	})

	// A viewport covering the whole world yields render results.
	world := geo.Bounds{Min: geo.Point{}, Max: geo.Point{X: 256, Y: 256}}
	svc.SetViewport(world, 5)

	waitFor(t, "cluster results", func() bool {
		return len(svc.Results()) > 0
	})

	// Metadata flowed into the registry.
	waitFor(t, "metadata", func() bool {
		attrs, ok := svc.Metadata().Get("veh-1")
		return ok && attrs["label"] == "Bus 7"
	})

	diag := svc.Diagnostics()
	if diag.Tracked != 2 {
		t.Errorf("Tracked = %d, want 2", diag.Tracked)
	}
	if diag.Memoizer.CacheSize != 2 {
		t.Errorf("Memoizer.CacheSize = %d, want 2", diag.Memoizer.CacheSize)
	}
	if !diag.Connection.Connected {
		t.Error("Connection.Connected = false")
	}
	if diag.Clusters.Passes == 0 {
		t.Error("no clustering passes recorded")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
