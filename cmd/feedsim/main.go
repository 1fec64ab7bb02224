// feedsim serves a synthetic telemetry feed over WebSocket for local
// development. Entities random-walk around a starting point and emit
// position frames at a fixed interval, with occasional metadata frames.
//
// Usage: go run ./cmd/feedsim --addr :8900 --entities 50 --interval 1s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type positionFrame struct {
	Type     string  `json:"type"`
	EntityID string  `json:"entity_id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	TS       int64   `json:"ts"`
	Speed    float64 `json:"speed"`
	Heading  float64 `json:"heading"`
}

type metadataFrame struct {
	Type       string            `json:"type"`
	EntityID   string            `json:"entity_id"`
	TS         int64             `json:"ts"`
	Attributes map[string]string `json:"attributes"`
}

type simEntity struct {
	id      string
	lat     float64
	lon     float64
	speed   float64 // meters per second
	heading float64 // degrees clockwise from north
}

func main() {
	addr := flag.String("addr", ":8900", "listen address")
	entities := flag.Int("entities", 50, "number of simulated entities")
	interval := flag.Duration("interval", time.Second, "emit interval per entity")
	dropEvery := flag.Duration("drop-every", 0, "force-close all connections at this interval (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade failed", "error", err)
			return
		}
		logger.Info("client connected", "remote", conn.RemoteAddr())
		serveFeed(ctx, conn, *entities, *interval, *dropEvery, logger)
	})

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		logger.Info("feedsim listening", "addr", *addr, "entities", *entities, "interval", *interval)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	logger.Info("feedsim stopped")
}

// serveFeed emits frames for one client until the connection breaks or
// the context ends.
func serveFeed(ctx context.Context, conn *websocket.Conn, count int, interval, dropEvery time.Duration, logger *slog.Logger) {
	defer conn.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	fleet := make([]*simEntity, count)
	for i := range fleet {
		fleet[i] = &simEntity{
			id:      fmt.Sprintf("vehicle-%03d", i),
			lat:     47.60 + rng.Float64()*0.10,
			lon:     -122.40 + rng.Float64()*0.10,
			speed:   2 + rng.Float64()*18,
			heading: rng.Float64() * 360,
		}
	}

	// Send metadata once up front so display attributes exist before
	// the first position renders.
	for _, e := range fleet {
		frame := metadataFrame{
			Type:     "metadata",
			EntityID: e.id,
			TS:       time.Now().UnixMilli(),
			Attributes: map[string]string{
				"label": e.id,
				"kind":  "vehicle",
			},
		}
		if err := writeJSON(conn, frame); err != nil {
			logger.Warn("metadata write failed", "error", err)
			return
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var dropC <-chan time.Time
	if dropEvery > 0 {
		dropTicker := time.NewTicker(dropEvery)
		defer dropTicker.Stop()
		dropC = dropTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-dropC:
			logger.Info("dropping connection", "remote", conn.RemoteAddr())
			return
		case <-ticker.C:
			now := time.Now()
			for _, e := range fleet {
				e.step(rng, interval)
				frame := positionFrame{
					Type:     "position",
					EntityID: e.id,
					Lat:      e.lat,
					Lon:      e.lon,
					TS:       now.UnixMilli(),
					Speed:    e.speed,
					Heading:  e.heading,
				}
				if err := writeJSON(conn, frame); err != nil {
					logger.Info("client gone", "error", err)
					return
				}
			}
		}
	}
}

// step advances the entity along its heading with a small random drift.
func (e *simEntity) step(rng *rand.Rand, dt time.Duration) {
	e.heading += (rng.Float64() - 0.5) * 20
	if e.heading < 0 {
		e.heading += 360
	}
	if e.heading >= 360 {
		e.heading -= 360
	}
	e.speed = math.Max(0, e.speed+(rng.Float64()-0.5)*2)

	meters := e.speed * dt.Seconds()
	rad := e.heading * math.Pi / 180
	const metersPerDegLat = 111320.0
	e.lat += meters * math.Cos(rad) / metersPerDegLat
	e.lon += meters * math.Sin(rad) / (metersPerDegLat * math.Cos(e.lat*math.Pi/180))
}

func writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
