package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrStopped         = errors.New("manager stopped")
)

// TimestampedMessage wraps raw frame data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the feed
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// BackoffState describes the reconnect schedule for diagnostics.
type BackoffState struct {
	// Attempt is the number of consecutive failed connection attempts
	// since the last successful connect (0 when connected).
	Attempt int
	// NextDelay is the wait before the next reconnection attempt.
	NextDelay time.Duration
}

// positionWire is the feed frame for a position update.
type positionWire struct {
	Type       string            `json:"type"`
	EntityID   string            `json:"entity_id"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
	Ts         int64             `json:"ts"` // milliseconds since epoch
	Speed      float64           `json:"speed"`
	Heading    float64           `json:"heading"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// metadataWire is the feed frame for an out-of-band metadata update.
type metadataWire struct {
	Type       string            `json:"type"`
	EntityID   string            `json:"entity_id"`
	Attributes map[string]string `json:"attributes"`
	Ts         int64             `json:"ts"`
}

// frameEnvelope extracts the frame type without a full parse.
type frameEnvelope struct {
	Type string `json:"type"`
}

func frameType(data []byte) (string, error) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// ClientConfig configures a feed websocket client.
type ClientConfig struct {
	URL          string        // Feed websocket URL
	PingTimeout  time.Duration // Max time without ping before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   4096,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL                string        // Feed websocket URL
	ReconnectBaseDelay time.Duration // First backoff step (default 1s)
	ReconnectMaxDelay  time.Duration // Backoff cap (default 60s)
	ResumeDebounce     time.Duration // Coalescing window for Resume (default 300ms)
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	BufferSize         int // Output channel buffer size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		ResumeDebounce:     300 * time.Millisecond,
		PingTimeout:        60 * time.Second,
		WriteTimeout:       5 * time.Second,
		BufferSize:         4096,
	}
}
