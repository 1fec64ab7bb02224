package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultResumeDebounce       = 300 * time.Millisecond
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultFeedBufferSize       = 4096
	DefaultReleaseGrace         = 2 * time.Second
	DefaultTickInterval         = 200 * time.Millisecond
	DefaultAnimDuration         = 1200 * time.Millisecond
	DefaultExtrapolateMinSpeed  = 3.0
	DefaultExtrapolationHorizon = 8 * time.Second
	DefaultClusterDebounce      = 250 * time.Millisecond
	DefaultAsyncThreshold       = 800
	DefaultViewportMargin       = 64.0
	DefaultMinZoom              = 1.0
	DefaultMaxZoom              = 13.0
	DefaultRadiusAtMin          = 120.0
	DefaultRadiusAtMax          = 30.0
	DefaultPoolPolicy           = "standard"
	DefaultSweepInterval        = 5 * time.Minute
	DefaultFrameBudget          = 4 * time.Millisecond
	DefaultDiagnosticsPort      = 9187
	DefaultDiagnosticsPath      = "/debug/livemap"
)

func (c *TrackerConfig) applyDefaults() {
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.ResumeDebounce == 0 {
		c.Feed.ResumeDebounce = DefaultResumeDebounce
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	if c.Stream.ReleaseGrace == 0 {
		c.Stream.ReleaseGrace = DefaultReleaseGrace
	}

	if c.Motion.TickInterval == 0 {
		c.Motion.TickInterval = DefaultTickInterval
	}
	if c.Motion.AnimDuration == 0 {
		c.Motion.AnimDuration = DefaultAnimDuration
	}
	if c.Motion.ExtrapolateMinSpeed == 0 {
		c.Motion.ExtrapolateMinSpeed = DefaultExtrapolateMinSpeed
	}
	if c.Motion.ExtrapolationHorizon == 0 {
		c.Motion.ExtrapolationHorizon = DefaultExtrapolationHorizon
	}

	if c.Cluster.Debounce == 0 {
		c.Cluster.Debounce = DefaultClusterDebounce
	}
	if c.Cluster.AsyncThreshold == 0 {
		c.Cluster.AsyncThreshold = DefaultAsyncThreshold
	}
	if c.Cluster.ViewportMargin == 0 {
		c.Cluster.ViewportMargin = DefaultViewportMargin
	}
	if c.Cluster.MinZoom == 0 {
		c.Cluster.MinZoom = DefaultMinZoom
	}
	if c.Cluster.MaxZoom == 0 {
		c.Cluster.MaxZoom = DefaultMaxZoom
	}
	if c.Cluster.RadiusAtMin == 0 {
		c.Cluster.RadiusAtMin = DefaultRadiusAtMin
	}
	if c.Cluster.RadiusAtMax == 0 {
		c.Cluster.RadiusAtMax = DefaultRadiusAtMax
	}

	if c.Pools.Policy == "" {
		c.Pools.Policy = DefaultPoolPolicy
	}
	if c.Pools.SweepInterval == 0 {
		c.Pools.SweepInterval = DefaultSweepInterval
	}
	if c.Pools.FrameBudget == 0 {
		c.Pools.FrameBudget = DefaultFrameBudget
	}

	if c.Diagnostics.Port == 0 {
		c.Diagnostics.Port = DefaultDiagnosticsPort
	}
	if c.Diagnostics.Path == "" {
		c.Diagnostics.Path = DefaultDiagnosticsPath
	}
}
