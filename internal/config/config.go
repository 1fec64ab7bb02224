package config

import "time"

// TrackerConfig is the root configuration for a tracker instance.
type TrackerConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Feed        FeedConfig        `yaml:"feed"`
	Stream      StreamConfig      `yaml:"stream"`
	Motion      MotionConfig      `yaml:"motion"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Pools       PoolsConfig       `yaml:"pools"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// InstanceConfig identifies this tracker.
type InstanceConfig struct {
	ID string `yaml:"id" validate:"required"`
}

// FeedConfig holds position feed connection settings.
type FeedConfig struct {
	URL                string        `yaml:"url" validate:"required,url"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	ResumeDebounce     time.Duration `yaml:"resume_debounce"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size" validate:"min=0"`
}

// StreamConfig holds memoizer settings.
type StreamConfig struct {
	ReleaseGrace time.Duration `yaml:"release_grace"`
}

// MotionConfig holds interpolation engine settings.
type MotionConfig struct {
	TickInterval         time.Duration `yaml:"tick_interval"`
	AnimDuration         time.Duration `yaml:"anim_duration"`
	ExtrapolateMinSpeed  float64       `yaml:"extrapolate_min_speed" validate:"min=0"`
	ExtrapolationHorizon time.Duration `yaml:"extrapolation_horizon"`
}

// ClusterConfig holds clustering engine settings.
type ClusterConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	AsyncThreshold int           `yaml:"async_threshold" validate:"min=0"`
	ViewportMargin float64       `yaml:"viewport_margin" validate:"min=0"`
	MinZoom        float64       `yaml:"min_zoom"`
	MaxZoom        float64       `yaml:"max_zoom" validate:"gtefield=MinZoom"`
	RadiusAtMin    float64       `yaml:"radius_at_min" validate:"min=0"`
	RadiusAtMax    float64       `yaml:"radius_at_max" validate:"min=0"`
}

// PoolsConfig holds resource pool settings.
type PoolsConfig struct {
	// Policy selects a named preset: standard, low, high.
	Policy string `yaml:"policy" validate:"omitempty,oneof=standard low high"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
	FrameBudget   time.Duration `yaml:"frame_budget"`
}

// DiagnosticsConfig holds the diagnostics HTTP endpoint settings.
type DiagnosticsConfig struct {
	Port int    `yaml:"port" validate:"min=0,max=65535"`
	Path string `yaml:"path"`
}
