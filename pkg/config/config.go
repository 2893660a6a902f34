package config

import (
	"fmt"
	"os"
	"time"

	"reelcast/pkg/validation"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Signal struct {
		URL               string        `yaml:"url"`
		ReconnectAttempts int           `yaml:"reconnect_attempts"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		DialTimeout       time.Duration `yaml:"dial_timeout"`
		PingInterval      time.Duration `yaml:"ping_interval"`
		PongTimeout       time.Duration `yaml:"pong_timeout"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
		MaxMessageBytes   int64         `yaml:"max_message_bytes"`
		BreakerThreshold  int           `yaml:"breaker_threshold"`
		BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
		VideoCodec         string        `yaml:"video_codec"`
	} `yaml:"webrtc"`

	Ingest struct {
		AudioAddress string `yaml:"audio_address"`
		VideoAddress string `yaml:"video_address"`
	} `yaml:"ingest"`

	// Playback forwards media received as a viewer to local UDP ports.
	// Empty addresses disable forwarding for that kind.
	Playback struct {
		AudioAddress string `yaml:"audio_address"`
		VideoAddress string `yaml:"video_address"`
	} `yaml:"playback"`

	Chat struct {
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"chat"`

	Control struct {
		Address         string        `yaml:"address"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

		// Per client IP; zero disables limiting.
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"control"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Signal
	if err := validation.ValidateSignalURL(c.Signal.URL); err != nil {
		return fmt.Errorf("signal.url: %w", err)
	}
	if c.Signal.ReconnectAttempts < 0 {
		return fmt.Errorf("signal.reconnect_attempts must be >= 0")
	}
	if c.Signal.BreakerThreshold < 0 {
		return fmt.Errorf("signal.breaker_threshold must be >= 0")
	}
	if c.Signal.BreakerThreshold > 0 && c.Signal.BreakerCooldown <= 0 {
		return fmt.Errorf("signal.breaker_cooldown must be > 0 when the breaker is enabled")
	}
	if c.Signal.ReconnectDelay <= 0 {
		return fmt.Errorf("signal.reconnect_delay must be > 0")
	}
	if c.Signal.DialTimeout <= 0 {
		return fmt.Errorf("signal.dial_timeout must be > 0")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.MaxMessageBytes < 0 {
		return fmt.Errorf("signal.max_message_bytes must be >= 0")
	}

	// WebRTC
	if len(c.WebRTC.ICEServers) == 0 {
		return fmt.Errorf("webrtc.ice_servers must not be empty")
	}
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
	}
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.NegotiationTimeout < 0 {
		return fmt.Errorf("webrtc.negotiation_timeout must be >= 0")
	}
	switch c.WebRTC.VideoCodec {
	case "vp8", "h264":
	default:
		return fmt.Errorf("webrtc.video_codec must be vp8 or h264, got %q", c.WebRTC.VideoCodec)
	}

	// Chat
	if c.Chat.MessagesPerSecond < 0 {
		return fmt.Errorf("chat.messages_per_second must be >= 0")
	}
	if c.Chat.MessagesPerSecond > 0 && c.Chat.Burst <= 0 {
		return fmt.Errorf("chat.burst must be > 0 when chat.messages_per_second is set")
	}

	// Control
	if c.Control.Address == "" {
		return fmt.Errorf("control.address must not be empty")
	}
	if c.Control.ShutdownTimeout <= 0 {
		return fmt.Errorf("control.shutdown_timeout must be > 0")
	}
	if c.Control.RequestsPerSecond < 0 {
		return fmt.Errorf("control.requests_per_second must be >= 0")
	}
	if c.Control.RequestsPerSecond > 0 && c.Control.Burst <= 0 {
		return fmt.Errorf("control.burst must be > 0 when requests_per_second is set")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signal.URL = "ws://localhost:3001/ws"
	cfg.Signal.ReconnectAttempts = 5
	cfg.Signal.ReconnectDelay = time.Second
	cfg.Signal.DialTimeout = 10 * time.Second
	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageBytes = 64 * 1024
	cfg.Signal.BreakerThreshold = 10
	cfg.Signal.BreakerCooldown = 30 * time.Second

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
	cfg.WebRTC.NegotiationTimeout = 30 * time.Second
	cfg.WebRTC.VideoCodec = "vp8"

	cfg.Chat.MessagesPerSecond = 5
	cfg.Chat.Burst = 10

	cfg.Control.Address = "127.0.0.1:8090"
	cfg.Control.ShutdownTimeout = 10 * time.Second
	cfg.Control.RequestsPerSecond = 20
	cfg.Control.Burst = 40

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if u := os.Getenv("REELCAST_SIGNAL_URL"); u != "" {
		c.Signal.URL = u
	}
	if addr := os.Getenv("REELCAST_CONTROL_ADDRESS"); addr != "" {
		c.Control.Address = addr
	}
	if level := os.Getenv("REELCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
