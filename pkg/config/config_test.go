package config

import (
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_ZeroNegotiationTimeoutDisablesIt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WebRTC.NegotiationTimeout = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected zero negotiation timeout to be valid, got error: %v", err)
	}
}

func TestValidate_UnlimitedChatAllowsZeroBurst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chat.MessagesPerSecond = 0
	cfg.Chat.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected unlimited chat to be valid, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "signal url must not be empty",
			mutate: func(c *Config) { c.Signal.URL = "" },
		},
		{
			name:   "signal url must be websocket",
			mutate: func(c *Config) { c.Signal.URL = "http://localhost:3001/ws" },
		},
		{
			name:   "reconnect attempts must be >= 0",
			mutate: func(c *Config) { c.Signal.ReconnectAttempts = -1 },
		},
		{
			name:   "pong timeout must exceed ping interval",
			mutate: func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval },
		},
		{
			name:   "write timeout must be > 0",
			mutate: func(c *Config) { c.Signal.WriteTimeout = 0 },
		},
		{
			name:   "ice servers must not be empty",
			mutate: func(c *Config) { c.WebRTC.ICEServers = nil },
		},
		{
			name:   "ice server urls must not be empty",
			mutate: func(c *Config) { c.WebRTC.ICEServers = []ICEServer{{}} },
		},
		{
			name: "port range needs both bounds",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 50000
			},
		},
		{
			name: "port range min must be below max",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 50100
				c.WebRTC.PortRange.Max = 50000
			},
		},
		{
			name:   "negotiation timeout must be >= 0",
			mutate: func(c *Config) { c.WebRTC.NegotiationTimeout = -time.Second },
		},
		{
			name:   "video codec must be known",
			mutate: func(c *Config) { c.WebRTC.VideoCodec = "av1" },
		},
		{
			name: "chat burst required with a rate",
			mutate: func(c *Config) {
				c.Chat.MessagesPerSecond = 2
				c.Chat.Burst = 0
			},
		},
		{
			name:   "breaker cooldown required when enabled",
			mutate: func(c *Config) { c.Signal.BreakerCooldown = 0 },
		},
		{
			name:   "control address must not be empty",
			mutate: func(c *Config) { c.Control.Address = "" },
		},
		{
			name:   "control burst required with a request rate",
			mutate: func(c *Config) { c.Control.Burst = 0 },
		},
		{
			name: "tracing sample rate must be in range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
		{
			name:   "log level must not be empty",
			mutate: func(c *Config) { c.Logging.Level = "" },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}
