// Package config loads axnet configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/QYUbit/axnet/pkg/channel"
)

// Backend names.
const (
	BackendQUIC      = "quic"
	BackendWebSocket = "websocket"
	BackendMem       = "mem"
)

type Config struct {
	Backend  string          `yaml:"backend"`
	Address  string          `yaml:"address"`
	TickRate int             `yaml:"tick_rate"`
	Channels []ChannelConfig `yaml:"channels"`

	SendQueueSize int `yaml:"send_queue_size"`
	InboxLimit    int `yaml:"inbox_limit"`

	QUIC      QUICConfig      `yaml:"quic"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
}

type ChannelConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

type QUICConfig struct {
	// CertFile and KeyFile select a TLS certificate. When empty a
	// self-signed certificate is generated.
	CertFile         string        `yaml:"cert_file"`
	KeyFile          string        `yaml:"key_file"`
	Insecure         bool          `yaml:"insecure"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxIdleTimeout   time.Duration `yaml:"max_idle_timeout"`
	KeepAlivePeriod  time.Duration `yaml:"keep_alive_period"`
}

type WebSocketConfig struct {
	Path             string        `yaml:"path"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin"`
}

type LogConfig struct {
	Level       string         `yaml:"level"`
	Format      string         `yaml:"format"`
	Outputs     []string       `yaml:"outputs"`
	Development bool           `yaml:"development"`
	Rotation    RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	Enable     bool   `yaml:"enable"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a QUIC configuration on localhost with the default
// channel set at 30 ticks per second.
func Default() *Config {
	return &Config{
		Backend:  BackendQUIC,
		Address:  "127.0.0.1:4242",
		TickRate: 30,
		Channels: []ChannelConfig{
			{Name: "init", Kind: channel.ReliableOrdered.String()},
			{Name: "update", Kind: channel.Unreliable.String()},
		},
		SendQueueSize: 256,
		InboxLimit:    4096,
		QUIC: QUICConfig{
			HandshakeTimeout: 5 * time.Second,
			MaxIdleTimeout:   30 * time.Second,
			KeepAlivePeriod:  10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Path:             "/ws",
			HandshakeTimeout: 5 * time.Second,
			WriteTimeout:     5 * time.Second,
			ReadLimit:        1 << 20,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
		},
	}
}

// Load reads the configuration from a YAML file. Fields missing from the
// file keep their defaults. A missing file yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendQUIC, BackendWebSocket, BackendMem:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend != BackendMem && strings.TrimSpace(c.Address) == "" {
		return errors.New("address is required")
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("tick_rate must be positive, got %d", c.TickRate)
	}
	if len(c.Channels) == 0 || len(c.Channels) > channel.MaxCount {
		return fmt.Errorf("between 1 and %d channels required, got %d", channel.MaxCount, len(c.Channels))
	}
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel %d has no name", i)
		}
		if _, err := channel.ParseKind(ch.Kind); err != nil {
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}
	}
	if c.SendQueueSize < 0 || c.InboxLimit < 0 {
		return errors.New("queue sizes must not be negative")
	}
	if (c.QUIC.CertFile == "") != (c.QUIC.KeyFile == "") {
		return errors.New("quic cert_file and key_file must be set together")
	}
	return nil
}

// ChannelSet builds the channel set. Call Validate first.
func (c *Config) ChannelSet() (*channel.Set, error) {
	s := &channel.Set{}
	for _, ch := range c.Channels {
		kind, err := channel.ParseKind(ch.Kind)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		s.Add(ch.Name, kind)
	}
	return s, nil
}

// TickInterval is the duration of one tick.
func (c *Config) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.TickRate)
}
