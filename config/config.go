// Package config loads service and viewer configuration from, in order of
// precedence: command-line flags, OVERLAY_* environment variables, .env files,
// the optional YAML config file, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Bus       BusConfig       `mapstructure:"bus"`
	Store     StoreConfig     `mapstructure:"store"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Viewer    ViewerConfig    `mapstructure:"viewer"`
	Transport TransportConfig `mapstructure:"transport"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`    // debug|info|warn|error
	Format   string `mapstructure:"format"`   // json|text
	Exporter string `mapstructure:"exporter"` // stdout|otel
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	WSPath         string        `mapstructure:"ws_path"`
	NodeID         string        `mapstructure:"node_id"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type BusConfig struct {
	Driver  string `mapstructure:"driver"` // gochannel|amqp|nats
	Topic   string `mapstructure:"topic"`
	AMQPURL string `mapstructure:"amqp_url"`
	NATSURL string `mapstructure:"nats_url"`
}

type StoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
}

type RegistryConfig struct {
	MailboxSize      int           `mapstructure:"mailbox_size"`
	ConnBuffer       int           `mapstructure:"conn_buffer"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
}

type ViewerConfig struct {
	ServerURL string `mapstructure:"server_url"`
	StreamID  string `mapstructure:"stream_id"`
	Username  string `mapstructure:"username"`
	AvatarURL string `mapstructure:"avatar_url"`
	Renderer  string `mapstructure:"renderer"` // termui|log
}

type TransportConfig struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxRetries        int           `mapstructure:"max_retries"` // 0 retries forever
	TimeSyncInterval  time.Duration `mapstructure:"time_sync_interval"`
}

// NotifyConfig holds the presentation timing constants.
type NotifyConfig struct {
	Dwell          time.Duration `mapstructure:"dwell"`
	SentimentDwell time.Duration `mapstructure:"sentiment_dwell"`
	Exit           time.Duration `mapstructure:"exit"`
	DedupWindow    time.Duration `mapstructure:"dedup_window"`
	DedupCapacity  int           `mapstructure:"dedup_capacity"`
	MaxPending     int           `mapstructure:"max_pending"` // 0 = unbounded
	TapeSize       int           `mapstructure:"tape_size"`
}

const (
	BusDriverGoChannel = "gochannel"
	BusDriverAMQP      = "amqp"
	BusDriverNATS      = "nats"
)

// Validate checks invariants that defaults cannot guarantee.
func (c *Config) Validate() error {
	var errs []error

	switch c.Bus.Driver {
	case BusDriverGoChannel:
	case BusDriverAMQP:
		if c.Bus.AMQPURL == "" {
			errs = append(errs, errors.New("bus.amqp_url is required for the amqp driver"))
		}
	case BusDriverNATS:
		if c.Bus.NATSURL == "" {
			errs = append(errs, errors.New("bus.nats_url is required for the nats driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("bus.driver: unsupported value %q", c.Bus.Driver))
	}

	if !strings.HasPrefix(c.Server.WSPath, "/") {
		errs = append(errs, fmt.Errorf("server.ws_path must start with '/': %q", c.Server.WSPath))
	}
	if c.Notify.Dwell <= 0 || c.Notify.Exit < 0 {
		errs = append(errs, errors.New("notify.dwell must be positive and notify.exit non-negative"))
	}
	if c.Notify.DedupWindow < 0 {
		errs = append(errs, errors.New("notify.dedup_window cannot be negative"))
	}
	if c.Notify.MaxPending < 0 {
		errs = append(errs, errors.New("notify.max_pending cannot be negative"))
	}
	if c.Transport.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("transport.handshake_timeout must be positive"))
	}
	if c.Transport.BackoffInitial <= 0 || c.Transport.BackoffMax < c.Transport.BackoffInitial {
		errs = append(errs, errors.New("transport.backoff_initial must be positive and not exceed backoff_max"))
	}
	if c.Transport.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("transport.backoff_multiplier must be >= 1"))
	}
	if c.Registry.MailboxSize <= 0 || c.Registry.ConnBuffer <= 0 {
		errs = append(errs, errors.New("registry.mailbox_size and registry.conn_buffer must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateViewer checks the fields only the viewer commands need.
func (c *Config) ValidateViewer() error {
	var errs []error
	if c.Viewer.ServerURL == "" {
		errs = append(errs, errors.New("viewer.server_url is required"))
	}
	if c.Viewer.StreamID == "" {
		errs = append(errs, errors.New("viewer.stream_id is required"))
	}
	if strings.TrimSpace(c.Viewer.Username) == "" {
		errs = append(errs, errors.New("viewer.username is required"))
	}
	return errors.Join(errs...)
}
