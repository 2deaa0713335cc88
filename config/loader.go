package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "OVERLAY"

// Loader owns the viper instance so the config file can be re-read on change.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares viper with defaults, env binding, the optional config
// file and the parsed flag set (may be nil).
func NewLoader(configFile string, flags *pflag.FlagSet) (*Loader, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	return &Loader{v: v}, nil
}

// Load materializes and validates the typed configuration.
func (l *Loader) Load() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Watch re-loads the config file on every change and hands valid results to fn.
// Invalid edits are logged and ignored so a typo never takes a running overlay down.
func (l *Loader) Watch(logger *slog.Logger, fn func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Load()
		if err != nil {
			logger.Warn("CONFIG_RELOAD_REJECTED", "file", e.Name, "err", err)
			return
		}
		logger.Info("CONFIG_RELOADED", "file", e.Name)
		fn(cfg)
	})
	l.v.WatchConfig()
}

// LoadConfig is a shortcut for NewLoader + Load without flags.
func LoadConfig(configFile string) (*Config, error) {
	l, err := NewLoader(configFile, nil)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

// NewFlagSet declares the command-line overrides shared by every command.
// Flag names equal config keys so they bind directly.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config_file", "", "Path to the configuration file")
	fs.String("log.level", "info", "Log level (debug|info|warn|error)")
	fs.String("server.addr", ":8080", "HTTP listen address")
	fs.String("bus.driver", BusDriverGoChannel, "Relay bus driver (gochannel|amqp|nats)")
	fs.String("viewer.server_url", "ws://localhost:8080/ws", "Hub WebSocket URL")
	fs.String("viewer.stream_id", "", "Stream to watch")
	fs.String("viewer.username", "", "Display name attached to outgoing events")
	fs.String("viewer.avatar_url", "", "Avatar attached to outgoing events")
	fs.String("viewer.renderer", "termui", "Overlay renderer (termui|log)")
	fs.Duration("notify.dwell", 3*time.Second, "Notification dwell time")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.exporter", "stdout")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.node_id", "")
	v.SetDefault("server.read_limit", 4096)
	v.SetDefault("server.poll_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("bus.driver", BusDriverGoChannel)
	v.SetDefault("bus.topic", "overlay.events.v1")
	v.SetDefault("bus.amqp_url", "")
	v.SetDefault("bus.nats_url", "")

	v.SetDefault("store.dsn", "file:overlay.db?_pragma=journal_mode(WAL)")
	v.SetDefault("store.write_timeout", 2*time.Second)
	v.SetDefault("store.breaker_timeout", 30*time.Second)
	v.SetDefault("store.breaker_failures", 5)

	v.SetDefault("registry.mailbox_size", 2048)
	v.SetDefault("registry.conn_buffer", 256)
	v.SetDefault("registry.send_timeout", 500*time.Millisecond)
	v.SetDefault("registry.idle_timeout", 10*time.Minute)
	v.SetDefault("registry.eviction_interval", 5*time.Minute)

	v.SetDefault("viewer.server_url", "ws://localhost:8080/ws")
	v.SetDefault("viewer.stream_id", "")
	v.SetDefault("viewer.username", "")
	v.SetDefault("viewer.avatar_url", "")
	v.SetDefault("viewer.renderer", "termui")

	v.SetDefault("transport.handshake_timeout", 5*time.Second)
	v.SetDefault("transport.backoff_initial", 500*time.Millisecond)
	v.SetDefault("transport.backoff_max", 30*time.Second)
	v.SetDefault("transport.backoff_multiplier", 2.0)
	v.SetDefault("transport.max_retries", 0)
	v.SetDefault("transport.time_sync_interval", time.Minute)

	v.SetDefault("notify.dwell", 3*time.Second)
	v.SetDefault("notify.sentiment_dwell", 2*time.Second)
	v.SetDefault("notify.exit", 500*time.Millisecond)
	v.SetDefault("notify.dedup_window", 3*time.Second)
	v.SetDefault("notify.dedup_capacity", 1024)
	v.SetDefault("notify.max_pending", 100)
	v.SetDefault("notify.tape_size", 20)
}

// loadEnvFiles loads .env then .env.local; missing files are not an error.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}
