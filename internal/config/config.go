package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	applog "roomrelay/pkg/log"
	"roomrelay/pkg/types"
)

// Delivery scopes for message and messageUpdate fan-out.
const (
	DeliverySubscribed = "subscribed"
	DeliveryGlobal     = "global"
)

// History backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config is the process-wide configuration, fixed at startup.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Relay     RelayConfig     `mapstructure:"relay"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	History   HistoryConfig   `mapstructure:"history"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       applog.Config   `mapstructure:"log"`
}

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// RelayConfig covers the room directory and fan-out behaviour.
type RelayConfig struct {
	Rooms              []string `mapstructure:"rooms"`
	Delivery           string   `mapstructure:"delivery"`
	DeletedPlaceholder string   `mapstructure:"deleted_placeholder"`
	QueueSize          int      `mapstructure:"queue_size"`
}

// RateLimitConfig holds the per-participant quotas for one fixed window.
type RateLimitConfig struct {
	Window     time.Duration `mapstructure:"window"`
	TextLimit  int           `mapstructure:"text_limit"`
	MediaLimit int           `mapstructure:"media_limit"`
}

// HistoryConfig selects the message store. MaxMessages caps each (room, section)
// log; zero keeps everything.
type HistoryConfig struct {
	Backend     string `mapstructure:"backend"`
	MaxMessages int    `mapstructure:"max_messages"`
}

// DatabaseConfig is only consulted by the sqlite history backend.
type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	rooms := make([]string, len(DefaultRooms))
	copy(rooms, DefaultRooms)

	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            3001,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		WebSocket: WebSocketConfig{
			PingInterval:   30 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			SendBuffer:     256,
			MaxMessageSize: 64 * 1024,
		},
		Relay: RelayConfig{
			Rooms:              rooms,
			Delivery:           DeliverySubscribed,
			DeletedPlaceholder: types.DefaultDeletedPlaceholder,
			QueueSize:          1000,
		},
		RateLimit: RateLimitConfig{
			Window:     60 * time.Second,
			TextLimit:  20,
			MediaLimit: 4,
		},
		History: HistoryConfig{
			Backend:     BackendMemory,
			MaxMessages: 0,
		},
		Database: DatabaseConfig{
			Path:           "./data/roomrelay.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		Log: applog.Config{
			Level:       "info",
			ServiceName: "roomrelay",
		},
	}
}

// Validate rejects configurations the relay cannot start with.
func (c *Config) Validate() error {
	// Port 0 asks the kernel for a free port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("%w: HTTP port must be between 0 and 65535", ErrInvalidConfig)
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("%w: HTTP host cannot be empty", ErrInvalidConfig)
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: HTTP timeouts must be positive", ErrInvalidConfig)
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongWait <= 0 || c.WebSocket.WriteWait <= 0 {
		return fmt.Errorf("%w: WebSocket intervals must be positive", ErrInvalidConfig)
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("%w: WebSocket ping interval must be shorter than pong wait", ErrInvalidConfig)
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("%w: WebSocket send buffer must be positive", ErrInvalidConfig)
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: WebSocket max message size must be positive", ErrInvalidConfig)
	}

	if err := validateRooms(c.Relay.Rooms); err != nil {
		return err
	}
	if c.Relay.Delivery != DeliverySubscribed && c.Relay.Delivery != DeliveryGlobal {
		return fmt.Errorf("%w: relay delivery must be %q or %q", ErrInvalidConfig, DeliverySubscribed, DeliveryGlobal)
	}
	if strings.TrimSpace(c.Relay.DeletedPlaceholder) == "" {
		return fmt.Errorf("%w: deleted placeholder cannot be empty", ErrInvalidConfig)
	}
	if c.Relay.QueueSize <= 0 {
		return fmt.Errorf("%w: relay queue size must be positive", ErrInvalidConfig)
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("%w: rate limit window must be positive", ErrInvalidConfig)
	}
	if c.RateLimit.TextLimit <= 0 || c.RateLimit.MediaLimit <= 0 {
		return fmt.Errorf("%w: rate limits must be positive", ErrInvalidConfig)
	}

	switch c.History.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database path cannot be empty for the sqlite backend", ErrInvalidConfig)
		}
		if c.Database.Timeout <= 0 || c.Database.MaxConnections <= 0 {
			return fmt.Errorf("%w: database timeout and max connections must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown history backend %q", ErrInvalidConfig, c.History.Backend)
	}
	if c.History.MaxMessages < 0 {
		return fmt.Errorf("%w: history max messages cannot be negative", ErrInvalidConfig)
	}

	return nil
}

func validateRooms(rooms []string) error {
	if len(rooms) == 0 {
		return fmt.Errorf("%w: at least one room must be configured", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(rooms))
	for _, room := range rooms {
		if strings.TrimSpace(room) == "" {
			return fmt.Errorf("%w: room names cannot be blank", ErrInvalidConfig)
		}
		if _, dup := seen[room]; dup {
			return fmt.Errorf("%w: duplicate room %q", ErrInvalidConfig, room)
		}
		seen[room] = struct{}{}
	}
	return nil
}

// Load builds the configuration with precedence env > file > defaults.
// configFile may be empty, in which case config/config.yaml or ./config.yaml
// is read when present. PORT is honoured for the listen port.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("ROOMRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("http.port", "PORT", "ROOMRELAY_HTTP_PORT")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.pong_wait", d.WebSocket.PongWait)
	v.SetDefault("websocket.write_wait", d.WebSocket.WriteWait)
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)

	v.SetDefault("relay.rooms", d.Relay.Rooms)
	v.SetDefault("relay.delivery", d.Relay.Delivery)
	v.SetDefault("relay.deleted_placeholder", d.Relay.DeletedPlaceholder)
	v.SetDefault("relay.queue_size", d.Relay.QueueSize)

	v.SetDefault("rate_limit.window", d.RateLimit.Window)
	v.SetDefault("rate_limit.text_limit", d.RateLimit.TextLimit)
	v.SetDefault("rate_limit.media_limit", d.RateLimit.MediaLimit)

	v.SetDefault("history.backend", d.History.Backend)
	v.SetDefault("history.max_messages", d.History.MaxMessages)

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.service_name", d.Log.ServiceName)
}
