package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config is the log section of the relay configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Pretty      bool   `mapstructure:"pretty"`
	ServiceName string `mapstructure:"service_name"`
}

var (
	mu     sync.RWMutex
	global = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// New builds a JSON logger on stdout, or a console logger when cfg.Pretty is set.
func New(cfg Config) zerolog.Logger {
	if cfg.Pretty {
		return NewWithWriter(cfg, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds the logger on w. Tests pass a buffer.
func NewWithWriter(cfg Config, w io.Writer) zerolog.Logger {
	ctx := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str(FieldService, cfg.ServiceName)
	}
	return ctx.Logger()
}

// Init replaces the process logger and sends the standard library's log
// package through it, so net/http server errors land in the same stream.
func Init(cfg Config) {
	logger := New(cfg)

	mu.Lock()
	global = logger
	mu.Unlock()

	stdlog.SetFlags(0)
	stdlog.SetOutput(logger.With().Str("source", "stdlog").Logger())
}

// L is the process logger. Packages without a request or connection context use it.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// ParseLevel accepts zerolog level names plus "warning" and "off".
// Anything unrecognised logs at info.
func ParseLevel(name string) zerolog.Level {
	switch name = strings.ToLower(strings.TrimSpace(name)); name {
	case "":
		return zerolog.InfoLevel
	case "warning":
		return zerolog.WarnLevel
	case "off":
		return zerolog.Disabled
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
