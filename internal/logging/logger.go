package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // "stdout", "stderr", or file path
	JSONFormat bool   `json:"json_format"` // raw JSON instead of console output
}

var (
	mu   sync.RWMutex
	root = newLogger(Config{Level: "info", Output: "stderr", JSONFormat: false})
)

// Init replaces the process-wide logger. Call once at startup before any
// component loggers are taken.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	root = newLogger(cfg)
}

// Default returns the process-wide logger.
func Default() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Component returns the process-wide logger tagged with a subsystem name.
func Component(name string) zerolog.Logger {
	return Default().With().Str("component", name).Logger()
}

func newLogger(cfg Config) zerolog.Logger {
	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			out = os.Stderr
		} else {
			out = f
		}
	}
	if !cfg.JSONFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
