package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level     string `json:"level" mapstructure:"level"`         // debug, info, warn, error
	File      string `json:"file" mapstructure:"file"`           // log file path, empty disables file output
	Console   bool   `json:"console" mapstructure:"console"`     // write to stderr
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`       // human readable console output
	Redaction bool   `json:"redaction" mapstructure:"redaction"` // mask keys and tokens
	MaxSizeMB int    `json:"maxSizeMb" mapstructure:"max_size_mb"`
	MaxAge    int    `json:"maxAgeDays" mapstructure:"max_age_days"`
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSizeMB: 50,
		MaxAge:    7,
		Compress:  true,
	}
}

// Logger owns the zerolog logger and the resources behind it
type Logger struct {
	zerolog.Logger
	closers []io.Closer
}

// New builds a logger from cfg and installs it as the zerolog global.
func New(cfg Config) (*Logger, error) {
	return newWithConsole(cfg, os.Stderr)
}

func newWithConsole(cfg Config, console io.Writer) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var (
		writers []io.Writer
		closers []io.Closer
	)

	if cfg.Console {
		if cfg.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, console)
		}
	}

	if cfg.File != "" {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, err
		}
		writers = append(writers, rw)
		closers = append(closers, rw)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	if cfg.Redaction {
		out = NewRedactor().Wrap(out)
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{Logger: zl, closers: closers}, nil
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close releases open log files.
func (l *Logger) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
