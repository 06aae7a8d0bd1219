package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"tickfeed/src/models"

	"github.com/rs/zerolog"
)

var (
	baseOnce sync.Once
	baseOut  io.Writer = os.Stdout
)

// -----------------------------------------------------------------------------

// Logger is a printf-style facade over a component scoped zerolog logger.
type Logger struct {
	name   string
	logger zerolog.Logger
}

// -----------------------------------------------------------------------------

// SetOutput redirects every logger created afterwards. Used by tests.
func SetOutput(w io.Writer) {
	baseOut = w
}

// -----------------------------------------------------------------------------

// NewLogger creates a Logger for the named component. cfg may be nil.
func NewLogger(cfg *models.MConfig, name string) *Logger {
	baseOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339
	})

	level := zerolog.InfoLevel
	format := "json"
	if cfg != nil {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil && cfg.LogLevel != "" {
			level = lvl
		}
		if cfg.LogFormat != "" {
			format = cfg.LogFormat
		}
	}

	var out io.Writer = baseOut
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: baseOut, TimeFormat: time.RFC3339}
	}

	return &Logger{
		name:   name,
		logger: zerolog.New(out).Level(level).With().Timestamp().Str("component", name).Logger(),
	}
}

// -----------------------------------------------------------------------------

// With returns a child logger carrying an extra field.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		name:   l.name,
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

// -----------------------------------------------------------------------------

func (l *Logger) Debug(format string, args ...interface{}) {
	l.logger.Debug().Msg(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

func (l *Logger) Warning(format string, args ...interface{}) {
	l.logger.Warn().Msg(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.logger.Info().Msg(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.logger.Error().Msg(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Critical logs at fatal level and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.logger.WithLevel(zerolog.FatalLevel).Msg(fmt.Sprintf(format, args...))
	os.Exit(1)
}
