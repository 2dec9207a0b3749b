// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package logger is the component logger used across jukebot.
//
// Call sites name the component first and pass structured fields as a map:
//
//	logger.InfoCF("relay", "Connected", map[string]any{"url": url})
//
// Output goes through zerolog; JSON by default, console when LOG_FORMAT=console.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type Config struct {
	Level  string
	Format string
	Output io.Writer
}

var (
	mu  sync.RWMutex
	log zerolog.Logger
)

func init() {
	Init(Config{})
}

// Init (re)configures the global logger. Safe to call more than once.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.MessageFieldName = "message"

	out := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(out).With().Timestamp().Logger()

	mu.Lock()
	log = l
	mu.Unlock()

	SetLevel(ParseLevel(cfg.Level))
}

func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

func SetLevel(level LogLevel) {
	zerolog.SetGlobalLevel(toZerolog(level))
}

func GetLevel() LogLevel {
	switch zerolog.GlobalLevel() {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return DEBUG
	case zerolog.WarnLevel:
		return WARN
	case zerolog.ErrorLevel:
		return ERROR
	case zerolog.FatalLevel, zerolog.PanicLevel, zerolog.Disabled:
		return FATAL
	default:
		return INFO
	}
}

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns the underlying zerolog logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func emit(ev *zerolog.Event, component, message string, fields map[string]any) {
	if ev == nil {
		return
	}
	if component != "" {
		ev = ev.Str("component", component)
	}
	for k, v := range fields {
		if err, ok := v.(error); ok {
			ev = ev.AnErr(k, err)
			continue
		}
		ev = ev.Interface(k, v)
	}
	ev.Msg(message)
}

func logAt(level LogLevel, component, message string, fields map[string]any) {
	l := Logger()
	switch level {
	case DEBUG:
		emit(l.Debug(), component, message, fields)
	case WARN:
		emit(l.Warn(), component, message, fields)
	case ERROR:
		emit(l.Error(), component, message, fields)
	case FATAL:
		// WithLevel keeps zerolog from calling os.Exit; callers decide.
		emit(l.WithLevel(zerolog.FatalLevel), component, message, fields)
	default:
		emit(l.Info(), component, message, fields)
	}
}

func Debug(message string) { logAt(DEBUG, "", message, nil) }
func Info(message string)  { logAt(INFO, "", message, nil) }
func Warn(message string)  { logAt(WARN, "", message, nil) }
func Error(message string) { logAt(ERROR, "", message, nil) }

func DebugC(component, message string) { logAt(DEBUG, component, message, nil) }
func InfoC(component, message string)  { logAt(INFO, component, message, nil) }
func WarnC(component, message string)  { logAt(WARN, component, message, nil) }
func ErrorC(component, message string) { logAt(ERROR, component, message, nil) }

func DebugCF(component, message string, fields map[string]any) {
	logAt(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]any) {
	logAt(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]any) {
	logAt(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]any) {
	logAt(ERROR, component, message, fields)
}

// FatalCF logs at fatal level and exits the process with status 1.
func FatalCF(component, message string, fields map[string]any) {
	logAt(FATAL, component, message, fields)
	os.Exit(1)
}
