// Package logger предоставляет логирование с префиксом сервиса поверх zerolog.
// Запись асинхронная (diode), чтобы не блокировать основное приложение; при переполнении
// буфера логи теряются. Поддерживается логирование времени выполнения функций.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const asyncBufferSize = 8192

// slowCallThreshold is the minimum duration LogDuration reports outside debug level.
const slowCallThreshold = 100 * time.Millisecond

// Config controls the global logger.
type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // json or console
	Output io.Writer
	// Async wraps Output in a non-blocking diode writer.
	Async bool
}

var (
	mu     sync.RWMutex
	base   = zerolog.New(os.Stderr).With().Timestamp().Logger()
	log    = base
	prefix string
	closer io.Closer

	initialized atomic.Bool
	defaultOnce sync.Once
)

// ensure applies env-based defaults when Init was never called.
func ensure() {
	if initialized.Load() {
		return
	}
	defaultOnce.Do(func() {
		if !initialized.Load() {
			Init(Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT"), Async: true})
		}
	})
}

// Init replaces the global logger. Safe to call more than once; the previous async writer is flushed.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	var c io.Closer
	if cfg.Async {
		d := diode.NewWriter(out, asyncBufferSize, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "logger: dropped %d messages\n", missed)
		})
		out = d
		c = d
	}

	l := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()

	mu.Lock()
	prev := closer
	base = l
	log = withPrefix(l, prefix)
	closer = c
	mu.Unlock()

	initialized.Store(true)
	if prev != nil {
		_ = prev.Close()
	}
}

// Close flushes the async writer, if any.
func Close() {
	mu.Lock()
	c := closer
	closer = nil
	mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func withPrefix(l zerolog.Logger, p string) zerolog.Logger {
	if p == "" {
		return l
	}
	return l.With().Str("service", p).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
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

// SetPrefix задаёт имя сервиса для всех последующих логов (например "api").
func SetPrefix(p string) {
	ensure()
	mu.Lock()
	prefix = p
	log = withPrefix(base, p)
	mu.Unlock()
}

// Log returns the global logger for structured fields.
func Log() *zerolog.Logger {
	ensure()
	mu.RLock()
	l := log
	mu.RUnlock()
	return &l
}

// Info пишет сообщение уровня info.
func Info(v ...any) {
	Log().Info().Msg(fmt.Sprint(v...))
}

// Infof форматирует и пишет сообщение уровня info.
func Infof(format string, v ...any) {
	Log().Info().Msgf(format, v...)
}

// Debugf форматирует и пишет сообщение уровня debug.
func Debugf(format string, v ...any) {
	Log().Debug().Msgf(format, v...)
}

// Error пишет ошибку.
func Error(v ...any) {
	Log().Error().Msg(fmt.Sprint(v...))
}

// Errorf форматирует ошибку.
func Errorf(format string, v ...any) {
	Log().Error().Msgf(format, v...)
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// На уровне info логирует только вызовы дольше 100ms; на уровне debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	l := Log()
	switch {
	case l.GetLevel() <= zerolog.DebugLevel:
		l.Debug().Str("fn", fn).Int64("duration_ms", elapsed.Milliseconds()).Send()
	case elapsed >= slowCallThreshold:
		l.Info().Str("fn", fn).Int64("duration_ms", elapsed.Milliseconds()).Send()
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
