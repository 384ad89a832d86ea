package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.RWMutex
	logger   *slog.Logger
	levelVar = new(slog.LevelVar)
	out      io.Writer = os.Stderr
)

// initLogger builds the package logger lazily so tests can swap the output
// before anything is written.
func initLogger() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: levelVar}))
	}
	return logger
}

// SetLevel changes the minimum level. Records below it are dropped.
func SetLevel(l Level) {
	levelVar.Set(toSlog(l))
}

// SetOutput redirects all subsequent records to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: levelVar}))
}

// ParseLevel maps a case-insensitive level name; unknown names give INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	initLogger().Debug(msg, pairs(kv)...)
}

func Info(msg string, kv ...any) {
	initLogger().Info(msg, pairs(kv)...)
}

func Warn(msg string, kv ...any) {
	initLogger().Warn(msg, pairs(kv)...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	initLogger().Error(msg, pairs(extended)...)
}

// pairs drops a dangling key and any non-string key so a sloppy call site
// never produces a !BADKEY record.
func pairs(kv []any) []any {
	outKV := make([]any, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		outKV = append(outKV, key, kv[i+1])
	}
	return outKV
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
