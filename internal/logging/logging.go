// Package logging owns the process-wide structured logger.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls where log records go.
type Options struct {
	// Path of the JSON log file. Empty disables file logging.
	Path string
	// Debug lowers the level to debug.
	Debug bool
	// Console mirrors records to stderr. Interactive UIs leave this off.
	Console bool
}

var (
	mu      sync.Mutex
	logFile *os.File
	current atomic.Pointer[zap.Logger]
)

func init() {
	current.Store(zap.NewNop())
}

// Init replaces the global logger. Calling it again closes the previous file.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()

	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	var cores []zapcore.Core
	if opts.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level))
	}

	if opts.Path != "" {
		if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		logFile = file
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), level))
	}

	if len(cores) == 0 {
		current.Store(zap.NewNop())
		return nil
	}
	current.Store(zap.New(zapcore.NewTee(cores...)))
	return nil
}

// Close flushes and releases the log file. The logger becomes a no-op.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	return closeLocked()
}

func closeLocked() error {
	_ = current.Load().Sync()
	current.Store(zap.NewNop())
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// L returns the current logger.
func L() *zap.Logger {
	return current.Load()
}

// Named returns a child logger tagged with a component name.
func Named(component string) *zap.Logger {
	return current.Load().Named(component)
}

func Debug(msg string, fields ...zap.Field) { current.Load().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { current.Load().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { current.Load().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current.Load().Error(msg, fields...) }

// LogEvent records a free-form printf style message at info level.
func LogEvent(format string, args ...any) {
	current.Load().Info(fmt.Sprintf(format, args...))
}

// LogRequest records traffic between weave and a backend.
func LogRequest(direction, host, model, tool string, payload any) {
	fields := []zap.Field{
		zap.String("direction", strings.ToUpper(strings.TrimSpace(direction))),
		zap.String("host", valueOr(host, "unknown")),
		zap.String("model", valueOr(model, "unknown")),
	}
	if tool = strings.TrimSpace(tool); tool != "" {
		fields = append(fields, zap.String("tool", tool))
	}
	fields = append(fields, zap.String("payload", formatPayload(payload)))
	current.Load().Debug("backend traffic", fields...)
}

func valueOr(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func formatPayload(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "null"
	case string:
		if strings.TrimSpace(v) == "" {
			return `""`
		}
		return v
	case []byte:
		if len(v) == 0 {
			return "[]"
		}
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
