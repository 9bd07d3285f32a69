package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar  = newSugar("text", zapcore.Lock(os.Stdout))
	closer func() error
)

func newSugar(format string, out zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}

	var enc zapcore.Encoder
	if format == "json" {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		// [2006-01-02 15:04:05] [INFO] message
		encCfg.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
			pae.AppendString("[" + t.Format("2006-01-02 15:04:05") + "]")
		}
		encCfg.EncodeLevel = func(l zapcore.Level, pae zapcore.PrimitiveArrayEncoder) {
			pae.AppendString("[" + l.CapitalString() + "]")
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	return zap.New(zapcore.NewCore(enc, out, level)).Sugar()
}

// SetLevel changes the minimum level logged. Unknown names are ignored.
func SetLevel(name string) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		level.SetLevel(LevelDebug.zap())
	case "INFO":
		level.SetLevel(LevelInfo.zap())
	case "WARN":
		level.SetLevel(LevelWarn.zap())
	case "ERROR":
		level.SetLevel(LevelError.zap())
	}
}

// Configure sets the level, encoding ("text" or "json") and destination
// ("stdout", "stderr" or a file path) of the process logger.
func Configure(levelName, format, output string) error {
	var (
		out     zapcore.WriteSyncer
		closeFn func() error
	)

	switch strings.ToLower(output) {
	case "", "stdout":
		out = zapcore.Lock(os.Stdout)
	case "stderr":
		out = zapcore.Lock(os.Stderr)
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.Lock(f)
		closeFn = f.Close
	}

	SetLevel(levelName)

	mu.Lock()
	old := closer
	_ = sugar.Sync()
	sugar = newSugar(strings.ToLower(format), out)
	closer = closeFn
	mu.Unlock()

	if old != nil {
		return old()
	}
	return nil
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = sugar.Sync()
}

// IsDebug reports whether debug entries are emitted, so callers can skip
// building expensive debug arguments.
func IsDebug() bool {
	return level.Enabled(zapcore.DebugLevel)
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debug(format string, v ...any) {
	get().Debugf(format, v...)
}

func Info(format string, v ...any) {
	get().Infof(format, v...)
}

func Warn(format string, v ...any) {
	get().Warnf(format, v...)
}

func Error(format string, v ...any) {
	get().Errorf(format, v...)
}
