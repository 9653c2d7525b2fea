// Package observability owns the global zap logger. Console output is a
// colorized human format; file output is one line per event in the service
// log format `[ISO-8601] [LEVEL] [service] message | {meta-json}`, written to
// logs/service-YYYY-MM-DD.log and rotated by lumberjack.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/quizforge/quizforge/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

// Initialize sets up the global logger. The consoleWriter parameter exists so
// tests can capture output; production callers use InitializeLogger.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		cores := []zapcore.Core{
			zapcore.NewCore(consoleEncoder(cfg), consoleWriter, level),
		}

		if cfg.LogDir != "" {
			fileWriter := zapcore.AddSync(&lumberjack.Logger{
				Filename:   serviceLogPath(cfg.LogDir, time.Now()),
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			})
			cores = append(cores, zapcore.NewCore(newServiceLineEncoder(cfg.ServiceName), fileWriter, level))
		}

		options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			options = append(options, zap.AddCaller())
		}

		logger := zap.New(zapcore.NewTee(cores...), options...).Named(cfg.ServiceName)
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger is the production entrypoint, writing console output to a
// locked stdout.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

// ResetForTest clears the global logger so tests can re-initialize. Test use only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

// GetLogger returns the initialized global logger, falling back to a
// development logger when Initialize has not run yet.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l.Named("fallback")
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil {
		msg := err.Error()
		// Syncing a terminal fails on some platforms; not worth reporting.
		if !strings.Contains(msg, "sync /dev/stdout") &&
			!strings.Contains(msg, "invalid argument") &&
			!strings.Contains(msg, "operation not supported") {
			fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
		}
	}
}

func serviceLogPath(dir string, now time.Time) string {
	return filepath.Join(dir, "service-"+now.UTC().Format("2006-01-02")+".log")
}

func consoleEncoder(cfg config.LoggerConfig) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	if cfg.Format == "json" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(encCfg)
	}
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(encCfg)
}

// -- Service line encoder --

// serviceLineEncoder renders `[ts] [LEVEL] [service] message | {meta-json}`.
// Structured fields are delegated to an embedded JSON encoder configured with
// no entry keys, so its output is exactly the meta object.
type serviceLineEncoder struct {
	zapcore.Encoder
	service string
}

func newServiceLineEncoder(service string) zapcore.Encoder {
	metaCfg := zapcore.EncoderConfig{} // keys empty: fields only
	return &serviceLineEncoder{
		Encoder: zapcore.NewJSONEncoder(metaCfg),
		service: service,
	}
}

func (e *serviceLineEncoder) Clone() zapcore.Encoder {
	return &serviceLineEncoder{Encoder: e.Encoder.Clone(), service: e.service}
}

func (e *serviceLineEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	meta, err := e.Encoder.EncodeEntry(entry, fields)
	if err != nil {
		return nil, err
	}

	line := bufferPool.Get()
	line.AppendByte('[')
	line.AppendString(entry.Time.UTC().Format(time.RFC3339Nano))
	line.AppendString("] [")
	line.AppendString(strings.ToUpper(entry.Level.String()))
	line.AppendString("] [")
	line.AppendString(e.service)
	line.AppendString("] ")
	line.AppendString(entry.Message)

	metaJSON := strings.TrimSpace(meta.String())
	meta.Free()
	if metaJSON != "" && metaJSON != "{}" {
		line.AppendString(" | ")
		line.AppendString(metaJSON)
	}
	line.AppendByte('\n')
	return line, nil
}

var bufferPool = buffer.NewPool()
