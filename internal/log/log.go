// Package log is the engine's logging facility: a thin, leveled, tagged
// wrapper over zap, grounded on tavern/contrib/log's Helper shape
// (Debugf/Infof/Warnf/Errorf) and tavern/conf.Logger's rotation knobs,
// which only make sense paired with lumberjack.
package log

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls how the process-wide logger is constructed.
type Config struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"`
	Caller     bool   `json:"caller" yaml:"caller"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Helper is a tagged logging handle, analogous to tavern's log.Helper.
type Helper struct {
	z *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	current = &Helper{z: zap.NewNop().Sugar()}
	level   atomic.Int32 // zapcore.Level, defaults to Info (0)
)

// Init builds the process-wide logger from cfg. Safe to call again on
// config reload (SIGHUP); replaces the active logger atomically.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{Level: "info"}
	}

	lvl := zapcore.InfoLevel
	if cfg.Level != "" {
		_ = lvl.Set(cfg.Level)
	}
	level.Store(int32(lvl))

	var writer zapcore.WriteSyncer
	if cfg.Path != "" {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    orDefault(cfg.MaxSize, 100),
			MaxAge:     orDefault(cfg.MaxAge, 7),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			Compress:   cfg.Compress,
		})
	} else {
		writer = zapcore.AddSync(os.Stdout)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, lvl)

	opts := []zap.Option{}
	if cfg.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	z := zap.New(core, opts...).Sugar()

	mu.Lock()
	current = &Helper{z: z}
	mu.Unlock()
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// L returns the process-wide logging helper.
func L() *Helper {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Enabled reports whether lvl would currently be logged, so callers can
// skip building expensive debug payloads (tavern's log.Enabled(log.LevelDebug)).
func Enabled(lvl zapcore.Level) bool {
	return int32(lvl) >= level.Load()
}

type ctxKey struct{}

// WithContext attaches a tagged Helper (e.g. one carrying a request ID)
// to ctx.
func WithContext(ctx context.Context, h *Helper) context.Context {
	return context.WithValue(ctx, ctxKey{}, h)
}

// FromContext returns the Helper attached to ctx, or the process-wide
// default if none was attached.
func FromContext(ctx context.Context) *Helper {
	if h, ok := ctx.Value(ctxKey{}).(*Helper); ok {
		return h
	}
	return L()
}

// With returns a Helper with the given structured fields attached.
func (h *Helper) With(args ...any) *Helper {
	return &Helper{z: h.z.With(args...)}
}

func (h *Helper) Debugf(format string, args ...any) { h.z.Debugf(format, args...) }
func (h *Helper) Infof(format string, args ...any)  { h.z.Infof(format, args...) }
func (h *Helper) Warnf(format string, args ...any)  { h.z.Warnf(format, args...) }
func (h *Helper) Errorf(format string, args ...any) { h.z.Errorf(format, args...) }
func (h *Helper) Fatalf(format string, args ...any) { h.z.Fatalf(format, args...) }

// Fatal logs err at fatal level and exits the process.
func Fatal(err error) {
	L().z.Fatal(err)
}
