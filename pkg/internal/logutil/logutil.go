package logutil

import (
    "os"
    "sync/atomic"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

var jsonMode atomic.Bool

func init() {
    if os.Getenv("KVCLUSTER_LOG_JSON") == "1" || os.Getenv("KVCLUSTER_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
}

// SetJSON switches the encoder used by New.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// New builds a zap logger: JSON production encoding when JSON mode is on,
// colored console otherwise. debug lowers the level to Debug.
func New(debug bool) (*zap.Logger, error) {
    var cfg zap.Config
    if jsonMode.Load() {
        cfg = zap.NewProductionConfig()
        cfg.EncoderConfig.TimeKey = "ts"
        cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
    } else {
        cfg = zap.NewDevelopmentConfig()
        cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
        cfg.DisableStacktrace = true
    }
    if debug {
        cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
    } else {
        cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
    }
    return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
    if l == nil { return zap.NewNop() }
    return l
}

func Debugf(l *zap.Logger, f string, args ...any) { OrNop(l).Sugar().Debugf(f, args...) }
func Infof(l *zap.Logger, f string, args ...any)  { OrNop(l).Sugar().Infof(f, args...) }
func Warnf(l *zap.Logger, f string, args ...any)  { OrNop(l).Sugar().Warnf(f, args...) }
func Errorf(l *zap.Logger, f string, args ...any) { OrNop(l).Sugar().Errorf(f, args...) }
