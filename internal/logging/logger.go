// Package logging builds the zap logger shared by every component of the gateway.
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction. It is a field of config.Settings,
// never constructed ad hoc by callers.
type Config struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

var (
	global     *zap.Logger
	globalOnce sync.Once
)

// New builds a zap.Logger from cfg. Encoding "console" favors local
// development; an empty Encoding defaults to "json", suitable for log
// aggregation. Any other value is passed to zap unchanged, so a name
// zap has no encoder for makes New return an error.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoding := strings.ToLower(cfg.Encoding)
	if encoding == "" {
		encoding = "json"
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "time"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	if encoding == "console" {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.Development,
		InitialFields: map[string]interface{}{
			"service": cfg.ServiceName,
		},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ServiceName) != "" {
		logger = logger.Named(cfg.ServiceName)
	}

	return logger, nil
}

// MustNew is New, panicking on error; used at process startup.
func MustNew(cfg Config) *zap.Logger {
	logger, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return logger
}

// Bootstrap builds the logger and additionally installs it as the
// package-level default returned by Default(), for code paths (tests,
// background helpers) that run before a logger is threaded through.
// Only the first of Bootstrap or Default to run sets the default; a
// later Bootstrap call returns its new logger without installing it.
func Bootstrap(cfg Config) (*zap.Logger, error) {
	logger, err := New(cfg)
	if err != nil {
		return nil, err
	}
	globalOnce.Do(func() { global = logger })
	return logger, nil
}

// Default returns a usable logger even if Bootstrap was never called.
func Default() *zap.Logger {
	globalOnce.Do(func() {
		if global == nil {
			global, _ = zap.NewProduction()
		}
	})
	return global
}
