package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dsumotion/internal/config"
	"dsumotion/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config (defaults apply when empty)")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		c, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
			os.Exit(1)
		}
		cfg = c
	}

	logs := web.NewLogBuffer(2000)
	log, err := newLogger(cfg.Log, logs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("dsumotion starting", zap.String("config", configPath), zap.String("source", cfg.Source.Kind))
	if err := run(ctx, cfg, log, logs, nil); err != nil {
		log.Error("dsumotion failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("dsumotion stopped")
}

// newLogger builds the process logger from config. Every entry is also
// written as JSON into logs so /api/logs can serve the tail.
func newLogger(lc config.LogConfig, logs *web.LogBuffer) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level := zap.NewAtomicLevelAt(lc.ZapLevel())
	zc.Level = level
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var opts []zap.Option
	if logs != nil {
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		buffered := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(logs), level)
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, buffered)
		}))
	}
	return zc.Build(opts...)
}
