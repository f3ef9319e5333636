package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/engine"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/forecast"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/inverter"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/server"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	s := storage.Configured()
	sys := inverter.Configured()
	providers := forecast.Configured()
	e := engine.Configured(s, sys, providers)

	// init diagnostics server
	srv := server.Configured(e, s)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("app", "optimiser")))
	log.Ctx(ctx).DebugContext(ctx, "logger configured", slog.String("level", level.String()))

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// the diagnostics server is best-effort; the control loop is the point
	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "diagnostics server failed", "error", err)
		}
	}()

	// Run blocks until the context is canceled or an error happens
	if err := e.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "control loop failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "control loop exited cleanly")
}
