package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/gridpilot/gridpilot/pkg/allowance"
	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/poller"
	"github.com/gridpilot/gridpilot/pkg/server"
	"github.com/gridpilot/gridpilot/pkg/solar"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/tariff"
)

func main() {
	// init packages
	db := storage.Configured()
	allowanceSvc := allowance.Configured(db)
	solcast := solar.Configured()
	requester := solar.NewRequester(allowanceSvc, solcast, db)
	tariffs := tariff.Configured()
	system := inverter.Configured()

	p := poller.Configured(db, tariffs, requester, system)
	srv := server.Configured(db, allowanceSvc, requester)

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

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	if err := p.Start(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "poller failed to start", "error", err)
		os.Exit(1)
	}

	// Run blocks until the context is canceled or an error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
