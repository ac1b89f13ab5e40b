package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/raterudder/powerbox/pkg/coordinator"
	"github.com/raterudder/powerbox/pkg/log"
	"github.com/raterudder/powerbox/pkg/powerbox"
	"github.com/raterudder/powerbox/pkg/server"
)

func main() {
	// init packages
	client := powerbox.Configured()
	realtime, config := coordinator.Configured(client)

	// init server
	srv := server.Configured(client, realtime, config)

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = log.WithAttrs(ctx, slog.String("host", client.Credentials().Host))
	log.Ctx(ctx).DebugContext(ctx, "logger configured", slog.String("level", level.String()))

	defer func() {
		if err := client.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close powerbox client", slog.Any("error", err))
		}
	}()

	// the coordinators only return once ctx is canceled, so the group ends
	// early only when the server fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return realtime.Run(gctx)
	})
	g.Go(func() error {
		return config.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "powerbox poller failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "powerbox poller exited cleanly")
}
