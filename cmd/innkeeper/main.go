// Package main provides the entry point for the Innkeeper WoW<->Discord
// chat bridge.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ascension-relay/innkeeper/internal/bridge"
	"github.com/ascension-relay/innkeeper/internal/config"
	"github.com/ascension-relay/innkeeper/internal/discordadapter"
	"github.com/ascension-relay/innkeeper/internal/supervisor"
)

// shutdownTimeout bounds how long the graceful-shutdown fan-out (game
// session logout, gateway close) is allowed to take before main moves on.
const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	logger := initLogger()

	cfg, err := config.Load(os.Getenv("INNKEEPER_CONFIG"))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	discordPort, err := initDiscord(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to start discord adapter", "error", err)
		os.Exit(1)
	}

	sup := supervisor.NewSupervisor(cfg, logger)
	state := bridge.NewBridgeState(cfg, discordPort, logger)
	b := bridge.New(state, discordPort, discordPort, discordPort, discordPort.Emojis(), cfg.Wow.Realm, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return sup.Run(gctx, b.Configure) })
	group.Go(func() error { return b.Run(gctx) })

	logger.Info("innkeeper running", "realm", cfg.Wow.Realm, "character", cfg.Wow.Character)

	select {
	case <-ctx.Done():
	case <-gctx.Done():
	}
	shutdown(sup, discordPort, logger)

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("session loop exited with error", "error", err)
		os.Exit(1)
	}
}

func initLogger() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("INNKEEPER_LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			level = slog.LevelInfo
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func initDiscord(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*discordadapter.Adapter, error) {
	adapter, err := discordadapter.New(cfg.Discord.Token, cfg.Discord.GuildID, logger)
	if err != nil {
		return nil, err
	}
	if err := adapter.Start(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}

// shutdown asks the live WoW session to log out and the Discord gateway to
// close, bounded by shutdownTimeout.
func shutdown(sup *supervisor.Supervisor, discordPort *discordadapter.Adapter, logger *slog.Logger) {
	logger.Info("shutting down")

	done := make(chan struct{})
	go func() {
		sup.Stop()
		if err := discordPort.Stop(); err != nil {
			logger.Warn("error closing discord gateway", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown deadline exceeded, exiting anyway")
	}
}
