package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/abidi-said/TransMate-sub000/internal/catalog"
	"github.com/abidi-said/TransMate-sub000/internal/server"
	"github.com/abidi-said/TransMate-sub000/pkg/config"
	"github.com/abidi-said/TransMate-sub000/pkg/logging"
)

func main() {
	bootLogger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	if cfg.Catalog.BaseURL == "" {
		logger.Error("catalog.baseURL is required: the coordinator cannot verify key ownership without the persistence API")
		os.Exit(1)
	}
	resolver := catalog.NewHTTPResolver(cfg.Catalog.BaseURL, cfg.Catalog.RequestTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, resolver)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
