package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/astra-intelligence/astra-ingest/internal/app"
	"github.com/astra-intelligence/astra-ingest/internal/config"
	"github.com/astra-intelligence/astra-ingest/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.LoadConfig()

	zl, err := logger.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	application, err := app.NewApp(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer application.Close()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	go func() {
		if err := application.Server.Start(); err != nil {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	zl.Info("astra-ingest is running")
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		zl.Warn("shutdown incomplete", zap.Error(err))
	}
}
