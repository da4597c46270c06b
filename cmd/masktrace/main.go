// Command masktrace runs the video object tracking server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/videoseg/masktrace/internal/config"
	"github.com/videoseg/masktrace/internal/database"
	"github.com/videoseg/masktrace/internal/events"
	"github.com/videoseg/masktrace/internal/logger"
	"github.com/videoseg/masktrace/internal/modules/modulemanager"
	"github.com/videoseg/masktrace/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("MASKTRACE_CONFIG"), "path to configuration file")
	flag.Parse()

	// Local development convenience; missing .env is fine
	_ = godotenv.Load()

	if err := run(*configPath); err != nil {
		logger.Error("server exited: %v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if err := config.Load(configPath); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := config.Get()

	events.SetGlobalBus(events.NewBus(logger.New("masktrace")))

	if err := database.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := modulemanager.LoadAll(database.GetDB()); err != nil {
		return fmt.Errorf("failed to load modules: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopWatch, err := config.GetManager().WatchFile(ctx)
	if err != nil {
		logger.Warn("config watch unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	router := server.SetupRouter(cfg)
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	modulemanager.ShutdownAll()
	events.GetGlobalBus().Close()
	logger.Info("server stopped")
	return nil
}
