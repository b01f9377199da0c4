// tripmock serves an in-memory travel backend for local development of the
// trip client.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/tripsync/internal/config"
	"github.com/ashureev/tripsync/internal/mockserver"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting mock backend", "port", cfg.Mock.Port, "dev", cfg.IsDevelopment())

	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.Mock.FrontendURL}
	}
	mock := mockserver.New(
		mockserver.WithLogger(logger),
		mockserver.WithJobSteps(cfg.Mock.JobSteps),
		mockserver.WithAllowedOrigins(origins...),
	)
	defer mock.Close()

	// SSE connections require no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Mock.Port,
		Handler:      mock.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mock.StartJobWorker(ctx, cfg.Mock.JobTick)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close streams first so Shutdown does not wait on them.
	mock.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
