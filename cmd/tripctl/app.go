package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/tripsync/internal/config"
	"github.com/ashureev/tripsync/internal/job"
	"github.com/ashureev/tripsync/internal/progress"
	"github.com/ashureev/tripsync/internal/store"
	"github.com/ashureev/tripsync/internal/transport"
	"github.com/ashureev/tripsync/internal/tripclient"
)

var errNoToken = errors.New("TRIPSYNC_TOKEN is not set")

// app wires configuration, transport, journal and the client engine for a
// single command run.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	api     *transport.Client
	journal store.Journal
	client  *tripclient.Client
}

func newApp(ctx context.Context) (*app, error) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	journal, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	token := cfg.Token
	api := transport.New(cfg.APIBaseURL,
		transport.WithTimeout(cfg.RequestTimeout),
		transport.WithLogger(logger),
		transport.WithTokenProvider(func(context.Context) (string, error) {
			if token == "" {
				return "", errNoToken
			}
			return token, nil
		}),
	)

	var stream transport.ProgressStream = api.SSE()
	if cfg.Stream == config.StreamWS {
		stream = api.WS()
	}

	client := tripclient.New(
		tripclient.Deps{Jobs: api, Chat: api, Sessions: api, Progress: stream},
		tripclient.WithLogger(logger),
		tripclient.WithJournal(journal),
		tripclient.WithJobOptions(
			job.WithPolling(cfg.Jobs.PollInterval, cfg.Jobs.MaxPolls),
			job.WithRemediationDelay(cfg.Jobs.RemediationDelay),
			job.WithPhotoConcurrency(cfg.Jobs.PhotoConcurrency),
		),
		tripclient.WithProgressOptions(progress.WithSequenceReset(cfg.ResetSequence)),
	)

	return &app{cfg: cfg, logger: logger, api: api, journal: journal, client: client}, nil
}

func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Journal, error) {
	if !cfg.Journal.Enabled {
		return store.Noop{}, nil
	}
	j, err := store.NewSQLite(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if cfg.Journal.Retention > 0 {
		pruned, err := j.Prune(ctx, time.Now().Add(-cfg.Journal.Retention))
		if err != nil {
			logger.Warn("Failed to prune journal", "error", err)
		} else if pruned > 0 {
			logger.Debug("Pruned journal", "rows", pruned)
		}
	}
	return j, nil
}

func (a *app) Close() {
	a.client.Close()
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("Failed to close journal", "error", err)
	}
}
