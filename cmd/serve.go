package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/cache"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/docparse"
	"github.com/quizforge/quizforge/internal/jobs"
	"github.com/quizforge/quizforge/internal/observability"
	"github.com/quizforge/quizforge/internal/orchestrator"
	"github.com/quizforge/quizforge/internal/provider"
	"github.com/quizforge/quizforge/internal/router"
	"github.com/quizforge/quizforge/internal/server"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			// The server should outlive any single request; shut down on
			// SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			components, err := initializeServerComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown(logger)
				}
				return fmt.Errorf("failed to initialize server components: %w", err)
			}
			defer components.Shutdown(logger)

			if names := components.Manager.ConfiguredNames(); len(names) == 0 {
				logger.Warn("No LLM providers configured; generation requests will fail")
			} else {
				logger.Info("Providers configured", zap.Strings("providers", names))
			}

			return components.Server.ListenAndServe(ctx)
		},
	}

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return serveCmd
}

// serverComponents bundles everything `serve` wires together so teardown
// happens in one place.
type serverComponents struct {
	Manager *provider.Manager
	Cache   *cache.Cache
	DBPool  *pgxpool.Pool
	Queue   *jobs.Queue
	Server  *server.Server

	stopJanitor context.CancelFunc
}

func initializeServerComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*serverComponents, error) {
	c := &serverComponents{}

	c.Manager = provider.NewManagerFromConfig(cfg.Providers, logger)
	rtr := router.New(cfg.Router, c.Manager, logger)

	if cfg.Cache.RedisAddr != "" {
		c.Cache = cache.New(cfg.Cache.RedisAddr, "", 0, cfg.Cache.TTL, logger)
	}

	orch := orchestrator.New(cfg, c.Manager, rtr, c.Cache, logger)

	var store jobs.Store
	if cfg.Jobs.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Jobs.DatabaseURL)
		if err != nil {
			return c, fmt.Errorf("failed to create database pool: %w", err)
		}
		c.DBPool = pool
		store, err = jobs.NewPGStore(ctx, pool, logger)
		if err != nil {
			return c, fmt.Errorf("failed to initialize job store: %w", err)
		}
		logger.Info("Job store backed by PostgreSQL")
	} else {
		store = jobs.NewMemStore()
		logger.Warn("No DATABASE_URL set; jobs will not survive restarts")
	}

	processor := func(ctx context.Context, job *schemas.Job, progress func(int)) (json.RawMessage, error) {
		var req schemas.GenerationRequest
		if err := json.Unmarshal(job.Data, &req); err != nil {
			return nil, fmt.Errorf("malformed job payload: %w", err)
		}
		set, err := orch.GenerateWithProgress(ctx, req, progress)
		if err != nil {
			return nil, err
		}
		return json.Marshal(set)
	}
	c.Queue = jobs.NewQueue(cfg.Jobs, store, processor, logger)
	if err := c.Queue.Restore(ctx); err != nil {
		return c, err
	}
	c.startJanitor(cfg.Jobs.CompletedTTL, logger)

	c.Server = server.New(cfg, orch, c.Manager, c.Queue, docparse.NewRegistry(), c.Cache, logger)
	return c, nil
}

// startJanitor periodically purges finished jobs older than ttl.
func (c *serverComponents) startJanitor(ttl time.Duration, logger *zap.Logger) {
	if ttl <= 0 {
		return
	}
	janitorCtx, cancel := context.WithCancel(context.Background())
	c.stopJanitor = cancel
	go func() {
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				n, err := c.Queue.ClearCompleted(janitorCtx, ttl)
				if err != nil {
					logger.Warn("Failed to clear finished jobs", zap.Error(err))
				} else if n > 0 {
					logger.Info("Cleared finished jobs", zap.Int64("count", n))
				}
			}
		}
	}()
}

func (c *serverComponents) Shutdown(logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if c.stopJanitor != nil {
		c.stopJanitor()
	}
	if c.Queue != nil {
		if err := c.Queue.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Job queue shutdown incomplete", zap.Error(err))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			logger.Warn("Cache close failed", zap.Error(err))
		}
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
	observability.Sync()
}
