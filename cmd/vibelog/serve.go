package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vibelog/vibelog/pkg/breaker"
	cachepkg "github.com/vibelog/vibelog/pkg/cache/sqlite"
	"github.com/vibelog/vibelog/pkg/chain"
	"github.com/vibelog/vibelog/pkg/config"
	"github.com/vibelog/vibelog/pkg/coordinator"
	"github.com/vibelog/vibelog/pkg/ledger"
	"github.com/vibelog/vibelog/pkg/models"
	"github.com/vibelog/vibelog/pkg/provider"
	"github.com/vibelog/vibelog/pkg/ratelimit"
	"github.com/vibelog/vibelog/pkg/resource"
	"github.com/vibelog/vibelog/pkg/server"
	"github.com/vibelog/vibelog/pkg/store"
	"github.com/vibelog/vibelog/pkg/tasks"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the generation orchestration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Provider keys live in the environment; a .env beside the
			// binary is convenient in development and optional everywhere.
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			led, err := ledger.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init ledger: %w", err)
			}
			defer func() { _ = led.Close() }()

			var cache *cachepkg.Cache
			if cfg.Cache.Enabled {
				cache, err = cachepkg.New(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("init cache: %w", err)
				}
				defer func() { _ = cache.Close() }()
			}

			repo, err := resource.NewRepo(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init resource repo: %w", err)
			}
			defer func() { _ = repo.Close() }()

			capture, err := resource.NewCapture(filepath.Join(cfg.DataDir, "capture"))
			if err != nil {
				return fmt.Errorf("init failure capture: %w", err)
			}

			blobs, err := store.NewFS(filepath.Join(cfg.DataDir, "blobs"), cfg.PublicBase)
			if err != nil {
				return fmt.Errorf("init blob store: %w", err)
			}

			providers, err := provider.BuildChains(cfg, blobs)
			if err != nil {
				return fmt.Errorf("build providers: %w", err)
			}
			chains := make(map[models.Operation]*chain.Chain, len(providers))
			for op, ps := range providers {
				chains[op] = chain.New(op, ps, led, cfg.Degraded)
			}

			queue := tasks.New(cfg.Tasks.Workers, cfg.Tasks.QueueSize)
			defer queue.Close()

			brk := breaker.New(led, cfg.Breaker.DailyCeilingUSD)
			limiter := ratelimit.New(cfg.RateLimits)
			coord := coordinator.New(cfg, led, brk, limiter, cache, chains, repo, capture, queue)

			auth := server.NewTokenAuthenticator(cfg.Auth)
			srv := server.New(cfg, coord, brk, auth, blobs, blobs.Root())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("starting vibelog with config: %s", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "vibelog.yaml", "path to config file")
	return cmd
}
