package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vidtube/internal/app"
	"vidtube/internal/config"
	"vidtube/internal/store"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type loader func() (config.Config, error)

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "vidtube",
		Short:         "Video sharing API and workflow worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file; keys override the environment")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	load := func() (config.Config, error) {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return config.Config{}, err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		setupLogging(cfg.LogLevel)
		return cfg, nil
	}

	cmd.AddCommand(
		serveCmd(load),
		workerCmd(load),
		migrateCmd(load),
		reindexCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("vidtube %s\n", version)
			},
		},
	)
	return cmd
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	rt, err := openRuntime(ctx, cfg, store.DefaultPool())
	if err != nil {
		return err
	}
	defer rt.Close()

	applied, err := store.ApplyMigrations(ctx, rt.db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		slog.Info("applied migrations", "versions", applied)
	}

	engine := rt.engine()
	queue, err := rt.queue(ctx, engine)
	if err != nil {
		return err
	}

	deps := app.Deps{
		Store:     rt.store,
		Media:     rt.media,
		Objects:   rt.objects,
		Search:    rt.search,
		Workflows: queue,
		Runner:    engine,
		Metrics:   rt.metrics,
	}
	if sessions := rt.sessions(); sessions != nil {
		deps.Sessions = sessions
	}
	if limiter := rt.limiter(); limiter != nil {
		deps.Limiter = limiter
	}
	service := app.New(cfg, deps)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// The workflow route extends its own deadline to app.WorkflowTimeout.
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("vidtube api listening", "addr", cfg.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	rt.wait()
	return nil
}

func workerCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume workflow runs from NATS JetStream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			pool := store.DefaultPool()
			pool.MaxOpen, pool.MaxIdle = 5, 2
			rt, err := openRuntime(ctx, cfg, pool)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.js == nil {
				return errors.New("worker needs NATS_URL")
			}
			return rt.worker(rt.engine()).Run(ctx)
		},
	}
}

func migrateCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.DefaultPool())
				if err != nil {
					return err
				}
				defer db.Close()
				applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				slog.Info("migrations applied", "versions", applied)
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.DefaultPool())
				if err != nil {
					return err
				}
				defer db.Close()
				rolled, err := store.RollbackMigration(cmd.Context(), db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				slog.Info("migration rolled back", "version", rolled)
				return nil
			},
		},
	)
	return cmd
}

func reindexCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every video to the search index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, cfg, store.DefaultPool())
			if err != nil {
				return err
			}
			defer rt.Close()

			videos, err := rt.store.ListAllVideos(ctx)
			if err != nil {
				return err
			}
			sent, err := rt.search.Reindex(videos)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			slog.Info("reindex complete", "videos", sent)
			return nil
		},
	}
}
