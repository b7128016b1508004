package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"taskboard-backend/pkg/config"
	"taskboard-backend/pkg/database"
	"taskboard-backend/pkg/metrics"
	"taskboard-backend/pkg/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var (
		addr    string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API with the store selected by STORE_BACKEND.

Examples:
  taskboard serve
  taskboard serve --addr :8080 --migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if addr == "" {
				addr = ":" + cfg.Port
			}
			return runServe(cmd.Context(), cfg, addr, migrate)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the Postgres schema before serving")

	return cmd
}

func runServe(parent context.Context, cfg *config.Config, addr string, migrate bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := cfg.NewLogger()
	db, err := database.NewDatabase(ctx, cfg.Database())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if migrate {
		if err := migrateStore(ctx, db); err != nil {
			return err
		}
	}

	app, err := server.NewApp(ctx, cfg, db, logger, metrics.New())
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", addr, "backend", database.ResolveBackend(cfg.Database()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
