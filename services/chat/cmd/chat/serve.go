package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bookchat/internal/util"
	"bookchat/services/chat/internal/config"
	"bookchat/services/chat/internal/server"
)

const shutdownTimeout = 20 * time.Second

func newServeCommand(opt *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ResolvePath(opt.ConfigPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			util.InitLogger(cfg.LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newMigrateCommand(opt *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the chat tables and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ResolvePath(opt.ConfigPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			util.InitLogger(cfg.LogLevel)
			if cfg.StorageDriver == "memory" {
				slog.Info("memory storage has no schema, nothing to migrate")
				return nil
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			slog.Info("chat schema migrated", "driver", cfg.StorageDriver)
			return st.Close()
		},
	}
}

func serve(ctx context.Context, cfg config.FileConfig) error {
	deps, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	apiServer, err := server.New(server.Config{
		App:            deps.app,
		TokenVerifier:  deps.verifier,
		Users:          deps.users,
		TurnLimiter:    deps.limiter,
		TrustedProxies: deps.trusted,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: deps.writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("chat server listening", "addr", addr, "version", version, "provider", cfg.GenerationProvider, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("chat server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
