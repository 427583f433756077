package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vjranagit/qualitytrend/pkg/api"
	"github.com/vjranagit/qualitytrend/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backend API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	log := a.logger
	log.Info().
		Str("version", version).
		Str("listen_addr", a.cfg.Server.ListenAddr).
		Str("driver", a.cfg.Storage.Driver).
		Str("path", a.cfg.Storage.Path).
		Int("compression_level", a.cfg.Storage.CompressionLevel).
		Msg("configuration loaded")

	store, err := storage.Open(ctx, a.cfg.ToStorageConfig(), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close storage")
		}
	}()
	log.Info().Msg("storage engine initialized")

	server := api.NewServer(a.cfg.ToServerConfig(), store, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.cfg.Server.ListenAddr).Msg("API server listening")
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received, stopping server")
	case err := <-errCh:
		return err
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	log.Info().Msg("server stopped")
	return nil
}
