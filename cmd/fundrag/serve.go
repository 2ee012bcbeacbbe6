package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fundrag/internal/httpapi"
	"fundrag/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.close()

		m, err := a.loadIndex(ctx)
		if errors.Is(err, vectorstore.ErrNoIndex) {
			return fmt.Errorf("no index found, run build-index first: %w", err)
		}
		if err != nil {
			return err
		}
		logger.Info().Str("build_id", m.BuildID).Int("docs", m.Count).Str("model", m.EmbeddingModel).Msg("index loaded")

		svc, err := a.ragService()
		if err != nil {
			return err
		}
		router := httpapi.NewRouter(svc, logger.With().Str("component", "http").Logger(), httpapi.Options{
			RequestTimeout: cfg.Server.RequestTimeout,
			Gatherer:       a.registry,
		})
		return httpapi.Serve(ctx, httpapi.ServerConfig{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}, router, logger)
	},
}

