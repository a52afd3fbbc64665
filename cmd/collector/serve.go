package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/config"
	"github.com/ad-tracker/youtube-stats-collector/internal/handler"
	"github.com/ad-tracker/youtube-stats-collector/internal/queue"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := queue.NewClient(cfg.Redis.URL, logger.Named("queue"))
			if err != nil {
				return err
			}
			defer client.Close()

			if len(cfg.Server.APIKeys) == 0 {
				a.log.Warn("no API keys configured - admin endpoints will reject all requests",
					zap.String("env_var", "APP_SERVER_APIKEYS"))
			}

			var broker handler.HealthChecker
			if a.broker != nil {
				broker = a.broker
			}

			gin.SetMode(gin.ReleaseMode)
			router := handler.NewRouter(handler.RouterConfig{
				Health:   handler.NewHealthHandler(a.db, broker),
				Quota:    handler.NewQuotaHandler(a.pool, a.quota, logger.Named("quota_api")),
				Triggers: handler.NewTriggerHandler(client, logger.Named("trigger_api")),
				APIKeys:  cfg.Server.APIKeys,
				Gatherer: a.registry,
				Metrics:  a.metrics,
				Logger:   logger.Named("http"),
			})

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serverErrors := make(chan error, 1)
			go func() {
				a.log.Info("server starting", zap.Int("port", cfg.Server.Port))
				serverErrors <- server.ListenAndServe()
			}()

			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
				a.log.Info("shutdown signal received")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					a.log.Error("graceful shutdown failed", zap.Error(err))
					if err := server.Close(); err != nil {
						a.log.Error("failed to close server", zap.Error(err))
					}
					return err
				}

				a.log.Info("server stopped gracefully")
				return nil
			}
		},
	}
}
