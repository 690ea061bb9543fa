package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"aiquery/internal/backend"
	"aiquery/internal/cache"
	"aiquery/internal/cli"
	apphttp "aiquery/internal/http"
	"aiquery/internal/log"
	"aiquery/internal/metrics"
	"aiquery/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP conversation API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadAndValidateConfig()
		if err != nil {
			return err
		}
		logger := cli.SetupLogger(cfg, os.Stdout)

		ctx, stop := cli.SignalContext(cmd.Context())
		defer stop()

		m := metrics.New()

		caches := cache.NewManager(logger)
		defer caches.Stop()

		backendCfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			return err
		}
		sessions, err := backend.NewFactory(logger, backend.WithCacheManager(caches)).CreateBackend(ctx, backendCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := sessions.Cleanup(); err != nil {
				logger.Error("Failed to close session store", log.FieldError, err)
			}
		}()
		caches.StartCleanup(time.Minute)

		orch, err := cli.NewOrchestrator(ctx, cfg, sessions.Sessions, logger, m)
		if err != nil {
			return err
		}

		var publisher services.AuditPublisher
		amqpClient, err := cli.NewAMQPClient(cfg, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without audit events", log.FieldError, err)
		} else if amqpClient != nil {
			publisher = amqpClient
			defer amqpClient.Close()
		}

		svc := services.NewConversationService(orch, publisher,
			services.WithLogger(logger),
			services.WithMetrics(m))

		srv := apphttp.NewServer(apphttp.Config{
			Addr:               ":" + cfg.Port,
			RequestTimeout:     cfg.RequestTimeout,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
		}, svc, sessions.Sessions, logger, m)
		srv.IdleTimeout = 60 * time.Second
		srv.MaxHeaderBytes = 1 << 16

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("Starting aiquery server",
				"port", cfg.Port,
				log.FieldBackend, orch.EngineName(),
				"session_backend", cfg.SessionBackend)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("Server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
