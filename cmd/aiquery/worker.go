package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"aiquery/internal/cli"
	"aiquery/internal/log"
	"aiquery/internal/metrics"
	"aiquery/internal/storage"
	"aiquery/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume conversation audit events and write them to SQLite",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadAndValidateConfig()
		if err != nil {
			return err
		}
		if cfg.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for the audit worker")
		}
		logger := cli.SetupLogger(cfg, os.Stdout)
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		ctx, stop := cli.SignalContext(cmd.Context())
		defer stop()

		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return fmt.Errorf("initialize audit database: %w", err)
		}
		defer repo.Close()

		client, err := cli.NewAMQPClient(cfg, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		m := metrics.New()
		w := worker.NewAuditWorker(repo, logger, m)

		g, gctx := errgroup.WithContext(ctx)
		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
			g.Go(func() error {
				logger.Info("Serving worker metrics", "addr", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		if err := w.Start(gctx, client); err != nil {
			return err
		}
		logger.Info("Audit worker running",
			"queue", cfg.AMQPQueue,
			"db_path", cfg.SQLiteDBPath)

		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-w.Done():
				if err := w.Err(); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("audit consumer stopped: %w", err)
				}
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := w.Stop(stopCtx); err != nil {
				logger.Warn("Audit worker did not stop cleanly", log.FieldError, err)
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().String("metrics-addr", "", "Optional address serving Prometheus metrics, e.g. :9090")
}
