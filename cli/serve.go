/*
serve.go - HTTP server command

STARTUP SEQUENCE:
  1. Load configuration (file, .env, WAREHOUSE_* env, flags)
  2. Build the zap logger
  3. Open the store and apply migrations
  4. Create API handler, metrics recorder and balance auditor
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http.shutdown_timeout)
  3. Stop the auditor and close the store
*/
package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/warehouse-ledger/api"
	"github.com/warp/warehouse-ledger/config"
	"github.com/warp/warehouse-ledger/logger"
	"github.com/warp/warehouse-ledger/metrics"
	"github.com/warp/warehouse-ledger/warehouse"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Start the HTTP API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
}

func loadConfig(cmd *cobra.Command, opts *RootOptions) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath, cmd.Flags())
	if err != nil {
		return cfg, nil, err
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	cfg, log, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
		return err
	}
	defer closeStore()
	log.Info("store ready", zap.String("driver", cfg.Store.Driver))

	var (
		recorder *metrics.Recorder
		svcOpts  []warehouse.Option
		routes   api.RouterOptions
		auditObs api.AuditObserver
	)
	routes.AllowedOrigins = cfg.HTTP.AllowedOrigins
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
		svcOpts = append(svcOpts, warehouse.WithObserver(recorder))
		routes.Metrics = recorder.Handler()
		auditObs = recorder
	}

	handler := api.NewHandler(st, log, svcOpts...)

	auditor := api.NewBalanceAuditor(handler.Ledger, log, auditObs)
	auditor.CheckInterval = cfg.Audit.Interval
	auditor.Start()
	defer auditor.Stop()

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(handler, routes),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("server stopped")
	return nil
}
