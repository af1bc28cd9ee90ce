package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ryabkov82/sf-sync-server/internal/bulk"
	"github.com/ryabkov82/sf-sync-server/internal/client"
	"github.com/ryabkov82/sf-sync-server/internal/config"
	"github.com/ryabkov82/sf-sync-server/internal/httpapi"
	"github.com/ryabkov82/sf-sync-server/internal/job"
	"github.com/ryabkov82/sf-sync-server/internal/logging"
	"github.com/ryabkov82/sf-sync-server/internal/record"
	"github.com/ryabkov82/sf-sync-server/internal/syncer"
	"github.com/ryabkov82/sf-sync-server/internal/version"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and job workers",
		Long: `Run the HTTP API and the async job workers.

Configuration is read from the optional YAML file given by --config and
overridden by environment variables (PORT, SALESFORCE_INSTANCE_URL,
SALESFORCE_ACCESS_TOKEN, BULK_ENABLE_BATCHING, ...).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("SF_SYNC_CONFIG"), "path to YAML config file")

	return cmd
}

// serve runs until ctx is done, then drains the HTTP server and workers
func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting", "version", version.String(), "config", cfg.String())

	engine := newEngine(cfg, logger)
	store := job.NewStore(cfg.Jobs.QueueSize)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Jobs.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			worker(workerCtx, store, engine, logger.With("worker", n))
		}(i)
	}

	handler := httpapi.NewHandler(engine, store, cfg.SalesforceSettings(), cfg.SyncOptions())
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		APIKey:       cfg.Server.APIKey,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Running jobs see a canceled context and abort their bulk jobs
	cancelWorkers()
	wg.Wait()

	logger.Info("server stopped")
	return serveErr
}

func newEngine(cfg *config.Config, logger *slog.Logger) *syncer.Engine {
	dial := syncer.ClientDialer(client.Options{
		Timeout:        cfg.Salesforce.Timeout,
		GzipUploads:    cfg.Salesforce.GzipUploads,
		EnvToken:       cfg.Salesforce.AccessToken,
		EnvInstanceURL: cfg.Salesforce.InstanceURL,
	})

	return syncer.NewEngine(dial,
		syncer.WithValidator(record.NewValidator(cfg.Objects)),
		syncer.WithPollPolicy(cfg.Bulk.Poll),
		syncer.WithBulkOptions(
			bulk.WithUploadMaxBytes(cfg.Bulk.UploadMaxBytes),
			bulk.WithLogger(logger),
		),
		syncer.WithLogger(logger),
	)
}
