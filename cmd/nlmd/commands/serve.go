package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lockd/nlmd/internal/adminserver"
	"github.com/lockd/nlmd/internal/localfs"
	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/nlmcore"
	"github.com/lockd/nlmd/internal/protocol/nlm/handlers"
	nsmtypes "github.com/lockd/nlmd/internal/protocol/nsm/types"
	"github.com/lockd/nlmd/internal/server"
	"github.com/lockd/nlmd/internal/telemetry"
	"github.com/lockd/nlmd/pkg/config"
)

var adminAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the nlmd daemon in the foreground",
	Long: `Run the network lock manager daemon.

serve loads configuration, starts the NLM/NSM RPC listener, registers
with the local status monitor, and blocks until interrupted.

Examples:
  nlmd serve
  nlmd serve --config /etc/nlmd/config.yaml
  NLMD_LOGGING_LEVEL=DEBUG nlmd serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:7045", "gRPC admin service listen address")
}

var startedAt = time.Now()

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}
	logger.Info("nlmd starting", "config", getConfigSource(GetConfigFile()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "nlmd",
		ServiceVersion: Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer tracingShutdown(context.Background())

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Profiling.Enabled,
		ServiceName:    "nlmd",
		ServiceVersion: Version,
		Endpoint:       cfg.Profiling.Endpoint,
		ProfileTypes:   cfg.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("initialize profiling: %w", err)
	}
	defer profilingShutdown()

	reg := prometheus.NewRegistry()
	metrics := nlmcore.NewMetrics(reg)

	lockManager := localfs.NewLockManager()
	shareManager := localfs.NewShareManager(lockManager)
	resolver := localfs.NewResolver()

	sm := nlmcore.NewSMClient(nlmcore.SMClientConfig{
		Host:         cfg.SM.Host,
		CallbackName: cfg.SM.CallbackName,
		CallbackProg: nsmtypes.ProgramNSM,
		CallbackVers: nsmtypes.SMVersion1,
		CallbackProc: nsmtypes.SMProcNotify,
		BindRetries:  cfg.Lock.SMBindRetries,
		BindBackoff:  cfg.Lock.SMBindBackoff,
	}, metrics)

	grant := handlers.NewGrantCallback(cfg.SM.CallbackName)

	zone := nlmcore.NewZone(nlmcore.ZoneConfig{
		GracePeriod:    cfg.Lock.GracePeriod,
		IdleTimeout:    cfg.Lock.IdleTimeout,
		RetransTimeout: cfg.Lock.RetransTimeout,
	}, sm, lockManager, shareManager, resolver, grant, metrics)
	zone.Start(ctx)

	srv := server.New(zone)
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx, cfg.Transport.Address)
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg.Metrics.Port, reg)
	}

	admin := adminserver.New(zone)
	adminDone := make(chan error, 1)
	go func() {
		adminDone <- admin.ListenAndServe(adminAddr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("nlmd running", "transport", cfg.Transport.Address, "admin", adminAddr)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
	case err := <-serverDone:
		if err != nil {
			logger.Error("nlm/nsm listener stopped unexpectedly", "error", err)
		}
	case err := <-adminDone:
		if err != nil {
			logger.Error("admin service stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	cancel()
	admin.Stop()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	zone.Shutdown(shutdownCtx)

	logger.Info("nlmd stopped")
	return nil
}

func startMetricsServer(port int, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "healthy",
			"started_at": startedAt.Format(time.RFC3339),
			"uptime":     time.Since(startedAt).String(),
		})
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
