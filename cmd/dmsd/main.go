// Command dmsd runs one Dynamic Mount Service node: it consumes
// mount/unmount RPCs off its node-scoped broker queue and drives the
// local mount/umount machinery and FUSE helper processes on its host.
//
// The reference-counted ledger and the host lock gate belong to the
// mount coordinator (pkg/coordinator), which is a library consumed by
// whatever job-processing system issues mount/unmount requests, not a
// binary shipped from this repository (spec.md §1 places interactive
// CLI front-ends out of scope, and the coordinator's operator-facing
// functions are exposed as a package API instead).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dittomount/dms/internal/logger"
	"github.com/dittomount/dms/internal/telemetry"
	"github.com/dittomount/dms/pkg/broker"
	"github.com/dittomount/dms/pkg/config"
	"github.com/dittomount/dms/pkg/fuseproc"
	"github.com/dittomount/dms/pkg/metrics"
	"github.com/dittomount/dms/pkg/model"
	"github.com/dittomount/dms/pkg/mountexec"
	"github.com/dittomount/dms/pkg/rpctransport"
	"github.com/dittomount/dms/pkg/secretclient"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	flags := flag.NewFlagSet("dmsd", flag.ExitOnError)
	configFile := flags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dms/config.yaml)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dmsd",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	logger.Info("dmsd starting", "node_id", cfg.NodeID, "version", version, "commit", commit)

	met := setupMetrics(ctx, cfg.Metrics)

	secrets := secretclient.New(cfg.AuthURL)
	procs := fuseproc.New(cfg.Mount.PIDDir, cfg.Mount.FuseBinaryPath)

	if err := procs.LoadExisting(); err != nil {
		logger.Error("failed to reload FUSE process registry from disk", "error", err)
	}
	met.SetFUSEProcesses("loaded_from_disk", float64(procs.Count()))

	executor := mountexec.New(mountexec.Config{
		MountHelperPath:           cfg.Mount.FuseBinaryPath,
		PrivilegedMountHelperPath: cfg.Mount.PrivilegedMountHelperPath,
		PrivilegedMountHelperConf: cfg.Mount.PrivilegedMountHelperConf,
		ReadinessTimeout:          cfg.Mount.ReadinessTimeout,
	}, secrets, procs)

	amqpBroker, err := broker.DialAMQP(cfg.BrokerURL)
	if err != nil {
		log.Fatalf("failed to connect to broker: %v", err)
	}

	listener := rpctransport.NewListener(amqpBroker, cfg.NodeID)
	handler := dispatchHandler(executor, met)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- listener.Serve(ctx, handler)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("dmsd ready", "queue", rpctransport.InboundQueueName(cfg.NodeID))

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, stopping listener")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("listener stopped with error", "error", err)
			os.Exit(1)
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("listener error", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("dmsd stopped")
}

// setupMetrics starts the Prometheus endpoint when metrics are
// enabled, shutting it down when ctx is canceled, and returns a
// *metrics.Metrics that is nil-safe to call regardless.
func setupMetrics(ctx context.Context, cfg config.MetricsConfig) *metrics.Metrics {
	if !cfg.Enabled {
		logger.Info("metrics disabled")
		return metrics.New(nil)
	}

	registry := prometheus.NewRegistry()
	met := metrics.New(registry)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info("metrics enabled", "port", cfg.Port)
	return met
}

// dispatchHandler adapts mountexec.Executor.Dispatch to the
// rpctransport.Handler shape the broker listener calls per delivery,
// recording a mount/unmount outcome metric either way. Serialization
// across concurrent requests for this node comes from the listener's
// prefetch=1 single-consumer queue, not from a lock here.
func dispatchHandler(executor *mountexec.Executor, met *metrics.Metrics) rpctransport.Handler {
	return func(ctx context.Context, body []byte) []byte {
		req, err := rpctransport.UnmarshalRequest(body)
		if err != nil {
			return rpctransport.MarshalResponse(errorResponse(err.Error()))
		}

		resp, err := executor.Dispatch(ctx, req)
		if err != nil {
			recordOutcome(met, req, metrics.StatusError)
			return rpctransport.MarshalResponse(errorResponse(err.Error()))
		}

		status := metrics.StatusSuccess
		if resp.Status == model.StatusError {
			status = metrics.StatusError
		}
		recordOutcome(met, req, status)

		return rpctransport.MarshalResponse(resp)
	}
}

func recordOutcome(met *metrics.Metrics, req *model.MountRequest, status string) {
	targetType := string(req.BackupTarget.Type)
	if req.Action == model.ActionUnmount {
		met.ObserveUnmount(targetType, status)
		return
	}
	met.ObserveMount(targetType, status)
}

func errorResponse(msg string) *model.MountResponse {
	return &model.MountResponse{Status: model.StatusError, ErrorMsg: &msg}
}
