// Package app wires the process together: settings, database, redis, the
// background routines, and the metrics listener.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poolwarden/internal/billing"
	"poolwarden/internal/config"
	"poolwarden/internal/database"
	"poolwarden/internal/decodo"
	"poolwarden/internal/jobs/maintenance"
	"poolwarden/internal/jobs/metering"
	"poolwarden/internal/jobs/runtime"
	syncjob "poolwarden/internal/jobs/sync"
	"poolwarden/internal/support"
	"poolwarden/internal/taskrunner"
)

const defaultMetricsPort = 9091

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	metricsPortFlag := flag.Int("metrics-port", defaultMetricsPort, "Port for the metrics listener")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag)
	config.ReadSettings()

	metricsPort := resolvePort("METRICS_PORT", "metrics-port", *metricsPortFlag)

	if _, err := database.SetupDB(); err != nil {
		return fmt.Errorf("set up database: %w", err)
	}

	redisClient, err := support.GetRedisClient()
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := support.CloseRedisClient(); err != nil {
			log.Warn("error closing redis client", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	heartbeatCancel := runtime.LaunchInstanceHeartbeat(ctx, redisClient)
	defer heartbeatCancel()

	cfg := config.GetConfig()

	ipInfo := decodo.NewClient(cfg.Endpoints.IPInfoURL, time.Duration(cfg.Sync.FetchTimeout)*time.Second)
	runner := taskrunner.NewClient(cfg.Endpoints.TaskRunnerURL)
	reporter := billing.NewClient(cfg.Endpoints.BillingURL, os.Getenv("BILLING_API_KEY"))

	syncer := syncjob.NewSyncer(ipInfo)
	queue := syncjob.NewBlockQueue(redisClient)
	syncer.StartWorkers(ctx, queue, cfg.Sync.Workers)

	go runtime.StartUsageIngestRoutine(ctx)

	runtime.StartPoolSyncScheduler(ctx, syncer, queue)
	runtime.StartNightlyCheckScheduler(ctx, runner)
	runtime.StartRollupScheduler(ctx, metering.NewMeter(reporter))
	go maintenance.StartMaintenanceRoutine(ctx)

	return serveMetrics(ctx, metricsPort)
}

func serveMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listener started", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
