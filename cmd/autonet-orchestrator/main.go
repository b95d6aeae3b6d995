// Autonet Orchestrator — выполняет runs графов.
//
// Orchestrator:
//   - получает run.requested из RabbitMQ и опрашивает PENDING runs
//   - обходит граф движком, job'ы выполняет runner
//   - останавливает runs по run.cancel
//   - публикует прогресс в MQTT, итоги в InfluxDB и run.completed
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/autonet/internal/config"
	"github.com/shaiso/autonet/internal/engine"
	"github.com/shaiso/autonet/internal/mq"
	"github.com/shaiso/autonet/internal/orchestrator"
	"github.com/shaiso/autonet/internal/progress"
	"github.com/shaiso/autonet/internal/repo"
	"github.com/shaiso/autonet/internal/telemetry"
	"github.com/shaiso/autonet/internal/tsdb"
)

func main() {
	cfg, err := config.Load(os.Getenv("AUTONET_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Logging)
	logger.Info("starting autonet-orchestrator")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	orchCfg := orchestrator.Config{
		RunRepo:           repo.NewRunRepo(pool),
		GraphRepo:         repo.NewGraphRepo(pool),
		Env:               templateEnv(),
		Metrics:           telemetry.NewMetrics(nil),
		MaxDepth:          cfg.Engine.MaxDepth,
		MaxConcurrentRuns: cfg.Engine.MaxConcurrentRuns,
		PollInterval:      cfg.PollInterval(),
		Logger:            logger,
	}

	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		orchCfg.Conn = mqConn
		orchCfg.Publisher = mq.NewPublisher(mqConn, logger)
	}

	var sink engine.ProgressSink = progress.NewMemory()
	if cfg.MQTT.Enabled {
		mqttSink, closeMQTT, err := progress.ConnectMQTT(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT not available, progress kept in memory", "error", err)
		} else {
			defer closeMQTT()
			sink = mqttSink
		}
	}
	orchCfg.Progress = sink

	if recorder, err := tsdb.Connect(ctx, cfg.InfluxDB, logger); err == nil {
		defer recorder.Close()
		orchCfg.Recorder = recorder
	} else if !errors.Is(err, tsdb.ErrDisabled) {
		logger.Warn("InfluxDB not available, run history disabled", "error", err)
	}

	orch := orchestrator.New(orchCfg)
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		broker := "off"
		if mqConn != nil {
			broker = "down"
			if mqConn.IsConnected() {
				broker = "up"
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok broker=" + broker))
	})
	mux.HandleFunc("GET /active", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(orch.ActiveRuns())
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := config.Addr(cfg.Server.OrchestratorPort)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	// Работающие runs завершаются с результатом "Aborted"
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("autonet-orchestrator stopped")
}

// templateEnv собирает переменные AUTONET_ENV_* для шаблонов job'ов.
func templateEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		rest, ok := strings.CutPrefix(kv, "AUTONET_ENV_")
		if !ok {
			continue
		}
		if key, value, ok := strings.Cut(rest, "="); ok && key != "" {
			env[key] = value
		}
	}
	return env
}
