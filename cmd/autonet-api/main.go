// Autonet API — HTTP API для графов, runs и расписаний.
//
// Конфигурация читается из файла AUTONET_CONFIG (если задан)
// и переменных окружения AUTONET_<СЕКЦИЯ>_<КЛЮЧ>.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/autonet/internal/api"
	"github.com/shaiso/autonet/internal/config"
	"github.com/shaiso/autonet/internal/mq"
	"github.com/shaiso/autonet/internal/repo"
	"github.com/shaiso/autonet/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autonet_api_http_requests_total",
		Help: "Total HTTP requests handled by autonet-api",
	})
)

func main() {
	cfg, err := config.Load(os.Getenv("AUTONET_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Logging)
	logger.Info("starting autonet-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	handlerCfg := api.Config{
		GraphRepo:    repo.NewGraphRepo(pool),
		RunRepo:      repo.NewRunRepo(pool),
		ScheduleRepo: repo.NewScheduleRepo(pool),
		Logger:       logger,
	}

	// Без RabbitMQ runs подхватываются orchestrator'ом через polling,
	// а отмена работающих run'ов недоступна
	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, run notifications disabled", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		handlerCfg.Publisher = mq.NewPublisher(mqConn, logger)
	}

	handler := api.NewHandler(handlerCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	addr := config.Addr(cfg.Server.APIPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
