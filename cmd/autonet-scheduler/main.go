// Autonet Scheduler — создаёт runs по расписаниям.
//
// Несколько экземпляров могут работать одновременно: тики выполняет
// только лидер, удерживающий advisory-блокировку PostgreSQL.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/autonet/internal/config"
	"github.com/shaiso/autonet/internal/mq"
	"github.com/shaiso/autonet/internal/repo"
	"github.com/shaiso/autonet/internal/scheduler"
	"github.com/shaiso/autonet/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	cfg, err := config.Load(os.Getenv("AUTONET_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Logging)
	logger.Info("starting autonet-scheduler")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	schedCfg := scheduler.Config{
		ScheduleRepo: repo.NewScheduleRepo(pool),
		RunRepo:      repo.NewRunRepo(pool),
		GraphRepo:    repo.NewGraphRepo(pool),
		Logger:       logger,
	}

	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, runs will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		schedCfg.Publisher = mq.NewPublisher(mqConn, logger)
	}

	sched := scheduler.New(schedCfg)
	leader := &leadership{pool: pool, logger: logger}
	defer leader.release()

	// SkipIfStillRunning: медленный тик не накладывается на следующий
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", cfg.TickInterval())
	if _, err := c.AddFunc(spec, func() {
		if !leader.acquire(ctx) {
			return
		}
		if err := sched.Tick(ctx); err != nil {
			logger.Error("scheduler tick failed", "error", err)
		}
	}); err != nil {
		logger.Error("invalid tick interval", "spec", spec, "error", err)
		os.Exit(1)
	}
	c.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok leader=%t", leader.held.Load())
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := config.Addr(cfg.Server.SchedulerPort)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Дожидаемся текущего тика
	<-c.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("autonet-scheduler stopped")
}

// leadership удерживает advisory-блокировку на выделенном соединении.
type leadership struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	conn   *pgxpool.Conn
	held   atomic.Bool
}

// acquire возвращает true, если этот экземпляр — лидер.
func (l *leadership) acquire(ctx context.Context) bool {
	if l.held.Load() {
		return true
	}

	if l.conn == nil {
		conn, err := l.pool.Acquire(ctx)
		if err != nil {
			l.logger.Warn("acquire connection for leader lock", "error", err)
			return false
		}
		l.conn = conn
	}

	ok, err := repo.TryAdvisoryLock(ctx, l.conn, schedLockKey)
	if err != nil {
		l.logger.Warn("leader lock failed", "error", err)
		// Соединение могло оборваться: в следующий раз берём новое
		l.conn.Release()
		l.conn = nil
		return false
	}
	if ok {
		l.logger.Info("became scheduler leader")
		l.held.Store(true)
	}
	return ok
}

func (l *leadership) release() {
	if l.conn == nil {
		return
	}
	if l.held.Load() {
		_, _ = l.conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", schedLockKey)
	}
	l.conn.Release()
}
