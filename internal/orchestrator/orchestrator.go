package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/engine"
	"github.com/shaiso/autonet/internal/mq"
	"github.com/shaiso/autonet/internal/runner"
)

// Default configuration values.
const (
	defaultPollInterval      = 10 * time.Second
	defaultBatchSize         = 100
	defaultMaxConcurrentRuns = 10
	finalizeTimeout          = 30 * time.Second
)

// RunStore — хранилище runs.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListPending(ctx context.Context, limit int) ([]domain.Run, error)
	Claim(ctx context.Context, run *domain.Run) error
	Update(ctx context.Context, run *domain.Run) error
}

// GraphStore — хранилище версий графов.
type GraphStore interface {
	GetVersion(ctx context.Context, name string, version int) (*domain.GraphVersion, error)
}

// EventPublisher публикует итоги runs.
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, run *domain.Run) error
}

// RunObserver — метрики уровня run и job (см. telemetry.Metrics).
type RunObserver interface {
	engine.Observer
	RunStarted()
	RunFinished(run *domain.Run)
}

// RunRecorder сохраняет итоги runs во временной ряд (см. tsdb.Recorder).
type RunRecorder interface {
	RecordRun(run *domain.Run)
}

// progressForgetter — приёмник прогресса, который держит состояние run в памяти.
type progressForgetter interface {
	Forget(runID uuid.UUID)
}

// Orchestrator выполняет runs.
//
// Orchestrator:
//   - Получает новые runs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет pending runs в БД (polling fallback)
//   - Захватывает run и обходит его граф движком
//   - Останавливает runs по run.cancel
//   - Сохраняет результат и публикует run.completed
//
// Граф обходится внутри процесса: job'ы выполняет runner, количество
// одновременно выполняемых runs ограничено MaxConcurrentRuns.
type Orchestrator struct {
	// Repositories
	runRepo   RunStore
	graphRepo GraphStore

	// MQ
	publisher EventPublisher
	conn      *mq.Connection

	// Execution
	registry *runner.Registry
	env      map[string]string
	progress engine.ProgressSink
	metrics  RunObserver
	recorder RunRecorder
	maxDepth int
	slots    *semaphore.Weighted

	// Active runs — runs в процессе выполнения (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex

	// Configuration
	pollInterval      time.Duration
	batchSize         int
	maxConcurrentRuns int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	runs       sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	RunRepo   RunStore
	GraphRepo GraphStore

	// MQ. Без Conn orchestrator работает только через polling.
	Publisher EventPublisher
	Conn      *mq.Connection

	// Registry — исполнители job'ов (default: runner.NewRegistry()).
	Registry *runner.Registry

	// Env — переменные, доступные в шаблонах как .Env.
	Env map[string]string

	// Progress — приёмник прогресса runs (опционально).
	Progress engine.ProgressSink

	// Metrics (опционально)
	Metrics RunObserver

	// Recorder — запись итогов в InfluxDB (опционально).
	Recorder RunRecorder

	// MaxDepth — глубина вложенности графов (default: engine.DefaultMaxDepth).
	MaxDepth int

	// MaxConcurrentRuns — одновременно выполняемые runs (default: 10).
	MaxConcurrentRuns int

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	maxConcurrent := cfg.MaxConcurrentRuns
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentRuns
	}

	registry := cfg.Registry
	if registry == nil {
		registry = runner.NewRegistry()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		runRepo:           cfg.RunRepo,
		graphRepo:         cfg.GraphRepo,
		publisher:         cfg.Publisher,
		conn:              cfg.Conn,
		registry:          registry,
		env:               cfg.Env,
		progress:          cfg.Progress,
		metrics:           cfg.Metrics,
		recorder:          cfg.Recorder,
		maxDepth:          cfg.MaxDepth,
		slots:             semaphore.NewWeighted(int64(maxConcurrent)),
		activeRuns:        make(map[uuid.UUID]*RunState),
		pollInterval:      pollInterval,
		batchSize:         batchSize,
		maxConcurrentRuns: maxConcurrent,
		logger:            logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для runs.requested
//   - Consumer эксклюзивной очереди run.cancel
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
		"max_concurrent_runs", o.maxConcurrentRuns,
		"job_types", o.registry.Types(),
	)

	if o.conn != nil {
		runConsumer := mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsRequested),
			Handler:  o.handleRunRequested,
			Prefetch: o.maxConcurrentRuns,
		})

		cancelConsumer := mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Declare:  mq.DeclareControlQueue,
			Handler:  o.handleRunCancel,
			Prefetch: 10,
		})

		o.startConsumer(ctx, "run", runConsumer)
		o.startConsumer(ctx, "cancel", cancelConsumer)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

func (o *Orchestrator) startConsumer(ctx context.Context, name string, c *mq.Consumer) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("consumer error", "consumer", name, "error", err)
		}
	}()
}

// Stop останавливает Orchestrator.
//
// Выполняющиеся runs останавливаются так же, как по run.cancel:
// их результат — "Aborted".
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...", "active_runs", o.ActiveRunsCount())

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	o.wg.Wait()

	o.mu.RLock()
	for _, state := range o.activeRuns {
		state.Stop()
	}
	o.mu.RUnlock()
	o.runs.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
// Runs сверх свободных слотов остаются PENDING до следующего цикла.
func (o *Orchestrator) poll(ctx context.Context) {
	runs, err := o.runRepo.ListPending(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list pending runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		run := &runs[i]

		if o.isRunActive(run.ID) {
			continue
		}
		if !o.slots.TryAcquire(1) {
			o.logger.Debug("no free slots, postponing pending runs", "remaining", len(runs)-i)
			return
		}

		if err := o.startRun(ctx, run.ID); err != nil {
			o.slots.Release(1)
			if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunAlreadyActive) {
				continue
			}
			o.logger.Error("failed to start run from poll",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
}

// isRunActive проверяет, находится ли run в обработке.
func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runID]
	return exists
}

// getActiveRun возвращает активный RunState.
func (o *Orchestrator) getActiveRun(runID uuid.UUID) *RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeRuns[runID]
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[state.RunID()]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[state.RunID()] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// ActiveRuns возвращает статистику всех активных runs.
func (o *Orchestrator) ActiveRuns() []RunStats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stats := make([]RunStats, 0, len(o.activeRuns))
	for _, state := range o.activeRuns {
		stats = append(stats, state.Stats())
	}
	return stats
}

// GetActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) GetActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	state := o.getActiveRun(runID)
	if state == nil {
		return RunStats{}, false
	}
	return state.Stats(), true
}

// CancelRun останавливает run, выполняющийся на этом экземпляре.
func (o *Orchestrator) CancelRun(runID uuid.UUID) error {
	state := o.getActiveRun(runID)
	if state == nil {
		return ErrRunNotActive
	}
	state.Stop()
	o.logger.Info("run stop requested", "run_id", runID)
	return nil
}
