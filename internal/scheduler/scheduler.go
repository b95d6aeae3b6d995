package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/repo"
)

const defaultBatchSize = 100

// ScheduleStore — хранилище расписаний.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) error
}

// RunStore — хранилище runs.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByIdempotencyKey(ctx context.Context, graphName, key string) (*domain.Run, error)
}

// GraphStore — хранилище версий графов.
type GraphStore interface {
	GetVersion(ctx context.Context, name string, version int) (*domain.GraphVersion, error)
}

// RunPublisher сообщает orchestrator'у о новых runs.
type RunPublisher interface {
	PublishRunRequested(ctx context.Context, runID uuid.UUID) error
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	scheduleRepo ScheduleStore
	runRepo      RunStore
	graphRepo    GraphStore
	publisher    RunPublisher
	logger       *slog.Logger
	batchSize    int
	now          func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	ScheduleRepo ScheduleStore
	RunRepo      RunStore
	GraphRepo    GraphStore
	Publisher    RunPublisher // опционально
	Logger       *slog.Logger
	BatchSize    int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		scheduleRepo: cfg.ScheduleRepo,
		runRepo:      cfg.RunRepo,
		graphRepo:    cfg.GraphRepo,
		publisher:    cfg.Publisher,
		logger:       logger,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule создаёт run на последней версии графа
// 3. Обновляет next_due_at
// 4. Публикует run.requested в RabbitMQ
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	schedules, err := s.scheduleRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		runCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}

		processed++
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"runs_created", created,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если run был создан (не был дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	version, err := s.graphRepo.GetVersion(ctx, sched.GraphName, 0)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("graph not found for schedule, skipping",
				"schedule_id", sched.ID,
				"graph", sched.GraphName,
			)
			return false, nil
		}
		return false, fmt.Errorf("get latest graph version: %w", err)
	}

	// Один run на конкретное время срабатывания, даже если тик повторился
	run := sched.NewRun(*sched.NextDueAt)
	run.Version = version.Version

	existing, err := s.runRepo.GetByIdempotencyKey(ctx, sched.GraphName, run.IdempotencyKey)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("check idempotency: %w", err)
	}

	runCreated := existing == nil
	if existing != nil {
		s.logger.Debug("run already exists (idempotency)",
			"schedule_id", sched.ID,
			"run_id", existing.ID,
			"idempotency_key", run.IdempotencyKey,
		)
		run = existing
	} else {
		if err := s.runRepo.Create(ctx, run); err != nil {
			if !errors.Is(err, repo.ErrAlreadyExists) {
				return false, fmt.Errorf("create run: %w", err)
			}
			// Параллельный тик успел раньше
			runCreated = false
		} else {
			s.logger.Info("created run from schedule",
				"run_id", run.ID,
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"graph", sched.GraphName,
				"version", version.Version,
			)
		}
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due",
			"schedule_id", sched.ID,
			"error", err,
		)
		return runCreated, nil
	}

	sched.RecordRun(run.ID, nextDue)
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return runCreated, fmt.Errorf("update schedule: %w", err)
	}

	if s.publisher != nil && runCreated {
		if err := s.publisher.PublishRunRequested(ctx, run.ID); err != nil {
			// Run уже в БД — orchestrator заберёт его через polling
			s.logger.Warn("failed to publish run.requested",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	return runCreated, nil
}
