package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/repo"
)

// GraphStore — хранилище графов (см. repo.GraphRepo).
type GraphStore interface {
	Save(ctx context.Context, name, description string, def domain.Definition) (*domain.GraphVersion, error)
	Get(ctx context.Context, name string) (*domain.StoredGraph, error)
	List(ctx context.Context) ([]domain.StoredGraph, error)
	GetVersion(ctx context.Context, name string, version int) (*domain.GraphVersion, error)
	ListVersions(ctx context.Context, name string) ([]domain.GraphVersion, error)
	Delete(ctx context.Context, name string) error
}

// RunStore — хранилище runs (см. repo.RunRepo).
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetByIdempotencyKey(ctx context.Context, graphName, key string) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

// ScheduleStore — хранилище расписаний (см. repo.ScheduleRepo).
type ScheduleStore interface {
	Create(ctx context.Context, s *domain.Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error)
	List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// RunPublisher уведомляет orchestrator о новых и отменённых runs.
type RunPublisher interface {
	PublishRunRequested(ctx context.Context, runID uuid.UUID) error
	PublishRunCancel(ctx context.Context, runID uuid.UUID) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	graphRepo    GraphStore
	runRepo      RunStore
	scheduleRepo ScheduleStore
	publisher    RunPublisher
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	GraphRepo    GraphStore
	RunRepo      RunStore
	ScheduleRepo ScheduleStore
	Publisher    RunPublisher // опционально
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		graphRepo:    cfg.GraphRepo,
		runRepo:      cfg.RunRepo,
		scheduleRepo: cfg.ScheduleRepo,
		publisher:    cfg.Publisher,
		logger:       logger,
	}
}
