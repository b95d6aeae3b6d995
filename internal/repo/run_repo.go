package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/autonet/internal/domain"
)

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `
	id, graph_name, version, status, run_method, targets, start_jobs, payload,
	result, job_results, restart_from, effort_minutes, started_at, finished_at,
	error, idempotency_key, created_at`

// Create создаёт новый run.
// Повторный ключ идемпотентности даёт ErrAlreadyExists.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	targets, err := marshalJSON(run.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	startJobs, err := marshalJSON(run.StartJobs)
	if err != nil {
		return fmt.Errorf("marshal start jobs: %w", err)
	}
	payload, err := marshalJSON(run.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO runs (id, graph_name, version, status, run_method, targets,
		                  start_jobs, payload, restart_from, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		run.ID,
		run.GraphName,
		run.Version,
		run.Status,
		nullString(string(run.RunMethod)),
		targets,
		startJobs,
		payload,
		nullUUID(run.RestartFrom),
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert run: %w", ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
}

// GetByIdempotencyKey возвращает run графа по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, graphName, key string) (*domain.Run, error) {
	return scanRun(r.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE graph_name = $1 AND idempotency_key = $2`,
		graphName, key,
	))
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	GraphName string
	Status    domain.RunStatus
	Limit     int
	Offset    int
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	return r.query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE ($1::text IS NULL OR graph_name = $1)
		  AND ($2::text IS NULL OR status = $2::run_status)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`,
		nullString(filter.GraphName),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
}

// ListPending возвращает runs в статусе PENDING, начиная со старых.
func (r *RunRepo) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	return r.query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
}

// Claim переводит PENDING run в RUNNING.
// Если run уже забрал другой экземпляр, возвращает ErrInvalidState.
func (r *RunRepo) Claim(ctx context.Context, run *domain.Run) error {
	run.MarkRunning()
	result, err := r.pool.Exec(ctx, `
		UPDATE runs SET status = $2, started_at = $3
		WHERE id = $1 AND status = 'PENDING'
	`, run.ID, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("claim run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Update сохраняет статус и результат run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	result, err := marshalJSON(run.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	jobResults, err := marshalJSON(run.JobResults)
	if err != nil {
		return fmt.Errorf("marshal job results: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET status = $2, result = $3, job_results = $4, effort_minutes = $5,
		    started_at = $6, finished_at = $7, error = $8, version = $9
		WHERE id = $1
	`,
		run.ID,
		run.Status,
		result,
		jobResults,
		run.EffortMinutes,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
		run.Version,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel отменяет PENDING run. Для RUNNING run'ов отмену выполняет
// orchestrator по сообщению run.cancel; завершённые run'ы не меняются.
func (r *RunRepo) Cancel(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.IsFinished() {
		return nil, ErrInvalidState
	}
	if run.Status != domain.RunStatusPending {
		return run, nil
	}

	run.MarkCancelled()
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs SET status = $2, result = $3, finished_at = $4
		WHERE id = $1 AND status = 'PENDING'
	`, run.ID, run.Status, mustJSON(run.Result), run.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("cancel run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Run успел стартовать: отменит orchestrator
		return r.GetByID(ctx, id)
	}
	return run, nil
}

func (r *RunRepo) query(ctx context.Context, sql string, args ...any) ([]domain.Run, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var runMethod, runError, idempotencyKey *string
	var targets, startJobs, payload, result, jobResults []byte

	err := row.Scan(
		&run.ID,
		&run.GraphName,
		&run.Version,
		&run.Status,
		&runMethod,
		&targets,
		&startJobs,
		&payload,
		&result,
		&jobResults,
		&run.RestartFrom,
		&run.EffortMinutes,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&idempotencyKey,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.RunMethod = domain.RunMethod(deref(runMethod))
	run.Error = deref(runError)
	run.IdempotencyKey = deref(idempotencyKey)

	for _, col := range []struct {
		data []byte
		dst  any
		name string
	}{
		{targets, &run.Targets, "targets"},
		{startJobs, &run.StartJobs, "start_jobs"},
		{payload, &run.Payload, "payload"},
		{result, &run.Result, "result"},
		{jobResults, &run.JobResults, "job_results"},
	} {
		if err := unmarshalJSON(col.data, col.dst, col.name); err != nil {
			return nil, err
		}
	}

	return &run, nil
}

func mustJSON(v any) []byte {
	data, _ := marshalJSON(v)
	return data
}
