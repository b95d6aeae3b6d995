package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/autonet/internal/domain"
)

// ScheduleRepo — репозиторий для работы с schedules.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

const scheduleColumns = `
	id, graph_name, name, cron_expr, interval_sec, timezone, enabled,
	next_due_at, last_run_at, last_run_id, run_method, targets, payload,
	created_at, updated_at`

// Create создаёт новый schedule.
func (r *ScheduleRepo) Create(ctx context.Context, s *domain.Schedule) error {
	targets, payload, err := scheduleJSON(s)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO schedules (id, graph_name, name, cron_expr, interval_sec, timezone,
		                       enabled, next_due_at, run_method, targets, payload,
		                       created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		s.ID,
		s.GraphName,
		nullString(s.Name),
		nullString(s.CronExpr),
		nullInt(s.IntervalSec),
		s.Timezone,
		s.Enabled,
		s.NextDueAt,
		nullString(string(s.RunMethod)),
		targets,
		payload,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetByID возвращает schedule по ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	return scanSchedule(r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
}

// ScheduleFilter — параметры фильтрации schedules.
type ScheduleFilter struct {
	GraphName string
	Enabled   *bool
	Limit     int
	Offset    int
}

// List возвращает список schedules с фильтрацией.
func (r *ScheduleRepo) List(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	return r.query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE ($1::text IS NULL OR graph_name = $1)
		  AND ($2::boolean IS NULL OR enabled = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`,
		nullString(filter.GraphName),
		filter.Enabled,
		filter.Limit,
		filter.Offset,
	)
}

// ListDue возвращает schedules, готовые к выполнению.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	return r.query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE enabled = true
		  AND next_due_at IS NOT NULL
		  AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`, now, limit)
}

// Update обновляет schedule.
func (r *ScheduleRepo) Update(ctx context.Context, s *domain.Schedule) error {
	targets, payload, err := scheduleJSON(s)
	if err != nil {
		return err
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET name = $2, cron_expr = $3, interval_sec = $4, timezone = $5,
		    enabled = $6, next_due_at = $7, last_run_at = $8, last_run_id = $9,
		    run_method = $10, targets = $11, payload = $12, updated_at = $13
		WHERE id = $1
	`,
		s.ID,
		nullString(s.Name),
		nullString(s.CronExpr),
		nullInt(s.IntervalSec),
		s.Timezone,
		s.Enabled,
		s.NextDueAt,
		s.LastRunAt,
		s.LastRunID,
		nullString(string(s.RunMethod)),
		targets,
		payload,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет schedule.
func (r *ScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnabled включает/выключает schedule.
func (r *ScheduleRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE schedules SET enabled = $2, updated_at = NOW() WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ScheduleRepo) query(ctx context.Context, sql string, args ...any) ([]domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

func scheduleJSON(s *domain.Schedule) (targets, payload []byte, err error) {
	if targets, err = marshalJSON(s.Targets); err != nil {
		return nil, nil, fmt.Errorf("marshal targets: %w", err)
	}
	if payload, err = marshalJSON(s.Payload); err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	return targets, payload, nil
}

func scanSchedule(row scanner) (*domain.Schedule, error) {
	var s domain.Schedule
	var name, cronExpr, runMethod *string
	var intervalSec *int
	var targets, payload []byte

	err := row.Scan(
		&s.ID,
		&s.GraphName,
		&name,
		&cronExpr,
		&intervalSec,
		&s.Timezone,
		&s.Enabled,
		&s.NextDueAt,
		&s.LastRunAt,
		&s.LastRunID,
		&runMethod,
		&targets,
		&payload,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	s.Name = deref(name)
	s.CronExpr = deref(cronExpr)
	s.IntervalSec = deref(intervalSec)
	s.RunMethod = domain.RunMethod(deref(runMethod))

	if err := unmarshalJSON(targets, &s.Targets, "targets"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(payload, &s.Payload, "payload"); err != nil {
		return nil, err
	}
	return &s, nil
}
