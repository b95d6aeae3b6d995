package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/domain"
)

// Graph DTOs

// GraphResponse — ответ с графом.
type GraphResponse struct {
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	LatestVersion int       `json:"latest_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// GraphFromDomain конвертирует domain.StoredGraph в GraphResponse.
func GraphFromDomain(g domain.StoredGraph) GraphResponse {
	return GraphResponse{
		Name:          g.Name,
		Description:   g.Description,
		LatestVersion: g.LatestVersion,
		CreatedAt:     g.CreatedAt,
	}
}

// GraphVersionResponse — ответ с версией графа.
// Definition опускается в списках версий.
type GraphVersionResponse struct {
	GraphName  string             `json:"graph_name"`
	Version    int                `json:"version"`
	Definition *domain.Definition `json:"definition,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// GraphVersionFromDomain конвертирует domain.GraphVersion в GraphVersionResponse.
func GraphVersionFromDomain(v domain.GraphVersion, withDefinition bool) GraphVersionResponse {
	resp := GraphVersionResponse{
		GraphName: v.GraphName,
		Version:   v.Version,
		CreatedAt: v.CreatedAt,
	}
	if withDefinition {
		resp.Definition = &v.Definition
	}
	return resp
}

// ValidateResponse — итог проверки определения.
type ValidateResponse struct {
	Graphs  []string `json:"graphs"`
	Devices int      `json:"devices"`
}

// Run DTOs

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	Version        int              `json:"version,omitempty"`
	RunMethod      domain.RunMethod `json:"run_method,omitempty"`
	Targets        []string         `json:"targets,omitempty"`
	StartJobs      []string         `json:"start_jobs,omitempty"`
	Payload        map[string]any   `json:"payload,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// RestartRunRequest — запрос на перезапуск run с указанных job'ов.
type RestartRunRequest struct {
	StartJobs []string `json:"start_jobs"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID             uuid.UUID                 `json:"id"`
	GraphName      string                    `json:"graph_name"`
	Version        int                       `json:"version"`
	Status         string                    `json:"status"`
	RunMethod      domain.RunMethod          `json:"run_method,omitempty"`
	Targets        []string                  `json:"targets,omitempty"`
	StartJobs      []string                  `json:"start_jobs,omitempty"`
	Payload        map[string]any            `json:"payload,omitempty"`
	Result         *domain.Result            `json:"result,omitempty"`
	JobResults     map[string]*domain.Result `json:"job_results,omitempty"`
	RestartFrom    *uuid.UUID                `json:"restart_from,omitempty"`
	EffortMinutes  int                       `json:"effort_minutes"`
	StartedAt      *time.Time                `json:"started_at,omitempty"`
	FinishedAt     *time.Time                `json:"finished_at,omitempty"`
	Error          string                    `json:"error,omitempty"`
	IdempotencyKey string                    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
// Результаты отдельных job'ов отдаются только для одного run.
func RunFromDomain(r domain.Run, withJobResults bool) RunResponse {
	resp := RunResponse{
		ID:             r.ID,
		GraphName:      r.GraphName,
		Version:        r.Version,
		Status:         string(r.Status),
		RunMethod:      r.RunMethod,
		Targets:        r.Targets,
		StartJobs:      r.StartJobs,
		Payload:        r.Payload,
		Result:         r.Result,
		RestartFrom:    r.RestartFrom,
		EffortMinutes:  r.EffortMinutes,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Error:          r.Error,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
	if withJobResults {
		resp.JobResults = r.JobResults
	}
	return resp
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string           `json:"name"`
	CronExpr    string           `json:"cron_expr,omitempty"`
	IntervalSec int              `json:"interval_sec,omitempty"`
	Timezone    string           `json:"timezone,omitempty"`
	Enabled     bool             `json:"enabled"`
	RunMethod   domain.RunMethod `json:"run_method,omitempty"`
	Targets     []string         `json:"targets,omitempty"`
	Payload     map[string]any   `json:"payload,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string           `json:"name,omitempty"`
	CronExpr    *string           `json:"cron_expr,omitempty"`
	IntervalSec *int              `json:"interval_sec,omitempty"`
	Timezone    *string           `json:"timezone,omitempty"`
	RunMethod   *domain.RunMethod `json:"run_method,omitempty"`
	Targets     *[]string         `json:"targets,omitempty"`
	Payload     *map[string]any   `json:"payload,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID          uuid.UUID        `json:"id"`
	GraphName   string           `json:"graph_name"`
	Name        string           `json:"name"`
	CronExpr    string           `json:"cron_expr,omitempty"`
	IntervalSec int              `json:"interval_sec,omitempty"`
	Timezone    string           `json:"timezone"`
	Enabled     bool             `json:"enabled"`
	NextDueAt   *time.Time       `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time       `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID       `json:"last_run_id,omitempty"`
	RunMethod   domain.RunMethod `json:"run_method,omitempty"`
	Targets     []string         `json:"targets,omitempty"`
	Payload     map[string]any   `json:"payload,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:          s.ID,
		GraphName:   s.GraphName,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		RunMethod:   s.RunMethod,
		Targets:     s.Targets,
		Payload:     s.Payload,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
