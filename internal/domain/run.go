package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — экземпляр выполнения графа.
//
// Run создаётся когда:
// - Пользователь запускает граф вручную (через API/CLI)
// - Scheduler создаёт run по расписанию
//
// Вложенные обходы Graph Job'ов отдельных записей Run не создают:
// их результат входит в Result родителя.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// GraphName — граф, который обходится.
	GraphName string `json:"graph_name"`

	// Version — версия графа на момент запуска.
	Version int `json:"version"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// RunMethod — метод запуска; пусто означает метод графа.
	RunMethod RunMethod `json:"run_method,omitempty"`

	// Targets — устройства run'а; пусто означает устройства графа.
	Targets []string `json:"targets,omitempty"`

	// StartJobs — точки входа; пусто означает {Start}.
	StartJobs []string `json:"start_jobs,omitempty"`

	// Payload — данные, доступные job'ам в шаблонах.
	Payload map[string]any `json:"payload,omitempty"`

	// Result — агрегированный результат обхода.
	Result *Result `json:"result,omitempty"`

	// JobResults — результаты всех job'ов по пути "граф/job".
	JobResults map[string]*Result `json:"job_results,omitempty"`

	// RestartFrom — run, чьи JobResults доступны этому run'у
	// при перезапуске с середины графа.
	RestartFrom *uuid.UUID `json:"restart_from,omitempty"`

	// EffortMinutes — сэкономленные человеко-минуты.
	EffortMinutes int `json:"effort_minutes"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если граф оказался некорректным.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Например, для scheduled runs: "{schedule_id}_{next_due_at}"
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkFinished фиксирует результат обхода и выставляет статус по нему.
func (r *Run) MarkFinished(result *Result, effortMinutes int) {
	now := time.Now()
	r.Result = result
	r.EffortMinutes = effortMinutes
	r.FinishedAt = &now
	switch {
	case result.IsAborted():
		r.Status = RunStatusCancelled
	case result.Success:
		r.Status = RunStatusSucceeded
	default:
		r.Status = RunStatusFailed
	}
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
	r.Result = Aborted()
}
