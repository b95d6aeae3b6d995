package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/repo"
)

// Параметры пагинации.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?graph=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{GraphName: r.URL.Query().Get("graph")}

	if status := r.URL.Query().Get("status"); status != "" {
		s, ok := domain.ParseRunStatus(status)
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = s
	}

	var ok bool
	if filter.Limit, filter.Offset, ok = pagination(w, r); !ok {
		return
	}

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run, false)
	}

	List(w, result)
}

// CreateRun создаёт новый run графа.
// POST /api/v1/graphs/{name}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.RunMethod != "" && !req.RunMethod.Valid() {
		BadRequest(w, "invalid run_method")
		return
	}

	// Фиксируем версию: run не должен зависеть от загрузок после создания
	version, err := h.graphRepo.GetVersion(r.Context(), name, req.Version)
	if HandleRepoError(w, h.logger, err, "graph version not found") {
		return
	}

	if req.IdempotencyKey != "" {
		existing, err := h.runRepo.GetByIdempotencyKey(r.Context(), name, req.IdempotencyKey)
		if err == nil {
			Success(w, RunFromDomain(*existing, false))
			return
		}
		if !errors.Is(err, repo.ErrNotFound) {
			InternalError(w, h.logger, err)
			return
		}
	}

	run := &domain.Run{
		ID:             uuid.New(),
		GraphName:      name,
		Version:        version.Version,
		Status:         domain.RunStatusPending,
		RunMethod:      req.RunMethod,
		Targets:        req.Targets,
		StartJobs:      req.StartJobs,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
	}

	h.submitRun(w, r, run)
}

// RestartRun создаёт новый run того же графа, начинающийся с указанных
// job'ов. Результаты прежнего run'а доступны job'ам нового.
// POST /api/v1/runs/{id}/restart
func (h *Handler) RestartRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	var req RestartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if len(req.StartJobs) == 0 {
		BadRequest(w, "start_jobs is required")
		return
	}

	prev, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}
	if !prev.IsFinished() {
		InvalidState(w, "run is not finished")
		return
	}

	run := &domain.Run{
		ID:          uuid.New(),
		GraphName:   prev.GraphName,
		Version:     prev.Version,
		Status:      domain.RunStatusPending,
		RunMethod:   prev.RunMethod,
		Targets:     prev.Targets,
		StartJobs:   req.StartJobs,
		Payload:     prev.Payload,
		RestartFrom: &prev.ID,
		CreatedAt:   time.Now(),
	}

	h.submitRun(w, r, run)
}

// submitRun сохраняет PENDING run и сообщает о нём orchestrator'у.
func (h *Handler) submitRun(w http.ResponseWriter, r *http.Request, run *domain.Run) {
	if err := h.runRepo.Create(r.Context(), run); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunRequested(r.Context(), run.ID); err != nil {
			// Run уже в БД — orchestrator заберёт его через polling
			h.logger.Warn("failed to publish run.requested", "run_id", run.ID, "error", err)
		}
	}

	Created(w, RunFromDomain(*run, false))
}

// GetRun возвращает run по ID вместе с результатами job'ов.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run, true))
}

// CancelRun останавливает run.
// POST /api/v1/runs/{id}/cancel
//
// PENDING run отменяется сразу (200). Для RUNNING run'а рассылается
// run.cancel, и ответ — 202: результат "Aborted" появится, когда
// обход дойдёт до следующего job.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.Cancel(r.Context(), id)
	if errors.Is(err, repo.ErrInvalidState) {
		InvalidState(w, "run is already finished")
		return
	}
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	if run.IsFinished() {
		Success(w, RunFromDomain(*run, false))
		return
	}

	if h.publisher == nil {
		InvalidState(w, "run is running and no message broker is configured")
		return
	}
	if err := h.publisher.PublishRunCancel(r.Context(), run.ID); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Accepted(w, RunFromDomain(*run, false))
}

// pagination разбирает limit и offset.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, offset = defaultLimit, 0

	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return 0, 0, false
		}
		limit = min(n, maxLimit)
	}

	if s := r.URL.Query().Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			BadRequest(w, "invalid offset")
			return 0, 0, false
		}
		offset = n
	}

	return limit, offset, true
}
