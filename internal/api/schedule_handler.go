package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/repo"
	"github.com/shaiso/autonet/internal/scheduler"
)

// ListSchedules возвращает список schedules с фильтрацией.
// GET /api/v1/schedules?graph=...&enabled=...&limit=...&offset=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := repo.ScheduleFilter{GraphName: r.URL.Query().Get("graph")}

	if s := r.URL.Query().Get("enabled"); s != "" {
		enabled, err := strconv.ParseBool(s)
		if err != nil {
			BadRequest(w, "invalid enabled")
			return
		}
		filter.Enabled = &enabled
	}

	var ok bool
	if filter.Limit, filter.Offset, ok = pagination(w, r); !ok {
		return
	}

	schedules, err := h.scheduleRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		result[i] = ScheduleFromDomain(&schedules[i])
	}

	List(w, result)
}

// CreateSchedule создаёт новый schedule для графа.
// POST /api/v1/graphs/{name}/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	graphName := r.PathValue("name")

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	now := time.Now()
	schedule := &domain.Schedule{
		ID:          uuid.New(),
		GraphName:   graphName,
		Name:        req.Name,
		CronExpr:    req.CronExpr,
		IntervalSec: req.IntervalSec,
		Timezone:    timezone,
		Enabled:     req.Enabled,
		RunMethod:   req.RunMethod,
		Targets:     req.Targets,
		Payload:     req.Payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := scheduler.ValidateSchedule(schedule); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if _, err := h.graphRepo.Get(r.Context(), graphName); HandleRepoError(w, h.logger, err, "graph not found") {
		return
	}

	if !h.planNextDue(w, schedule) {
		return
	}

	if err := h.scheduleRepo.Create(r.Context(), schedule); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	Created(w, ScheduleFromDomain(schedule))
}

// GetSchedule возвращает schedule по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	schedule, err := h.scheduleRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// UpdateSchedule обновляет schedule.
// PUT /api/v1/schedules/{id}
//
// Изменение cron_expr, interval_sec или timezone пересчитывает next_due_at.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	schedule, err := h.scheduleRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	if req.Name != nil {
		schedule.Name = *req.Name
	}
	if req.CronExpr != nil {
		schedule.CronExpr = *req.CronExpr
	}
	if req.IntervalSec != nil {
		schedule.IntervalSec = *req.IntervalSec
	}
	if req.Timezone != nil {
		schedule.Timezone = *req.Timezone
	}
	if req.RunMethod != nil {
		schedule.RunMethod = *req.RunMethod
	}
	if req.Targets != nil {
		schedule.Targets = *req.Targets
	}
	if req.Payload != nil {
		schedule.Payload = *req.Payload
	}

	if err := scheduler.ValidateSchedule(schedule); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if req.CronExpr != nil || req.IntervalSec != nil || req.Timezone != nil {
		if !h.planNextDue(w, schedule) {
			return
		}
	}
	schedule.UpdatedAt = time.Now()

	if err := h.scheduleRepo.Update(r.Context(), schedule); err != nil {
		HandleRepoError(w, h.logger, err, "schedule not found")
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// DeleteSchedule удаляет schedule.
// DELETE /api/v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	if err := h.scheduleRepo.Delete(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "schedule not found")
		return
	}

	NoContent(w)
}

// SetScheduleEnabled включает или выключает schedule.
// PUT /api/v1/schedules/{id}/enabled
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := h.scheduleRepo.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		HandleRepoError(w, h.logger, err, "schedule not found")
		return
	}

	schedule, err := h.scheduleRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(schedule))
}

// planNextDue вычисляет первое срабатывание расписания.
func (h *Handler) planNextDue(w http.ResponseWriter, schedule *domain.Schedule) bool {
	next, err := scheduler.CalculateInitialNextDue(schedule)
	if err != nil {
		BadRequest(w, err.Error())
		return false
	}
	schedule.NextDueAt = &next
	return true
}
