package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		RequestID(),
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Graphs
	mux.Handle("GET /api/v1/graphs", chain(http.HandlerFunc(h.ListGraphs)))
	mux.Handle("POST /api/v1/graphs", chain(http.HandlerFunc(h.UploadGraphs)))
	mux.Handle("POST /api/v1/graphs/validate", chain(http.HandlerFunc(h.ValidateGraphs)))
	mux.Handle("GET /api/v1/graphs/{name}", chain(http.HandlerFunc(h.GetGraph)))
	mux.Handle("DELETE /api/v1/graphs/{name}", chain(http.HandlerFunc(h.DeleteGraph)))

	// Graph Versions
	mux.Handle("GET /api/v1/graphs/{name}/versions", chain(http.HandlerFunc(h.ListGraphVersions)))
	mux.Handle("GET /api/v1/graphs/{name}/versions/{version}", chain(http.HandlerFunc(h.GetGraphVersion)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/graphs/{name}/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("POST /api/v1/runs/{id}/restart", chain(http.HandlerFunc(h.RestartRun)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/graphs/{name}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
}
