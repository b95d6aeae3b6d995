package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/repo"
)

const validDefinition = `
devices:
  - name: r1
graphs:
  - name: backup
    description: nightly backup
    jobs:
      - name: collect
        type: noop
    edges:
      - {subtype: success, source: Start, destination: collect}
      - {subtype: success, source: collect, destination: End}
`

const duplicateEdgeDefinition = `
graphs:
  - name: broken
    jobs:
      - name: collect
        type: noop
    edges:
      - {subtype: success, source: Start, destination: collect}
      - {subtype: success, source: Start, destination: collect}
      - {subtype: success, source: collect, destination: End}
`

// --- fakes ---

type fakeGraphs struct {
	mu       sync.Mutex
	versions map[string][]domain.GraphVersion
}

func (f *fakeGraphs) Save(_ context.Context, name, _ string, def domain.Definition) (*domain.GraphVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := domain.GraphVersion{GraphName: name, Version: len(f.versions[name]) + 1, Definition: def}
	f.versions[name] = append(f.versions[name], v)
	return &v, nil
}

func (f *fakeGraphs) Get(_ context.Context, name string) (*domain.StoredGraph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs := f.versions[name]
	if len(vs) == 0 {
		return nil, repo.ErrNotFound
	}
	return &domain.StoredGraph{Name: name, LatestVersion: len(vs)}, nil
}

func (f *fakeGraphs) List(context.Context) ([]domain.StoredGraph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StoredGraph
	for name, vs := range f.versions {
		out = append(out, domain.StoredGraph{Name: name, LatestVersion: len(vs)})
	}
	return out, nil
}

func (f *fakeGraphs) GetVersion(_ context.Context, name string, version int) (*domain.GraphVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs := f.versions[name]
	if len(vs) == 0 || version > len(vs) {
		return nil, repo.ErrNotFound
	}
	if version <= 0 {
		version = len(vs)
	}
	v := vs[version-1]
	return &v, nil
}

func (f *fakeGraphs) ListVersions(_ context.Context, name string) ([]domain.GraphVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[name], nil
}

func (f *fakeGraphs) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.versions[name]; !ok {
		return repo.ErrNotFound
	}
	delete(f.versions, name)
	return nil
}

type fakeRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.Run
}

func (f *fakeRuns) Create(_ context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuns) GetByIdempotencyKey(_ context.Context, graph, key string) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.GraphName == graph && r.IdempotencyKey == key {
			return r, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeRuns) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Run
	for _, r := range f.runs {
		if filter.GraphName != "" && r.GraphName != filter.GraphName {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRuns) Cancel(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if r.IsFinished() {
		return nil, repo.ErrInvalidState
	}
	if r.Status == domain.RunStatusPending {
		r.MarkCancelled()
	}
	return r, nil
}

type fakeSchedules struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*domain.Schedule
}

func (f *fakeSchedules) Create(_ context.Context, s *domain.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules[s.ID] = s
	return nil
}

func (f *fakeSchedules) GetByID(_ context.Context, id uuid.UUID) (*domain.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return s, nil
}

func (f *fakeSchedules) List(context.Context, repo.ScheduleFilter) ([]domain.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Schedule
	for _, s := range f.schedules {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSchedules) Update(_ context.Context, s *domain.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules[s.ID] = s
	return nil
}

func (f *fakeSchedules) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[id]; !ok {
		return repo.ErrNotFound
	}
	delete(f.schedules, id)
	return nil
}

func (f *fakeSchedules) SetEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.Enabled = enabled
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	requested []uuid.UUID
	cancelled []uuid.UUID
}

func (f *fakePublisher) PublishRunRequested(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, id)
	return nil
}

func (f *fakePublisher) PublishRunCancel(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

type testServer struct {
	srv       *httptest.Server
	graphs    *fakeGraphs
	runs      *fakeRuns
	schedules *fakeSchedules
	publisher *fakePublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		graphs:    &fakeGraphs{versions: make(map[string][]domain.GraphVersion)},
		runs:      &fakeRuns{runs: make(map[uuid.UUID]*domain.Run)},
		schedules: &fakeSchedules{schedules: make(map[uuid.UUID]*domain.Schedule)},
		publisher: &fakePublisher{},
	}
	h := NewHandler(Config{
		GraphRepo:    ts.graphs,
		RunRepo:      ts.runs,
		ScheduleRepo: ts.schedules,
		Publisher:    ts.publisher,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	ts.srv = httptest.NewServer(mux)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, contentType string, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (ts *testServer) doJSON(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	return ts.do(t, method, path, "application/json", buf.String())
}

func (ts *testServer) uploadBackup(t *testing.T) {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/v1/graphs", "application/yaml", validDefinition)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d %s", resp.StatusCode, body)
	}
}

func decodeData[T any](t *testing.T, body []byte) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return resp.Data
}

// --- graphs ---

func TestUploadGraphs(t *testing.T) {
	ts := newTestServer(t)
	ts.uploadBackup(t)
	ts.uploadBackup(t)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/graphs/backup", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: %d %s", resp.StatusCode, body)
	}
	g := decodeData[GraphResponse](t, body)
	if g.LatestVersion != 2 {
		t.Errorf("latest version = %d, want 2", g.LatestVersion)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/v1/graphs/backup/versions/latest", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get version: %d %s", resp.StatusCode, body)
	}
	v := decodeData[GraphVersionResponse](t, body)
	if v.Version != 2 || v.Definition == nil || len(v.Definition.Devices) != 1 {
		t.Errorf("version = %+v", v)
	}
}

func TestUploadGraphs_DuplicateEdgeRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/graphs", "application/yaml", duplicateEdgeDefinition)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), string(ErrCodeInvalidGraph)) {
		t.Errorf("body = %s", body)
	}
	if len(ts.graphs.versions) != 0 {
		t.Error("invalid graph must not be saved")
	}
}

func TestUploadGraphs_BadBody(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/v1/graphs", "application/json", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestValidateGraphs(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/graphs/validate", "text/yaml; charset=utf-8", validDefinition)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	got := decodeData[ValidateResponse](t, body)
	if len(got.Graphs) != 1 || got.Graphs[0] != "backup" || got.Devices != 1 {
		t.Errorf("validate = %+v", got)
	}
	if len(ts.graphs.versions) != 0 {
		t.Error("validate must not save")
	}
}

func TestDeleteGraph(t *testing.T) {
	ts := newTestServer(t)
	ts.uploadBackup(t)

	resp, _ := ts.do(t, http.MethodDelete, "/api/v1/graphs/backup", "", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodDelete, "/api/v1/graphs/backup", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d", resp.StatusCode)
	}
}

// --- runs ---

func TestCreateRun(t *testing.T) {
	ts := newTestServer(t)
	ts.uploadBackup(t)

	resp, body := ts.doJSON(t, http.MethodPost, "/api/v1/graphs/backup/runs", CreateRunRequest{
		Targets: []string{"r1"},
		Payload: map[string]any{"vlan": 10},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	run := decodeData[RunResponse](t, body)
	if run.Status != string(domain.RunStatusPending) || run.Version != 1 {
		t.Errorf("run = %+v", run)
	}
	if len(ts.publisher.requested) != 1 || ts.publisher.requested[0] != run.ID {
		t.Errorf("published = %v", ts.publisher.requested)
	}
}

func TestCreateRun_Validation(t *testing.T) {
	ts := newTestServer(t)
	ts.uploadBackup(t)

	tests := []struct {
		name   string
		path   string
		req    CreateRunRequest
		status int
	}{
		{"unknown graph", "/api/v1/graphs/missing/runs", CreateRunRequest{}, http.StatusNotFound},
		{"unknown version", "/api/v1/graphs/backup/runs", CreateRunRequest{Version: 9}, http.StatusNotFound},
		{"bad run method", "/api/v1/graphs/backup/runs", CreateRunRequest{RunMethod: "sideways"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.doJSON(t, http.MethodPost, tt.path, tt.req)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
		})
	}
}

func TestCreateRun_Idempotent(t *testing.T) {
	ts := newTestServer(t)
	ts.uploadBackup(t)

	req := CreateRunRequest{IdempotencyKey: "deploy-42"}
	_, first := ts.doJSON(t, http.MethodPost, "/api/v1/graphs/backup/runs", req)
	resp, second := ts.doJSON(t, http.MethodPost, "/api/v1/graphs/backup/runs", req)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat status = %d", resp.StatusCode)
	}
	if decodeData[RunResponse](t, first).ID != decodeData[RunResponse](t, second).ID {
		t.Error("repeat must return the same run")
	}
	if len(ts.runs.runs) != 1 {
		t.Errorf("runs = %d", len(ts.runs.runs))
	}
}

func addRun(ts *testServer, status domain.RunStatus) *domain.Run {
	run := &domain.Run{ID: uuid.New(), GraphName: "backup", Version: 1, Status: status, CreatedAt: time.Now()}
	ts.runs.runs[run.ID] = run
	return run
}

func TestCancelRun(t *testing.T) {
	ts := newTestServer(t)

	pending := addRun(ts, domain.RunStatusPending)
	resp, body := ts.do(t, http.MethodPost, "/api/v1/runs/"+pending.ID.String()+"/cancel", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending: %d %s", resp.StatusCode, body)
	}
	if got := decodeData[RunResponse](t, body); got.Status != string(domain.RunStatusCancelled) {
		t.Errorf("pending status = %s", got.Status)
	}

	running := addRun(ts, domain.RunStatusRunning)
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/runs/"+running.ID.String()+"/cancel", "", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("running status = %d", resp.StatusCode)
	}
	if len(ts.publisher.cancelled) != 1 || ts.publisher.cancelled[0] != running.ID {
		t.Errorf("cancel published = %v", ts.publisher.cancelled)
	}

	finished := addRun(ts, domain.RunStatusSucceeded)
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/runs/"+finished.ID.String()+"/cancel", "", "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("finished status = %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/runs/not-a-uuid/cancel", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d", resp.StatusCode)
	}
}

func TestRestartRun(t *testing.T) {
	ts := newTestServer(t)
	prev := addRun(ts, domain.RunStatusFailed)
	prev.Targets = []string{"r1"}

	resp, body := ts.doJSON(t, http.MethodPost, "/api/v1/runs/"+prev.ID.String()+"/restart",
		RestartRunRequest{StartJobs: []string{"collect"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	run := decodeData[RunResponse](t, body)
	if run.RestartFrom == nil || *run.RestartFrom != prev.ID {
		t.Errorf("restart_from = %v", run.RestartFrom)
	}
	if len(run.StartJobs) != 1 || run.StartJobs[0] != "collect" || len(run.Targets) != 1 {
		t.Errorf("run = %+v", run)
	}

	running := addRun(ts, domain.RunStatusRunning)
	resp, _ = ts.doJSON(t, http.MethodPost, "/api/v1/runs/"+running.ID.String()+"/restart",
		RestartRunRequest{StartJobs: []string{"collect"}})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("restart of running run: %d", resp.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	ts := newTestServer(t)
	addRun(ts, domain.RunStatusPending)
	addRun(ts, domain.RunStatusSucceeded)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/runs?status=PENDING", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if runs := decodeData[[]RunResponse](t, body); len(runs) != 1 {
		t.Errorf("runs = %d, want 1", len(runs))
	}

	for _, q := range []string{"status=BOGUS", "limit=-1", "offset=x"} {
		resp, _ := ts.do(t, http.MethodGet, "/api/v1/runs?"+q, "", "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, resp.StatusCode)
		}
	}
}

// --- schedules ---

func TestCreateSchedule(t *testing.T) {
	ts := newTestServer(t)
	ts.uploadBackup(t)

	resp, body := ts.doJSON(t, http.MethodPost, "/api/v1/graphs/backup/schedules", CreateScheduleRequest{
		Name:     "nightly",
		CronExpr: "0 2 * * *",
		Enabled:  true,
		Targets:  []string{"r1"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	s := decodeData[ScheduleResponse](t, body)
	if s.NextDueAt == nil || !s.NextDueAt.After(time.Now()) {
		t.Errorf("next_due_at = %v", s.NextDueAt)
	}
	if s.Timezone != "UTC" {
		t.Errorf("timezone = %q", s.Timezone)
	}

	resp, body = ts.doJSON(t, http.MethodPut, "/api/v1/schedules/"+s.ID.String()+"/enabled", SetEnabledRequest{Enabled: false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set enabled: %d", resp.StatusCode)
	}
	if decodeData[ScheduleResponse](t, body).Enabled {
		t.Error("schedule must be disabled")
	}
}

func TestCreateSchedule_Validation(t *testing.T) {
	ts := newTestServer(t)
	ts.uploadBackup(t)

	tests := []struct {
		name   string
		path   string
		req    CreateScheduleRequest
		status int
	}{
		{"no name", "/api/v1/graphs/backup/schedules", CreateScheduleRequest{IntervalSec: 60}, http.StatusBadRequest},
		{"no trigger", "/api/v1/graphs/backup/schedules", CreateScheduleRequest{Name: "x"}, http.StatusBadRequest},
		{"bad cron", "/api/v1/graphs/backup/schedules", CreateScheduleRequest{Name: "x", CronExpr: "bad"}, http.StatusBadRequest},
		{"unknown graph", "/api/v1/graphs/missing/schedules", CreateScheduleRequest{Name: "x", IntervalSec: 60}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.doJSON(t, http.MethodPost, tt.path, tt.req)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
		})
	}
}

func TestUpdateSchedule_ReplansNextDue(t *testing.T) {
	ts := newTestServer(t)
	past := time.Now().Add(-time.Hour)
	s := &domain.Schedule{ID: uuid.New(), GraphName: "backup", Name: "n", IntervalSec: 60, Timezone: "UTC", NextDueAt: &past}
	ts.schedules.schedules[s.ID] = s

	interval := 3600
	resp, body := ts.doJSON(t, http.MethodPut, "/api/v1/schedules/"+s.ID.String(), UpdateScheduleRequest{IntervalSec: &interval})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	got := decodeData[ScheduleResponse](t, body)
	if got.IntervalSec != 3600 || got.NextDueAt == nil || !got.NextDueAt.After(time.Now()) {
		t.Errorf("schedule = %+v", got)
	}
}

// --- middleware ---

func TestRecoveryAndLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Chain(Recovery(logger), Logging(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("boom")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("panic status = %d", rec.Code)
	}

	buf.Reset()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	if !strings.Contains(buf.String(), `"status":418`) {
		t.Errorf("logged status not captured: %s", buf.String())
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("generated id = %q, header = %q", seen, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get(RequestIDHeader) != "abc-123" {
		t.Errorf("propagated id = %q", seen)
	}
}
