package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// GraphResponse — граф из API.
type GraphResponse struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	LatestVersion int    `json:"latest_version"`
	CreatedAt     string `json:"created_at"`
}

// GraphVersionResponse — версия графа из API.
type GraphVersionResponse struct {
	GraphName  string         `json:"graph_name"`
	Version    int            `json:"version"`
	Definition map[string]any `json:"definition,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// ValidateResponse — результат проверки определения.
type ValidateResponse struct {
	Graphs  []string `json:"graphs"`
	Devices int      `json:"devices"`
}

// ResultResponse — результат job или run.
type ResultResponse struct {
	Success bool           `json:"success"`
	Result  any            `json:"result,omitempty"`
	Summary map[string]any `json:"summary,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID             string                     `json:"id"`
	GraphName      string                     `json:"graph_name"`
	Version        int                        `json:"version"`
	Status         string                     `json:"status"`
	RunMethod      string                     `json:"run_method,omitempty"`
	Targets        []string                   `json:"targets,omitempty"`
	StartJobs      []string                   `json:"start_jobs,omitempty"`
	Payload        map[string]any             `json:"payload,omitempty"`
	Result         *ResultResponse            `json:"result,omitempty"`
	JobResults     map[string]*ResultResponse `json:"job_results,omitempty"`
	RestartFrom    string                     `json:"restart_from,omitempty"`
	EffortMinutes  int                        `json:"effort_minutes"`
	StartedAt      string                     `json:"started_at,omitempty"`
	FinishedAt     string                     `json:"finished_at,omitempty"`
	Error          string                     `json:"error,omitempty"`
	IdempotencyKey string                     `json:"idempotency_key,omitempty"`
	CreatedAt      string                     `json:"created_at"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID          string         `json:"id"`
	GraphName   string         `json:"graph_name"`
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone"`
	Enabled     bool           `json:"enabled"`
	NextDueAt   string         `json:"next_due_at,omitempty"`
	LastRunAt   string         `json:"last_run_at,omitempty"`
	LastRunID   string         `json:"last_run_id,omitempty"`
	RunMethod   string         `json:"run_method,omitempty"`
	Targets     []string       `json:"targets,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// --- Request types ---

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Version        int            `json:"version,omitempty"`
	RunMethod      string         `json:"run_method,omitempty"`
	Targets        []string       `json:"targets,omitempty"`
	StartJobs      []string       `json:"start_jobs,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
	RunMethod   string         `json:"run_method,omitempty"`
	Targets     []string       `json:"targets,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string         `json:"name,omitempty"`
	CronExpr    *string         `json:"cron_expr,omitempty"`
	IntervalSec *int            `json:"interval_sec,omitempty"`
	Timezone    *string         `json:"timezone,omitempty"`
	RunMethod   *string         `json:"run_method,omitempty"`
	Targets     *[]string       `json:"targets,omitempty"`
	Payload     *map[string]any `json:"payload,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Graph  string
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client — HTTP-клиент для Autonet API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Graphs ---

// ListGraphs возвращает все графы.
func (c *Client) ListGraphs() ([]GraphResponse, error) {
	var graphs []GraphResponse
	err := c.list("/api/v1/graphs", nil, &graphs)
	return graphs, err
}

// GetGraph возвращает граф по имени.
func (c *Client) GetGraph(name string) (*GraphResponse, error) {
	var graph GraphResponse
	err := c.get("/api/v1/graphs/"+url.PathEscape(name), &graph)
	return &graph, err
}

// DeleteGraph удаляет граф со всеми версиями.
func (c *Client) DeleteGraph(name string) error {
	return c.delete("/api/v1/graphs/" + url.PathEscape(name))
}

// ListVersions возвращает версии графа.
func (c *Client) ListVersions(name string) ([]GraphVersionResponse, error) {
	var versions []GraphVersionResponse
	err := c.list("/api/v1/graphs/"+url.PathEscape(name)+"/versions", nil, &versions)
	return versions, err
}

// GetVersion возвращает версию графа с определением. version = 0 — последняя.
func (c *Client) GetVersion(name string, version int) (*GraphVersionResponse, error) {
	v := "latest"
	if version > 0 {
		v = strconv.Itoa(version)
	}

	var gv GraphVersionResponse
	err := c.get("/api/v1/graphs/"+url.PathEscape(name)+"/versions/"+v, &gv)
	return &gv, err
}

// UploadGraphs загружает файл определения; contentType — его формат.
func (c *Client) UploadGraphs(data []byte, contentType string) ([]GraphVersionResponse, error) {
	var versions []GraphVersionResponse
	err := c.doRaw(http.MethodPost, "/api/v1/graphs", data, contentType, &versions)
	return versions, err
}

// ValidateGraphs проверяет определение на сервере без сохранения.
func (c *Client) ValidateGraphs(data []byte, contentType string) (*ValidateResponse, error) {
	var result ValidateResponse
	err := c.doRaw(http.MethodPost, "/api/v1/graphs/validate", data, contentType, &result)
	return &result, err
}

// --- Runs ---

// ListRuns возвращает runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Graph != "" {
		params.Set("graph", opts.Graph)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// CreateRun создаёт run графа.
func (c *Client) CreateRun(graph string, req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/graphs/"+url.PathEscape(graph)+"/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// RestartRun перезапускает завершённый run с указанных job'ов.
func (c *Client) RestartRun(id string, startJobs []string) (*RunResponse, error) {
	var run RunResponse
	body := map[string][]string{"start_jobs": startJobs}
	err := c.post("/api/v1/runs/"+id+"/restart", body, &run)
	return &run, err
}

// --- Schedules ---

// ListSchedules возвращает schedules. Если graph не пустой — фильтрует.
func (c *Client) ListSchedules(graph string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if graph != "" {
		params.Set("graph", graph)
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule для графа.
func (c *Client) CreateSchedule(graph string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/graphs/"+url.PathEscape(graph)+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// SetScheduleEnabled включает или выключает schedule.
func (c *Client) SetScheduleEnabled(id string, enabled bool) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": enabled}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.send(http.MethodDelete, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.send(http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	return c.doRaw(method, path, data, "application/json", result)
}

func (c *Client) doRaw(method, path string, body []byte, contentType string, result any) error {
	resp, err := c.send(method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) send(method, path string, body []byte, contentType string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
