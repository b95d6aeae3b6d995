package runner

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/engine"
)

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("atoi %q: %v", s, err)
	}
	return n
}

// scriptedExecutor возвращает ошибку для устройств из fail и считает вызовы.
type scriptedExecutor struct {
	mu    sync.Mutex
	fail  map[string]string
	calls map[string]int
	tasks []*Task
}

func (e *scriptedExecutor) Execute(_ context.Context, task *Task) (*ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[task.DeviceName()]++
	e.tasks = append(e.tasks, task)

	if msg, ok := e.fail[task.DeviceName()]; ok {
		return &ExecutionResult{Outputs: map[string]any{}, Error: msg}, nil
	}
	return &ExecutionResult{Outputs: map[string]any{"device": task.DeviceName()}}, nil
}

// flakyExecutor падает failures раз, затем успешен.
type flakyExecutor struct {
	failures int
	calls    int
}

func (e *flakyExecutor) Execute(context.Context, *Task) (*ExecutionResult, error) {
	e.calls++
	if e.calls <= e.failures {
		return nil, errors.New("connection reset")
	}
	return &ExecutionResult{Outputs: map[string]any{"attempt": e.calls}}, nil
}

type panicExecutor struct{}

func (panicExecutor) Execute(context.Context, *Task) (*ExecutionResult, error) {
	panic("driver crashed")
}

type blockingExecutor struct{}

func (blockingExecutor) Execute(ctx context.Context, _ *Task) (*ExecutionResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestRunner(typ string, exec Executor) *Runner {
	registry := NewRegistry()
	registry.Register(typ, exec)
	return New(Config{Registry: registry})
}

func newInvocation(job *domain.Job, targets ...string) *engine.Invocation {
	devices := make([]*domain.Device, 0, len(targets))
	for _, name := range targets {
		devices = append(devices, &domain.Device{Name: name})
	}
	g := domain.NewGraph("g")
	g.AddJob(job)
	return &engine.Invocation{
		Run:      engine.NewRun(devices),
		Graph:    g,
		Job:      job,
		Tracking: len(devices) > 0,
		Targets:  devices,
	}
}

func TestRunJob_PerDeviceSummary(t *testing.T) {
	exec := &scriptedExecutor{fail: map[string]string{"r2": "auth failed"}}
	r := newTestRunner("scripted", exec)

	res := r.RunJob(context.Background(), newInvocation(domain.NewJob("push", "scripted"), "r1", "r2", "r3"))
	if res == nil {
		t.Fatal("expected result")
	}
	if res.Success {
		t.Error("job with a failed device should fail")
	}
	if !equal(res.Summary.Success, []string{"r1", "r3"}) || !equal(res.Summary.Failure, []string{"r2"}) {
		t.Errorf("unexpected summary: %+v", res.Summary)
	}

	perDevice := res.Result.(map[string]*domain.Result)
	if perDevice["r2"].Result != "auth failed" {
		t.Errorf("expected device error, got %v", perDevice["r2"].Result)
	}
	if perDevice["r1"].Result.(map[string]any)["device"] != "r1" {
		t.Errorf("expected device outputs, got %v", perDevice["r1"].Result)
	}
}

func TestRunJob_Deviceless(t *testing.T) {
	exec := &scriptedExecutor{}
	r := newTestRunner("scripted", exec)

	res := r.RunJob(context.Background(), newInvocation(domain.NewJob("notify", "scripted")))
	if res == nil || !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Summary != nil {
		t.Errorf("device-less job has no summary, got %+v", res.Summary)
	}
	if exec.calls[""] != 1 {
		t.Errorf("expected one device-less call, got %v", exec.calls)
	}
}

func TestRunJob_ServiceTargets(t *testing.T) {
	exec := &scriptedExecutor{}
	r := newTestRunner("scripted", exec)

	job := domain.NewJob("audit", "scripted")
	job.Targets = []string{"sw1", "sw2"}

	res := r.RunJob(context.Background(), newInvocation(job))
	if !equal(res.Summary.Success, []string{"sw1", "sw2"}) {
		t.Errorf("expected job's own targets, got %+v", res.Summary)
	}
}

func TestRunJob_WalkDevice(t *testing.T) {
	exec := &scriptedExecutor{}
	r := newTestRunner("scripted", exec)

	inv := newInvocation(domain.NewJob("push", "scripted"))
	inv.Device = &domain.Device{Name: "r9"}

	res := r.RunJob(context.Background(), inv)
	if !equal(res.Summary.Success, []string{"r9"}) {
		t.Errorf("expected walk device, got %+v", res.Summary)
	}
}

func TestRunJob_Retry(t *testing.T) {
	exec := &flakyExecutor{failures: 2}
	r := newTestRunner("flaky", exec)

	job := domain.NewJob("push", "flaky")
	job.Retry = &domain.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 1}

	res := r.RunJob(context.Background(), newInvocation(job))
	if !res.Success {
		t.Fatalf("expected success after retries, got %+v", res)
	}
	if exec.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", exec.calls)
	}
}

func TestRunJob_RetryExhausted(t *testing.T) {
	exec := &flakyExecutor{failures: 5}
	r := newTestRunner("flaky", exec)

	job := domain.NewJob("push", "flaky")
	job.Retry = &domain.RetryPolicy{MaxAttempts: 2, InitialDelayMs: 1}

	res := r.RunJob(context.Background(), newInvocation(job))
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Result != "connection reset" {
		t.Errorf("expected last error, got %v", res.Result)
	}
	if exec.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", exec.calls)
	}
}

func TestRunJob_NoRetryWithoutPolicy(t *testing.T) {
	exec := &flakyExecutor{failures: 1}
	r := newTestRunner("flaky", exec)

	res := r.RunJob(context.Background(), newInvocation(domain.NewJob("push", "flaky")))
	if res.Success || exec.calls != 1 {
		t.Errorf("expected single failed attempt, got %+v after %d calls", res, exec.calls)
	}
}

func TestRunJob_Panic(t *testing.T) {
	r := newTestRunner("panic", panicExecutor{})

	res := r.RunJob(context.Background(), newInvocation(domain.NewJob("push", "panic"), "r1"))
	if res.Success {
		t.Fatal("panic must fail the device")
	}
	if !equal(res.Summary.Failure, []string{"r1"}) {
		t.Errorf("expected r1 failed, got %+v", res.Summary)
	}
}

func TestRunJob_Timeout(t *testing.T) {
	r := newTestRunner("blocking", blockingExecutor{})

	job := domain.NewJob("push", "blocking")
	job.TimeoutSec = 1

	started := time.Now()
	res := r.RunJob(context.Background(), newInvocation(job))
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if s, _ := res.Result.(string); s == "" || time.Since(started) > 5*time.Second {
		t.Errorf("unexpected timeout result %v", res.Result)
	}
}

func TestRunJob_UnknownType(t *testing.T) {
	r := New(Config{})

	res := r.RunJob(context.Background(), newInvocation(domain.NewJob("push", "netconf"), "r1"))
	if res.Success {
		t.Fatal("unknown job type must fail")
	}
}

func TestRunJob_WhenFiltersDevices(t *testing.T) {
	exec := &scriptedExecutor{}
	r := New(Config{
		Registry: func() *Registry { reg := NewRegistry(); reg.Register("scripted", exec); return reg }(),
		Devices:  inventory{"r1": "cisco", "r2": "juniper"},
	})

	job := domain.NewJob("push", "scripted")
	job.Targets = []string{"r1", "r2"}
	job.Config = map[string]any{whenKey: `eq .Device.Vendor "cisco"`}

	res := r.RunJob(context.Background(), newInvocation(job))
	if !equal(res.Summary.Success, []string{"r1"}) || len(res.Summary.Failure) != 0 {
		t.Errorf("expected only r1, got %+v", res.Summary)
	}
	if exec.calls["r2"] != 0 {
		t.Error("filtered device must not be executed")
	}

	// Условие ложно для всех — job отфильтрован
	job.Config = map[string]any{whenKey: `eq .Device.Vendor "arista"`}
	if res := r.RunJob(context.Background(), newInvocation(job)); res != nil {
		t.Errorf("expected nil result, got %+v", res)
	}
}

func TestRunJob_Stopped(t *testing.T) {
	exec := &scriptedExecutor{}
	r := newTestRunner("scripted", exec)

	inv := newInvocation(domain.NewJob("push", "scripted"), "r1")
	inv.Run.Stop()

	if res := r.RunJob(context.Background(), inv); res != nil {
		t.Errorf("stopped run should yield nil, got %+v", res)
	}
	if len(exec.tasks) != 0 {
		t.Error("executor must not be called")
	}
}

func TestRunJob_RendersConfig(t *testing.T) {
	exec := &scriptedExecutor{}
	r := New(Config{
		Registry: func() *Registry { reg := NewRegistry(); reg.Register("scripted", exec); return reg }(),
		Env:      map[string]string{"REGION": "eu"},
	})

	job := domain.NewJob("push", "scripted")
	job.Config = map[string]any{
		"line": "{{ .Device.Name }} vlan {{ .Payload.vlan }} {{ .Env.REGION }} {{ .Results.backup.Success }}",
	}

	inv := newInvocation(job, "r1")
	inv.Run.Payload = map[string]any{"vlan": 10}
	inv.Run.SetResult("backup", &domain.Result{Success: true})

	r.RunJob(context.Background(), inv)

	if len(exec.tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(exec.tasks))
	}
	task := exec.tasks[0]
	if task.Payload["line"] != "r1 vlan 10 eu true" {
		t.Errorf("unexpected rendered line %q", task.Payload["line"])
	}
	if task.Graph != "g" || task.Job != "push" || task.Attempt != 1 {
		t.Errorf("unexpected task identity: %+v", task)
	}
}

// inventory — устройства по имени с вендором.
type inventory map[string]string

func (i inventory) Devices(names []string) []*domain.Device {
	devices := make([]*domain.Device, 0, len(names))
	for _, n := range names {
		devices = append(devices, &domain.Device{Name: n, Vendor: i[n]})
	}
	return devices
}

func TestShouldRetry(t *testing.T) {
	onStatus := &domain.RetryPolicy{OnStatus: []int{502, 503}}

	tests := []struct {
		name   string
		result *ExecutionResult
		err    error
		policy *domain.RetryPolicy
		want   bool
	}{
		{"infrastructure error", nil, errors.New("dial"), nil, true},
		{"no policy", &ExecutionResult{Error: "x"}, nil, nil, false},
		{"logical error", &ExecutionResult{Error: "x"}, nil, &domain.RetryPolicy{}, true},
		{"status in list", &ExecutionResult{Outputs: map[string]any{"status_code": 503}}, nil, onStatus, true},
		{"status not in list", &ExecutionResult{Outputs: map[string]any{"status_code": 400}}, nil, onStatus, false},
		{"no status code", &ExecutionResult{Outputs: map[string]any{}}, nil, onStatus, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.result, tt.err, tt.policy); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	exp := &domain.RetryPolicy{Backoff: "exponential", InitialDelayMs: 100, MaxDelayMs: 500}
	fixed := &domain.RetryPolicy{Backoff: "fixed", InitialDelayMs: 200}

	tests := []struct {
		name    string
		attempt int
		policy  *domain.RetryPolicy
		want    time.Duration
	}{
		{"nil policy", 1, nil, time.Second},
		{"fixed", 3, fixed, 200 * time.Millisecond},
		{"exponential first", 1, exp, 100 * time.Millisecond},
		{"exponential third", 3, exp, 400 * time.Millisecond},
		{"exponential capped", 10, exp, 500 * time.Millisecond},
		{"defaults", 1, &domain.RetryPolicy{}, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateBackoff(tt.attempt, tt.policy); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
