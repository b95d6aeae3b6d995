package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/engine"
)

// whenKey — ключ config с условием выполнения job'а на устройстве.
const whenKey = "when"

// Runner выполняет листовые job'ы через Registry executor'ов.
//
// Runner реализует engine.LeafRunner:
//   - определяет устройства job'а (отслеживаемые, собственные, устройство обхода)
//   - рендерит config шаблонами для каждого устройства
//   - выполняет executor с retry и таймаутом job'а
//   - превращает ошибки и паники в {success: false}
//
// Устройства одного job'а обрабатываются последовательно.
type Runner struct {
	registry *Registry
	devices  engine.DeviceResolver
	env      map[string]string
	logger   *slog.Logger
}

// Config — конфигурация Runner.
type Config struct {
	// Registry (опционально; если nil — используется NewRegistry())
	Registry *Registry

	// Devices находит собственные устройства job'ов (service targets).
	Devices engine.DeviceResolver

	// Env — переменные, доступные в шаблонах как .Env.
	Env map[string]string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		registry: registry,
		devices:  cfg.Devices,
		env:      cfg.Env,
		logger:   logger,
	}
}

// RunJob выполняет job и возвращает его результат.
//
// Для job'а с устройствами результат — {success: нет отказов,
// result: map[устройство]*Result, summary}. Job без устройств
// возвращает результат единственного выполнения. nil означает, что
// job не выполнялся: run остановлен или условие when ложно для всех.
func (r *Runner) RunJob(ctx context.Context, inv *engine.Invocation) *domain.Result {
	if inv.Run.Stopped() {
		return nil
	}

	logger := r.logger.With(
		"run_id", inv.Run.ID,
		"graph", inv.Graph.Name,
		"job", inv.Job.Name,
	)

	devices, deviceless := r.targets(inv)
	if deviceless {
		res, ran := r.runOnDevice(ctx, inv, nil, logger)
		if !ran {
			return nil
		}
		return res
	}

	results := make(map[string]*domain.Result, len(devices))
	summary := &domain.Summary{Success: []string{}, Failure: []string{}}
	for _, device := range devices {
		res, ran := r.runOnDevice(ctx, inv, device, logger)
		if !ran {
			continue
		}
		results[device.Name] = res
		if res.Success {
			summary.Success = append(summary.Success, device.Name)
		} else {
			summary.Failure = append(summary.Failure, device.Name)
		}
	}

	if len(devices) > 0 && len(results) == 0 {
		logger.Debug("job filtered out on every device")
		return nil
	}

	return &domain.Result{
		Success: len(summary.Failure) == 0,
		Result:  results,
		Summary: summary,
	}
}

// targets определяет устройства job'а. deviceless = true, если job
// выполняется один раз без устройства.
func (r *Runner) targets(inv *engine.Invocation) (devices []*domain.Device, deviceless bool) {
	switch {
	case inv.Tracking:
		return inv.Targets, false
	case inv.Device != nil:
		return []*domain.Device{inv.Device}, false
	case len(inv.Job.Targets) > 0:
		if r.devices != nil {
			return r.devices.Devices(inv.Job.Targets), false
		}
		devices = make([]*domain.Device, 0, len(inv.Job.Targets))
		for _, name := range inv.Job.Targets {
			devices = append(devices, &domain.Device{Name: name})
		}
		return devices, false
	default:
		return nil, true
	}
}

// runOnDevice выполняет job на одном устройстве (device может быть nil).
// ran = false, если условие when ложно.
func (r *Runner) runOnDevice(ctx context.Context, inv *engine.Invocation, device *domain.Device, logger *slog.Logger) (res *domain.Result, ran bool) {
	if device != nil {
		logger = logger.With("device", device.Name)
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("job panicked", "panic", p)
			res = &domain.Result{Success: false, Result: fmt.Sprintf("panic: %v", p)}
			ran = true
		}
	}()

	tctx := NewContext(device, inv.Run.Payload)
	for name, prev := range inv.Run.Results() {
		tctx.AddResult(name, prev)
	}
	for k, v := range r.env {
		tctx.Env[k] = v
	}

	if when, _ := inv.Job.Config[whenKey].(string); when != "" {
		ok, err := RenderCondition(when, tctx)
		if err != nil {
			return domain.Failed(err), true
		}
		if !ok {
			logger.Debug("job skipped by condition", "when", when)
			return nil, false
		}
	}

	payload, err := RenderConfig(inv.Job.Config, tctx)
	if err != nil {
		return domain.Failed(err), true
	}

	executor, err := r.registry.Get(inv.Job.Type)
	if err != nil {
		return domain.Failed(err), true
	}

	task := &Task{
		RunID:   inv.Run.ID,
		Graph:   inv.Graph.Name,
		Job:     inv.Job.Name,
		Type:    inv.Job.Type,
		Device:  device,
		Payload: payload,
	}

	result, err := r.executeWithRetry(ctx, executor, task, inv.Job, logger)
	switch {
	case err != nil:
		logger.Warn("job failed", "attempts", task.Attempt, "error", err)
		return domain.Failed(err), true
	case result.Error != "":
		logger.Info("job failed", "attempts", task.Attempt, "error", result.Error)
		return &domain.Result{Success: false, Result: result.Error}, true
	default:
		return &domain.Result{Success: true, Result: result.Outputs}, true
	}
}

// executeWithRetry выполняет task с retry согласно RetryPolicy job'а.
func (r *Runner) executeWithRetry(ctx context.Context, executor Executor, task *Task, job *domain.Job, logger *slog.Logger) (*ExecutionResult, error) {
	policy := job.Retry
	maxAttempts := 1
	if policy != nil && policy.MaxAttempts > 1 {
		maxAttempts = policy.MaxAttempts
	}

	var (
		lastResult *ExecutionResult
		lastErr    error
	)
	for task.Attempt = 1; task.Attempt <= maxAttempts; task.Attempt++ {
		lastResult, lastErr = r.execute(ctx, executor, task, job.TimeoutSec)
		if lastErr == nil && lastResult.Error == "" {
			return lastResult, nil
		}

		if task.Attempt == maxAttempts || !shouldRetry(lastResult, lastErr, policy) {
			break
		}

		delay := calculateBackoff(task.Attempt, policy)
		logger.Debug("retrying job",
			"attempt", task.Attempt,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return lastResult, lastErr
}

// execute выполняет одну попытку с таймаутом job'а.
func (r *Runner) execute(ctx context.Context, executor Executor, task *Task, timeoutSec int) (*ExecutionResult, error) {
	if timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	result, err := executor.Execute(ctx, task)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %d sec", ErrExecutionTimeout, timeoutSec)
		}
		return nil, err
	}
	if result == nil {
		result = &ExecutionResult{Outputs: map[string]any{}}
	}
	return result, nil
}

// shouldRetry определяет, нужно ли делать retry.
func shouldRetry(result *ExecutionResult, execErr error, policy *domain.RetryPolicy) bool {
	// Инфраструктурная ошибка — всегда retry
	if execErr != nil {
		return true
	}
	if policy == nil {
		return false
	}

	if len(policy.OnStatus) > 0 {
		if result == nil {
			return false
		}
		code, ok := result.Outputs["status_code"].(int)
		return ok && shouldRetryHTTPStatus(code, policy.OnStatus)
	}

	// Логическая ошибка без OnStatus — retry
	return true
}

// shouldRetryHTTPStatus проверяет, входит ли HTTP-код в список для retry.
func shouldRetryHTTPStatus(statusCode int, onStatus []int) bool {
	for _, code := range onStatus {
		if statusCode == code {
			return true
		}
	}
	return false
}

// calculateBackoff вычисляет задержку перед retry.
func calculateBackoff(attempt int, policy *domain.RetryPolicy) time.Duration {
	if policy == nil {
		return time.Second
	}

	initialDelay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := initialDelay
	if policy.Backoff == "exponential" {
		for i := 1; i < attempt && delay < maxDelay; i++ {
			delay *= 2
		}
	}

	return min(delay, maxDelay)
}
