package runner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/autonet/internal/domain"
)

// Task — одно выполнение листового job'а на одном устройстве.
type Task struct {
	// RunID — ID корневого run.
	RunID uuid.UUID

	// Graph и Job — где находится выполняемый job.
	Graph string
	Job   string

	// Type — тип executor'а.
	Type string

	// Device — целевое устройство; nil для job'ов без устройств.
	Device *domain.Device

	// Payload — отрендеренная конфигурация job'а.
	Payload map[string]any

	// Attempt — номер попытки (с 1).
	Attempt int
}

// DeviceName возвращает имя устройства или пустую строку.
func (t *Task) DeviceName() string {
	if t.Device == nil {
		return ""
	}
	return t.Device.Name
}

// Executor — интерфейс для выполнения конкретного типа job'а.
//
// Реализации: HTTPExecutor, DelayExecutor, TransformExecutor,
// TCPCheckExecutor, NoopExecutor.
//
// ctx может содержать таймаут, установленный из Job.TimeoutSec.
type Executor interface {
	Execute(ctx context.Context, task *Task) (*ExecutionResult, error)
}

// ExecutionResult — результат выполнения task.
type ExecutionResult struct {
	// Outputs — выходные данные выполнения.
	Outputs map[string]any

	// Error — сообщение об ошибке (логическая ошибка выполнения).
	// Инфраструктурные ошибки возвращаются через error в Execute().
	Error string
}

// Registry — реестр executor'ов по типу job'а.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт реестр с зарегистрированными executor'ами по умолчанию.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	r.Register("http", &HTTPExecutor{})
	r.Register("delay", &DelayExecutor{})
	r.Register("transform", &TransformExecutor{})
	r.Register("tcp_check", &TCPCheckExecutor{})
	r.Register("noop", &NoopExecutor{})
	return r
}

// Register добавляет executor для типа job'а.
func (r *Registry) Register(jobType string, executor Executor) {
	r.executors[jobType] = executor
}

// Get возвращает executor для типа job'а.
func (r *Registry) Get(jobType string) (Executor, error) {
	executor, ok := r.executors[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	return executor, nil
}

// Types возвращает зарегистрированные типы.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

// NoopExecutor ничего не делает и всегда успешен.
type NoopExecutor struct{}

// Execute возвращает пустые outputs.
func (e *NoopExecutor) Execute(context.Context, *Task) (*ExecutionResult, error) {
	return &ExecutionResult{Outputs: map[string]any{}}, nil
}

// getString извлекает строку из map с default значением.
func getString(m map[string]any, key, defaultVal string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}

// getNumber извлекает число из map. YAML даёт int, JSON — float64.
func getNumber(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
