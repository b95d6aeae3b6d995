package engine

import (
	"errors"

	"github.com/shaiso/autonet/internal/domain"
)

// Ошибки конфигурации графа. Они фатальны для run и возвращаются
// как error до начала обхода, а не как результат.
var (
	// ErrNilGraph — граф не передан.
	ErrNilGraph = errors.New("graph is nil")

	// ErrMissingStart — в графе нет Start.
	ErrMissingStart = errors.New("graph has no Start job")

	// ErrMissingEnd — в графе нет End.
	ErrMissingEnd = errors.New("graph has no End job")

	// ErrEmptyGraphName — граф без имени.
	ErrEmptyGraphName = errors.New("graph has empty name")

	// ErrDuplicateGraph — несколько графов с одинаковым именем в определении.
	ErrDuplicateGraph = errors.New("duplicate graph name")

	// ErrUnknownGraph — ссылка на несуществующий граф.
	ErrUnknownGraph = errors.New("unknown graph")

	// ErrEmptyJobName — job без имени.
	ErrEmptyJobName = errors.New("job has empty name")

	// ErrInvalidPriority — priority должен быть положительным.
	ErrInvalidPriority = errors.New("job priority must be positive")

	// ErrUnboundedRuns — maximum_runs < 1: цикл через такой job не ограничен.
	ErrUnboundedRuns = errors.New("job maximum_runs must be at least 1")

	// ErrInvalidSkipValue — skip_value не success и не failure.
	ErrInvalidSkipValue = errors.New("invalid skip value")

	// ErrInvalidRunMethod — неизвестный run_method.
	ErrInvalidRunMethod = errors.New("invalid run method")

	// ErrInvalidEffortMode — неизвестный режим учёта человеко-минут.
	ErrInvalidEffortMode = errors.New("invalid effort mode")

	// ErrIncompatibleEffortMode — учёт по устройствам невозможен без устройств на уровне графа.
	ErrIncompatibleEffortMode = errors.New("device effort mode is incompatible with service targets")

	// ErrIncompatibleTargets — граф с service targets не может задавать свои устройства.
	ErrIncompatibleTargets = errors.New("graph targets are ignored with service targets run method")

	// ErrRecursiveWorkflow — граф содержит сам себя.
	ErrRecursiveWorkflow = errors.New("graph contains itself")

	// ErrMaxDepthExceeded — превышена глубина вложенности Graph Job'ов.
	ErrMaxDepthExceeded = errors.New("maximum nesting depth exceeded")

	// ErrUnsupportedFormat — неизвестный формат файла определения.
	ErrUnsupportedFormat = errors.New("unsupported definition format")
)

// Ошибки графа, обнаруживаемые при его построении.
var (
	ErrDuplicateEdge  = domain.ErrDuplicateEdge
	ErrDuplicateJob   = domain.ErrDuplicateJob
	ErrUnknownJob     = domain.ErrUnknownJob
	ErrInvalidSubtype = domain.ErrInvalidSubtype
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Graph   string // граф, где произошла ошибка
	Job     string // job, если ошибка относится к нему
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	prefix := "graph " + e.Graph
	if e.Job != "" {
		prefix += ", job " + e.Job
	}
	return prefix + ": " + e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(graph, job, field, message string, err error) *ValidationError {
	return &ValidationError{
		Graph:   graph,
		Job:     job,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
