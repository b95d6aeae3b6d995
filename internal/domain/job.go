package domain

import (
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Имена служебных job'ов.
const (
	StartJobName       = "Start"
	EndJobName         = "End"
	PlaceholderJobName = "Placeholder"
)

// JobTypeWorkflow — тип Graph Job: job, который сам является графом.
const JobTypeWorkflow = "workflow"

// Значения по умолчанию для job.
const (
	DefaultPriority    = 1
	DefaultMaximumRuns = 1
)

// Position — координаты job в редакторе графа.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// RetryPolicy — политика повторных попыток.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`

	// OnStatus — HTTP статусы, при которых делать retry (для http job'ов).
	OnStatus []int `json:"on_status,omitempty" yaml:"on_status,omitempty"`
}

// Job — узел графа.
//
// Листовой job выполняется раннером, Graph Job (Workflow != nil)
// разворачивается в вложенный обход. Один и тот же *Job может входить
// в несколько графов (Shared), поэтому всё, что зависит от графа
// (Skip, Positions), хранится по имени графа.
type Job struct {
	ID          uuid.UUID
	Name        string
	Type        string
	Description string

	// Priority — чем больше, тем раньше job покидает очередь готовых.
	Priority int

	// MaximumRuns — сколько раз job может выполниться за один обход.
	MaximumRuns int

	// Skip — граф → пропускать ли job в этом графе.
	Skip map[string]bool

	// SkipValue — исход, который подставляется при пропуске.
	SkipValue Outcome

	Shared    bool
	Positions map[string]Position

	// Config — параметры executor'а, строки могут быть шаблонами.
	Config     map[string]any
	Retry      *RetryPolicy
	TimeoutSec int

	// Targets — собственные устройства job для per_service_with_service_targets.
	Targets []string

	// Workflow — вложенный граф для Graph Job.
	Workflow *Graph
}

// NewJob создаёт job с параметрами по умолчанию.
func NewJob(name, jobType string) *Job {
	return &Job{
		ID:          uuid.New(),
		Name:        name,
		Type:        jobType,
		Priority:    DefaultPriority,
		MaximumRuns: DefaultMaximumRuns,
		SkipValue:   OutcomeSuccess,
		Skip:        make(map[string]bool),
		Positions:   make(map[string]Position),
	}
}

// NewWorkflowJob создаёт Graph Job, вызывающий граф g.
func NewWorkflowJob(name string, g *Graph) *Job {
	j := NewJob(name, JobTypeWorkflow)
	j.Workflow = g
	return j
}

// IsWorkflow возвращает true для Graph Job.
func (j *Job) IsWorkflow() bool {
	return j.Workflow != nil
}

// IsSentinel возвращает true для Start и End.
func (j *Job) IsSentinel() bool {
	return j.Name == StartJobName || j.Name == EndJobName
}

// Skipped сообщает, пропускается ли job в графе graph.
func (j *Job) Skipped(graph string) bool {
	return j.Skip[graph]
}

// SetSkip включает или выключает пропуск job в графе graph.
func (j *Job) SetSkip(graph string, skip bool) {
	if j.Skip == nil {
		j.Skip = make(map[string]bool)
	}
	if skip {
		j.Skip[graph] = true
		return
	}
	delete(j.Skip, graph)
}

// SkipOutcome возвращает исход пропущенного job (success по умолчанию).
func (j *Job) SkipOutcome() Outcome {
	if j.SkipValue.Valid() {
		return j.SkipValue
	}
	return OutcomeSuccess
}

// MaxRuns возвращает лимит выполнений за обход (минимум 1).
func (j *Job) MaxRuns() int {
	if j.MaximumRuns < 1 {
		return DefaultMaximumRuns
	}
	return j.MaximumRuns
}

// Clone возвращает копию job с новым ID и тем же именем.
// Вложенный граф не копируется: определения графов неизменяемы во время обхода.
func (j *Job) Clone() *Job {
	c := *j
	c.ID = uuid.New()
	c.Skip = maps.Clone(j.Skip)
	if c.Skip == nil {
		c.Skip = make(map[string]bool)
	}
	c.Positions = maps.Clone(j.Positions)
	if c.Positions == nil {
		c.Positions = make(map[string]Position)
	}
	c.Config = maps.Clone(j.Config)
	c.Targets = slices.Clone(j.Targets)
	if j.Retry != nil {
		r := *j.Retry
		r.OnStatus = slices.Clone(j.Retry.OnStatus)
		c.Retry = &r
	}
	return &c
}
