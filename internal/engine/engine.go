package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/autonet/internal/domain"
)

// DefaultMaxDepth — глубина вложенности Graph Job'ов по умолчанию.
const DefaultMaxDepth = 16

// LeafRunner выполняет листовой job.
//
// Реализация не должна паниковать и возвращать ошибку: любой сбой job
// превращается в {success: false, result: <описание>}. nil означает, что
// job отфильтрован и его наследники в этом вхождении не планируются.
type LeafRunner interface {
	RunJob(ctx context.Context, inv *Invocation) *domain.Result
}

// DeviceResolver находит устройства по именам.
type DeviceResolver interface {
	Devices(names []string) []*domain.Device
}

// Observer получает события выполнения job'ов (метрики, логирование).
type Observer interface {
	JobStarted(inv *Invocation)
	JobFinished(inv *Invocation, res *domain.Result, elapsed time.Duration)
}

// Invocation — контекст одного выполнения job.
type Invocation struct {
	// Run — run, в котором выполняется job.
	Run *Run

	// Graph — граф, содержащий job.
	Graph *domain.Graph

	// Job — выполняемый job (для Placeholder — уже подставленный граф).
	Job *domain.Job

	// Device — устройство per-device обхода; nil в остальных режимах.
	Device *domain.Device

	// Tracking — обход распространяет устройства по рёбрам.
	Tracking bool

	// Targets — устройства, дошедшие до job; заполнено только при Tracking.
	Targets []*domain.Device

	// Attempt — номер выполнения job в этом обходе (с 1).
	Attempt int
}

// Invoker выполняет job. Движку не важно, листовой это job или граф.
type Invoker interface {
	Invoke(ctx context.Context, inv *Invocation) (*domain.Result, error)
}

// Engine обходит графы job'ов.
//
// Engine не хранит состояния обходов и может одновременно обслуживать
// любое количество run'ов: всё изменяемое состояние живёт в Run.
type Engine struct {
	leaf     Invoker
	subgraph Invoker
	devices  DeviceResolver
	observer Observer
	maxDepth int
	logger   *slog.Logger
}

// Config — конфигурация Engine.
type Config struct {
	// Runner выполняет листовые job'ы.
	Runner LeafRunner

	// Devices находит устройства по именам (опционально).
	Devices DeviceResolver

	// Observer получает события job'ов (опционально).
	Observer Observer

	// MaxDepth — максимальная глубина вложенности (default: 16).
	MaxDepth int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Engine.
func New(cfg Config) *Engine {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		devices:  cfg.Devices,
		observer: cfg.Observer,
		maxDepth: maxDepth,
		logger:   logger,
	}
	e.leaf = &leafInvoker{runner: cfg.Runner}
	e.subgraph = &subgraphInvoker{engine: e}
	return e
}

// Execute обходит граф g в рамках run.
//
// Перед обходом граф валидируется: ошибки конфигурации возвращаются
// как error. Сбои job'ов ошибками не являются и определяют только
// маршрут по рёбрам. Остановленный run возвращает {success: false,
// result: "Aborted"}; отмена ctx равносильна Stop.
func (e *Engine) Execute(ctx context.Context, run *Run, g *domain.Graph) (*domain.Result, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if err := Validate(g); err != nil {
		return nil, err
	}
	if run.Placeholder != nil {
		if err := Validate(run.Placeholder); err != nil {
			return nil, fmt.Errorf("placeholder: %w", err)
		}
	}

	return e.execute(ctx, run, g)
}

// execute выбирает стратегию обхода по run_method.
func (e *Engine) execute(ctx context.Context, run *Run, g *domain.Graph) (*domain.Result, error) {
	if run.Depth() > e.maxDepth {
		return nil, fmt.Errorf("%w: %s at depth %d", ErrMaxDepthExceeded, g.Name, run.Depth())
	}
	run.enter(g)

	method := run.RunMethod
	if method == "" {
		method = g.RunMethod
	}
	if !method.Valid() {
		return nil, NewValidationError(g.Name, "", "run_method",
			fmt.Sprintf("unknown run method: %q", method), ErrInvalidRunMethod)
	}

	if len(run.TargetDevices) == 0 && len(g.Targets) > 0 && method != domain.RunMethodServiceTargets {
		run.TargetDevices = e.resolve(g.Targets)
	}

	e.logger.Debug("graph walk started",
		"run_id", run.ID,
		"graph", g.Name,
		"run_method", method,
		"depth", run.Depth(),
		"targets", len(run.TargetDevices),
	)

	if method == domain.RunMethodPerDevice && len(run.TargetDevices) > 0 {
		return e.perDevice(ctx, run, g, method)
	}
	return e.walk(ctx, run, g, method, nil)
}

// perDevice обходит граф независимо для каждого устройства.
func (e *Engine) perDevice(ctx context.Context, run *Run, g *domain.Graph, method domain.RunMethod) (*domain.Result, error) {
	summary := &domain.Summary{Success: []string{}, Failure: []string{}}
	results := make(map[string]*domain.Result, len(run.TargetDevices))

	for _, device := range run.TargetDevices {
		if stopped(ctx, run) {
			return domain.Aborted(), nil
		}

		res, err := e.walk(ctx, run, g, method, device)
		if err != nil {
			return nil, err
		}
		if res.IsAborted() {
			return res, nil
		}

		results[device.Name] = res
		if res.Success {
			summary.Success = append(summary.Success, device.Name)
		} else {
			summary.Failure = append(summary.Failure, device.Name)
		}
	}

	return &domain.Result{
		Success: len(summary.Failure) == 0,
		Result:  results,
		Summary: summary,
	}, nil
}

// invoke выполняет job через подходящий Invoker и уведомляет Observer.
func (e *Engine) invoke(ctx context.Context, inv *Invocation) (*domain.Result, error) {
	invoker := e.leaf
	if inv.Job.IsWorkflow() {
		invoker = e.subgraph
	}

	if e.observer != nil {
		e.observer.JobStarted(inv)
	}
	started := time.Now()

	res, err := invoker.Invoke(ctx, inv)
	if err != nil {
		return nil, err
	}

	if e.observer != nil && res != nil {
		e.observer.JobFinished(inv, res, time.Since(started))
	}
	return res, nil
}

// resolve находит устройства по именам.
// Без DeviceResolver устройство описывается только именем.
func (e *Engine) resolve(names []string) []*domain.Device {
	if e.devices != nil {
		return e.devices.Devices(names)
	}
	devices := make([]*domain.Device, 0, len(names))
	for _, n := range names {
		devices = append(devices, &domain.Device{Name: n})
	}
	return devices
}
