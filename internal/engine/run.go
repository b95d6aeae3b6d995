package engine

import (
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shaiso/autonet/internal/domain"
)

// ProgressMode — способ записи значения прогресса.
type ProgressMode int

const (
	// ProgressSet — значение по пути заменяется.
	ProgressSet ProgressMode = iota
	// ProgressIncrement — значение по пути увеличивается на value.
	ProgressIncrement
)

// String возвращает имя режима.
func (m ProgressMode) String() string {
	if m == ProgressIncrement {
		return "increment"
	}
	return "set"
}

// ProgressSink принимает прогресс обхода.
//
// runID — ID корневого run, path — путь внутри него, включая цепочку
// вложенных графов ("backup/edges/<id>"). Реализации вызываются из
// нескольких run'ов одновременно.
type ProgressSink interface {
	WriteProgress(runID uuid.UUID, path string, value any, mode ProgressMode)
}

// Run — контекст одного обхода графа.
//
// Корневой run создаётся вызывающей стороной, вложенные — движком для
// Graph Job'ов через Child. Флаг остановки и счётчик человеко-минут
// общие для всего дерева run'ов.
type Run struct {
	// ID — идентификатор run; у вложенных совпадает с корневым.
	ID uuid.UUID

	// Parent — родительский run; nil у корневого.
	Parent *Run

	// TargetDevices — устройства run'а.
	TargetDevices []*domain.Device

	// RunMethod — метод запуска; пусто означает метод графа.
	RunMethod domain.RunMethod

	// StartJobs — точки входа; пусто означает {Start}.
	StartJobs []string

	// Payload — данные, доступные job'ам.
	Payload map[string]any

	// ParentDevice — устройство родительского per-device обхода.
	ParentDevice *domain.Device

	// RestartRun — результаты прошлого run'а по пути "граф/job",
	// доступные job'ам при перезапуске с середины графа.
	RestartRun map[string]*domain.Result

	// Placeholder — граф, подставляемый вместо job'а Placeholder суперграфа.
	Placeholder *domain.Graph

	// Progress — приёмник прогресса; nil отключает запись.
	Progress ProgressSink

	once    sync.Once
	stop    *atomic.Bool
	effort  *atomic.Int64
	journal *journal
	depth   int
	scope   string
	results map[string]*domain.Result
}

// journal — результаты всех job'ов дерева run'ов по пути "граф/job".
type journal struct {
	mu      sync.Mutex
	results map[string]*domain.Result
}

// NewRun создаёт корневой run.
func NewRun(targets []*domain.Device) *Run {
	r := &Run{ID: uuid.New(), TargetDevices: targets}
	r.init()
	return r
}

func (r *Run) init() {
	r.once.Do(func() {
		if r.stop == nil {
			r.stop = new(atomic.Bool)
		}
		if r.effort == nil {
			r.effort = new(atomic.Int64)
		}
		if r.journal == nil {
			r.journal = &journal{results: make(map[string]*domain.Result)}
		}
		if r.results == nil {
			r.results = make(map[string]*domain.Result)
		}
	})
}

// Stop запрашивает остановку. Обход заметит её перед следующим job.
func (r *Run) Stop() {
	r.init()
	r.stop.Store(true)
}

// Stopped сообщает, запрошена ли остановка.
func (r *Run) Stopped() bool {
	r.init()
	return r.stop.Load()
}

// IsMain возвращает true для корневого run.
func (r *Run) IsMain() bool {
	return r.Parent == nil
}

// Depth возвращает глубину вложенности (0 у корневого).
func (r *Run) Depth() int {
	return r.depth
}

// Scope возвращает цепочку графов от корня ("outer/inner").
func (r *Run) Scope() string {
	return r.scope
}

// Child создаёт вложенный run для графа g.
func (r *Run) Child(g *domain.Graph, targets []*domain.Device, device *domain.Device) *Run {
	r.init()
	c := &Run{
		ID:            r.ID,
		Parent:        r,
		TargetDevices: targets,
		RunMethod:     g.RunMethod,
		Payload:       r.Payload,
		ParentDevice:  device,
		RestartRun:    r.RestartRun,
		Placeholder:   r.Placeholder,
		Progress:      r.Progress,
		stop:          r.stop,
		effort:        r.effort,
		journal:       r.journal,
		depth:         r.depth + 1,
		scope:         joinScope(r.scope, g.Name),
	}
	c.init()
	return c
}

// enter фиксирует граф, который обходит run.
func (r *Run) enter(g *domain.Graph) {
	r.init()
	if r.scope == "" {
		r.scope = g.Name
	}
}

// WriteProgress пишет прогресс по пути внутри текущего графа.
func (r *Run) WriteProgress(path string, value any, mode ProgressMode) {
	if r.Progress == nil {
		return
	}
	r.Progress.WriteProgress(r.ID, joinScope(r.scope, path), value, mode)
}

// AddEffort увеличивает счётчик сэкономленных человеко-минут.
func (r *Run) AddEffort(minutes int) {
	r.init()
	r.effort.Add(int64(minutes))
}

// EffortMinutes возвращает накопленные человеко-минуты всего дерева run'ов.
func (r *Run) EffortMinutes() int {
	r.init()
	return int(r.effort.Load())
}

// SetResult запоминает результат job в текущем графе.
func (r *Run) SetResult(job string, res *domain.Result) {
	r.init()
	r.results[job] = res
	r.journal.mu.Lock()
	r.journal.results[joinScope(r.scope, job)] = res
	r.journal.mu.Unlock()
}

// Result возвращает последний результат job текущего графа, а если job
// ещё не выполнялся — результат из RestartRun.
func (r *Run) Result(job string) (*domain.Result, bool) {
	r.init()
	if res, ok := r.results[job]; ok {
		return res, true
	}
	res, ok := r.RestartRun[joinScope(r.scope, job)]
	return res, ok
}

// Results возвращает копию результатов job'ов текущего графа.
func (r *Run) Results() map[string]*domain.Result {
	r.init()
	return maps.Clone(r.results)
}

// JobResults возвращает результаты всех job'ов дерева по пути "граф/job".
func (r *Run) JobResults() map[string]*domain.Result {
	r.init()
	r.journal.mu.Lock()
	defer r.journal.mu.Unlock()
	return maps.Clone(r.journal.results)
}

func joinScope(scope, path string) string {
	switch {
	case scope == "":
		return path
	case path == "":
		return scope
	default:
		return strings.Join([]string{scope, path}, "/")
	}
}
