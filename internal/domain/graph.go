package domain

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Edge — переход между job'ами, срабатывающий на исход Subtype.
type Edge struct {
	ID          uuid.UUID `json:"id"`
	Subtype     Outcome   `json:"subtype"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Workflow    string    `json:"workflow"`
}

// EdgeKey — кортеж уникальности ребра.
type EdgeKey struct {
	Subtype     Outcome
	Source      string
	Destination string
	Workflow    string
}

// Key возвращает кортеж уникальности ребра.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{Subtype: e.Subtype, Source: e.Source, Destination: e.Destination, Workflow: e.Workflow}
}

// Label — подпись ребра в редакторе.
func (e *Edge) Label() string {
	return string(e.Subtype)
}

// Graph — направленный граф job'ов с рёбрами success/failure.
//
// Циклы допустимы: их ограничивает MaximumRuns каждого job.
// Start и End добавляются при создании и присутствуют ровно один раз.
type Graph struct {
	ID          uuid.UUID
	Name        string
	Version     int
	Description string

	RunMethod RunMethod

	// Targets — устройства по умолчанию для run'а графа.
	Targets []string

	// StartJobs — точки входа; пусто означает {Start}.
	StartJobs []string

	EffortMinutes int
	EffortMode    EffortMode

	// Superworkflow — граф-обёртка, в котором Placeholder заменяется этим графом.
	Superworkflow string

	jobs     map[string]*Job
	order    []string
	edges    []*Edge
	edgeKeys map[EdgeKey]struct{}
}

// NewGraph создаёт граф со служебными job'ами Start и End.
func NewGraph(name string) *Graph {
	g := &Graph{
		ID:         uuid.New(),
		Name:       name,
		Version:    1,
		RunMethod:  RunMethodPerDevice,
		EffortMode: EffortModeWorkflow,
		jobs:       make(map[string]*Job),
		edgeKeys:   make(map[EdgeKey]struct{}),
	}
	for _, sentinel := range []string{StartJobName, EndJobName} {
		j := NewJob(sentinel, "sentinel")
		j.Shared = true
		g.jobs[sentinel] = j
		g.order = append(g.order, sentinel)
	}
	return g
}

// AddJob добавляет job в граф. Имена job'ов в графе уникальны.
func (g *Graph) AddJob(j *Job) error {
	if _, ok := g.jobs[j.Name]; ok {
		return fmt.Errorf("%w: %s in %s", ErrDuplicateJob, j.Name, g.Name)
	}
	g.jobs[j.Name] = j
	g.order = append(g.order, j.Name)
	return nil
}

// AddEdge добавляет ребро src → dst для исхода subtype.
//
// Повтор кортежа (subtype, source, destination, graph) отклоняется с ErrDuplicateEdge.
func (g *Graph) AddEdge(subtype Outcome, src, dst string) (*Edge, error) {
	if !subtype.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubtype, subtype)
	}
	for _, name := range []string{src, dst} {
		if _, ok := g.jobs[name]; !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrUnknownJob, name, g.Name)
		}
	}
	e := &Edge{ID: uuid.New(), Subtype: subtype, Source: src, Destination: dst, Workflow: g.Name}
	if _, ok := g.edgeKeys[e.Key()]; ok {
		return nil, fmt.Errorf("%w: %s %s -> %s in %s", ErrDuplicateEdge, subtype, src, dst, g.Name)
	}
	g.edgeKeys[e.Key()] = struct{}{}
	g.edges = append(g.edges, e)
	return e, nil
}

// Job возвращает job по имени.
func (g *Graph) Job(name string) (*Job, bool) {
	j, ok := g.jobs[name]
	return j, ok
}

// Start возвращает служебный job Start.
func (g *Graph) Start() *Job { return g.jobs[StartJobName] }

// End возвращает служебный job End.
func (g *Graph) End() *Job { return g.jobs[EndJobName] }

// Jobs возвращает job'ы в порядке добавления.
func (g *Graph) Jobs() []*Job {
	jobs := make([]*Job, 0, len(g.order))
	for _, name := range g.order {
		jobs = append(jobs, g.jobs[name])
	}
	return jobs
}

// Edges возвращает рёбра в порядке добавления.
func (g *Graph) Edges() []*Edge {
	return slices.Clone(g.edges)
}

// OutgoingEdges возвращает рёбра из job с типом outcome.
func (g *Graph) OutgoingEdges(job string, outcome Outcome) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.Source == job && e.Subtype == outcome {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges возвращает все рёбра, ведущие в job.
func (g *Graph) IncomingEdges(job string) []*Edge {
	var in []*Edge
	for _, e := range g.edges {
		if e.Destination == job {
			in = append(in, e)
		}
	}
	return in
}

// StartJobsFor возвращает точки входа обхода.
//
// names — точки входа, запрошенные run'ом; если пусто, берутся StartJobs графа,
// если и они пусты — {Start}. Неизвестные имена пропускаются.
func (g *Graph) StartJobsFor(names []string) []*Job {
	if len(names) == 0 {
		names = g.StartJobs
	}
	var jobs []*Job
	for _, name := range names {
		if j, ok := g.jobs[name]; ok {
			jobs = append(jobs, j)
		}
	}
	if len(jobs) == 0 {
		jobs = append(jobs, g.Start())
	}
	return jobs
}

// DeepJobs возвращает job'ы графа и всех вложенных графов.
// Граф, встреченный повторно, обходится один раз.
func (g *Graph) DeepJobs() []*Job {
	var out []*Job
	seen := map[*Graph]bool{}
	var walk func(*Graph)
	walk = func(cur *Graph) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		for _, j := range cur.Jobs() {
			out = append(out, j)
			if j.IsWorkflow() {
				walk(j.Workflow)
			}
		}
	}
	walk(g)
	return out
}

// DeepEdges возвращает рёбра графа и всех вложенных графов.
func (g *Graph) DeepEdges() []*Edge {
	var out []*Edge
	seen := map[*Graph]bool{}
	var walk func(*Graph)
	walk = func(cur *Graph) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		out = append(out, cur.edges...)
		for _, j := range cur.Jobs() {
			if j.IsWorkflow() {
				walk(j.Workflow)
			}
		}
	}
	walk(g)
	return out
}

// Duplicate копирует граф под новым именем.
//
// Shared job'ы переиспользуются, остальные клонируются. Пропуски и
// позиции переносятся под имя копии, рёбра создаются заново.
func (g *Graph) Duplicate(name string) *Graph {
	c := NewGraph(name)
	c.Version = g.Version
	c.Description = g.Description
	c.RunMethod = g.RunMethod
	c.Targets = slices.Clone(g.Targets)
	c.StartJobs = slices.Clone(g.StartJobs)
	c.EffortMinutes = g.EffortMinutes
	c.EffortMode = g.EffortMode
	c.Superworkflow = g.Superworkflow

	for _, j := range g.Jobs() {
		if j.IsSentinel() {
			continue
		}
		dup := j
		if !j.Shared {
			dup = j.Clone()
		}
		dup.SetSkip(name, j.Skipped(g.Name))
		if pos, ok := j.Positions[g.Name]; ok {
			if dup.Positions == nil {
				dup.Positions = make(map[string]Position)
			}
			dup.Positions[name] = pos
		}
		_ = c.AddJob(dup)
	}
	for _, e := range g.edges {
		_, _ = c.AddEdge(e.Subtype, e.Source, e.Destination)
	}
	return c
}
