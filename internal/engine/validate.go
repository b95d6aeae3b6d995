package engine

import (
	"fmt"

	"github.com/shaiso/autonet/internal/domain"
)

// Validate выполняет полную валидацию графа и всех вложенных графов.
//
// Проверяет:
// - Наличие Start и End
// - Корректность рёбер (существующие job'ы, тип, уникальность)
// - priority > 0 и maximum_runs >= 1 у каждого job
// - Совместимость run_method с устройствами и учётом человеко-минут
// - Отсутствие графа, вложенного в самого себя
func Validate(g *domain.Graph) error {
	if g == nil {
		return ErrNilGraph
	}
	return validateGraph(g, nil)
}

// validateGraph валидирует g; path — цепочка графов от корня до g.
func validateGraph(g *domain.Graph, path []*domain.Graph) error {
	if g.Name == "" {
		return NewValidationError("", "", "name", "graph has empty name", ErrEmptyGraphName)
	}
	for _, p := range path {
		if p == g || p.Name == g.Name {
			return NewValidationError(g.Name, "", "workflow",
				fmt.Sprintf("graph %s is nested in itself", g.Name), ErrRecursiveWorkflow)
		}
	}

	start, ok := g.Job(domain.StartJobName)
	if !ok || start == nil {
		return NewValidationError(g.Name, "", "jobs", "graph has no Start job", ErrMissingStart)
	}
	end, ok := g.Job(domain.EndJobName)
	if !ok || end == nil {
		return NewValidationError(g.Name, "", "jobs", "graph has no End job", ErrMissingEnd)
	}

	if err := validateSettings(g); err != nil {
		return err
	}

	for _, j := range g.Jobs() {
		if err := validateJob(g, j); err != nil {
			return err
		}
	}

	if err := validateEdges(g); err != nil {
		return err
	}

	path = append(path, g)
	for _, j := range g.Jobs() {
		if !j.IsWorkflow() {
			continue
		}
		if err := validateGraph(j.Workflow, path); err != nil {
			return err
		}
	}

	return nil
}

// validateSettings проверяет настройки графа.
func validateSettings(g *domain.Graph) error {
	if !g.RunMethod.Valid() {
		return NewValidationError(g.Name, "", "run_method",
			fmt.Sprintf("unknown run method: %q", g.RunMethod), ErrInvalidRunMethod)
	}
	if g.EffortMode != "" && !g.EffortMode.Valid() {
		return NewValidationError(g.Name, "", "effort_mode",
			fmt.Sprintf("unknown effort mode: %q", g.EffortMode), ErrInvalidEffortMode)
	}
	if g.RunMethod != domain.RunMethodServiceTargets {
		return nil
	}
	if g.EffortMode == domain.EffortModeDevice {
		return NewValidationError(g.Name, "", "effort_mode",
			"device effort mode requires workflow-level devices", ErrIncompatibleEffortMode)
	}
	if len(g.Targets) > 0 {
		return NewValidationError(g.Name, "", "targets",
			"graph-level targets conflict with per-job targets", ErrIncompatibleTargets)
	}
	return nil
}

// validateJob проверяет один job в контексте графа g.
func validateJob(g *domain.Graph, j *domain.Job) error {
	if j.Name == "" {
		return NewValidationError(g.Name, "", "name", "job has empty name", ErrEmptyJobName)
	}
	if j.IsSentinel() {
		return nil
	}
	if j.Priority <= 0 {
		return NewValidationError(g.Name, j.Name, "priority",
			fmt.Sprintf("priority %d is not positive", j.Priority), ErrInvalidPriority)
	}
	if j.MaximumRuns < 1 {
		return NewValidationError(g.Name, j.Name, "maximum_runs",
			fmt.Sprintf("maximum_runs %d leaves cycles unbounded", j.MaximumRuns), ErrUnboundedRuns)
	}
	if j.SkipValue != "" && !j.SkipValue.Valid() {
		return NewValidationError(g.Name, j.Name, "skip_value",
			fmt.Sprintf("unknown skip value: %q", j.SkipValue), ErrInvalidSkipValue)
	}
	return nil
}

// validateEdges проверяет рёбра графа.
func validateEdges(g *domain.Graph) error {
	seen := make(map[domain.EdgeKey]bool)
	for _, e := range g.Edges() {
		if !e.Subtype.Valid() {
			return NewValidationError(g.Name, e.Source, "subtype",
				fmt.Sprintf("edge %s -> %s has subtype %q", e.Source, e.Destination, e.Subtype), ErrInvalidSubtype)
		}
		for _, name := range []string{e.Source, e.Destination} {
			if _, ok := g.Job(name); !ok {
				return NewValidationError(g.Name, name, "edges",
					fmt.Sprintf("edge references unknown job: %s", name), ErrUnknownJob)
			}
		}
		if seen[e.Key()] {
			return NewValidationError(g.Name, e.Source, "edges",
				fmt.Sprintf("duplicate %s edge %s -> %s", e.Subtype, e.Source, e.Destination), ErrDuplicateEdge)
		}
		seen[e.Key()] = true
	}
	return nil
}
