package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaiso/autonet/internal/domain"
	"gopkg.in/yaml.v3"
)

// Форматы файлов определения.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// FormatOf определяет формат по расширению файла.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ParseDefinition разбирает определение в формате format.
func ParseDefinition(data []byte, format string) (*domain.Definition, error) {
	var def domain.Definition
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse yaml definition: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse json definition: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return &def, nil
}

// LoadDefinition читает и разбирает файл определения.
func LoadDefinition(path string) (*domain.Definition, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return ParseDefinition(data, format)
}

// Library — собранные графы и инвентарь устройств.
type Library struct {
	Graphs    map[string]*domain.Graph
	Inventory map[string]*domain.Device
}

// Build собирает графы определения и валидирует каждый из них.
//
// Сборка идёт в два прохода: сначала создаются все графы, затем job'ы
// и рёбра, поэтому Graph Job может ссылаться на граф, описанный ниже.
// Дублирующиеся рёбра отклоняются здесь, до любого обхода.
func Build(def *domain.Definition) (*Library, error) {
	lib := &Library{
		Graphs:    make(map[string]*domain.Graph, len(def.Graphs)),
		Inventory: make(map[string]*domain.Device, len(def.Devices)),
	}
	for i := range def.Devices {
		d := def.Devices[i]
		lib.Inventory[d.Name] = &d
	}

	for i := range def.Graphs {
		spec := &def.Graphs[i]
		if spec.Name == "" {
			return nil, NewValidationError("", "", "name", "graph has empty name", ErrEmptyGraphName)
		}
		if _, ok := lib.Graphs[spec.Name]; ok {
			return nil, NewValidationError(spec.Name, "", "name",
				fmt.Sprintf("duplicate graph name: %s", spec.Name), ErrDuplicateGraph)
		}
		lib.Graphs[spec.Name] = newGraph(spec)
	}

	shared := make(map[string]*domain.Job, len(def.SharedJobs))
	for i := range def.SharedJobs {
		spec := &def.SharedJobs[i]
		j, err := lib.newJob("", spec)
		if err != nil {
			return nil, err
		}
		j.Shared = true
		shared[j.Name] = j
	}

	for i := range def.Graphs {
		spec := &def.Graphs[i]
		if err := lib.fill(lib.Graphs[spec.Name], spec, shared); err != nil {
			return nil, err
		}
	}

	for i := range def.Graphs {
		if err := Validate(lib.Graphs[def.Graphs[i].Name]); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// newGraph создаёт граф с настройками из описания.
func newGraph(spec *domain.GraphSpec) *domain.Graph {
	g := domain.NewGraph(spec.Name)
	if spec.Version > 0 {
		g.Version = spec.Version
	}
	g.Description = spec.Description
	if spec.RunMethod != "" {
		g.RunMethod = spec.RunMethod
	}
	g.Targets = spec.Targets
	g.StartJobs = spec.StartJobs
	g.EffortMinutes = spec.EffortMinutes
	if spec.EffortMode != "" {
		g.EffortMode = spec.EffortMode
	}
	g.Superworkflow = spec.Superworkflow
	return g
}

// fill добавляет в граф job'ы и рёбра.
func (l *Library) fill(g *domain.Graph, spec *domain.GraphSpec, shared map[string]*domain.Job) error {
	for i := range spec.Jobs {
		js := &spec.Jobs[i]

		j, ok := shared[js.Name]
		switch {
		case ok && (js.IsReference() || js.Shared):
		case ok:
			return NewValidationError(g.Name, js.Name, "name",
				"job redefines a shared job", ErrDuplicateJob)
		default:
			var err error
			if j, err = l.newJob(g.Name, js); err != nil {
				return err
			}
			if js.Shared {
				shared[j.Name] = j
			}
		}

		if js.Skip {
			j.SetSkip(g.Name, true)
		}
		if js.Position != nil {
			j.Positions[g.Name] = *js.Position
		}
		if err := g.AddJob(j); err != nil {
			return NewValidationError(g.Name, js.Name, "jobs", err.Error(), err)
		}
	}

	for _, es := range spec.Edges {
		if _, err := g.AddEdge(es.Subtype, es.Source, es.Destination); err != nil {
			return NewValidationError(g.Name, es.Source, "edges", err.Error(), err)
		}
	}
	return nil
}

// newJob создаёт job из описания.
func (l *Library) newJob(graph string, spec *domain.JobSpec) (*domain.Job, error) {
	if spec.Name == "" {
		return nil, NewValidationError(graph, "", "name", "job has empty name", ErrEmptyJobName)
	}

	j := domain.NewJob(spec.Name, spec.Type)
	if spec.Workflow != "" {
		nested, ok := l.Graphs[spec.Workflow]
		if !ok {
			return nil, NewValidationError(graph, spec.Name, "workflow",
				fmt.Sprintf("unknown graph: %s", spec.Workflow), ErrUnknownGraph)
		}
		j.Type = domain.JobTypeWorkflow
		j.Workflow = nested
	}

	j.Description = spec.Description
	if spec.Priority != 0 {
		j.Priority = spec.Priority
	}
	if spec.MaximumRuns != 0 {
		j.MaximumRuns = spec.MaximumRuns
	}
	if spec.SkipValue != "" {
		j.SkipValue = spec.SkipValue
	}
	j.Shared = spec.Shared
	j.Targets = spec.Targets
	j.Config = spec.Config
	j.Retry = spec.Retry
	j.TimeoutSec = spec.TimeoutSec
	return j, nil
}

// Graph возвращает граф по имени.
func (l *Library) Graph(name string) (*domain.Graph, error) {
	g, ok := l.Graphs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGraph, name)
	}
	return g, nil
}

// Entry возвращает граф, с которого начинается run графа name.
//
// Если у графа задан superworkflow, обход начинается с него, а сам
// граф подставляется вместо job'а Placeholder.
func (l *Library) Entry(name string) (entry, placeholder *domain.Graph, err error) {
	g, err := l.Graph(name)
	if err != nil {
		return nil, nil, err
	}
	if g.Superworkflow == "" {
		return g, nil, nil
	}
	super, err := l.Graph(g.Superworkflow)
	if err != nil {
		return nil, nil, fmt.Errorf("superworkflow of %s: %w", name, err)
	}
	return super, g, nil
}

// Devices реализует DeviceResolver. Устройства вне инвентаря
// описываются только именем.
func (l *Library) Devices(names []string) []*domain.Device {
	devices := make([]*domain.Device, 0, len(names))
	for _, n := range names {
		if d, ok := l.Inventory[n]; ok {
			devices = append(devices, d)
			continue
		}
		devices = append(devices, &domain.Device{Name: n})
	}
	return devices
}
