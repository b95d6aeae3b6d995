package domain

// Definition — файл определения: устройства, общие job'ы и графы.
//
// Формат одинаков для YAML и JSON; в БД граф хранится как GraphSpec в JSONB.
type Definition struct {
	Devices    []Device    `json:"devices,omitempty" yaml:"devices,omitempty"`
	SharedJobs []JobSpec   `json:"shared_jobs,omitempty" yaml:"shared_jobs,omitempty"`
	Graphs     []GraphSpec `json:"graphs" yaml:"graphs"`
}

// GraphSpec — сериализуемое описание графа.
type GraphSpec struct {
	Name          string     `json:"name" yaml:"name"`
	Version       int        `json:"version,omitempty" yaml:"version,omitempty"`
	Description   string     `json:"description,omitempty" yaml:"description,omitempty"`
	RunMethod     RunMethod  `json:"run_method,omitempty" yaml:"run_method,omitempty"`
	Targets       []string   `json:"targets,omitempty" yaml:"targets,omitempty"`
	StartJobs     []string   `json:"start_jobs,omitempty" yaml:"start_jobs,omitempty"`
	EffortMinutes int        `json:"effort_minutes,omitempty" yaml:"effort_minutes,omitempty"`
	EffortMode    EffortMode `json:"effort_mode,omitempty" yaml:"effort_mode,omitempty"`
	Superworkflow string     `json:"superworkflow,omitempty" yaml:"superworkflow,omitempty"`
	Jobs          []JobSpec  `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	Edges         []EdgeSpec `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// JobSpec — сериализуемое описание job.
//
// Запись, в которой задано только имя общего job (из shared_jobs),
// подключает этот job в граф по ссылке.
type JobSpec struct {
	Name        string         `json:"name" yaml:"name"`
	Type        string         `json:"type,omitempty" yaml:"type,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	MaximumRuns int            `json:"maximum_runs,omitempty" yaml:"maximum_runs,omitempty"`
	Skip        bool           `json:"skip,omitempty" yaml:"skip,omitempty"`
	SkipValue   Outcome        `json:"skip_value,omitempty" yaml:"skip_value,omitempty"`
	Shared      bool           `json:"shared,omitempty" yaml:"shared,omitempty"`
	Workflow    string         `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	Targets     []string       `json:"targets,omitempty" yaml:"targets,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Retry       *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
	TimeoutSec  int            `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
	Position    *Position      `json:"position,omitempty" yaml:"position,omitempty"`
}

// EdgeSpec — сериализуемое описание ребра.
type EdgeSpec struct {
	Subtype     Outcome `json:"subtype" yaml:"subtype"`
	Source      string  `json:"source" yaml:"source"`
	Destination string  `json:"destination" yaml:"destination"`
}

// IsReference возвращает true, если запись лишь ссылается на общий job.
func (s *JobSpec) IsReference() bool {
	return s.Type == "" && s.Workflow == "" && s.Config == nil
}

// Graph возвращает описание графа по имени.
func (d *Definition) Graph(name string) (*GraphSpec, bool) {
	for i := range d.Graphs {
		if d.Graphs[i].Name == name {
			return &d.Graphs[i], true
		}
	}
	return nil, false
}

// Device возвращает устройство по имени.
func (d *Definition) Device(name string) (*Device, bool) {
	for i := range d.Devices {
		if d.Devices[i].Name == name {
			return &d.Devices[i], true
		}
	}
	return nil, false
}
