package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/autonet/internal/domain"
)

const testDefinition = `
devices:
  - name: r1
    ip_address: 10.0.0.1
    platform: ios
  - name: r2
    ip_address: 10.0.0.2
    platform: eos

shared_jobs:
  - name: backup
    type: transform
    config:
      path: "/backups/{{ .Device.Name }}"

graphs:
  - name: upgrade
    run_method: per_service_with_workflow_targets
    targets: [r1, r2]
    effort_minutes: 15
    effort_mode: device
    jobs:
      - name: backup
      - name: precheck
        type: http
        priority: 10
        maximum_runs: 3
        config:
          url: "http://{{ .Device.IPAddress }}/status"
        position: {x: 100, y: 50}
      - name: push
        type: workflow
        workflow: push-config
        skip: true
        skip_value: failure
    edges:
      - {subtype: success, source: Start, destination: backup}
      - {subtype: success, source: backup, destination: precheck}
      - {subtype: failure, source: precheck, destination: precheck}
      - {subtype: success, source: precheck, destination: push}
      - {subtype: success, source: push, destination: End}

  - name: push-config
    run_method: per_device
    jobs:
      - name: backup
      - name: send
        type: delay
    edges:
      - {subtype: success, source: Start, destination: backup}
      - {subtype: success, source: backup, destination: send}
      - {subtype: success, source: send, destination: End}
`

func TestBuild_Definition(t *testing.T) {
	def, err := ParseDefinition([]byte(testDefinition), FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	lib, err := Build(def)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	upgrade, err := lib.Graph("upgrade")
	if err != nil {
		t.Fatal(err)
	}
	if upgrade.RunMethod != domain.RunMethodWorkflowTargets || upgrade.EffortMode != domain.EffortModeDevice {
		t.Errorf("graph settings not applied: %s %s", upgrade.RunMethod, upgrade.EffortMode)
	}

	precheck := mustJob(t, upgrade, "precheck")
	if precheck.Priority != 10 || precheck.MaximumRuns != 3 {
		t.Errorf("unexpected precheck: priority=%d maximum_runs=%d", precheck.Priority, precheck.MaximumRuns)
	}
	if precheck.Positions["upgrade"] != (domain.Position{X: 100, Y: 50}) {
		t.Errorf("position not applied: %v", precheck.Positions)
	}

	push := mustJob(t, upgrade, "push")
	if !push.IsWorkflow() || push.Workflow != lib.Graphs["push-config"] {
		t.Error("push should reference push-config graph")
	}
	if !push.Skipped("upgrade") || push.SkipOutcome() != domain.OutcomeFailure {
		t.Error("push should be skipped with failure")
	}

	// Общий job — один и тот же экземпляр в обоих графах
	if mustJob(t, upgrade, "backup") != mustJob(t, lib.Graphs["push-config"], "backup") {
		t.Error("shared job should be reused by reference")
	}

	// Значения по умолчанию
	send := mustJob(t, lib.Graphs["push-config"], "send")
	if send.Priority != domain.DefaultPriority || send.MaximumRuns != domain.DefaultMaximumRuns {
		t.Errorf("defaults not applied: %d %d", send.Priority, send.MaximumRuns)
	}

	devs := lib.Devices([]string{"r1", "unknown"})
	if devs[0].IPAddress != "10.0.0.1" || devs[1].Name != "unknown" {
		t.Errorf("unexpected devices: %+v %+v", devs[0], devs[1])
	}
}

func TestBuild_DuplicateEdgeRejected(t *testing.T) {
	def := &domain.Definition{Graphs: []domain.GraphSpec{{
		Name: "dup",
		Jobs: []domain.JobSpec{{Name: "A", Type: "noop"}},
		Edges: []domain.EdgeSpec{
			{Subtype: domain.OutcomeSuccess, Source: "Start", Destination: "A"},
			{Subtype: domain.OutcomeSuccess, Source: "Start", Destination: "A"},
		},
	}}}

	_, err := Build(def)
	if !errors.Is(err, ErrDuplicateEdge) {
		t.Fatalf("expected ErrDuplicateEdge, got %v", err)
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Graph != "dup" {
		t.Errorf("expected ValidationError for graph dup, got %v", err)
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  *domain.Definition
		want error
	}{
		{
			name: "unknown nested graph",
			def: &domain.Definition{Graphs: []domain.GraphSpec{{
				Name: "outer",
				Jobs: []domain.JobSpec{{Name: "B", Workflow: "missing"}},
			}}},
			want: ErrUnknownGraph,
		},
		{
			name: "duplicate graph",
			def:  &domain.Definition{Graphs: []domain.GraphSpec{{Name: "g"}, {Name: "g"}}},
			want: ErrDuplicateGraph,
		},
		{
			name: "edge to unknown job",
			def: &domain.Definition{Graphs: []domain.GraphSpec{{
				Name:  "g",
				Edges: []domain.EdgeSpec{{Subtype: domain.OutcomeSuccess, Source: "Start", Destination: "ghost"}},
			}}},
			want: ErrUnknownJob,
		},
		{
			name: "sentinel redefined",
			def: &domain.Definition{Graphs: []domain.GraphSpec{{
				Name: "g",
				Jobs: []domain.JobSpec{{Name: "Start", Type: "noop"}},
			}}},
			want: ErrDuplicateJob,
		},
		{
			name: "mutual recursion",
			def: &domain.Definition{Graphs: []domain.GraphSpec{
				{Name: "a", Jobs: []domain.JobSpec{{Name: "to-b", Workflow: "b"}}},
				{Name: "b", Jobs: []domain.JobSpec{{Name: "to-a", Workflow: "a"}}},
			}},
			want: ErrRecursiveWorkflow,
		},
		{
			name: "negative priority",
			def: &domain.Definition{Graphs: []domain.GraphSpec{{
				Name: "g",
				Jobs: []domain.JobSpec{{Name: "A", Type: "noop", Priority: -1}},
			}}},
			want: ErrInvalidPriority,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.def)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadDefinition_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	data := `{"graphs": [{"name": "ping", "run_method": "per_device",
		"jobs": [{"name": "A", "type": "noop"}],
		"edges": [{"subtype": "success", "source": "Start", "destination": "A"},
		          {"subtype": "success", "source": "A", "destination": "End"}]}]}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	lib, err := Build(def)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	res, err := New(Config{Runner: newFakeRunner()}).Execute(context.Background(), NewRun(devices("d1")), lib.Graphs["ping"])
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Errorf("expected success, got %+v", res)
	}
}

func TestLoadDefinition_UnsupportedFormat(t *testing.T) {
	if _, err := LoadDefinition("graph.toml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLibrary_Entry(t *testing.T) {
	def := &domain.Definition{Graphs: []domain.GraphSpec{
		{
			Name: "wrapper",
			Jobs: []domain.JobSpec{{Name: "Placeholder", Type: "noop"}},
			Edges: []domain.EdgeSpec{
				{Subtype: domain.OutcomeSuccess, Source: "Start", Destination: "Placeholder"},
				{Subtype: domain.OutcomeSuccess, Source: "Placeholder", Destination: "End"},
			},
		},
		{Name: "inner", Superworkflow: "wrapper"},
	}}
	lib, err := Build(def)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	entry, placeholder, err := lib.Entry("inner")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Name != "wrapper" || placeholder.Name != "inner" {
		t.Errorf("unexpected entry %s / placeholder %v", entry.Name, placeholder)
	}

	entry, placeholder, err = lib.Entry("wrapper")
	if err != nil || entry.Name != "wrapper" || placeholder != nil {
		t.Errorf("graph without superworkflow is its own entry: %v %v %v", entry, placeholder, err)
	}

	if _, _, err := lib.Entry("missing"); !errors.Is(err, ErrUnknownGraph) {
		t.Errorf("expected ErrUnknownGraph, got %v", err)
	}
}
