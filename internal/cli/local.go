package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/engine"
	"github.com/shaiso/autonet/internal/progress"
	"github.com/shaiso/autonet/internal/runner"
	"github.com/shaiso/autonet/internal/telemetry"
)

// LocalRunOptions — параметры локального обхода графа.
type LocalRunOptions struct {
	File      string
	Graph     string
	RunMethod domain.RunMethod
	Targets   []string
	StartJobs []string
	Payload   map[string]any
	Env       map[string]string
	Logger    *slog.Logger
}

// LocalRunResult — итог локального обхода.
type LocalRunResult struct {
	Graph         string                    `json:"graph"`
	Success       bool                      `json:"success"`
	Result        any                       `json:"result,omitempty"`
	Summary       *domain.Summary           `json:"summary,omitempty"`
	EffortMinutes int                       `json:"effort_minutes"`
	JobResults    map[string]*domain.Result `json:"job_results,omitempty"`
	Progress      map[string]any            `json:"progress,omitempty"`
}

// ExecuteLocal обходит граф из файла определения без API и БД.
// Отмена ctx останавливает обход так же, как run.cancel.
func ExecuteLocal(ctx context.Context, opts LocalRunOptions) (*LocalRunResult, error) {
	def, err := engine.LoadDefinition(opts.File)
	if err != nil {
		return nil, err
	}

	lib, err := engine.Build(def)
	if err != nil {
		return nil, err
	}

	entry, placeholder, err := lib.Entry(opts.Graph)
	if err != nil {
		return nil, err
	}

	var targets []*domain.Device
	if len(opts.Targets) > 0 {
		targets = lib.Devices(opts.Targets)
	}

	sink := progress.NewMemory()
	walk := engine.NewRun(targets)
	walk.ID = uuid.New()
	walk.RunMethod = opts.RunMethod
	walk.StartJobs = opts.StartJobs
	walk.Payload = opts.Payload
	walk.Placeholder = placeholder
	walk.Progress = sink

	stop := context.AfterFunc(ctx, walk.Stop)
	defer stop()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eng := engine.New(engine.Config{
		Runner: runner.New(runner.Config{
			Devices: lib,
			Env:     opts.Env,
			Logger:  logger,
		}),
		Devices: lib,
		Logger:  logger,
	})

	res, err := eng.Execute(ctx, walk, entry)
	if err != nil {
		return nil, err
	}

	return &LocalRunResult{
		Graph:         opts.Graph,
		Success:       res.Success,
		Result:        res.Result,
		Summary:       res.Summary,
		EffortMinutes: walk.EffortMinutes(),
		JobResults:    walk.JobResults(),
		Progress:      sink.Snapshot(walk.ID),
	}, nil
}

// NewValidateCmd создаёт команду локальной проверки файла определения.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a definition file locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := engine.LoadDefinition(file)
			if err != nil {
				return err
			}

			lib, err := engine.Build(def)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(lib.Graphs))
			for name := range lib.Graphs {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, len(names))
			for i, name := range names {
				g := lib.Graphs[name]
				rows[i] = []string{name, string(g.RunMethod), strconv.Itoa(len(g.Jobs())), strconv.Itoa(len(g.Edges()))}
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Definition is valid: %d graph(s), %d device(s)", len(names), len(lib.Inventory)))
			out.Print([]string{"GRAPH", "RUN_METHOD", "JOBS", "EDGES"}, rows,
				map[string]any{"graphs": names, "devices": len(lib.Inventory)})
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to definition file, YAML or JSON (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// NewExecCmd создаёт команду локального выполнения графа.
func NewExecCmd(outputFn func() *Output) *cobra.Command {
	var opts LocalRunOptions
	var runMethod string
	var payload []string
	var env []string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a graph from a definition file locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RunMethod = domain.RunMethod(runMethod)
			if runMethod != "" && !opts.RunMethod.Valid() {
				return fmt.Errorf("invalid run method %q", runMethod)
			}

			var err error
			if opts.Payload, err = parsePayload(payload); err != nil {
				return err
			}
			if opts.Env, err = parseEnv(env); err != nil {
				return err
			}

			opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: telemetry.ParseLevel(logLevel),
			}))

			result, err := ExecuteLocal(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Print([]string{"JOB", "RESULT"}, jobRows(result.JobResults), result)
			if !result.Success {
				return fmt.Errorf("graph %s failed: %v", result.Graph, result.Result)
			}
			out.Success(fmt.Sprintf("Graph %s succeeded, effort %d min", result.Graph, result.EffortMinutes))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Path to definition file, YAML or JSON (required)")
	cmd.Flags().StringVarP(&opts.Graph, "graph", "g", "", "Graph to run (required)")
	cmd.Flags().StringVar(&runMethod, "run-method", "", "Override run method")
	cmd.Flags().StringSliceVar(&opts.Targets, "target", nil, "Target device (repeatable)")
	cmd.Flags().StringSliceVar(&opts.StartJobs, "start-job", nil, "Start from job instead of Start (repeatable)")
	cmd.Flags().StringSliceVar(&payload, "payload", nil, "Payload values as KEY=VALUE (repeatable)")
	cmd.Flags().StringSliceVar(&env, "env", nil, "Template variables as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&logLevel, "log-level", "WARN", "Log level for job output")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("graph")

	return cmd
}

func jobRows(results map[string]*domain.Result) [][]string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, len(names))
	for i, name := range names {
		mark := "failure"
		if results[name].Success {
			mark = "success"
		}
		rows[i] = []string{name, mark}
	}
	return rows
}

func parseEnv(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env format %q, expected KEY=VALUE", kv)
		}
		env[key] = value
	}
	return env, nil
}
