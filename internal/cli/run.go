package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunRestartCmd(clientFn, outputFn),
		newRunJobsCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "GRAPH", "VERSION", "STATUS", "RESULT", "EFFORT", "CREATED"}

func runRow(r RunResponse) []string {
	return []string{
		r.ID, r.GraphName, strconv.Itoa(r.Version), r.Status,
		successMark(r.Result), strconv.Itoa(r.EffortMinutes), r.CreatedAt,
	}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var graph string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(ListRunsOpts{
				Graph:  graph,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			outputFn().Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&graph, "graph", "", "Filter by graph name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateRunRequest
	var payload []string

	cmd := &cobra.Command{
		Use:   "start GRAPH",
		Short: "Start a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parsePayload(payload)
			if err != nil {
				return err
			}
			req.Payload = values

			run, err := clientFn().CreateRun(args[0], req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}

	cmd.Flags().IntVar(&req.Version, "version", 0, "Graph version (latest if not specified)")
	cmd.Flags().StringVar(&req.RunMethod, "run-method", "", "Override run method")
	cmd.Flags().StringSliceVar(&req.Targets, "target", nil, "Target device (repeatable)")
	cmd.Flags().StringSliceVar(&req.StartJobs, "start-job", nil, "Start from job instead of Start (repeatable)")
	cmd.Flags().StringVar(&req.IdempotencyKey, "idempotency-key", "", "Idempotency key")
	cmd.Flags().StringSliceVar(&payload, "payload", nil, "Payload values as KEY=VALUE (repeatable)")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().GetRun(args[0])
			if err != nil {
				return err
			}

			headers := append(append([]string{}, runHeaders...), "ERROR")
			outputFn().Print(headers, [][]string{append(runRow(*run), run.Error)}, run)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending or running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().CancelRun(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if run.Status == "RUNNING" {
				out.Success(fmt.Sprintf("Cancel requested: %s", run.ID))
				return nil
			}
			out.Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			return nil
		},
	}
}

func newRunRestartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var startJobs []string

	cmd := &cobra.Command{
		Use:   "restart ID",
		Short: "Restart a finished run from the given jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().RestartRun(args[0], startJobs)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Run restarted: %s", run.ID))
			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&startJobs, "start-job", nil, "Job to start from (repeatable, required)")
	_ = cmd.MarkFlagRequired("start-job")

	return cmd
}

func newRunJobsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs RUN_ID",
		Short: "List job results of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().GetRun(args[0])
			if err != nil {
				return err
			}

			names := make([]string, 0, len(run.JobResults))
			for name := range run.JobResults {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, len(names))
			for i, name := range names {
				rows[i] = []string{name, successMark(run.JobResults[name])}
			}

			outputFn().Print([]string{"JOB", "RESULT"}, rows, run.JobResults)
			return nil
		},
	}
}

// parsePayload разбирает пары KEY=VALUE. Значение, являющееся
// корректным JSON (число, bool, объект), сохраняет свой тип.
func parsePayload(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}

	payload := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid payload format %q, expected KEY=VALUE", kv)
		}

		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			payload[key] = typed
			continue
		}
		payload[key] = value
	}
	return payload, nil
}
