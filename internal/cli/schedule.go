package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewScheduleCmd — команды `autonet schedule ...`.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage periodic graph runs",
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleShowCmd(clientFn, outputFn),
		newScheduleUpdateCmd(clientFn, outputFn),
		newScheduleDeleteCmd(clientFn, outputFn),
		newScheduleToggleCmd(clientFn, outputFn, true),
		newScheduleToggleCmd(clientFn, outputFn, false),
	)

	return cmd
}

var scheduleHeaders = []string{"ID", "GRAPH", "NAME", "WHEN", "RUN_METHOD", "TARGETS", "ENABLED", "NEXT_DUE"}

func scheduleRow(s ScheduleResponse) []string {
	when := s.CronExpr
	if when == "" {
		when = formatInterval(s.IntervalSec)
	} else if s.Timezone != "" && s.Timezone != "UTC" {
		when += " (" + s.Timezone + ")"
	}
	return []string{
		s.ID, s.GraphName, s.Name, when, s.RunMethod,
		strings.Join(s.Targets, ","), strconv.FormatBool(s.Enabled), s.NextDueAt,
	}
}

func printSchedule(out *Output, s *ScheduleResponse) {
	out.Print(scheduleHeaders, [][]string{scheduleRow(*s)}, s)
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var graph string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := clientFn().ListSchedules(graph)
			if err != nil {
				return err
			}

			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				rows[i] = scheduleRow(s)
			}
			outputFn().Print(scheduleHeaders, rows, schedules)
			return nil
		},
	}

	cmd.Flags().StringVar(&graph, "graph", "", "Only schedules of this graph")
	return cmd
}

// runOverrides — флаги run, общие для create и update.
type runOverrides struct {
	runMethod string
	targets   []string
	payload   []string
}

func (o *runOverrides) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.runMethod, "run-method", "", "Run method for started runs")
	cmd.Flags().StringSliceVar(&o.targets, "target", nil, "Target device (repeatable)")
	cmd.Flags().StringSliceVar(&o.payload, "payload", nil, "Initial payload KEY=VALUE (repeatable)")
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		req      CreateScheduleRequest
		over     runOverrides
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "create GRAPH",
		Short: "Create a schedule for a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (req.CronExpr == "") == (req.IntervalSec == 0) {
				return fmt.Errorf("exactly one of --cron or --interval is required")
			}
			values, err := parsePayload(over.payload)
			if err != nil {
				return err
			}
			req.Enabled = !disabled
			req.RunMethod = over.runMethod
			req.Targets = over.targets
			req.Payload = values

			schedule, err := clientFn().CreateSchedule(args[0], req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success("Schedule created: " + schedule.ID)
			printSchedule(out, schedule)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Schedule name (required)")
	cmd.Flags().StringVar(&req.CronExpr, "cron", "", "Cron expression, e.g. '0 2 * * *' or '@daily'")
	cmd.Flags().IntVar(&req.IntervalSec, "interval", 0, "Fixed interval in seconds")
	cmd.Flags().StringVar(&req.Timezone, "timezone", "", "IANA timezone for --cron")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	over.register(cmd)
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newScheduleShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := clientFn().GetSchedule(args[0])
			if err != nil {
				return err
			}
			printSchedule(outputFn(), schedule)
			return nil
		},
	}
}

func newScheduleUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		name, cronExpr, timezone string
		intervalSec              int
		over                     runOverrides
	)

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req UpdateScheduleRequest
			changed := cmd.Flags().Changed
			if changed("name") {
				req.Name = &name
			}
			if changed("cron") {
				req.CronExpr = &cronExpr
			}
			if changed("interval") {
				req.IntervalSec = &intervalSec
			}
			if changed("timezone") {
				req.Timezone = &timezone
			}
			if changed("run-method") {
				req.RunMethod = &over.runMethod
			}
			if changed("target") {
				req.Targets = &over.targets
			}
			if changed("payload") {
				values, err := parsePayload(over.payload)
				if err != nil {
					return err
				}
				req.Payload = &values
			}

			schedule, err := clientFn().UpdateSchedule(args[0], req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success("Schedule updated")
			printSchedule(out, schedule)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "New cron expression")
	cmd.Flags().IntVar(&intervalSec, "interval", 0, "New interval in seconds")
	cmd.Flags().StringVar(&timezone, "timezone", "", "New timezone")
	over.register(cmd)

	return cmd
}

func newScheduleDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteSchedule(args[0]); err != nil {
				return err
			}
			outputFn().Success("Schedule deleted: " + args[0])
			return nil
		},
	}
}

// newScheduleToggleCmd — enable или disable.
func newScheduleToggleCmd(clientFn func() *Client, outputFn func() *Output, enabled bool) *cobra.Command {
	verb := "disable"
	if enabled {
		verb = "enable"
	}

	return &cobra.Command{
		Use:   verb + " ID",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := clientFn().SetScheduleEnabled(args[0], enabled); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Schedule %sd: %s", verb, args[0]))
			return nil
		},
	}
}

func formatInterval(sec int) string {
	if sec <= 0 {
		return ""
	}
	return strconv.Itoa(sec) + "s"
}
