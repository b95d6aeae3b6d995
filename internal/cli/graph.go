package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewGraphCmd создаёт группу команд для управления графами.
func NewGraphCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Manage graphs",
	}

	cmd.AddCommand(
		newGraphListCmd(clientFn, outputFn),
		newGraphShowCmd(clientFn, outputFn),
		newGraphUploadCmd(clientFn, outputFn),
		newGraphDeleteCmd(clientFn, outputFn),
		newGraphVersionsCmd(clientFn, outputFn),
		newGraphExportCmd(clientFn, outputFn),
	)

	return cmd
}

var graphHeaders = []string{"NAME", "LATEST", "DESCRIPTION", "CREATED"}

func graphRow(g GraphResponse) []string {
	return []string{g.Name, strconv.Itoa(g.LatestVersion), g.Description, g.CreatedAt}
}

func newGraphListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all graphs",
		RunE: func(cmd *cobra.Command, args []string) error {
			graphs, err := clientFn().ListGraphs()
			if err != nil {
				return err
			}

			rows := make([][]string, len(graphs))
			for i, g := range graphs {
				rows[i] = graphRow(g)
			}

			outputFn().Print(graphHeaders, rows, graphs)
			return nil
		},
	}
}

func newGraphShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show graph details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := clientFn().GetGraph(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(graphHeaders, [][]string{graphRow(*graph)}, graph)
			return nil
		},
	}
}

func newGraphUploadCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a definition file as new graph versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read definition: %w", err)
			}
			contentType := definitionContentType(file)

			if dryRun {
				result, err := client.ValidateGraphs(data, contentType)
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Definition is valid: %s", strings.Join(result.Graphs, ", ")))
				return nil
			}

			versions, err := client.UploadGraphs(data, contentType)
			if err != nil {
				return err
			}

			rows := make([][]string, len(versions))
			for i, v := range versions {
				rows[i] = []string{v.GraphName, strconv.Itoa(v.Version), v.CreatedAt}
			}

			out.Success(fmt.Sprintf("Uploaded %d graph(s)", len(versions)))
			out.Print([]string{"GRAPH", "VERSION", "CREATED"}, rows, versions)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to definition file, YAML or JSON (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only validate on the server")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newGraphDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a graph with all versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteGraph(args[0]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Graph deleted: %s", args[0]))
			return nil
		},
	}
}

func newGraphVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions NAME",
		Short: "List graph versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := clientFn().ListVersions(args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, len(versions))
			for i, v := range versions {
				rows[i] = []string{v.GraphName, strconv.Itoa(v.Version), v.CreatedAt}
			}

			outputFn().Print([]string{"GRAPH", "VERSION", "CREATED"}, rows, versions)
			return nil
		},
	}
}

func newGraphExportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "export NAME",
		Short: "Print the definition of a graph version as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gv, err := clientFn().GetVersion(args[0], version)
			if err != nil {
				return err
			}

			outputFn().JSON(gv.Definition)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Graph version (latest if not specified)")

	return cmd
}

// definitionContentType выбирает Content-Type по расширению файла.
func definitionContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "application/yaml"
	}
	return "application/json"
}
