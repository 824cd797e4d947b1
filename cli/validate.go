package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/bintelAI/ai-workflow/graph"
	"github.com/bintelAI/ai-workflow/loader"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow document without simulating it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	_, g, err := loadGraph(args[0])
	if err != nil {
		return err
	}

	diags := g.Validate()
	s.logger.Debug("validated", "path", args[0], "diagnostics", len(diags))
	if format == "json" {
		printDiagnosticsJSON(cmd.OutOrStdout(), diags)
	} else {
		printDiagnosticsText(cmd.OutOrStdout(), diags)
	}

	if graph.HasErrors(diags) || (strict && len(graph.Warnings(diags)) > 0) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// loadGraph reads a workflow document and maps load failures to exit codes.
func loadGraph(path string) (graph.Document, graph.Graph, error) {
	doc, g, err := loader.LoadWorkflow(path)
	if err != nil {
		return doc, g, loadExitError(err)
	}
	return doc, g, nil
}

func loadExitError(err error) error {
	switch {
	case errors.Is(err, loader.ErrUnreadable):
		return exitError(exitUnreadable, "%v", err)
	case errors.Is(err, graph.ErrInvalidFormat):
		return exitError(exitInvalidFormat, "%v", err)
	default:
		return exitError(exitInvalidFormat, "loading workflow: %v", err)
	}
}
