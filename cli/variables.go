package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bintelAI/ai-workflow/variables"
)

// NewVariablesCmd creates the "variables" subcommand.
func NewVariablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variables <file> <node-id>",
		Short: "List the variables a node can reference",
		Args:  cobra.ExactArgs(2),
		RunE:  runVariables,
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func runVariables(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if _, err := loadSettings(cmd); err != nil {
		return err
	}
	_, g, err := loadGraph(args[0])
	if err != nil {
		return err
	}
	nodeID := args[1]
	if _, ok := g.Index()[nodeID]; !ok {
		return exitError(exitValidation, "node %q not found in %s", nodeID, args[0])
	}

	vars := variables.Available(g, nodeID)
	if format == "json" {
		if vars == nil {
			vars = []variables.Variable{}
		}
		return writeJSON(cmd.OutOrStdout(), vars)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "TEMPLATE\tSCOPE\tTYPE\tSOURCE")
	for _, v := range vars {
		source := v.SourceNodeID
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(writer, "{{%s}}\t%s\t%s\t%s\n", v.Path, v.Scope, v.Type, source)
	}
	return writer.Flush()
}
