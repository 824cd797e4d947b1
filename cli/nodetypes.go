package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bintelAI/ai-workflow/registry"
)

// NewNodeTypesCmd creates the "node-types" subcommand.
func NewNodeTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node-types",
		Short: "List the node types offered for placement",
		Args:  cobra.NoArgs,
		RunE:  runNodeTypes,
	}
	cmd.Flags().String("category", "", "Only types the category's palette offers")
	cmd.Flags().Bool("categories", false, "List categories instead of node types")
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func runNodeTypes(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	categoryID, _ := cmd.Flags().GetString("category")
	listCategories, _ := cmd.Flags().GetBool("categories")
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	reg := registry.Global()
	s.logger.Debug("listing node types", "category", categoryID, "registered", reg.Len())
	out := cmd.OutOrStdout()

	if listCategories {
		cats := reg.Categories()
		if format == "json" {
			return writeJSON(out, cats)
		}
		writer := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(writer, "ID\tNAME\tTYPES")
		for _, c := range cats {
			fmt.Fprintf(writer, "%s\t%s\t%d\n", c.ID, c.Name, len(c.AllowedTypes))
		}
		return writer.Flush()
	}

	defs, err := reg.Palette(categoryID)
	if errors.Is(err, registry.ErrUnknownCategory) {
		return exitError(exitValidation, "%v", err)
	}
	if err != nil {
		return err
	}
	if format == "json" {
		return writeJSON(out, defs)
	}

	writer := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "TYPE\tGROUP\tNAME\tOUTPUTS\tFIELDS")
	for _, def := range defs {
		handles := make([]string, 0, len(def.Ports.Outputs))
		for _, p := range def.Ports.Outputs {
			name := p.Name
			if name == "" {
				name = "default"
			}
			if p.Dynamic {
				name += "*"
			}
			handles = append(handles, name)
		}
		fields := make([]string, 0, len(def.OutputFields))
		for _, f := range def.OutputFields {
			fields = append(fields, f.Name)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			def.Type, def.Group, def.DisplayName, dashIfEmpty(handles), dashIfEmpty(fields))
	}
	return writer.Flush()
}

func dashIfEmpty(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
