package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bintelAI/ai-workflow/tracestore"
)

// NewTraceCmd creates the "trace" command group.
func NewTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect archived simulation runs",
	}
	cmd.PersistentFlags().String("trace-store", "", `Run archive: SQLite path or "memory"`)

	list := &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runTraceList,
	}
	list.Flags().Int("limit", 20, "Maximum runs to list (0 for all)")
	list.Flags().String("format", "text", "Output format: text | json")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Replay an archived run",
		Args:  cobra.ExactArgs(1),
		RunE:  runTraceShow,
	}
	show.Flags().Bool("events", false, "Print the event stream instead of the log")
	show.Flags().String("format", "pretty", "Output format: pretty | json")

	cmd.AddCommand(list, show)
	return cmd
}

func runTraceList(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")

	store, err := traceStoreFor(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if format == "json" {
		if runs == nil {
			runs = []tracestore.RunSummary{}
		}
		return writeJSON(cmd.OutOrStdout(), runs)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "RUN\tWORKFLOW\tSTATE\tSTEPS\tFAILED\tSTARTED")
	for _, r := range runs {
		wf := r.WorkflowID
		if wf == "" {
			wf = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, wf, r.State, r.Steps, r.Failed, r.Started.Format(time.RFC3339))
	}
	return writer.Flush()
}

func runTraceShow(cmd *cobra.Command, args []string) error {
	events, _ := cmd.Flags().GetBool("events")
	format, _ := cmd.Flags().GetString("format")

	store, err := traceStoreFor(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	res, err := store.GetRun(ctx, args[0])
	if errors.Is(err, tracestore.ErrRunNotFound) {
		return exitError(exitValidation, "run %q not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	out := cmd.OutOrStdout()
	if events {
		evs, err := store.Events(ctx, res.RunID, 0, 0)
		if err != nil {
			return fmt.Errorf("loading events: %w", err)
		}
		if format == "json" {
			return writeJSON(out, evs)
		}
		for _, e := range evs {
			printEvent(out, e)
		}
		return nil
	}

	if format == "json" {
		return writeJSON(out, res)
	}
	printResultPretty(out, res)
	return nil
}

func traceStoreFor(cmd *cobra.Command) (tracestore.Store, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return openTraceStore(cmd, s)
}
