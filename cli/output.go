package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/bintelAI/ai-workflow/graph"
	"github.com/bintelAI/ai-workflow/runtime"
	"github.com/bintelAI/ai-workflow/variables"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printDiagnosticsText writes diagnostics as formatted text lines followed by
// a summary.
func printDiagnosticsText(w io.Writer, diags []graph.Diagnostic) {
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		switch {
		case d.NodeID != "":
			fmt.Fprintf(w, "%s [%s]: %s (node %s)\n", sev, d.Code, d.Message, d.NodeID)
		case d.Path != "":
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
		default:
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}

	errs := graph.Errors(diags)
	warns := graph.Warnings(diags)

	switch {
	case len(errs) == 0 && len(warns) == 0:
		fmt.Fprintln(w, "Valid!")
	case len(errs) == 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", len(warns), pluralize("warning", len(warns)))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			len(errs), pluralize("error", len(errs)),
			len(warns), pluralize("warning", len(warns)))
	}
}

func printDiagnosticsJSON(w io.Writer, diags []graph.Diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []graph.Diagnostic{}
	}
	_ = writeJSON(w, diags)
}

// printResultPretty renders the execution log one step per line, with
// errors and warnings indented underneath.
func printResultPretty(w io.Writer, res *runtime.Result) {
	for _, e := range res.Log {
		iter := ""
		if len(e.Iteration) > 0 {
			parts := make([]string, len(e.Iteration))
			for i, n := range e.Iteration {
				parts[i] = fmt.Sprint(n)
			}
			iter = " [" + strings.Join(parts, ".") + "]"
		}
		fmt.Fprintf(w, "%s  %-8s %s (%s)%s  %dms\n",
			e.StepID, e.Status, e.NodeLabel, e.NodeID, iter, e.DurationMs)
		if e.ErrorMessage != "" {
			fmt.Fprintf(w, "           error: %s\n", e.ErrorMessage)
		}
		for _, warn := range e.Warnings {
			fmt.Fprintf(w, "           warning: %s\n", warn)
		}
		if e.Status == runtime.StatusSuccess && e.Output != nil {
			fmt.Fprintf(w, "           output: %s\n", variables.Stringify(e.Output))
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run %s %s: %d %s, %d failed, %s simulated\n",
		res.RunID, res.State, len(res.Log), pluralize("step", len(res.Log)),
		len(res.Failed()), res.Finished.Sub(res.Started))
	if res.Error != "" {
		fmt.Fprintf(w, "Aborted: %s\n", res.Error)
	}
}

// printResultLog writes one JSON object per log entry.
func printResultLog(w io.Writer, res *runtime.Result) error {
	enc := json.NewEncoder(w)
	for _, e := range res.Log {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func printEvent(w io.Writer, e runtime.Event) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d %s", e.Seq, e.Kind)
	if e.NodeID != "" {
		fmt.Fprintf(&sb, " %s", e.NodeID)
	}
	if e.StepID != "" {
		fmt.Fprintf(&sb, " (%s)", e.StepID)
	}
	fmt.Fprintf(&sb, " +%s", e.Elapsed)
	if len(e.Payload) > 0 {
		data, err := json.Marshal(e.Payload)
		if err == nil {
			fmt.Fprintf(&sb, " %s", data)
		}
	}
	fmt.Fprintln(w, sb.String())
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
