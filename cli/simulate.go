package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bintelAI/ai-workflow/graph"
	"github.com/bintelAI/ai-workflow/otel"
	"github.com/bintelAI/ai-workflow/runtime"
	"github.com/bintelAI/ai-workflow/tracestore"
	"github.com/bintelAI/ai-workflow/workspace"
)

// NewSimulateCmd creates the "simulate" subcommand.
func NewSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <file>",
		Short: "Simulate a workflow against sample input",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulate,
	}

	cmd.Flags().StringP("input", "i", "", "Start payload as inline JSON (overrides the start node's sample)")
	cmd.Flags().StringP("input-file", "f", "", "Start payload from a JSON or YAML file")
	cmd.Flags().String("format", "pretty", "Output format: pretty | json | log")
	cmd.Flags().Bool("events", false, "Print events to stderr as they happen")
	cmd.Flags().Int("max-steps", 0, "Step budget for the run (0: config or default)")
	cmd.Flags().Int("max-hops", 0, "Times a node may run on one path (0: config or default)")
	cmd.Flags().Int("max-iterations", 0, "Loop iteration limit (0: config or default)")
	cmd.Flags().String("workflow-id", "", "Id stamped on the run (default: file name)")
	cmd.Flags().String("trace-store", "", `Run archive: SQLite path or "memory"`)
	cmd.Flags().String("otel-endpoint", "", "OTLP/HTTP endpoint to export spans to")
	cmd.Flags().Duration("timeout", time.Minute, "Abort the simulation after this long")

	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	if format != "pretty" && format != "json" && format != "log" {
		return exitError(exitInputParse, "unknown format %q (use pretty, json or log)", format)
	}

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	payload, err := readPayload(cmd)
	if err != nil {
		return err
	}

	traces, err := openTraceStore(cmd, s)
	if err != nil {
		return err
	}

	tel, err := setupTelemetry(cmd, s)
	if err != nil {
		_ = traces.Close()
		return err
	}
	if tel != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(ctx); err != nil {
				s.logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	w := workspace.New(workspace.Config{
		WorkflowID: workflowID(cmd, filePath),
		Traces:     traces,
		Telemetry:  tel,
		Defaults:   runDefaults(cmd, s),
		Logger:     s.logger,
	})
	defer w.Close()

	if err := w.Open(filePath); err != nil {
		return loadExitError(err)
	}
	if diags := w.Validate(); graph.HasErrors(diags) {
		s.logger.Warn("workflow has validation errors; simulating anyway",
			"errors", len(graph.Errors(diags)))
	}

	var opts runtime.RunOptions
	if events, _ := cmd.Flags().GetBool("events"); events {
		errOut := cmd.ErrOrStderr()
		opts.EventHandler = func(e runtime.Event) { printEvent(errOut, e) }
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	res, err := w.Simulate(ctx, payload, opts)
	if err != nil && res == nil {
		return exitError(exitRunFailed, "simulation failed: %v", err)
	}
	if err != nil {
		s.logger.Warn("run was not archived", "run_id", res.RunID, "error", err)
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		if err := writeJSON(out, res); err != nil {
			return exitError(exitRunFailed, "writing result: %v", err)
		}
	case "log":
		if err := printResultLog(out, res); err != nil {
			return exitError(exitRunFailed, "writing result: %v", err)
		}
	default:
		printResultPretty(out, res)
	}

	if res.State == runtime.StateAborted {
		return exitError(exitRunFailed, "run %s aborted: %s", res.RunID, res.Error)
	}
	if failed := len(res.Failed()); failed > 0 {
		return exitError(exitRunFailed, "run %s had %d failed %s", res.RunID, failed, pluralize("step", failed))
	}
	return nil
}

// readPayload returns the start payload from --input or --input-file, or ""
// to use the start node's own sample. The text must be valid JSON.
func readPayload(cmd *cobra.Command) (string, error) {
	inputStr, _ := cmd.Flags().GetString("input")
	inputFile, _ := cmd.Flags().GetString("input-file")

	if inputStr != "" && inputFile != "" {
		return "", exitError(exitInputParse, "cannot specify both --input and --input-file")
	}
	if inputStr == "" && inputFile == "" {
		return "", nil
	}

	data := []byte(inputStr)
	if inputFile != "" {
		var err error
		data, err = os.ReadFile(inputFile) // #nosec G304 -- path from user CLI flag
		if err != nil {
			return "", exitError(exitUnreadable, "reading input file: %v", err)
		}
		ext := strings.ToLower(filepath.Ext(inputFile))
		if ext == ".yaml" || ext == ".yml" {
			var raw any
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return "", exitError(exitInputParse, "parsing input YAML: %v", err)
			}
			if data, err = json.Marshal(raw); err != nil {
				return "", exitError(exitInputParse, "converting input YAML: %v", err)
			}
		}
	}

	if !json.Valid(data) {
		return "", exitError(exitInputParse, "input is not valid JSON")
	}
	return string(data), nil
}

func runDefaults(cmd *cobra.Command, s settings) runtime.RunOptions {
	opts := runtime.DefaultRunOptions()
	pick := func(flag string, fromFile int, dst *int) {
		if v, _ := cmd.Flags().GetInt(flag); v > 0 {
			*dst = v
		} else if fromFile > 0 {
			*dst = fromFile
		}
	}
	pick("max-steps", s.file.Simulation.MaxSteps, &opts.MaxSteps)
	pick("max-hops", s.file.Simulation.MaxHops, &opts.MaxHops)
	pick("max-iterations", s.file.Simulation.MaxIterations, &opts.MaxIterations)
	return opts
}

func workflowID(cmd *cobra.Command, path string) string {
	if id, _ := cmd.Flags().GetString("workflow-id"); id != "" {
		return id
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// openTraceStore opens the run archive named by --trace-store, the config
// file, or the default path, in that order.
func openTraceStore(cmd *cobra.Command, s settings) (tracestore.Store, error) {
	path, _ := cmd.Flags().GetString("trace-store")
	if path == "" {
		path = s.file.TraceStore.Path
	}
	if path == "" {
		path = defaultTraceStorePath()
	}
	if path == "memory" {
		return tracestore.NewMemStore(), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, exitError(exitUnreadable, "creating trace store directory: %v", err)
	}
	store, err := tracestore.OpenSQLite(tracestore.SQLiteConfig{
		DSN:            path,
		RetentionCount: s.file.TraceStore.RetentionCount,
	})
	if err != nil {
		return nil, exitError(exitUnreadable, "opening trace store: %v", err)
	}
	s.logger.Debug("trace store opened", "path", path)
	return store, nil
}

func setupTelemetry(cmd *cobra.Command, s settings) (*otel.Telemetry, error) {
	endpoint, _ := cmd.Flags().GetString("otel-endpoint")
	if endpoint == "" {
		endpoint = s.file.OTel.Endpoint
	}
	if endpoint == "" {
		return nil, nil
	}
	tel, err := otel.Setup(cmd.Context(), otel.Config{
		Endpoint: endpoint,
		Insecure: s.file.OTel.Insecure,
		Headers:  s.file.OTel.Headers,
	})
	if err != nil {
		return nil, exitError(exitRunFailed, "setting up telemetry: %v", err)
	}
	s.logger.Debug("telemetry enabled", "endpoint", endpoint)
	return tel, nil
}
