// Package cli implements the aiworkflow command line: validating workflow
// documents, simulating them, inspecting variables and node types, and
// replaying archived traces.
package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the aiworkflow command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "aiworkflow",
		Short: "Workflow graph validator and simulator",
		Long:  "aiworkflow validates visual workflow graphs and simulates them step by step against sample input.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate("aiworkflow version {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.Bool("verbose", false, "Enable debug logging")
	pf.Bool("quiet", false, "Log errors only")
	pf.String("log-format", "", "Log format: text | json")
	pf.String("config", "", "Config file (default: ./aiworkflow.yaml, then ~/.aiworkflow/config.yaml)")

	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewSimulateCmd())
	root.AddCommand(NewVariablesCmd())
	root.AddCommand(NewNodeTypesCmd())
	root.AddCommand(NewTraceCmd())
	return root
}

// settings is the merged view of the config file and global flags.
type settings struct {
	file   FileConfig
	logger *slog.Logger
}

func loadSettings(cmd *cobra.Command) (settings, error) {
	var s settings
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := DiscoverConfigPath(explicit)
	if err != nil {
		return s, exitError(exitUnreadable, "%v", err)
	}
	if found {
		if s.file, err = LoadConfig(path); err != nil {
			return s, exitError(exitInvalidFormat, "%v", err)
		}
	}

	level := s.file.Log.Level
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = "debug"
	}
	if q, _ := cmd.Flags().GetBool("quiet"); q {
		level = "error"
	}
	format := s.file.Log.Format
	if f, _ := cmd.Flags().GetString("log-format"); f != "" {
		format = f
	}
	s.logger = newLogger(level, format, cmd.ErrOrStderr())
	if found {
		s.logger.Debug("config loaded", "path", path)
	}
	return s, nil
}

func newLogger(levelStr, formatStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(formatStr, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
