package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/bintelAI/ai-workflow/graph"
	"github.com/bintelAI/ai-workflow/runtime"
	"github.com/bintelAI/ai-workflow/tracestore"
)

// newTestRoot creates a fresh command tree so tests do not share flag state.
// An empty config file is passed explicitly so a developer's own config
// cannot leak in.
func newTestRoot(t *testing.T) (*cobra.Command, string) {
	t.Helper()
	cfg := writeTestFile(t, "aiworkflow.yaml", "")
	return NewRootCmd("test"), cfg
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// run is executeCommand on a fresh root with --config prepended.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root, cfg := newTestRoot(t)
	return executeCommand(root, append([]string{"--config", cfg}, args...)...)
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const approvalJSON = `{
  "nodes": [
    {"id": "start", "type": "start", "label": "Start", "position": {"x": 0, "y": 0}, "config": {"payload": "{\"amount\": 8500}"}},
    {"id": "check", "type": "branch", "label": "Large amount?", "position": {"x": 0, "y": 120}, "config": {"expression": "amount > 5000"}},
    {"id": "approve", "type": "approval", "label": "Finance approval", "position": {"x": -160, "y": 240}, "config": {"approvers": ["finance"]}},
    {"id": "notify", "type": "notification", "label": "Notify", "position": {"x": 160, "y": 240}, "config": {"channel": "email", "message": "Amount {{ amount }} accepted"}},
    {"id": "end", "type": "end", "label": "End", "position": {"x": 0, "y": 360}}
  ],
  "edges": [
    {"id": "e1", "source": "start", "target": "check"},
    {"id": "e2", "source": "check", "target": "approve", "sourceHandle": "true"},
    {"id": "e3", "source": "check", "target": "notify", "sourceHandle": "false"},
    {"id": "e4", "source": "approve", "target": "end"},
    {"id": "e5", "source": "notify", "target": "end"}
  ]
}`

// noStartJSON has no start node, which validation reports and the
// simulator refuses to run.
const noStartJSON = `{
  "nodes": [{"id": "a", "type": "delay", "position": {"x": 0, "y": 0}}],
  "edges": []
}`

const failingJSON = `{
  "nodes": [
    {"id": "start", "type": "start", "position": {"x": 0, "y": 0}},
    {"id": "check", "type": "branch", "position": {"x": 0, "y": 100}, "config": {"expression": "amount >"}}
  ],
  "edges": [{"id": "e1", "source": "start", "target": "check"}]
}`

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		file     func(t *testing.T) string
		args     []string
		wantCode int
		wantOut  string
	}{
		{"valid", func(t *testing.T) string { return writeTestFile(t, "ok.json", approvalJSON) }, nil, exitSuccess, "Valid!"},
		{"errors", func(t *testing.T) string { return writeTestFile(t, "bad.json", noStartJSON) }, nil, exitValidation, "ERROR ["},
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") }, nil, exitUnreadable, ""},
		{"not a document", func(t *testing.T) string { return writeTestFile(t, "x.json", `{"nodes": []}`) }, nil, exitInvalidFormat, ""},
		{"yaml", func(t *testing.T) string {
			return writeTestFile(t, "flow.yaml", "nodes:\n  - id: s\n    type: start\n  - id: e\n    type: end\nedges:\n  - {id: e1, source: s, target: e}\n")
		}, nil, exitSuccess, "Valid!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"validate", tt.file(t)}, tt.args...)
			out, _, err := run(t, args...)
			if got := ExitCode(err); got != tt.wantCode {
				t.Fatalf("exit code = %d (%v), want %d", got, err, tt.wantCode)
			}
			if tt.wantOut != "" && !strings.Contains(out, tt.wantOut) {
				t.Errorf("output %q does not contain %q", out, tt.wantOut)
			}
		})
	}
}

func TestValidate_JSONFormat(t *testing.T) {
	out, _, err := run(t, "validate", writeTestFile(t, "bad.json", noStartJSON), "--format", "json")
	if ExitCode(err) != exitValidation {
		t.Fatalf("err = %v", err)
	}
	var diags []graph.Diagnostic
	if err := json.Unmarshal([]byte(out), &diags); err != nil {
		t.Fatalf("output is not a diagnostic list: %v\n%s", err, out)
	}
	if !graph.HasErrors(diags) {
		t.Errorf("diagnostics = %+v, want an error", diags)
	}
}

func TestSimulate_Approval(t *testing.T) {
	store := filepath.Join(t.TempDir(), "traces.db")
	file := writeTestFile(t, "approval.json", approvalJSON)

	out, _, err := run(t, "simulate", file, "--trace-store", store)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out, "Finance approval (approve)") || strings.Contains(out, "(notify)") {
		t.Errorf("pretty output took the wrong branch:\n%s", out)
	}
	if !strings.Contains(out, "completed: 4 steps, 0 failed") {
		t.Errorf("missing summary line:\n%s", out)
	}

	out, _, err = run(t, "simulate", file, "--trace-store", store, "--input", `{"amount": 10}`, "--format", "json")
	if err != nil {
		t.Fatalf("simulate --input: %v", err)
	}
	var res runtime.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if res.Status["notify"] != runtime.StatusSuccess || res.WorkflowID != "approval" {
		t.Errorf("result = %+v", res)
	}

	out, _, err = run(t, "trace", "list", "--trace-store", store, "--format", "json")
	if err != nil {
		t.Fatalf("trace list: %v", err)
	}
	var runs []tracestore.RunSummary
	if err := json.Unmarshal([]byte(out), &runs); err != nil || len(runs) != 2 {
		t.Fatalf("trace list = %s (%v)", out, err)
	}

	out, _, err = run(t, "trace", "show", res.RunID, "--trace-store", store)
	if err != nil {
		t.Fatalf("trace show: %v", err)
	}
	if !strings.Contains(out, "Notify (notify)") {
		t.Errorf("replayed log is missing the notify step:\n%s", out)
	}

	out, _, err = run(t, "trace", "show", res.RunID, "--trace-store", store, "--events")
	if err != nil {
		t.Fatalf("trace show --events: %v", err)
	}
	if !strings.HasPrefix(out, "#1 run.started") || !strings.Contains(out, "route.decision check") {
		t.Errorf("event replay = %s", out)
	}
}

func TestSimulate_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args func(t *testing.T) []string
		want int
	}{
		{"bad input", func(t *testing.T) []string {
			return []string{writeTestFile(t, "a.json", approvalJSON), "--input", "{not json"}
		}, exitInputParse},
		{"both inputs", func(t *testing.T) []string {
			return []string{writeTestFile(t, "a.json", approvalJSON), "--input", "{}", "--input-file", "x.json"}
		}, exitInputParse},
		{"missing input file", func(t *testing.T) []string {
			return []string{writeTestFile(t, "a.json", approvalJSON), "--input-file", filepath.Join(t.TempDir(), "none.json")}
		}, exitUnreadable},
		{"unknown format", func(t *testing.T) []string {
			return []string{writeTestFile(t, "a.json", approvalJSON), "--format", "xml"}
		}, exitInputParse},
		{"missing workflow", func(t *testing.T) []string {
			return []string{filepath.Join(t.TempDir(), "none.json")}
		}, exitUnreadable},
		{"invalid format", func(t *testing.T) []string {
			return []string{writeTestFile(t, "a.json", `[1, 2]`)}
		}, exitInvalidFormat},
		{"no start node", func(t *testing.T) []string {
			return []string{writeTestFile(t, "a.json", noStartJSON)}
		}, exitRunFailed},
		{"failed step", func(t *testing.T) []string {
			return []string{writeTestFile(t, "a.json", failingJSON)}
		}, exitRunFailed},
		{"step budget", func(t *testing.T) []string {
			return []string{writeTestFile(t, "a.json", approvalJSON), "--max-steps", "2"}
		}, exitRunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"simulate", "--trace-store", "memory"}, tt.args(t)...)
			_, _, err := run(t, args...)
			if got := ExitCode(err); got != tt.want {
				t.Errorf("exit code = %d (%v), want %d", got, err, tt.want)
			}
		})
	}
}

func TestSimulate_InputFileYAML(t *testing.T) {
	file := writeTestFile(t, "a.json", approvalJSON)
	input := writeTestFile(t, "in.yaml", "amount: 12\n")
	out, _, err := run(t, "simulate", file, "--trace-store", "memory", "--input-file", input, "--format", "log")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("log format printed %d lines, want 4:\n%s", len(lines), out)
	}
	var entry runtime.LogEntry
	if err := json.Unmarshal([]byte(lines[2]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.NodeID != "notify" {
		t.Errorf("third step = %s, want notify", entry.NodeID)
	}
}

func TestSimulate_EventsAndLogging(t *testing.T) {
	file := writeTestFile(t, "a.json", approvalJSON)
	_, stderr, err := run(t, "simulate", file, "--trace-store", "memory", "--events", "--verbose", "--log-format", "json")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(stderr, "route.decision check") {
		t.Errorf("events not printed to stderr:\n%s", stderr)
	}
	if !strings.Contains(stderr, `"msg":"simulation finished"`) {
		t.Errorf("debug JSON logs missing:\n%s", stderr)
	}
}

func TestSimulate_ConfigFile(t *testing.T) {
	file := writeTestFile(t, "a.json", approvalJSON)
	cfg := writeTestFile(t, "cfg.yaml", "simulation:\n  max_steps: 2\ntrace_store:\n  path: memory\n")

	root := NewRootCmd("test")
	_, _, err := executeCommand(root, "--config", cfg, "simulate", file)
	if ExitCode(err) != exitRunFailed {
		t.Errorf("config max_steps not applied: %v", err)
	}

	// Flags win over the file.
	root = NewRootCmd("test")
	_, _, err = executeCommand(root, "--config", cfg, "simulate", file, "--max-steps", "100")
	if err != nil {
		t.Errorf("--max-steps did not override the config: %v", err)
	}
}

func TestConfig_Errors(t *testing.T) {
	root := NewRootCmd("test")
	_, _, err := executeCommand(root, "--config", filepath.Join(t.TempDir(), "none.yaml"), "node-types")
	if ExitCode(err) != exitUnreadable {
		t.Errorf("missing explicit config: exit %d (%v)", ExitCode(err), err)
	}

	cfg := writeTestFile(t, "cfg.yaml", "simulation:\n  max_stepz: 2\n")
	root = NewRootCmd("test")
	_, _, err = executeCommand(root, "--config", cfg, "node-types")
	if ExitCode(err) != exitInvalidFormat {
		t.Errorf("unknown config key: exit %d (%v)", ExitCode(err), err)
	}
}

func TestDiscoverConfigPathFrom(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	if _, found, err := DiscoverConfigPathFrom("", cwd, home); found || err != nil {
		t.Errorf("empty dirs: found=%v err=%v", found, err)
	}

	homeCfg := filepath.Join(home, ".aiworkflow", "config.yaml")
	_ = os.MkdirAll(filepath.Dir(homeCfg), 0o750)
	_ = os.WriteFile(homeCfg, nil, 0o600)
	if path, _, _ := DiscoverConfigPathFrom("", cwd, home); path != homeCfg {
		t.Errorf("path = %q, want home config", path)
	}

	projectCfg := filepath.Join(cwd, "aiworkflow.yaml")
	_ = os.WriteFile(projectCfg, nil, 0o600)
	if path, _, _ := DiscoverConfigPathFrom("", cwd, home); path != projectCfg {
		t.Errorf("path = %q, want project config first", path)
	}
}

func TestVariables(t *testing.T) {
	file := writeTestFile(t, "a.json", approvalJSON)
	out, _, err := run(t, "variables", file, "notify")
	if err != nil {
		t.Fatalf("variables: %v", err)
	}
	for _, want := range []string{"{{amount}}", "{{nodes.check.result}}", "system"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}

	_, _, err = run(t, "variables", file, "ghost")
	if ExitCode(err) != exitValidation {
		t.Errorf("unknown node: exit %d", ExitCode(err))
	}
}

func TestNodeTypes(t *testing.T) {
	out, _, err := run(t, "node-types", "--category", "approval")
	if err != nil {
		t.Fatalf("node-types: %v", err)
	}
	if !strings.Contains(out, "approval") || strings.Contains(out, "model_call") {
		t.Errorf("approval palette = %s", out)
	}

	out, _, err = run(t, "node-types", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var defs []map[string]any
	if err := json.Unmarshal([]byte(out), &defs); err != nil || len(defs) != 16 {
		t.Errorf("all node types: %d (%v)", len(defs), err)
	}

	_, _, err = run(t, "node-types", "--category", "nope")
	if ExitCode(err) != exitValidation {
		t.Errorf("unknown category: exit %d", ExitCode(err))
	}

	out, _, _ = run(t, "node-types", "--categories")
	if !strings.Contains(out, "integration") {
		t.Errorf("categories = %s", out)
	}
}

func TestTraceShow_NotFound(t *testing.T) {
	_, _, err := run(t, "trace", "show", "ghost", "--trace-store", filepath.Join(t.TempDir(), "t.db"))
	if ExitCode(err) != exitValidation {
		t.Errorf("exit code = %d (%v)", ExitCode(err), err)
	}
}

func TestVersion(t *testing.T) {
	out, _, err := executeCommand(NewRootCmd("1.2.3"), "--version")
	if err != nil || strings.TrimSpace(out) != "aiworkflow version 1.2.3" {
		t.Errorf("version = %q (%v)", out, err)
	}
}
