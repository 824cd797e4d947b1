package loader

import (
	"errors"
	"fmt"
	"os"

	"github.com/bintelAI/ai-workflow/graph"
)

// ErrUnreadable is returned when the file itself cannot be read. It is
// distinct from graph.ErrInvalidFormat, which means the bytes were read
// but do not form a workflow document.
var ErrUnreadable = errors.New("workflow file unreadable")

// LoadDocument reads and decodes a workflow document.
func LoadDocument(path string) (graph.Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return graph.Document{}, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	return ParseDocument(data, path)
}

// ParseDocument decodes data, using path only to pick the format.
func ParseDocument(data []byte, path string) (graph.Document, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return graph.Document{}, fmt.Errorf("%w: %w", graph.ErrInvalidFormat, err)
	}
	return graph.ParseDocument(jsonData)
}

// LoadWorkflow reads a document and builds its graph. Structural problems
// in the document (duplicate ids, dangling edges) are reported as
// graph.ErrInvalidFormat; advisory findings are left to Check.
func LoadWorkflow(path string) (graph.Document, graph.Graph, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return graph.Document{}, graph.Graph{}, err
	}
	g, err := doc.Graph()
	if err != nil {
		return graph.Document{}, graph.Graph{}, err
	}
	return doc, g, nil
}

// Check validates g and returns a *DiagnosticError when any finding has
// error severity. The diagnostics are returned either way.
func Check(g graph.Graph) ([]graph.Diagnostic, error) {
	diags := g.Validate()
	if graph.HasErrors(diags) {
		return diags, &DiagnosticError{Diagnostics: diags}
	}
	return diags, nil
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []graph.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := graph.Errors(e.Diagnostics)
	if len(errs) == 0 {
		return "validation failed"
	}
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
}
