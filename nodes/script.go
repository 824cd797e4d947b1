package nodes

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/bintelAI/ai-workflow/core"
)

// CompileScript checks that a javascript script parses. The body is wrapped
// in a function so top-level return statements are legal. Scripts in other
// languages are not checked.
func CompileScript(cfg core.ScriptConfig) error {
	if !isJavaScript(cfg.Language) || strings.TrimSpace(cfg.Code) == "" {
		return nil
	}
	if _, err := goja.Compile("script", wrapScript(cfg.Code), true); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	return nil
}

func simulateScript(c core.ScriptConfig) (map[string]any, error) {
	if err := CompileScript(c); err != nil {
		return nil, err
	}
	lines := 0
	if code := strings.TrimSpace(c.Code); code != "" {
		lines = strings.Count(code, "\n") + 1
	}
	return output(map[string]any{
		"language": defaultString(c.Language, "javascript"),
		"lines":    float64(lines),
		"result":   "simulated",
	}), nil
}

func isJavaScript(lang string) bool {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "javascript", "js":
		return true
	}
	return false
}

func wrapScript(code string) string {
	return "(function() {\n" + code + "\n})()"
}
