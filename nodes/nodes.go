// Package nodes implements the simulated behaviour of pass-through node
// types. Nothing here performs a real side effect: each type synthesizes a
// deterministic stand-in output from its materialized configuration so a
// trace shows what the step would have produced.
package nodes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bintelAI/ai-workflow/core"
	"github.com/bintelAI/ai-workflow/nodes/expr"
)

// ErrNotPassThrough is returned by Simulate for control-flow node types,
// which the executor handles itself.
var ErrNotPassThrough = errors.New("node type is not simulated as a pass-through step")

// maxTopK caps the documents a simulated knowledge retrieval returns.
const maxTopK = 20

// Env is what a simulated step may read.
type Env struct {
	// Vars is the run-time value tree visible to the step.
	Vars map[string]any
	// Now is the simulated clock at the moment the step starts.
	Now time.Time
}

// Outcome is the result of one simulated step.
type Outcome struct {
	// Output is what the trace shows for the step.
	Output any
	// Fields is what downstream steps can address as nodes.<id>.<field>.
	Fields map[string]any
	// Duration is the synthetic time the step took.
	Duration time.Duration
}

// Simulate runs the stub for a pass-through node. cfg should already have
// its templates resolved against the run-time tree.
func Simulate(cfg core.Config, env Env) (Outcome, error) {
	if cfg == nil {
		return Outcome{}, fmt.Errorf("%w: missing config", ErrNotPassThrough)
	}
	t := cfg.NodeType()
	if !t.IsPassThrough() {
		return Outcome{}, fmt.Errorf("%w: %s", ErrNotPassThrough, t)
	}

	var (
		fields map[string]any
		err    error
	)
	switch c := cfg.(type) {
	case core.APICallConfig:
		fields = simulateAPICall(c)
	case core.ModelCallConfig:
		fields = simulateModelCall(c)
	case core.ScriptConfig:
		fields, err = simulateScript(c)
	case core.DataOperationConfig:
		fields, err = simulateDataOperation(c, env)
	case core.DelayConfig:
		fields, err = simulateDelay(c, env)
	case core.ApprovalConfig:
		fields = output(map[string]any{
			"approved":  true,
			"approvers": stringsAsAny(c.Approvers),
			"comment":   c.Message,
		})
	case core.NotificationConfig:
		fields = output(map[string]any{
			"delivered":  true,
			"channel":    defaultString(c.Channel, "email"),
			"recipients": stringsAsAny(c.Recipients),
			"message":    c.Message,
		})
	case core.CCConfig:
		fields = output(map[string]any{
			"copied":  stringsAsAny(c.Recipients),
			"message": c.Message,
		})
	case core.SQLConfig:
		fields = output(map[string]any{
			"rows":     []any{},
			"rowCount": float64(0),
			"query":    c.Query,
		})
	case core.KnowledgeRetrievalConfig:
		fields = simulateKnowledgeRetrieval(c)
	case core.DocumentExtractionConfig:
		fields = simulateDocumentExtraction(c)
	default:
		return Outcome{}, fmt.Errorf("%w: %s", ErrNotPassThrough, t)
	}
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Fields: fields, Duration: SyntheticDuration(t)}
	if v, ok := fields["output"]; ok && len(fields) == 1 {
		out.Output = v
	} else {
		out.Output = fields
	}
	return out, nil
}

// SyntheticDuration is the simulated time a step of type t takes.
func SyntheticDuration(t core.NodeType) time.Duration {
	switch t {
	case core.NodeTypeStart, core.NodeTypeEnd, core.NodeTypeParallel:
		return 5 * time.Millisecond
	case core.NodeTypeBranch:
		return 10 * time.Millisecond
	case core.NodeTypeLoop:
		return 15 * time.Millisecond
	case core.NodeTypeApproval:
		return 1200 * time.Millisecond
	case core.NodeTypeNotification:
		return 300 * time.Millisecond
	case core.NodeTypeAPICall:
		return 450 * time.Millisecond
	case core.NodeTypeModelCall:
		return 1800 * time.Millisecond
	case core.NodeTypeScript:
		return 120 * time.Millisecond
	case core.NodeTypeDataOperation:
		return 40 * time.Millisecond
	case core.NodeTypeDelay:
		return time.Second
	case core.NodeTypeCC:
		return 200 * time.Millisecond
	case core.NodeTypeSQL:
		return 250 * time.Millisecond
	case core.NodeTypeKnowledgeRetrieval:
		return 600 * time.Millisecond
	case core.NodeTypeDocumentExtraction:
		return 900 * time.Millisecond
	}
	return 0
}

func simulateAPICall(c core.APICallConfig) map[string]any {
	method := strings.ToUpper(defaultString(c.Method, "GET"))
	return map[string]any{
		"data": map[string]any{
			"simulated": true,
			"method":    method,
			"url":       c.URL,
		},
		"status": float64(200),
		"headers": map[string]any{
			"content-type": "application/json",
		},
	}
}

func simulateModelCall(c core.ModelCallConfig) map[string]any {
	model := defaultString(c.Model, "default")
	text := fmt.Sprintf("[simulated %s response] %s", model, truncate(c.Prompt, 80))
	return map[string]any{
		"text": text,
		"response": map[string]any{
			"model":        model,
			"text":         text,
			"finishReason": "stop",
			"usage": map[string]any{
				"promptTokens":     float64(len(strings.Fields(c.Prompt + " " + c.SystemPrompt))),
				"completionTokens": float64(len(strings.Fields(text))),
			},
		},
	}
}

func simulateDataOperation(c core.DataOperationConfig, env Env) (map[string]any, error) {
	if strings.TrimSpace(c.Expression) == "" {
		return output(map[string]any{"operation": defaultString(c.Operation, "noop")}), nil
	}
	val, err := expr.Evaluate(c.Expression, env.Vars)
	if err != nil {
		return nil, fmt.Errorf("data operation expression: %w", err)
	}
	return output(val), nil
}

func simulateKnowledgeRetrieval(c core.KnowledgeRetrievalConfig) map[string]any {
	k := c.TopK
	if k <= 0 {
		k = 3
	}
	k = min(k, maxTopK)
	docs := make([]any, k)
	for i := range docs {
		docs[i] = map[string]any{
			"id":      fmt.Sprintf("%s-doc-%d", defaultString(c.KnowledgeBase, "kb"), i+1),
			"score":   1 - float64(i)*0.1,
			"content": fmt.Sprintf("simulated passage %d for %q", i+1, truncate(c.Query, 60)),
		}
	}
	return output(map[string]any{"documents": docs, "query": c.Query})
}

func simulateDocumentExtraction(c core.DocumentExtractionConfig) map[string]any {
	extracted := make(map[string]any, len(c.Fields))
	for _, f := range c.Fields {
		extracted[f] = fmt.Sprintf("<%s>", f)
	}
	return output(map[string]any{"source": c.Source, "fields": extracted})
}

func output(v any) map[string]any {
	return map[string]any{"output": v}
}

func stringsAsAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func defaultString(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
