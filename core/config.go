package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Config is the closed tagged union of per-type node settings.
// Each node type has exactly one variant; NodeType reports which.
type Config interface {
	NodeType() NodeType
}

// StartConfig holds the development payload fed into a simulation.
// Payload is kept as the raw JSON text the user typed; it may be invalid.
type StartConfig struct {
	Payload string `json:"payload"`
}

// UnmarshalJSON accepts the payload either as a JSON string or as an
// inline JSON value, which is re-encoded to text.
func (c *StartConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(raw.Payload)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		c.Payload = ""
	case trimmed[0] == '"':
		return json.Unmarshal(trimmed, &c.Payload)
	default:
		c.Payload = string(trimmed)
	}
	return nil
}

type EndConfig struct{}

// BranchConfig selects the true or false handle from a boolean expression.
type BranchConfig struct {
	Expression string `json:"expression"`
}

// MaxParallelBranches bounds ParallelConfig.BranchCount.
const MaxParallelBranches = 64

// ParallelConfig fans out to BranchCount handles branch-0..branch-(n-1).
type ParallelConfig struct {
	BranchCount int `json:"branchCount"`
}

// LoopConfig iterates its child subgraph once per element of Collection.
// Collection is either a dotted path ("items", "nodes.fetch.data") or a
// template ("{{ input.items }}"). MaxIterations of zero means the default.
type LoopConfig struct {
	Collection    string `json:"collection"`
	MaxIterations int    `json:"maxIterations,omitempty"`
}

type ApprovalConfig struct {
	Approvers []string `json:"approvers,omitempty"`
	Message   string   `json:"message,omitempty"`
}

type NotificationConfig struct {
	Channel    string   `json:"channel,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Message    string   `json:"message,omitempty"`
}

type APICallConfig struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type ModelCallConfig struct {
	Model        string  `json:"model,omitempty"`
	Prompt       string  `json:"prompt,omitempty"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// ScriptConfig carries user code. Only javascript is compiled during
// simulation; other languages are accepted as opaque text.
type ScriptConfig struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
}

// DataOperationConfig computes Expression against the run-time variables.
type DataOperationConfig struct {
	Operation  string `json:"operation,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// DelayConfig waits either a fixed Duration (Go duration syntax) or until
// the next Cron tick. Cron wins when both are set.
type DelayConfig struct {
	Duration string `json:"duration,omitempty"`
	Cron     string `json:"cron,omitempty"`
}

type CCConfig struct {
	Recipients []string `json:"recipients,omitempty"`
	Message    string   `json:"message,omitempty"`
}

type SQLConfig struct {
	DataSource string `json:"dataSource,omitempty"`
	Query      string `json:"query,omitempty"`
}

type KnowledgeRetrievalConfig struct {
	KnowledgeBase string `json:"knowledgeBase,omitempty"`
	Query         string `json:"query,omitempty"`
	TopK          int    `json:"topK,omitempty"`
}

type DocumentExtractionConfig struct {
	Source string   `json:"source,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

func (StartConfig) NodeType() NodeType              { return NodeTypeStart }
func (EndConfig) NodeType() NodeType                { return NodeTypeEnd }
func (BranchConfig) NodeType() NodeType             { return NodeTypeBranch }
func (ParallelConfig) NodeType() NodeType           { return NodeTypeParallel }
func (LoopConfig) NodeType() NodeType               { return NodeTypeLoop }
func (ApprovalConfig) NodeType() NodeType           { return NodeTypeApproval }
func (NotificationConfig) NodeType() NodeType       { return NodeTypeNotification }
func (APICallConfig) NodeType() NodeType            { return NodeTypeAPICall }
func (ModelCallConfig) NodeType() NodeType          { return NodeTypeModelCall }
func (ScriptConfig) NodeType() NodeType             { return NodeTypeScript }
func (DataOperationConfig) NodeType() NodeType      { return NodeTypeDataOperation }
func (DelayConfig) NodeType() NodeType              { return NodeTypeDelay }
func (CCConfig) NodeType() NodeType                 { return NodeTypeCC }
func (SQLConfig) NodeType() NodeType                { return NodeTypeSQL }
func (KnowledgeRetrievalConfig) NodeType() NodeType { return NodeTypeKnowledgeRetrieval }
func (DocumentExtractionConfig) NodeType() NodeType { return NodeTypeDocumentExtraction }

// DefaultConfig returns the configuration a freshly placed node starts with.
func DefaultConfig(t NodeType) (Config, error) {
	switch t {
	case NodeTypeStart:
		return StartConfig{Payload: "{}"}, nil
	case NodeTypeEnd:
		return EndConfig{}, nil
	case NodeTypeBranch:
		return BranchConfig{}, nil
	case NodeTypeParallel:
		return ParallelConfig{BranchCount: 2}, nil
	case NodeTypeLoop:
		return LoopConfig{}, nil
	case NodeTypeApproval:
		return ApprovalConfig{}, nil
	case NodeTypeNotification:
		return NotificationConfig{}, nil
	case NodeTypeAPICall:
		return APICallConfig{Method: "GET"}, nil
	case NodeTypeModelCall:
		return ModelCallConfig{}, nil
	case NodeTypeScript:
		return ScriptConfig{Language: "javascript"}, nil
	case NodeTypeDataOperation:
		return DataOperationConfig{}, nil
	case NodeTypeDelay:
		return DelayConfig{}, nil
	case NodeTypeCC:
		return CCConfig{}, nil
	case NodeTypeSQL:
		return SQLConfig{}, nil
	case NodeTypeKnowledgeRetrieval:
		return KnowledgeRetrievalConfig{TopK: 3}, nil
	case NodeTypeDocumentExtraction:
		return DocumentExtractionConfig{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
}

// DecodeConfig decodes the JSON object raw into the variant for t.
// An empty or null raw value yields the zero variant.
func DecodeConfig(t NodeType, raw json.RawMessage) (Config, error) {
	trimmed := bytes.TrimSpace(raw)
	empty := len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))

	switch t {
	case NodeTypeStart:
		return decodeInto[StartConfig](trimmed, empty)
	case NodeTypeEnd:
		return EndConfig{}, nil
	case NodeTypeBranch:
		return decodeInto[BranchConfig](trimmed, empty)
	case NodeTypeParallel:
		return decodeInto[ParallelConfig](trimmed, empty)
	case NodeTypeLoop:
		return decodeInto[LoopConfig](trimmed, empty)
	case NodeTypeApproval:
		return decodeInto[ApprovalConfig](trimmed, empty)
	case NodeTypeNotification:
		return decodeInto[NotificationConfig](trimmed, empty)
	case NodeTypeAPICall:
		return decodeInto[APICallConfig](trimmed, empty)
	case NodeTypeModelCall:
		return decodeInto[ModelCallConfig](trimmed, empty)
	case NodeTypeScript:
		return decodeInto[ScriptConfig](trimmed, empty)
	case NodeTypeDataOperation:
		return decodeInto[DataOperationConfig](trimmed, empty)
	case NodeTypeDelay:
		return decodeInto[DelayConfig](trimmed, empty)
	case NodeTypeCC:
		return decodeInto[CCConfig](trimmed, empty)
	case NodeTypeSQL:
		return decodeInto[SQLConfig](trimmed, empty)
	case NodeTypeKnowledgeRetrieval:
		return decodeInto[KnowledgeRetrievalConfig](trimmed, empty)
	case NodeTypeDocumentExtraction:
		return decodeInto[DocumentExtractionConfig](trimmed, empty)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
}

func decodeInto[T Config](raw []byte, empty bool) (Config, error) {
	var cfg T
	if empty {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decoding %s config: %w", cfg.NodeType(), err)
	}
	return cfg, nil
}

// ConfigMap returns cfg as a generic value tree, the shape templates are
// materialized over and the shape recorded as a step's input.
func ConfigMap(cfg Config) map[string]any {
	out := map[string]any{}
	if cfg == nil {
		return out
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}
