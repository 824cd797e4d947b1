package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownNodeType is returned for a type outside the closed set.
var ErrUnknownNodeType = errors.New("unknown node type")

// Node is a typed unit of work placed on the canvas.
type Node struct {
	ID       string
	Type     NodeType
	Label    string
	Position Position
	Size     *Size
	ParentID string
	Config   Config
}

// NewNode builds a node of type t with its default configuration.
func NewNode(id string, t NodeType, label string, pos Position) (Node, error) {
	cfg, err := DefaultConfig(t)
	if err != nil {
		return Node{}, err
	}
	if label == "" {
		label = DefaultLabel(t)
	}
	return Node{ID: id, Type: t, Label: label, Position: pos, Config: cfg}, nil
}

// EffectiveSize returns the node's size, falling back to the type default.
func (n Node) EffectiveSize() Size {
	if n.Size != nil {
		return *n.Size
	}
	return DefaultSize(n.Type)
}

// Clone returns a copy that shares nothing mutable with n.
func (n Node) Clone() Node {
	if n.Size != nil {
		s := *n.Size
		n.Size = &s
	}
	n.Config = cloneConfig(n.Config)
	return n
}

func cloneConfig(cfg Config) Config {
	switch c := cfg.(type) {
	case ApprovalConfig:
		c.Approvers = append([]string(nil), c.Approvers...)
		return c
	case NotificationConfig:
		c.Recipients = append([]string(nil), c.Recipients...)
		return c
	case CCConfig:
		c.Recipients = append([]string(nil), c.Recipients...)
		return c
	case DocumentExtractionConfig:
		c.Fields = append([]string(nil), c.Fields...)
		return c
	case APICallConfig:
		if c.Headers != nil {
			h := make(map[string]string, len(c.Headers))
			for k, v := range c.Headers {
				h[k] = v
			}
			c.Headers = h
		}
		return c
	}
	return cfg
}

type nodeJSON struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Label    string          `json:"label,omitempty"`
	Position Position        `json:"position"`
	Size     *Size           `json:"size,omitempty"`
	ParentID string          `json:"parentId,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON encodes the node with its config as a plain object.
func (n Node) MarshalJSON() ([]byte, error) {
	var cfg json.RawMessage
	if n.Config != nil {
		data, err := json.Marshal(n.Config)
		if err != nil {
			return nil, fmt.Errorf("encoding config of node %s: %w", n.ID, err)
		}
		cfg = data
	}
	return json.Marshal(nodeJSON{
		ID:       n.ID,
		Type:     n.Type,
		Label:    n.Label,
		Position: n.Position,
		Size:     n.Size,
		ParentID: n.ParentID,
		Config:   cfg,
	})
}

// UnmarshalJSON decodes a node, selecting the config variant by type.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Type.Valid() {
		return fmt.Errorf("node %q: %w: %q", raw.ID, ErrUnknownNodeType, raw.Type)
	}
	cfg, err := DecodeConfig(raw.Type, raw.Config)
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}
	*n = Node{
		ID:       raw.ID,
		Type:     raw.Type,
		Label:    raw.Label,
		Position: raw.Position,
		Size:     raw.Size,
		ParentID: raw.ParentID,
		Config:   cfg,
	}
	return nil
}

// Edge is a directed connection between two nodes, optionally qualified by
// handles on either end.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Touches reports whether id is either endpoint of the edge.
func (e Edge) Touches(id string) bool {
	return e.Source == id || e.Target == id
}

// Category is a capability profile restricting which node types placement
// tooling offers. It never constrains an existing graph.
type Category struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	AllowedTypes []NodeType `json:"allowedTypes"`
	IsSystem     bool       `json:"isSystem,omitempty"`
}

// Allows reports whether the profile offers node type t.
func (c Category) Allows(t NodeType) bool {
	for _, allowed := range c.AllowedTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// DefaultLabel is the label a node is created with when none is given.
func DefaultLabel(t NodeType) string {
	switch t {
	case NodeTypeStart:
		return "Start"
	case NodeTypeEnd:
		return "End"
	case NodeTypeBranch:
		return "Condition"
	case NodeTypeParallel:
		return "Parallel"
	case NodeTypeLoop:
		return "Loop"
	case NodeTypeApproval:
		return "Approval"
	case NodeTypeNotification:
		return "Notification"
	case NodeTypeAPICall:
		return "API Call"
	case NodeTypeModelCall:
		return "Model Call"
	case NodeTypeScript:
		return "Script"
	case NodeTypeDataOperation:
		return "Data Operation"
	case NodeTypeDelay:
		return "Delay"
	case NodeTypeCC:
		return "CC"
	case NodeTypeSQL:
		return "SQL"
	case NodeTypeKnowledgeRetrieval:
		return "Knowledge Retrieval"
	case NodeTypeDocumentExtraction:
		return "Document Extraction"
	}
	return string(t)
}
