// Package core provides the foundational types for ai-workflow graphs.
//
// This package contains:
//   - The closed set of node types and the handle names they expose
//   - Geometry: Position, Size, Rect
//   - Node, Edge and Category, the records the graph store manipulates
//   - Config, a tagged union carrying strongly typed per-type settings
package core

import "fmt"

// NodeType identifies the type of a node.
// The set is closed; anything outside it is rejected at the mutation boundary.
type NodeType string

const (
	NodeTypeStart              NodeType = "start"
	NodeTypeEnd                NodeType = "end"
	NodeTypeBranch             NodeType = "branch"
	NodeTypeParallel           NodeType = "parallel"
	NodeTypeLoop               NodeType = "loop"
	NodeTypeApproval           NodeType = "approval"
	NodeTypeNotification       NodeType = "notification"
	NodeTypeAPICall            NodeType = "api_call"
	NodeTypeModelCall          NodeType = "model_call"
	NodeTypeScript             NodeType = "script"
	NodeTypeDataOperation      NodeType = "data_operation"
	NodeTypeDelay              NodeType = "delay"
	NodeTypeCC                 NodeType = "cc"
	NodeTypeSQL                NodeType = "sql"
	NodeTypeKnowledgeRetrieval NodeType = "knowledge_retrieval"
	NodeTypeDocumentExtraction NodeType = "document_extraction"
)

// AllNodeTypes lists every node type in palette order.
var AllNodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeEnd,
	NodeTypeBranch,
	NodeTypeParallel,
	NodeTypeLoop,
	NodeTypeApproval,
	NodeTypeNotification,
	NodeTypeAPICall,
	NodeTypeModelCall,
	NodeTypeScript,
	NodeTypeDataOperation,
	NodeTypeDelay,
	NodeTypeCC,
	NodeTypeSQL,
	NodeTypeKnowledgeRetrieval,
	NodeTypeDocumentExtraction,
}

// String returns the string representation of the NodeType.
func (t NodeType) String() string {
	return string(t)
}

// Valid reports whether t belongs to the closed set of node types.
func (t NodeType) Valid() bool {
	for _, known := range AllNodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsContainer reports whether nodes of this type may own children.
// Only bounded loops are containers.
func (t NodeType) IsContainer() bool {
	return t == NodeTypeLoop
}

// IsPassThrough reports whether the type is simulated with a stub output
// and continues along a single unconditional edge.
func (t NodeType) IsPassThrough() bool {
	switch t {
	case NodeTypeApproval, NodeTypeNotification, NodeTypeAPICall,
		NodeTypeModelCall, NodeTypeScript, NodeTypeDataOperation,
		NodeTypeDelay, NodeTypeCC, NodeTypeSQL,
		NodeTypeKnowledgeRetrieval, NodeTypeDocumentExtraction:
		return true
	}
	return false
}

// Handle names used on edges.
const (
	HandleTrue       = "true"
	HandleFalse      = "false"
	HandleLoopOutput = "loop-output"
	HandleLoopInput  = "loop-input"
	HandleLoopStart  = "loop-start"

	branchHandlePrefix = "branch-"
)

// BranchHandle returns the fan-out handle for branch index i.
func BranchHandle(i int) string {
	return fmt.Sprintf("%s%d", branchHandlePrefix, i)
}

// ParseBranchHandle extracts the index from a "branch-i" handle.
func ParseBranchHandle(handle string) (int, bool) {
	if len(handle) <= len(branchHandlePrefix) || handle[:len(branchHandlePrefix)] != branchHandlePrefix {
		return 0, false
	}
	n := 0
	for _, ch := range handle[len(branchHandlePrefix):] {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int(ch-'0')
	}
	return n, true
}

// Position is a point on the canvas. For parented nodes it is relative to
// the parent's origin; otherwise it is absolute.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p translated by o.
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y}
}

// Sub returns p translated by -o.
func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y}
}

// Midpoint returns the point halfway between p and o.
func (p Position) Midpoint(o Position) Position {
	return Position{X: (p.X + o.X) / 2, Y: (p.Y + o.Y) / 2}
}

// Size is the rendered extent of a node.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned box in absolute canvas coordinates.
type Rect struct {
	Origin Position
	Size   Size
}

// Center returns the center point of the box.
func (r Rect) Center() Position {
	return Position{X: r.Origin.X + r.Size.Width/2, Y: r.Origin.Y + r.Size.Height/2}
}

// Contains reports whether p lies inside the box, edges included.
func (r Rect) Contains(p Position) bool {
	return p.X >= r.Origin.X && p.X <= r.Origin.X+r.Size.Width &&
		p.Y >= r.Origin.Y && p.Y <= r.Origin.Y+r.Size.Height
}

// Area returns the box area.
func (r Rect) Area() float64 {
	return r.Size.Width * r.Size.Height
}

// DefaultSize returns the size a node of type t is drawn with when the
// node carries none.
func DefaultSize(t NodeType) Size {
	switch t {
	case NodeTypeLoop:
		return Size{Width: 480, Height: 320}
	case NodeTypeStart, NodeTypeEnd:
		return Size{Width: 160, Height: 60}
	default:
		return Size{Width: 240, Height: 80}
	}
}
