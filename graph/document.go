package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bintelAI/ai-workflow/core"
)

// ErrInvalidFormat is returned when a document cannot be decoded or is
// missing a required top-level key.
var ErrInvalidFormat = errors.New("invalid workflow document")

// DocumentVersion is the version written by Export.
const DocumentVersion = "1.4"

// Viewport is the canvas pan and zoom saved alongside the graph.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Document is the import/export artifact. Only nodes and edges are
// required; everything else is carried through untouched.
type Document struct {
	Nodes            []core.Node     `json:"nodes"`
	Edges            []core.Edge     `json:"edges"`
	Categories       []core.Category `json:"categories,omitempty"`
	ActiveCategoryID string          `json:"activeCategoryId,omitempty"`
	GlobalVariables  map[string]any  `json:"globalVariables,omitempty"`
	Viewport         *Viewport       `json:"viewport,omitempty"`
	ExportedAt       string          `json:"exportedAt,omitempty"`
	Version          string          `json:"version,omitempty"`
}

// ParseDocument decodes a JSON document. A body that is not a JSON object,
// lacks a "nodes" or "edges" array, or holds a node of an unknown type
// fails with ErrInvalidFormat.
func ParseDocument(data []byte) (Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	for _, key := range []string{"nodes", "edges"} {
		raw, ok := top[key]
		if !ok {
			return Document{}, fmt.Errorf("%w: missing %q", ErrInvalidFormat, key)
		}
		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
			return Document{}, fmt.Errorf("%w: %q must be an array", ErrInvalidFormat, key)
		}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return doc, nil
}

// Graph builds the structural graph the document describes.
func (d Document) Graph() (Graph, error) {
	g, err := Build(d.Nodes, d.Edges)
	if err != nil {
		return Graph{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	return g, nil
}

// Marshal encodes the document as indented JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// documentMeta is what a Store keeps from an imported document besides
// the graph itself, so an export round-trips it.
type documentMeta struct {
	categories       []core.Category
	activeCategoryID string
	globalVariables  map[string]any
	viewport         *Viewport
}

func metaOf(d Document) documentMeta {
	m := documentMeta{
		categories:       append([]core.Category(nil), d.Categories...),
		activeCategoryID: d.ActiveCategoryID,
		globalVariables:  d.GlobalVariables,
	}
	if d.Viewport != nil {
		v := *d.Viewport
		m.viewport = &v
	}
	return m
}

func (m documentMeta) document(g Graph, now time.Time) Document {
	g = g.Clone()
	doc := Document{
		Nodes:            g.Nodes,
		Edges:            g.Edges,
		Categories:       append([]core.Category(nil), m.categories...),
		ActiveCategoryID: m.activeCategoryID,
		GlobalVariables:  m.globalVariables,
		ExportedAt:       now.UTC().Format(time.RFC3339),
		Version:          DocumentVersion,
	}
	if doc.Nodes == nil {
		doc.Nodes = []core.Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []core.Edge{}
	}
	if m.viewport != nil {
		v := *m.viewport
		doc.Viewport = &v
	}
	return doc
}
