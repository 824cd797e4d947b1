package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bintelAI/ai-workflow/core"
)

// Store is the single mutable handle on a workflow graph. Every mutation
// runs the matching pure operation on the current graph and commits the
// result only when it succeeds. Readers get deep copies.
type Store struct {
	mu        sync.RWMutex
	g         Graph
	meta      documentMeta
	selection string
	version   uint64

	newID  IDFunc
	now    func() time.Time
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDFunc sets how fresh node and edge ids are minted.
func WithIDFunc(f IDFunc) StoreOption {
	return func(s *Store) {
		if f != nil {
			s.newID = f
		}
	}
}

// WithClock sets the clock used to stamp exports.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger mutations are reported to.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		newID:  RandomIDs,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current graph.
func (s *Store) Snapshot() Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Clone()
}

// Version increases by one with every committed change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// commit must be called with mu held.
func (s *Store) commit(next Graph, op string) {
	s.g = next
	s.version++
	if s.selection != "" && s.g.nodePos(s.selection) < 0 {
		s.selection = ""
	}
	s.logger.Debug("graph mutated",
		"op", op,
		"version", s.version,
		"nodes", len(s.g.Nodes),
		"edges", len(s.g.Edges),
	)
}

func (s *Store) apply(op string, fn func(Graph) (Graph, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.g)
	if err != nil {
		return err
	}
	s.commit(next, op)
	return nil
}

// AddNode inserts n. See Graph.AddNode.
func (s *Store) AddNode(n core.Node) error {
	return s.apply("add_node", func(g Graph) (Graph, error) {
		return g.AddNode(n)
	})
}

// DeleteNode removes the node and everything nested under it, along with
// every touching edge. Unknown ids are a no-op.
func (s *Store) DeleteNode(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.g.nodePos(id) < 0 {
		return
	}
	s.commit(s.g.DeleteNode(id), "delete_node")
}

// DeleteEdge removes the edge. Unknown ids are a no-op.
func (s *Store) DeleteEdge(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.g.edgePos(id) < 0 {
		return
	}
	s.commit(s.g.DeleteEdge(id), "delete_edge")
}

// InsertBetween splits an edge with a new node of type t.
func (s *Store) InsertBetween(edgeID string, t core.NodeType) (core.Node, error) {
	var node core.Node
	err := s.apply("insert_between", func(g Graph) (next Graph, err error) {
		next, node, err = g.InsertBetween(edgeID, t, s.newID)
		return next, err
	})
	return node, err
}

// AppendAfter places a new node of type t after sourceID.
func (s *Store) AppendAfter(sourceID string, t core.NodeType) (core.Node, error) {
	var node core.Node
	err := s.apply("append_after", func(g Graph) (next Graph, err error) {
		next, node, err = g.AppendAfter(sourceID, t, s.newID)
		return next, err
	})
	return node, err
}

// AppendInside places a new node of type t as the first child of a container.
func (s *Store) AppendInside(containerID string, t core.NodeType) (core.Node, error) {
	var node core.Node
	err := s.apply("append_inside", func(g Graph) (next Graph, err error) {
		next, node, err = g.AppendInside(containerID, t, s.newID)
		return next, err
	})
	return node, err
}

// Reparent moves a node under newParentID ("" for the root) at absolute
// position abs.
func (s *Store) Reparent(nodeID, newParentID string, abs core.Position) error {
	return s.apply("reparent", func(g Graph) (Graph, error) {
		return g.Reparent(nodeID, newParentID, abs)
	})
}

// Connect wires source to target.
func (s *Store) Connect(source, target, sourceHandle, targetHandle string) (core.Edge, error) {
	var edge core.Edge
	err := s.apply("connect", func(g Graph) (next Graph, err error) {
		next, edge, err = g.Connect(source, target, sourceHandle, targetHandle, s.newID)
		return next, err
	})
	return edge, err
}

// MoveNode sets a node's position in its current frame.
func (s *Store) MoveNode(id string, pos core.Position) error {
	return s.apply("move_node", func(g Graph) (Graph, error) {
		return g.MoveNode(id, pos)
	})
}

// Rename sets a node's label.
func (s *Store) Rename(id, label string) error {
	return s.apply("rename", func(g Graph) (Graph, error) {
		return g.Rename(id, label)
	})
}

// UpdateConfig replaces a node's configuration.
func (s *Store) UpdateConfig(id string, cfg core.Config) error {
	return s.apply("update_config", func(g Graph) (Graph, error) {
		return g.UpdateConfig(id, cfg)
	})
}

// DragStop re-resolves a dropped node's container and reparents it when
// the container changed. Dropping inside the current parent leaves the
// store, including its version, untouched.
func (s *Store) DragStop(nodeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, moved, err := s.g.DragStop(nodeID)
	if err != nil || !moved {
		return false, err
	}
	s.commit(next, "drag_stop")
	return true, nil
}

// Select marks a node as selected. An empty id clears the selection.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.g.nodePos(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	s.selection = id
	return nil
}

// Selection returns the selected node id, or "".
func (s *Store) Selection() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// Replace swaps in a whole new graph. Nothing changes unless the input
// passes the structural checks.
func (s *Store) Replace(nodes []core.Node, edges []core.Edge) error {
	next, err := Build(nodes, edges)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(next, "replace")
	return nil
}

// Import replaces the graph and its document metadata with doc. A
// structurally invalid document fails with ErrInvalidFormat and leaves the
// store untouched.
func (s *Store) Import(doc Document) error {
	next, err := doc.Graph()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = metaOf(doc)
	s.commit(next, "import")
	return nil
}

// ImportJSON parses data and imports it.
func (s *Store) ImportJSON(data []byte) error {
	doc, err := ParseDocument(data)
	if err != nil {
		return err
	}
	return s.Import(doc)
}

// Export returns the current graph as a document stamped with the export
// time and DocumentVersion.
func (s *Store) Export() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.document(s.g, s.now())
}

// ApplyGenerated sanitizes a generated candidate and replaces the graph
// with it. Nothing changes if the sanitized result still fails the
// structural checks.
func (s *Store) ApplyGenerated(nodes []core.Node, edges []core.Edge) (SanitizeReport, error) {
	nodes, edges, report := Sanitize(nodes, edges, s.newID)
	if err := s.Replace(nodes, edges); err != nil {
		return report, err
	}
	if !report.Clean() {
		s.logger.Warn("generated graph repaired",
			"dropped_nodes", len(report.DroppedNodes),
			"dropped_edges", len(report.DroppedEdges),
			"cleared_parents", len(report.ClearedParents),
			"assigned_ids", report.AssignedIDs,
		)
	}
	return report, nil
}

// Generate asks gen for a graph and applies it.
func (s *Store) Generate(ctx context.Context, gen Generator, prompt string) (SanitizeReport, error) {
	nodes, edges, err := gen.Generate(ctx, prompt)
	if err != nil {
		return SanitizeReport{}, fmt.Errorf("generating graph: %w", err)
	}
	return s.ApplyGenerated(nodes, edges)
}

// Validate returns advisory diagnostics for the current graph.
func (s *Store) Validate() []Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Validate()
}
