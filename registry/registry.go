// Package registry is the catalogue of workflow node types. It maps each
// type to its palette metadata, its handles, and the output fields that
// downstream nodes can address, and holds the category profiles placement
// tooling filters the palette with.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bintelAI/ai-workflow/core"
)

// ErrUnknownCategory is returned by Palette for an unregistered category.
var ErrUnknownCategory = errors.New("unknown category")

// NodeTypeDef describes a registered node type.
type NodeTypeDef struct {
	Type         core.NodeType `json:"type"`
	Group        string        `json:"group"` // "control", "human", "integration", "ai", "data"
	DisplayName  string        `json:"display_name"`
	Description  string        `json:"description"`
	Ports        PortSchema    `json:"ports"`
	OutputFields []FieldDef    `json:"output_fields"`
	DefaultSize  core.Size     `json:"default_size"`
	Container    bool          `json:"container,omitempty"`
}

// PortSchema lists the handles of a node type. A port with an empty name
// is the unnamed default handle.
type PortSchema struct {
	Inputs  []PortDef `json:"inputs"`
	Outputs []PortDef `json:"outputs"`
}

// PortDef describes a single handle.
type PortDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Dynamic     bool   `json:"dynamic,omitempty"` // count depends on config
}

// FieldDef is an output field exposed as nodes.<id>.<name>.
type FieldDef struct {
	Name string `json:"name"`
	Type string `json:"type"` // "string", "number", "boolean", "object", "array", "any"
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry instance. On first call it
// initializes the registry with every built-in node type and the system
// categories.
func Global() *Registry {
	globalOnce.Do(func() {
		global = newRegistry()
		registerBuiltins(global)
		registerSystemCategories(global)
	})
	return global
}

// Registry holds node types and category profiles.
type Registry struct {
	mu         sync.RWMutex
	types      map[core.NodeType]NodeTypeDef
	order      []core.NodeType // preserves registration order
	categories map[string]core.Category
	catOrder   []string
}

func newRegistry() *Registry {
	return &Registry{
		types:      make(map[core.NodeType]NodeTypeDef),
		categories: make(map[string]core.Category),
	}
}

// Register adds a node type definition. If a type with the same name
// already exists it is overwritten.
func (r *Registry) Register(def NodeTypeDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[def.Type]; !exists {
		r.order = append(r.order, def.Type)
	}
	r.types[def.Type] = def
}

// Get returns a node type definition.
func (r *Registry) Get(t core.NodeType) (NodeTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[t]
	return def, ok
}

// Has returns true if the type is registered.
func (r *Registry) Has(t core.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[t]
	return ok
}

// All returns all registered node types in registration order.
func (r *Registry) All() []NodeTypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]NodeTypeDef, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.types[name])
	}
	return result
}

// Len returns the number of registered node types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// OutputFields returns the field names a node of type t exposes to
// downstream nodes. Unregistered types expose a single "output".
func (r *Registry) OutputFields(t core.NodeType) []string {
	def, ok := r.Get(t)
	if !ok || len(def.OutputFields) == 0 {
		return []string{"output"}
	}
	names := make([]string, len(def.OutputFields))
	for i, f := range def.OutputFields {
		names[i] = f.Name
	}
	return names
}

// RegisterCategory adds or replaces a category profile.
func (r *Registry) RegisterCategory(c core.Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.categories[c.ID]; !exists {
		r.catOrder = append(r.catOrder, c.ID)
	}
	c.AllowedTypes = append([]core.NodeType(nil), c.AllowedTypes...)
	r.categories[c.ID] = c
}

// Category returns a category profile by id.
func (r *Registry) Category(id string) (core.Category, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.categories[id]
	return c, ok
}

// Categories returns all profiles in registration order.
func (r *Registry) Categories() []core.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Category, 0, len(r.catOrder))
	for _, id := range r.catOrder {
		out = append(out, r.categories[id])
	}
	return out
}

// Palette returns the node types the category offers, in registration
// order. An empty id returns every type. Categories only shape what is
// offered for placement; they never invalidate nodes already in a graph.
func (r *Registry) Palette(categoryID string) ([]NodeTypeDef, error) {
	if categoryID == "" {
		return r.All(), nil
	}
	c, ok := r.Category(categoryID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, categoryID)
	}
	var out []NodeTypeDef
	for _, def := range r.All() {
		if c.Allows(def.Type) {
			out = append(out, def)
		}
	}
	return out, nil
}
