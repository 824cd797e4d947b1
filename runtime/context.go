package runtime

import "github.com/bintelAI/ai-workflow/variables"

// execContext is what one frontier entry carries along its path: the
// outputs of nodes already run on that path and the active loop frames.
// Every successor gets its own fork, so branches never see each other's
// writes.
type execContext struct {
	nodes  map[string]map[string]any
	frames []variables.Frame
}

func newExecContext() *execContext {
	return &execContext{nodes: make(map[string]map[string]any)}
}

// fork copies the context. Stored field maps are never written after they
// are recorded, so sharing them between forks is safe.
func (c *execContext) fork() *execContext {
	out := &execContext{
		nodes:  make(map[string]map[string]any, len(c.nodes)+1),
		frames: append([]variables.Frame(nil), c.frames...),
	}
	for id, fields := range c.nodes {
		out.nodes[id] = fields
	}
	return out
}

// enter returns a fork with one more loop frame.
func (c *execContext) enter(item any, index int) *execContext {
	out := c.fork()
	out.frames = append(out.frames, variables.Frame{Item: item, Index: index})
	return out
}

func (c *execContext) record(nodeID string, fields map[string]any) {
	if fields != nil {
		c.nodes[nodeID] = fields
	}
}

func (c *execContext) iteration() []int {
	if len(c.frames) == 0 {
		return nil
	}
	out := make([]int, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Index
	}
	return out
}
