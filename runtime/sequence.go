package runtime

import (
	"fmt"
	"sync/atomic"
)

// counter hands out 1-based numbers within one run. Events and steps each
// draw from their own counter.
type counter struct {
	n atomic.Uint64
}

func (c *counter) next() uint64 {
	return c.n.Add(1)
}

func (c *counter) count() int {
	return int(c.n.Load())
}

// formatStepID renders the n-th step of a run. Zero padding keeps ids
// sortable as plain strings for the first ten thousand steps.
func formatStepID(n uint64) string {
	return fmt.Sprintf("step-%04d", n)
}
