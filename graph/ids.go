package graph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDFunc mints a fresh id. The prefix is "node" or "edge".
type IDFunc func(prefix string) string

// RandomIDs mints ids of the form "<prefix>-<uuid>".
func RandomIDs(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// SequentialIDs returns an IDFunc minting "<prefix>-1", "<prefix>-2", ...
// with an independent counter per prefix. Safe for concurrent use.
func SequentialIDs() IDFunc {
	var mu sync.Mutex
	counters := make(map[string]int)
	return func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		counters[prefix]++
		return fmt.Sprintf("%s-%d", prefix, counters[prefix])
	}
}

// freshID keeps minting until the id is unused in g.
func (g Graph) freshID(newID IDFunc, prefix string) string {
	for {
		id := newID(prefix)
		if g.nodePos(id) < 0 && g.edgePos(id) < 0 {
			return id
		}
	}
}
