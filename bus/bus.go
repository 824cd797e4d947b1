// Package bus fans simulator events out to live observers: the CLI's
// progress printer, the workspace status map and anything else that wants
// to watch a run as it happens. Archival lives in tracestore; the bus only
// delivers.
package bus

import "github.com/bintelAI/ai-workflow/runtime"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event runtime.Event)

	// Subscribe registers a subscriber for one run. When kinds is
	// non-empty only those event kinds are delivered.
	Subscribe(runID string, kinds ...runtime.EventKind) Subscription

	// SubscribeAll registers a subscriber that receives events from all runs.
	SubscribeAll(kinds ...runtime.EventKind) Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events. It must be closed when done.
type Subscription interface {
	// Events returns the delivery channel. It is closed when the
	// subscription or the bus is closed.
	Events() <-chan runtime.Event

	// Dropped reports how many events were discarded because the
	// subscriber fell behind.
	Dropped() uint64

	// Close unsubscribes and releases resources.
	Close() error
}
