package progress

import (
	"context"
	"sync"
	"sync/atomic"

	"atomic-image-manager/internal/metrics"
)

// ChannelDispatcher hands events from the worker to a single consumer
// through a bounded queue. Publish never blocks: a line event that does
// not fit is dropped and counted, while init and complete events evict the
// oldest queued event to make room.
type ChannelDispatcher struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped atomic.Int64
	metrics *metrics.Metrics
}

// NewChannelDispatcher creates a dispatcher with room for size events.
func NewChannelDispatcher(size int, m *metrics.Metrics) *ChannelDispatcher {
	if size <= 0 {
		size = DefaultCapacity
	}
	return &ChannelDispatcher{ch: make(chan Event, size), metrics: m}
}

// Publish implements Publisher.
func (d *ChannelDispatcher) Publish(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- ev:
		return
	default:
	}
	if ev.Type == EventLine {
		d.drop()
		return
	}
	select {
	case <-d.ch:
		d.drop()
	default:
	}
	select {
	case d.ch <- ev:
	default:
		d.drop()
	}
}

func (d *ChannelDispatcher) drop() {
	d.dropped.Add(1)
	d.metrics.EventDropped()
}

// Events returns the queue the consumer drains.
func (d *ChannelDispatcher) Events() <-chan Event { return d.ch }

// Dropped returns the number of events discarded so far.
func (d *ChannelDispatcher) Dropped() int64 { return d.dropped.Load() }

// Close stops accepting events and closes the queue once drained.
func (d *ChannelDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
}

// Drain calls fn for every event until the dispatcher is closed or ctx is
// done.
func (d *ChannelDispatcher) Drain(ctx context.Context, fn func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.ch:
			if !ok {
				return
			}
			fn(ev)
		}
	}
}
