package transport

import (
	"context"
	"sync"
)

// Bus is the broadcast channel abstraction the rest of the system
// publishes through. Delivery is fire-and-forget: at-most-once, no
// receipt acknowledgement, no replay for late subscribers. The durable
// transcript store covers history, not the bus.
type Bus interface {
	// Publish broadcasts one event to all current subscribers of channel.
	Publish(ctx context.Context, channel string, ev Event) error

	// Subscribe returns a stream of events for channel. Cancel the
	// returned stop function (or the context) to unsubscribe; the
	// channel is closed afterwards.
	Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error)
}

// MemoryBus is an in-process Bus used by tests and single-node runs.
// Slow subscribers are dropped rather than allowed to stall the fan-out,
// matching the transport's at-most-once contract.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[chan Event]struct{})}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full: drop for this receiver.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan Event]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], ch)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
			close(ch)
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			stop()
		}()
	}

	return ch, stop, nil
}
