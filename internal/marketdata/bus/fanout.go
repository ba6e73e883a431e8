package bus

import (
	"context"
	"log/slog"
	"sync"
)

// FanOut is a typed publish/subscribe hub. Every subscriber receives its own
// copy of each published value (via the clone func), so no subscriber can
// mutate what another one sees. A full subscriber buffer drops the value for
// that subscriber only, so a slow consumer never blocks the publisher.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	bufSize int
	clone   func(T) T
	closed  bool

	// OnDrop is called when a value is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
// clone may be nil for value types that hold no references.
func New[T any](outputBufferSize int, clone func(T) T) *FanOut[T] {
	return &FanOut[T]{
		bufSize: outputBufferSize,
		clone:   clone,
	}
}

// Subscribe creates and returns a new output channel.
func (f *FanOut[T]) Subscribe() <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	if f.closed {
		close(ch)
	} else {
		f.outputs = append(f.outputs, ch)
	}
	f.mu.Unlock()
	return ch
}

// Publish delivers v to every subscriber without blocking.
func (f *FanOut[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for i, ch := range f.outputs {
		out := v
		if f.clone != nil {
			out = f.clone(v)
		}
		select {
		case ch <- out:
		default:
			if f.OnDrop != nil {
				f.OnDrop(i)
			} else {
				slog.Warn("output channel full, dropping event", "component", "bus", "subscriber", i)
			}
		}
	}
}

// Run reads from the input channel and publishes each value.
// Blocks until ctx is cancelled or input is closed, then closes all outputs.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer f.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.Publish(v)
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.outputs {
		close(ch)
	}
}

// ChannelStat is the (length, capacity) of one subscriber channel.
// Used for reporting channel saturation percentage.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns one ChannelStat per subscriber.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
