package gateway

import "sync"

type replayEntry struct {
	seq int64
	env []byte
}

// ReplayBuffer is a fixed-size ring of recent envelopes for one channel.
// Sequence numbers are pushed in increasing order.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	next    int
	size    int
}

// NewReplayBuffer creates a buffer holding capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push stores env under seq, evicting the oldest envelope when full.
func (rb *ReplayBuffer) Push(seq int64, env []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries[rb.next] = replayEntry{seq: seq, env: env}
	rb.next = (rb.next + 1) % len(rb.entries)
	if rb.size < len(rb.entries) {
		rb.size++
	}
}

// Range returns the envelopes with seq in [from, to], oldest first.
func (rb *ReplayBuffer) Range(from, to int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	var out [][]byte
	start := (rb.next - rb.size + len(rb.entries)) % len(rb.entries)
	for i := 0; i < rb.size; i++ {
		e := rb.entries[(start+i)%len(rb.entries)]
		if e.seq >= from && e.seq <= to {
			out = append(out, e.env)
		}
	}
	return out
}

// Oldest returns the lowest retained sequence number, or 0 when empty.
func (rb *ReplayBuffer) Oldest() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.size == 0 {
		return 0
	}
	return rb.entries[(rb.next-rb.size+len(rb.entries))%len(rb.entries)].seq
}

// Len returns the number of retained envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}
