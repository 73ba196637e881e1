package messages

import (
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// NetworkFilter is the rolling duplicate filter applied to publish bodies: a
// fixed-capacity digest set with random-replacement semantics approximated
// by index eviction. False positives are possible after digest collisions,
// false negatives after eviction; both are acceptable for gossip dedup.
type NetworkFilter struct {
	mu    sync.Mutex
	slots []uint64
}

// DefaultFilterCapacity matches a few minutes of saturated gossip.
const DefaultFilterCapacity = 256 * 1024

// NewNetworkFilter creates a filter with the given slot count.
func NewNetworkFilter(capacity int) *NetworkFilter {
	if capacity <= 0 {
		capacity = DefaultFilterCapacity
	}
	return &NetworkFilter{slots: make([]uint64, capacity)}
}

// Hash computes the filter digest of a payload.
func (f *NetworkFilter) Hash(payload []byte) uint64 {
	digest := blake2b.Sum256(payload)
	return binary.BigEndian.Uint64(digest[:8])
}

// Apply inserts the payload digest and reports whether it was already
// present.
func (f *NetworkFilter) Apply(payload []byte) (digest uint64, existed bool) {
	digest = f.Hash(payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	slot := &f.slots[digest%uint64(len(f.slots))]
	if *slot == digest {
		return digest, true
	}
	*slot = digest
	return digest, false
}

// ClearDigest removes a digest so the message can pass again, used when a
// deduplicated block later turns out to be wanted (e.g. a fork resolution
// retry).
func (f *NetworkFilter) ClearDigest(digest uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot := &f.slots[digest%uint64(len(f.slots))]
	if *slot == digest {
		*slot = 0
	}
}
