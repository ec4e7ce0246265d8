package core

import (
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// BitSet is a concurrency-safe set of chunk indexes. Every real transition
// (a Set on an absent bit, a Clear on a present one) is reported to the
// notify hook as +1 / -1, after the set's lock has been released.
type BitSet struct {
	mu     sync.RWMutex
	bits   *roaring64.Bitmap
	notify func(delta int64)
}

func NewBitSet(notify func(delta int64)) *BitSet {
	return &BitSet{bits: roaring64.New(), notify: notify}
}

func (b *BitSet) Test(i uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bits.Contains(i)
}

// Set adds i and reports whether it was absent.
func (b *BitSet) Set(i uint64) bool {
	b.mu.Lock()
	changed := b.bits.CheckedAdd(i)
	b.mu.Unlock()
	if changed && b.notify != nil {
		b.notify(1)
	}
	return changed
}

// Clear removes i and reports whether it was present.
func (b *BitSet) Clear(i uint64) bool {
	b.mu.Lock()
	changed := b.bits.CheckedRemove(i)
	b.mu.Unlock()
	if changed && b.notify != nil {
		b.notify(-1)
	}
	return changed
}

func (b *BitSet) Count() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bits.GetCardinality()
}

// From returns the members >= from in ascending order, as a snapshot.
func (b *BitSet) From(from uint64) []uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []uint64
	it := b.bits.Iterator()
	it.AdvanceIfNeeded(from)
	for it.HasNext() {
		out = append(out, it.Next())
	}
	return out
}

// Free drops the bitmap memory. The set is empty afterwards and no
// notifications are emitted for the dropped members.
func (b *BitSet) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bits = roaring64.New()
}
