// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"fmt"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// RingPool partitions the rings segment into N fixed-size Rings and
// tracks them on a global free list (spec §4.3). Every lane's free/submit
// queue carries RingHandle indices into this pool rather than pointers
// (spec §9's "handles instead of back-pointers").
//
// The global free list is pulled from concurrently by every thread that
// registers (prefetch) and pushed to by the single drain goroutine
// (ring retirement). That is a many-consumer pattern the teacher's SPSC
// HandleQueue does not support, so access to the free list is guarded by
// a tiny CAS spinlock — registration, not the per-record fast path, so
// spec §5's "no mutexes on the data path" is unaffected.
type RingPool struct {
	rings    []*Ring
	free     *HandleQueue
	freeLock atomix.Bool
}

// NewRingPool carves ringsSegment into fixed-size rings of ringCapacity
// bytes (rounded to a power of two) and seeds the global free list with
// every ring.
func NewRingPool(ringsSegment []byte, ringCapacity int) (*RingPool, error) {
	ringCapacity = roundToPow2(ringCapacity)
	n := len(ringsSegment) / ringCapacity
	if n < 1 {
		return nil, fmt.Errorf("fabric: rings segment of %d bytes too small for ring capacity %d", len(ringsSegment), ringCapacity)
	}

	rings := make([]*Ring, n)
	free := NewHandleQueue(n)
	for i := 0; i < n; i++ {
		buf := ringsSegment[i*ringCapacity : (i+1)*ringCapacity]
		rings[i] = newRingOver(buf)
		if err := free.Enqueue(RingHandle(i)); err != nil {
			return nil, fmt.Errorf("fabric: seeding global free list: %w", err)
		}
	}

	return &RingPool{rings: rings, free: free}, nil
}

// Count returns the number of rings in the pool.
func (p *RingPool) Count() int { return len(p.rings) }

// Ring returns the ring identified by h.
func (p *RingPool) Ring(h RingHandle) *Ring { return p.rings[h] }

func (p *RingPool) lock() {
	sw := spin.Wait{}
	for !p.freeLock.CompareAndSwapAcqRel(false, true) {
		sw.Once()
	}
}

func (p *RingPool) unlock() {
	p.freeLock.StoreRelease(false)
}

// Refill pulls up to n rings from the global free list into dst. Returns
// the number actually transferred, which may be less than n if the
// global free list ran dry or dst filled first.
func (p *RingPool) Refill(dst *HandleQueue, n int) int {
	p.lock()
	defer p.unlock()

	got := 0
	for i := 0; i < n; i++ {
		h, err := p.free.Dequeue()
		if err != nil {
			break
		}
		if err := dst.Enqueue(h); err != nil {
			_ = p.free.Enqueue(h)
			break
		}
		got++
	}
	return got
}

// Release resets a drained ring and returns it to the global free list
// (spec §4.6: "it returns the ring to that lane's free queue" — the
// global list backs every lane's one-shot refill on local exhaustion).
func (p *RingPool) Release(h RingHandle) error {
	p.rings[h].reset()
	p.lock()
	defer p.unlock()
	return p.free.Enqueue(h)
}

// FreeCount returns the number of rings currently on the global free
// list. Intended for diagnostics/tests, not the hot path.
func (p *RingPool) FreeCount() int {
	p.lock()
	defer p.unlock()
	return int(p.free.shared.tail.LoadAcquire() - p.free.shared.head.LoadAcquire())
}
