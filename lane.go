// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import "fmt"

// Lane is one directional stream for one thread: either the always-on
// index lane or the detail lane persisted only inside a marked window
// (spec §2, §4.3). A lane owns exactly one active ring at a time plus a
// prefetch of spare rings on `free` and retired rings queued on `submit`
// — both strict SPSC per spec §5.
type Lane struct {
	kind   LaneKind
	pool   *RingPool
	active RingHandle
	free   *HandleQueue
	submit *HandleQueue

	// detailCtl is set only for detail lanes, once their
	// DetailLaneController exists (producer.go's reRegister), so the
	// drain engine can pair a dequeued ring with the WindowSnapshot that
	// closed it.
	detailCtl *DetailLaneController
}

// bindDetailController associates this lane with the controller that
// drives its window lifecycle.
func (l *Lane) bindDetailController(ctl *DetailLaneController) {
	l.detailCtl = ctl
}

// newLane prefetches `prefetch` rings from the pool's global free list,
// makes the first one active, and returns the lane. Fails if the global
// free list cannot supply even one ring.
func newLane(kind LaneKind, pool *RingPool, prefetch int) (*Lane, error) {
	queueCap := prefetch*2 + 2
	free := NewHandleQueue(queueCap)
	submit := NewHandleQueue(queueCap)

	if got := pool.Refill(free, prefetch); got == 0 {
		return nil, fmt.Errorf("fabric: %s lane: global free list exhausted at registration", kind)
	}
	active, err := free.Dequeue()
	if err != nil {
		return nil, fmt.Errorf("fabric: %s lane: prefetched ring vanished: %w", kind, err)
	}

	return &Lane{kind: kind, pool: pool, active: active, free: free, submit: submit}, nil
}

// newLaneOver is newLane's segment-backed counterpart: free and submit are
// carved out of freeBuf/submitBuf (regions of the registry segment) via
// newHandleQueueOver instead of the Go heap, so a lane registered this way
// is visible, slot-for-slot, to another process that attaches the same
// registry segment and lazily wraps the same bytes (see
// ThreadRegistry.attachSlot). active stays a private field: it is only
// ever read or mutated by the single producer goroutine that owns this
// Lane object.
func newLaneOver(kind LaneKind, pool *RingPool, prefetch int, freeBuf, submitBuf []byte) (*Lane, error) {
	free := newHandleQueueOver(freeBuf, laneQueueCapacity)
	submit := newHandleQueueOver(submitBuf, laneQueueCapacity)

	if got := pool.Refill(free, prefetch); got == 0 {
		return nil, fmt.Errorf("fabric: %s lane: global free list exhausted at registration", kind)
	}
	active, err := free.Dequeue()
	if err != nil {
		return nil, fmt.Errorf("fabric: %s lane: prefetched ring vanished: %w", kind, err)
	}

	return &Lane{kind: kind, pool: pool, active: active, free: free, submit: submit}, nil
}

// attachLaneOver lazily wraps an already-registered lane's free/submit
// queues from the consumer side (the drain engine discovering a slot it
// did not itself register, spec §4.6). It never prefetches or dequeues an
// active ring — the drain engine only ever calls NextSubmitted/Release on
// the returned Lane, both of which only touch free/submit, never active.
func attachLaneOver(kind LaneKind, pool *RingPool, freeBuf, submitBuf []byte) *Lane {
	return &Lane{
		kind:   kind,
		pool:   pool,
		free:   newHandleQueueOver(freeBuf, laneQueueCapacity),
		submit: newHandleQueueOver(submitBuf, laneQueueCapacity),
	}
}

func (l *Lane) activeRing() *Ring { return l.pool.Ring(l.active) }

// retire enqueues the active ring onto submit and swaps in the next ring
// from free, refilling once from the global free list on local
// exhaustion (spec §4.3). Returns ErrWouldBlock if no ring is available
// after the one-shot refill, or if submit itself is full.
func (l *Lane) retire() error {
	if err := l.submit.Enqueue(l.active); err != nil {
		return err
	}

	next, err := l.free.Dequeue()
	if err != nil {
		if l.pool.Refill(l.free, 1) == 0 {
			return ErrWouldBlock
		}
		next, err = l.free.Dequeue()
		if err != nil {
			return ErrWouldBlock
		}
	}
	l.active = next
	return nil
}

// Append writes a record to the lane's active ring, retiring it and
// swapping to a fresh ring on overflow (spec §4.2, §4.3). Returns
// ErrWouldBlock if the active ring is full and no replacement ring is
// available — the caller is expected to apply the backpressure policy
// (mirror to fallback, then drop-oldest).
func (l *Lane) Append(kind RecordKind, payload []byte) error {
	if err := l.activeRing().Append(kind, payload); err == nil {
		return nil
	}
	if err := l.retire(); err != nil {
		return err
	}
	return l.activeRing().Append(kind, payload)
}

// DropOldest drops the oldest unread record on the active ring, for the
// producer-side last-resort backpressure path (spec §5).
func (l *Lane) DropOldest() bool {
	return l.activeRing().dropOldest()
}

// NextSubmitted pops the next retired ring handle the drain engine should
// consume (consumer side only).
func (l *Lane) NextSubmitted() (RingHandle, error) {
	return l.submit.Dequeue()
}

// Release returns a drained ring to the lane's free queue, or to the
// pool's global free list if the lane's free queue is full.
func (l *Lane) Release(h RingHandle) error {
	l.pool.Ring(h).reset()
	if err := l.free.Enqueue(h); err != nil {
		return l.pool.Release(h)
	}
	return nil
}

// swapActive atomically (from the single owning producer's perspective)
// replaces the active ring with a fresh one from free/global free list,
// enqueueing the previous active ring onto submit. Used by detaillane.go
// on window close-for-dump, where the swap is unconditional rather than
// overflow-triggered.
func (l *Lane) swapActive() (retired RingHandle, err error) {
	retired = l.active
	if err = l.retire(); err != nil {
		return retired, err
	}
	return retired, nil
}
