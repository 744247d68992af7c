// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// FallbackRecord is one event mirrored or routed to the global fallback
// lane: either an orphan thread with no registry slot, or an overflow
// mirror from a registered thread whose per-thread ring and refill both
// failed (spec §4.8).
type FallbackRecord struct {
	ThreadID uint64
	Lane     LaneKind
	Kind     RecordKind
	Payload  []byte
}

// fallbackPayloadCap bounds one slot's payload when the lane is laid out
// in shared memory (newFallbackLaneOver): a fixed-size row every
// attaching process agrees on, unlike the heap-backed NewFallbackLane's
// arbitrary-length []byte payload. A payload longer than this is
// truncated and counted via TruncatedCount rather than growing every slot
// to fit the rare worst case.
const fallbackPayloadCap = 512

// fallbackLaneShared is the fixed-offset, cross-process control portion
// of a FallbackLane: head/tail/overflow/truncated. Laid directly onto the
// registry segment by newFallbackLaneOver so every attaching process's
// FallbackLane coordinates through the same physical counters, the same
// way ControlBlock's fields coordinate the control segment.
type fallbackLaneShared struct {
	_         pad
	head      atomix.Uint64 // consumer index; single consumer writes, producers only read
	_         pad
	tail      atomix.Uint64 // producer index, claimed via fetch-and-add
	_         pad
	draining  atomix.Bool
	_         pad
	overflow  atomix.Uint64 // count of records mirrored here due to per-thread pool exhaustion
	truncated atomix.Uint64 // count of records whose payload exceeded fallbackPayloadCap
	_         pad
}

const fallbackLaneSharedSize = unsafe.Sizeof(fallbackLaneShared{})

// fallbackSlot is one heap-mode slot (NewFallbackLane): the cycle tag
// alongside the record in place, with no payload-size limit.
type fallbackSlot struct {
	cycle atomix.Uint64
	data  FallbackRecord
	_     padShort
}

// fallbackSlotShared is one cross-process fallback-lane slot
// (newFallbackLaneOver): every field is a fixed-width value or byte array
// so it can be reinterpreted directly over shared-memory bytes, unlike
// fallbackSlot's FallbackRecord.Payload []byte, whose slice header only
// has meaning inside its allocating process.
type fallbackSlotShared struct {
	cycle      atomix.Uint64
	_          pad
	threadID   atomix.Uint64
	laneKind   atomix.Uint64
	recKind    atomix.Uint64
	payloadLen atomix.Uint64
	_          pad
	payload    [fallbackPayloadCap]byte
}

const fallbackSlotSharedSize = unsafe.Sizeof(fallbackSlotShared{})

// fallbackLaneLayoutSize returns the bytes newFallbackLaneOver needs for
// capacity usable slots (rounded up to a power of two; physical slot
// count is 2x usable capacity for the FAA/SCQ cycle scheme).
func fallbackLaneLayoutSize(capacity int) int {
	n := roundToPow2(capacity)
	return int(fallbackLaneSharedSize) + 2*n*int(fallbackSlotSharedSize)
}

// FallbackLane is the one-per-process global fallback queue: any number
// of orphan or overflowing producer threads write to it concurrently, and
// a single drain goroutine consumes it (spec §4.8, §5 — "one per process,
// consumer = drain via a well-known slot"). This is the one genuinely
// multi-producer queue in the fabric: every per-thread ring and every
// free/submit queue is strict SPSC.
//
// FAA-based SCQ algorithm: producers use fetch-and-add to blindly claim
// positions, requiring 2n physical slots for capacity n. buffer backs
// heap-mode construction (NewFallbackLane); shared backs segment-backed
// construction (newFallbackLaneOver) — exactly one of the two is set.
type FallbackLane struct {
	ctrl     *fallbackLaneShared
	buffer   []fallbackSlot
	shared   []fallbackSlotShared
	capacity uint64 // n, usable capacity
	size     uint64 // 2n, physical slots
	mask     uint64 // 2n - 1
}

// NewFallbackLane returns a heap-backed FallbackLane with a capacity
// rounded up to the next power of two (minimum 2). Used for same-process
// embedding (NewInProcessAgent) and tests; payloads are arbitrary-length
// Go slices with no truncation.
func NewFallbackLane(capacity int) *FallbackLane {
	n := uint64(roundToPow2(capacity))
	size := n * 2

	q := &FallbackLane{
		ctrl:     &fallbackLaneShared{},
		buffer:   make([]fallbackSlot, size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}
	for i := uint64(0); i < size; i++ {
		q.buffer[i].cycle.StoreRelaxed(i / n)
	}
	return q
}

// newFallbackLaneOver builds a FallbackLane whose control counters and
// slot rows are carved directly out of buf (the registry segment's
// bytes), so a mirror written by a separate agent process is actually
// visible to the controller's drain engine instead of landing in a
// private Go-heap queue (spec §4.8).
func newFallbackLaneOver(buf []byte, capacity int) *FallbackLane {
	n := uint64(roundToPow2(capacity))
	size := n * 2
	need := int(fallbackLaneSharedSize) + int(size)*int(fallbackSlotSharedSize)
	if len(buf) < need {
		panic("fabric: registry segment too small for fallback lane layout")
	}

	base := unsafe.Pointer(unsafe.SliceData(buf))
	ctrl := (*fallbackLaneShared)(base)
	slotsPtr := unsafe.Add(base, fallbackLaneSharedSize)
	shared := unsafe.Slice((*fallbackSlotShared)(slotsPtr), size)

	return &FallbackLane{ctrl: ctrl, shared: shared, capacity: n, size: size, mask: size - 1}
}

// initCycles seeds every slot's cycle counter. Only the controller calls
// this, exactly once, before publishing the registry segment as ready —
// the same single-initializer ownership rule as ControlBlock's
// initControlBlock.
func (q *FallbackLane) initCycles() {
	for i := uint64(0); i < q.size; i++ {
		q.setCycle(i, i/q.capacity)
	}
}

func (q *FallbackLane) getCycle(i uint64) uint64 {
	if q.shared != nil {
		return q.shared[i].cycle.LoadAcquire()
	}
	return q.buffer[i].cycle.LoadAcquire()
}

func (q *FallbackLane) setCycle(i uint64, v uint64) {
	if q.shared != nil {
		q.shared[i].cycle.StoreRelease(v)
		return
	}
	q.buffer[i].cycle.StoreRelease(v)
}

func (q *FallbackLane) writeSlot(i uint64, rec FallbackRecord) {
	if q.shared != nil {
		s := &q.shared[i]
		s.threadID.StoreRelaxed(rec.ThreadID)
		s.laneKind.StoreRelaxed(uint64(rec.Lane))
		s.recKind.StoreRelaxed(uint64(rec.Kind))
		n := len(rec.Payload)
		if n > fallbackPayloadCap {
			n = fallbackPayloadCap
			q.ctrl.truncated.AddAcqRel(1)
		}
		copy(s.payload[:n], rec.Payload)
		s.payloadLen.StoreRelaxed(uint64(n))
		return
	}
	q.buffer[i].data = rec
}

func (q *FallbackLane) readSlot(i uint64) FallbackRecord {
	if q.shared != nil {
		s := &q.shared[i]
		n := s.payloadLen.LoadRelaxed()
		payload := make([]byte, n)
		copy(payload, s.payload[:n])
		return FallbackRecord{
			ThreadID: s.threadID.LoadRelaxed(),
			Lane:     LaneKind(s.laneKind.LoadRelaxed()),
			Kind:     RecordKind(s.recKind.LoadRelaxed()),
			Payload:  payload,
		}
	}
	elem := q.buffer[i].data
	q.buffer[i].data = FallbackRecord{}
	return elem
}

// Drain sets the lane's draining flag, signaling that no more enqueues
// will occur. This implements [Drainer]. Dequeue does not consult the
// flag: it has no livelock threshold and returns every record present
// whether or not Drain was called.
func (q *FallbackLane) Drain() {
	q.ctrl.draining.StoreRelease(true)
}

// Enqueue mirrors or routes a record into the fallback lane. Safe for
// concurrent use by any number of producer goroutines, in this process or
// (for a segment-backed lane) another process sharing the same registry
// segment. Returns ErrWouldBlock if the lane is full.
func (q *FallbackLane) Enqueue(rec FallbackRecord) error {
	sw := spin.Wait{}
	for {
		tail := q.ctrl.tail.LoadAcquire()
		head := q.ctrl.head.LoadRelaxed()
		if tail >= head+q.capacity {
			return ErrWouldBlock
		}

		myTail := q.ctrl.tail.AddAcqRel(1) - 1
		idx := myTail & q.mask
		expectedCycle := myTail / q.capacity

		slotCycle := q.getCycle(idx)
		if slotCycle == expectedCycle {
			q.writeSlot(idx, rec)
			q.setCycle(idx, expectedCycle+1)
			return nil
		}
		if int64(slotCycle) < int64(expectedCycle) {
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// EnqueueOverflow is Enqueue plus the per-thread overflow accounting
// required whenever a registered producer mirrors here because its own
// ring and the pool refill both failed (spec §4.7's "per-thread overflow
// counts", §4.8's "increment the overflow counter rather than dropping").
func (q *FallbackLane) EnqueueOverflow(rec FallbackRecord) error {
	if err := q.Enqueue(rec); err != nil {
		return err
	}
	q.ctrl.overflow.AddAcqRel(1)
	return nil
}

// OverflowCount returns the number of records mirrored here due to
// per-thread pool exhaustion, as opposed to orphan-thread routing.
func (q *FallbackLane) OverflowCount() uint64 {
	return q.ctrl.overflow.LoadRelaxed()
}

// TruncatedCount returns the number of fallback records whose payload
// exceeded fallbackPayloadCap and was truncated on write. Always zero for
// a heap-backed FallbackLane (NewFallbackLane), which has no payload cap.
func (q *FallbackLane) TruncatedCount() uint64 {
	return q.ctrl.truncated.LoadRelaxed()
}

// Dequeue removes and returns a record (single consumer only — the drain
// engine). Returns ErrWouldBlock if the lane is empty.
func (q *FallbackLane) Dequeue() (FallbackRecord, error) {
	head := q.ctrl.head.LoadRelaxed()
	cycle := head / q.capacity
	idx := head & q.mask

	slotCycle := q.getCycle(idx)
	if slotCycle != cycle+1 {
		var zero FallbackRecord
		return zero, ErrWouldBlock
	}

	elem := q.readSlot(idx)
	nextEnqCycle := (head + q.size) / q.capacity
	q.setCycle(idx, nextEnqCycle)
	q.ctrl.head.StoreRelaxed(head + 1)
	return elem, nil
}

// Cap returns the lane's usable capacity.
func (q *FallbackLane) Cap() int { return int(q.capacity) }
